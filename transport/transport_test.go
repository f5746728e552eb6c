package transport

import "testing"

func TestRegistrationGatesDatagramSend(t *testing.T) {
	c := &Conn{
		registrationTokens: make(map[[RegistrationTokenSize]byte]uint16),
		registeredStreams:  make(map[uint16]bool),
	}
	if c.IsRegistered(1) {
		t.Fatal("expected stream 1 unregistered initially")
	}

	tok, err := NewRegistrationToken()
	if err != nil {
		t.Fatal(err)
	}
	c.ObserveRegistration(1, tok)
	if !c.IsRegistered(1) {
		t.Fatal("expected stream 1 registered after ObserveRegistration")
	}
	if c.IsRegistered(2) {
		t.Fatal("expected stream 2 to remain unregistered, isolated from stream 1")
	}
}

func TestNewRegistrationTokenIsNonZeroAndVaries(t *testing.T) {
	a, err := NewRegistrationToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewRegistrationToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("expected two generated tokens to differ")
	}
	var zero [RegistrationTokenSize]byte
	if a == zero {
		t.Fatal("expected a non-zero token")
	}
}
