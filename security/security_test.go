package security

import "testing"

func TestSealOpenRoundTrip(t *testing.T) {
	hostKeys, err := DeriveSessionKeys(7, []byte("host-secret-32-bytes-padding!!!!"), []byte("client-secret-32-bytes-padding!!"))
	if err != nil {
		t.Fatal(err)
	}
	clientKeys, err := DeriveSessionKeys(7, []byte("client-secret-32-bytes-padding!!"), []byte("host-secret-32-bytes-padding!!!!"))
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("hello fragment payload")
	sealed := hostKeys.Seal(42, plaintext)
	opened, err := clientKeys.Open(42, sealed)
	if err != nil {
		t.Fatal(err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("opened = %q, want %q", opened, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	hostKeys, _ := DeriveSessionKeys(7, []byte("host-secret-32-bytes-padding!!!!"), []byte("client-secret-32-bytes-padding!!"))
	clientKeys, _ := DeriveSessionKeys(7, []byte("client-secret-32-bytes-padding!!"), []byte("host-secret-32-bytes-padding!!!!"))

	sealed := hostKeys.Seal(1, []byte("payload"))
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := clientKeys.Open(1, sealed); err != ErrOpenFailed {
		t.Fatalf("err = %v, want ErrOpenFailed", err)
	}
}

func TestOpenRejectsWrongSequenceNonce(t *testing.T) {
	hostKeys, _ := DeriveSessionKeys(7, []byte("host-secret-32-bytes-padding!!!!"), []byte("client-secret-32-bytes-padding!!"))
	clientKeys, _ := DeriveSessionKeys(7, []byte("client-secret-32-bytes-padding!!"), []byte("host-secret-32-bytes-padding!!!!"))

	sealed := hostKeys.Seal(1, []byte("payload"))
	if _, err := clientKeys.Open(2, sealed); err != ErrOpenFailed {
		t.Fatalf("err = %v, want ErrOpenFailed when nonce sequence mismatches", err)
	}
}

func TestOpenRejectsShortBuffer(t *testing.T) {
	clientKeys, _ := DeriveSessionKeys(7, []byte("client-secret-32-bytes-padding!!"), []byte("host-secret-32-bytes-padding!!!!"))
	if _, err := clientKeys.Open(1, []byte("short")); err != ErrOpenFailed {
		t.Fatalf("err = %v, want ErrOpenFailed for undersized buffer", err)
	}
}

func TestDeriveSessionKeysBindsStreamIDIntoKeyNotJustNonce(t *testing.T) {
	mySecret := []byte("host-secret-32-bytes-padding!!!!")
	otherSecret := []byte("client-secret-32-bytes-padding!!")

	streamA, err := DeriveSessionKeys(1, mySecret, otherSecret)
	if err != nil {
		t.Fatal(err)
	}
	streamB, err := DeriveSessionKeys(2, mySecret, otherSecret)
	if err != nil {
		t.Fatal(err)
	}

	sealedA := streamA.Seal(9, []byte("payload"))
	// Opening with streamB's key at the same sequence must fail: if the
	// same root secret were reused across two streams without binding
	// streamID into HKDF's info, both streams would derive identical keys
	// and this would decrypt successfully.
	if _, err := streamB.Open(9, sealedA); err != ErrOpenFailed {
		t.Fatalf("err = %v, want ErrOpenFailed: streamID must be bound into key derivation", err)
	}
}

func TestBindRegistrationTokenDiffersByStreamID(t *testing.T) {
	var token [32]byte
	for i := range token {
		token[i] = byte(i)
	}
	boundA := BindRegistrationToken(token, 1)
	boundB := BindRegistrationToken(token, 2)
	if boundA == boundB {
		t.Fatal("expected BindRegistrationToken to differ across streamIDs")
	}
	var zero [32]byte
	if boundA == zero {
		t.Fatal("expected a non-zero bound token")
	}
}
