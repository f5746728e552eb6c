package wire

import (
	"testing"
)

func sampleHeader() *Header {
	return &Header{
		Version:        Version,
		Flags:          FlagKeyframe | FlagEndOfFrame,
		StreamID:       7,
		Sequence:       1234,
		TimestampNs:    99887766,
		FrameNumber:    42,
		FragmentIndex:  3,
		FragmentCount:  5,
		PayloadLength:  900,
		FrameByteCount: 4096,
		Checksum:       0xDEADBEEF,
		ContentRect:    Rect{X: 0, Y: 0, W: 1920, H: 1080},
		DimensionToken: 2,
		Epoch:          1,
	}
}

// Invariant 1: deserialize(serialize(h)) == h for any well-formed header.
func TestRoundTrip(t *testing.T) {
	h := sampleHeader()
	b := Serialize(h)
	if len(b) != HeaderSize {
		t.Fatalf("serialized length = %d, want %d", len(b), HeaderSize)
	}
	got, err := Deserialize(b)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if *got != *h {
		t.Fatalf("round-trip mismatch:\n got  %+v\n want %+v", *got, *h)
	}
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	b := Serialize(sampleHeader())
	b[0] ^= 0xFF
	if _, err := Deserialize(b); err != ErrBadMagic {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestDeserializeRejectsBadVersion(t *testing.T) {
	b := Serialize(sampleHeader())
	b[4] = Version + 1
	if _, err := Deserialize(b); err != ErrBadVersion {
		t.Fatalf("err = %v, want ErrBadVersion", err)
	}
}

func TestDeserializeRejectsShortBuffer(t *testing.T) {
	b := Serialize(sampleHeader())
	if _, err := Deserialize(b[:HeaderSize-1]); err != ErrShortHeader {
		t.Fatalf("err = %v, want ErrShortHeader", err)
	}
}

// Invariant 2: a header with checksum = CRC32(payload) validates; mutating
// any bit of the payload fails validation with overwhelming probability.
func TestChecksumValidation(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	h := sampleHeader()
	h.Checksum = Checksum(payload)
	if !Validate(h, payload) {
		t.Fatal("expected valid checksum to validate")
	}
	for i := range payload {
		mutated := append([]byte(nil), payload...)
		mutated[i] ^= 0x01
		if Validate(h, mutated) {
			t.Fatalf("mutated payload at byte %d unexpectedly validated", i)
		}
	}
}

func TestPayloadSize(t *testing.T) {
	if got := PayloadSize(DefaultMaxPacketSize); got != DefaultMaxPacketSize-HeaderSize {
		t.Fatalf("PayloadSize = %d, want %d", got, DefaultMaxPacketSize-HeaderSize)
	}
}

func TestFlagsHas(t *testing.T) {
	f := FlagKeyframe | FlagDiscontinuity
	if !f.Has(FlagKeyframe) {
		t.Fatal("expected FlagKeyframe set")
	}
	if f.Has(FlagEndOfFrame) {
		t.Fatal("did not expect FlagEndOfFrame set")
	}
}

func TestAppendSerializePreservesPrefix(t *testing.T) {
	prefix := []byte{0x01, 0x02, 0x03}
	out := AppendSerialize(append([]byte{}, prefix...), sampleHeader())
	if len(out) != len(prefix)+HeaderSize {
		t.Fatalf("len = %d, want %d", len(out), len(prefix)+HeaderSize)
	}
	for i, b := range prefix {
		if out[i] != b {
			t.Fatalf("prefix byte %d corrupted", i)
		}
	}
	got, err := Deserialize(out[len(prefix):])
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if *got != *sampleHeader() {
		t.Fatal("round-trip after append mismatch")
	}
}
