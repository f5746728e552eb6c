package wconfig

import "testing"

func TestDefaultPassesValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadBytesOverridesDefaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(`
[logging]
level = "debug"

[stream]
frame_rate = 120
bitrate_bps = 20000000
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Stream.FrameRate != 120 {
		t.Fatalf("Stream.FrameRate = %d, want 120", cfg.Stream.FrameRate)
	}
	if cfg.Stream.KeyFrameInterval != 120 {
		t.Fatalf("Stream.KeyFrameInterval = %d, want default 120 to survive partial override", cfg.Stream.KeyFrameInterval)
	}
}

func TestValidateRejectsUndersizedPacket(t *testing.T) {
	cfg := Default()
	cfg.Network.MaxPacketSize = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for undersized MaxPacketSize")
	}
}

func TestValidateRejectsOutOfRangeStreamScale(t *testing.T) {
	cfg := Default()
	cfg.Stream.StreamScale = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for out-of-range StreamScale")
	}
}
