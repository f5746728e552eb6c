package capture

import (
	"testing"
	"time"
)

func TestFirstCallAlwaysEmits(t *testing.T) {
	base := time.Unix(0, 0)
	p := NewPacer(16*time.Millisecond, func() time.Time { return base })
	if !p.ShouldEmitNow() {
		t.Fatal("expected first call to always emit")
	}
}

func TestPacerRespectsCadence(t *testing.T) {
	base := time.Unix(0, 0)
	cur := base
	p := NewPacer(100*time.Millisecond, func() time.Time { return cur })
	p.ShouldEmitNow() // first call, emits

	cur = base.Add(50 * time.Millisecond)
	if p.ShouldEmitNow() {
		t.Fatal("expected no emission before 0.95x target interval elapsed")
	}

	cur = base.Add(96 * time.Millisecond)
	if !p.ShouldEmitNow() {
		t.Fatal("expected emission once >= 0.95x target interval elapsed")
	}
}

func TestPacerExactBoundary(t *testing.T) {
	base := time.Unix(0, 0)
	cur := base
	p := NewPacer(200*time.Millisecond, func() time.Time { return cur })
	p.ShouldEmitNow()
	cur = base.Add(190 * time.Millisecond) // exactly 0.95 * 200ms
	if !p.ShouldEmitNow() {
		t.Fatal("expected emission exactly at the 0.95x boundary")
	}
}
