package controller

import (
	"testing"
	"time"
)

func TestResolveStreamScaleCapsAndPreservesAspect(t *testing.T) {
	base := Size{W: 7680, H: 4320}
	resolved := ResolveStreamScale(base, 1.0, false)
	if resolved.W > MaxEncodedWidth || resolved.H > MaxEncodedHeight {
		t.Fatalf("resolved = %+v, exceeds cap", resolved)
	}
	baseAspect := float64(base.W) / float64(base.H)
	resolvedAspect := float64(resolved.W) / float64(resolved.H)
	if d := baseAspect - resolvedAspect; d > 0.02 || d < -0.02 {
		t.Fatalf("aspect not preserved: base=%.4f resolved=%.4f", baseAspect, resolvedAspect)
	}
}

func TestResolveStreamScaleUncappedOnlyClamps(t *testing.T) {
	base := Size{W: 7680, H: 4320}
	resolved := ResolveStreamScale(base, 1.0, true)
	if resolved.W != base.W || resolved.H != base.H {
		t.Fatalf("uncapped resolve = %+v, want unchanged base %+v", resolved, base)
	}
}

func TestAlignEvenFloorsAtTwo(t *testing.T) {
	got := AlignEven(Size{W: 1, H: 0})
	if got.W != 2 || got.H != 2 {
		t.Fatalf("AlignEven(1,0) = %+v, want (2,2)", got)
	}
	got = AlignEven(Size{W: 1921, H: 1081})
	if got.W != 1920 || got.H != 1080 {
		t.Fatalf("AlignEven(1921,1081) = %+v, want (1920,1080)", got)
	}
}

func TestResizeMachineDebouncesAndEmits(t *testing.T) {
	base := time.Unix(0, 0)
	cur := base
	var events []ResizeEvent
	m := NewResizeMachine(func() time.Time { return cur }, func(e ResizeEvent) {
		events = append(events, e)
	})

	m.DrawableSizeChanged(Size{W: 1920, H: 1080}, Size{W: 1920, H: 1080}, 1.0)
	if m.State() != ResizeAwaiting {
		t.Fatalf("state = %v, want ResizeAwaiting", m.State())
	}

	cur = base.Add(100 * time.Millisecond)
	m.Tick()
	if len(events) != 0 {
		t.Fatalf("expected no emission before debounce elapses, got %d", len(events))
	}

	cur = base.Add(201 * time.Millisecond)
	m.Tick()
	if len(events) != 1 {
		t.Fatalf("expected one emission after debounce elapses, got %d", len(events))
	}
}

func TestResizeMachineFallsBackToIdleWithoutConfirmation(t *testing.T) {
	base := time.Unix(0, 0)
	cur := base
	m := NewResizeMachine(func() time.Time { return cur }, func(ResizeEvent) {})

	m.DrawableSizeChanged(Size{W: 1920, H: 1080}, Size{W: 1920, H: 1080}, 1.0)
	cur = base.Add(2100 * time.Millisecond)
	m.Tick()
	if m.State() != ResizeIdle {
		t.Fatalf("state = %v, want ResizeIdle after fallback timeout", m.State())
	}
}

func TestResizeMachineUsesSuppliedScaleNotHardcodedOne(t *testing.T) {
	base := time.Unix(0, 0)
	cur := base
	var events []ResizeEvent
	m := NewResizeMachine(func() time.Time { return cur }, func(e ResizeEvent) {
		events = append(events, e)
	})

	m.DrawableSizeChanged(Size{W: 3840, H: 2160}, Size{W: 3840, H: 2160}, 0.5)
	cur = base.Add(201 * time.Millisecond)
	m.Tick()

	if len(events) != 1 {
		t.Fatalf("expected one emission, got %d", len(events))
	}
	if events[0].Scale != 0.5 {
		t.Fatalf("emitted scale = %v, want 0.5 (the caller-supplied relative scale)", events[0].Scale)
	}
	want := AlignEven(ResolveStreamScale(Size{W: 3840, H: 2160}, 0.5, false))
	if events[0].Size != want {
		t.Fatalf("emitted size = %+v, want %+v resolved at scale 0.5", events[0].Size, want)
	}
}

func TestResizeMachineConfirmThenTailToIdle(t *testing.T) {
	base := time.Unix(0, 0)
	cur := base
	m := NewResizeMachine(func() time.Time { return cur }, func(ResizeEvent) {})
	m.ConfirmResize(Size{W: 1920, H: 1080})
	if m.State() != ResizeConfirmed {
		t.Fatalf("state = %v, want ResizeConfirmed", m.State())
	}
	cur = base.Add(60 * time.Millisecond)
	m.Tick()
	if m.State() != ResizeIdle {
		t.Fatalf("state = %v, want ResizeIdle after confirm tail elapses", m.State())
	}
}
