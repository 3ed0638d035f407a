package pgm

import (
	"errors"
	"testing"
)

// fakeProvider records everything the lifecycle manager does to it.
type fakeProvider struct {
	openErr    error
	openCount  int
	closeCount int
	dirs       map[Pin]Direction
	levels     map[Pin]bool
	err        error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		dirs:   make(map[Pin]Direction),
		levels: make(map[Pin]bool),
	}
}

func (f *fakeProvider) Open() error {
	f.openCount++
	return f.openErr
}

func (f *fakeProvider) Close() error {
	f.closeCount++
	return nil
}

func (f *fakeProvider) SetDirection(pin Pin, dir Direction) { f.dirs[pin] = dir }
func (f *fakeProvider) Write(pin Pin, high bool)            { f.levels[pin] = high }
func (f *fakeProvider) Read(pin Pin) bool                   { return f.levels[pin] }
func (f *fakeProvider) SleepMicros(n uint32)                {}
func (f *fakeProvider) Err() error                          { return f.err }

// Acquire takes a process-wide claim, so none of these tests may run in
// parallel.

func TestAcquireExclusive(t *testing.T) {
	prov := newFakeProvider()
	h, err := Acquire(prov, DefaultPins)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release(false)

	if _, err := Acquire(newFakeProvider(), DefaultPins); !errors.Is(err, ErrBusy) {
		t.Errorf("second Acquire = %v, want ErrBusy", err)
	}
	// The losing acquire must not have touched the first holder.
	if prov.closeCount != 0 {
		t.Errorf("first provider closed %d times while still held", prov.closeCount)
	}

	if err := h.Release(false); err != nil {
		t.Fatalf("Release: %v", err)
	}
	h2, err := Acquire(newFakeProvider(), DefaultPins)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	h2.Release(false)
}

func TestAcquireOpenFailure(t *testing.T) {
	prov := newFakeProvider()
	prov.openErr = errors.New("lines busy")
	if _, err := Acquire(prov, DefaultPins); err == nil {
		t.Fatal("expected error from failing provider")
	}
	// A failed open must not leak the claim.
	h, err := Acquire(newFakeProvider(), DefaultPins)
	if err != nil {
		t.Fatalf("Acquire after failed open: %v", err)
	}
	h.Release(false)
}

func TestReleasePinState(t *testing.T) {
	pins := Pins{DAT: 20, CLK: 26, RST: 21, Trigger: 16}
	prov := newFakeProvider()
	h, err := Acquire(prov, pins)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	prov.SetDirection(DAT, Output)
	prov.SetDirection(CLK, Output)
	prov.SetDirection(RST, Output)
	prov.SetDirection(Trigger, Output)

	if err := h.Release(false); err != nil {
		t.Fatalf("Release: %v", err)
	}
	for _, pin := range []Pin{DAT, CLK, RST, Trigger} {
		if prov.dirs[pin] != Input {
			t.Errorf("%s left as output after release", pin)
		}
	}
	if prov.closeCount != 1 {
		t.Errorf("provider closed %d times, want 1", prov.closeCount)
	}
}

func TestReleaseLeaveResetHigh(t *testing.T) {
	prov := newFakeProvider()
	h, err := Acquire(prov, DefaultPins)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Release(true); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if prov.dirs[RST] != Output || !prov.levels[RST] {
		t.Error("RST not driven high after release with leaveResetHigh")
	}
	if prov.dirs[DAT] != Input || prov.dirs[CLK] != Input {
		t.Error("DAT/CLK not returned to input")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	prov := newFakeProvider()
	h, err := Acquire(prov, DefaultPins)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.Release(false); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := h.Release(false); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if prov.closeCount != 1 {
		t.Errorf("provider closed %d times, want 1", prov.closeCount)
	}
}

func TestHandleForwarding(t *testing.T) {
	prov := newFakeProvider()
	h, err := Acquire(prov, Pins{DAT: 2, CLK: 3, RST: 4, Trigger: -1})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release(false)

	if h.HasTrigger() {
		t.Error("HasTrigger true with Trigger = -1")
	}
	h.SetDirection(DAT, Output)
	h.Write(DAT, true)
	if !h.Read(DAT) {
		t.Error("Read(DAT) did not reflect Write")
	}
	if prov.dirs[DAT] != Output {
		t.Error("SetDirection not forwarded to provider")
	}
}

func TestPinString(t *testing.T) {
	tests := []struct {
		pin  Pin
		want string
	}{
		{DAT, "DAT"},
		{CLK, "CLK"},
		{RST, "RST"},
		{Trigger, "TRIGGER"},
	}
	for _, tt := range tests {
		if got := tt.pin.String(); got != tt.want {
			t.Errorf("Pin(%d).String() = %q, want %q", tt.pin, got, tt.want)
		}
	}
}
