package audio

import "testing"

func TestSimHostActivateRequiresCallback(t *testing.T) {
	h := NewSimHost(48000)
	if err := h.Activate(); err != ErrCallbackNotSet {
		t.Fatalf("expected ErrCallbackNotSet, got %v", err)
	}
}

func TestSimHostTickInvokesCallback(t *testing.T) {
	h := NewSimHost(48000)
	var got int
	h.SetCallback(func(nframes int) { got = nframes })
	if err := h.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	h.Tick(128)
	if got != 128 {
		t.Fatalf("expected callback invoked with 128, got %d", got)
	}
}

func TestSimHostTickBeforeActivateIsNoOp(t *testing.T) {
	h := NewSimHost(48000)
	called := false
	h.SetCallback(func(nframes int) { called = true })
	h.Tick(64)
	if called {
		t.Fatal("callback should not fire before Activate")
	}
}

func TestSimHostPortBufferGrowsAndReuses(t *testing.T) {
	h := NewSimHost(48000)
	p, err := h.RegisterPort("capture_1", PortInput)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	b1 := p.Buffer(64)
	if len(b1) != 64 {
		t.Fatalf("expected 64 frames, got %d", len(b1))
	}
	b1[0] = 1
	b2 := p.Buffer(32)
	if len(b2) != 32 {
		t.Fatalf("expected 32 frames, got %d", len(b2))
	}
}

func TestSimHostConnectAndUnregister(t *testing.T) {
	h := NewSimHost(48000)
	p, err := h.RegisterPort("capture_1", PortInput)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.Connect(p, "system:capture_1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	target, ok := h.Connected("capture_1")
	if !ok || target != "system:capture_1" {
		t.Fatalf("expected connection recorded, got %q, %v", target, ok)
	}
	if err := h.Unregister(p); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, ok := h.Connected("capture_1"); ok {
		t.Fatal("expected connection cleared after unregister")
	}
}

func TestSimHostClosedRejectsRegister(t *testing.T) {
	h := NewSimHost(48000)
	h.Close()
	if _, err := h.RegisterPort("x", PortInput); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
