package mux

import (
	"errors"
	"testing"

	"github.com/kbukum/noticemux/wire"
)

func TestChanPort_New(t *testing.T) {
	p := NewChanPort(WithID("tab-1"), WithMetadata("remote", "10.0.0.1"))
	if p.ID() != "tab-1" {
		t.Errorf("ID = %q", p.ID())
	}
	if p.Metadata("remote") != "10.0.0.1" {
		t.Errorf("metadata = %q", p.Metadata("remote"))
	}
	if NewChanPort().ID() == NewChanPort().ID() {
		t.Error("generated ids must differ")
	}
}

func TestChanPort_Send(t *testing.T) {
	p := NewChanPort(WithBuffer(2))

	for i := 0; i < 2; i++ {
		if err := p.Send(wire.Status(true)); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if err := p.Send(wire.Status(true)); !errors.Is(err, ErrPortFull) {
		t.Errorf("Send on full port = %v, want ErrPortFull", err)
	}

	env := <-p.Envelopes()
	if env.Type != wire.TypeConnected {
		t.Errorf("type = %q", env.Type)
	}
}

func TestChanPort_Close(t *testing.T) {
	p := NewChanPort()
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := p.Send(wire.Status(false)); !errors.Is(err, ErrPortClosed) {
		t.Errorf("Send after close = %v, want ErrPortClosed", err)
	}
	if _, open := <-p.Envelopes(); open {
		t.Error("expected envelope channel to be closed")
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if cfg.InboxSize != defaultInboxSize || cfg.PortBuffer != DefaultPortBuffer {
		t.Errorf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := (&Config{InboxSize: -1, PortBuffer: 1}).Validate(); err == nil {
		t.Error("expected error for negative inbox size")
	}
}
