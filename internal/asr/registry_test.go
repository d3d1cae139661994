package asr

import (
	"context"
	"errors"
	"testing"
)

// mockBackend is a test double for the Backend interface.
type mockBackend struct {
	name string
}

func (m *mockBackend) Name() string                          { return m.name }
func (m *mockBackend) Start(context.Context, *Emitter) error { return nil }
func (m *mockBackend) Stop() error                           { return nil }

func factoryFor(name string) Factory {
	return func() (Backend, error) { return &mockBackend{name: name}, nil }
}

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewRegistry()
	r.Register(SelectionCloud, factoryFor("deepgram"))

	b, err := r.New(SelectionCloud)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.Name() != "deepgram" {
		t.Errorf("expected name %q, got %q", "deepgram", b.Name())
	}
	if !r.Has(SelectionCloud) || r.Has(SelectionLocal) {
		t.Error("Has reports wrong membership")
	}
}

func TestRegistryPrimary(t *testing.T) {
	r := NewRegistry()
	r.Register(SelectionLocal, factoryFor("local"))
	r.Register(SelectionCloud, factoryFor("cloud"))

	if r.Primary() != SelectionLocal {
		t.Errorf("first registered should be primary, got %q", r.Primary())
	}
	r.SetPrimary(SelectionCloud)
	b, err := r.New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.Name() != "cloud" {
		t.Errorf("empty selection should use primary, got %q", b.Name())
	}
}

func TestRegistryUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.New(SelectionCloud)
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("want ErrUnknownBackend, got %v", err)
	}
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	r.Register(SelectionLocal, func() (Backend, error) { return nil, boom })
	_, err := r.New(SelectionLocal)
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped factory error, got %v", err)
	}
}

func TestRegistrySelectionsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(SelectionLocal, factoryFor("l"))
	r.Register(SelectionCloud, factoryFor("c"))
	got := r.Selections()
	if len(got) != 2 || got[0] != SelectionCloud || got[1] != SelectionLocal {
		t.Errorf("Selections = %v", got)
	}
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		in      string
		want    Selection
		wantErr bool
	}{
		{"local", SelectionLocal, false},
		{" Cloud ", SelectionCloud, false},
		{"whisper", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSelection(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSelection(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseSelection(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
