package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestMatchDevice(t *testing.T) {
	entries := []deviceEntry{
		{ID: "hw:0,0", Name: "Built-in Microphone"},
		{ID: "hw:1,0", Name: "USB Audio Interface"},
		{ID: "usb", Name: "Headset"},
	}
	tests := []struct {
		name string
		want string
		idx  int
		ok   bool
	}{
		{"exact id", "hw:1,0", 1, true},
		{"id wins over name", "usb", 2, true},
		{"name ignoring case", "headset", 2, true},
		{"name substring", "built-in", 0, true},
		{"missing", "bluetooth", -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, ok := matchDevice(entries, tt.want)
			if idx != tt.idx || ok != tt.ok {
				t.Errorf("matchDevice(%q) = %d, %v; want %d, %v", tt.want, idx, ok, tt.idx, tt.ok)
			}
		})
	}
}

func TestDecodeF32LE(t *testing.T) {
	want := []float32{0, 0.5, -1, 0.25}
	src := make([]byte, 4*len(want)+3) // trailing partial sample
	for i, v := range want {
		binary.LittleEndian.PutUint32(src[i*4:], math.Float32bits(v))
	}

	got := decodeF32LE(nil, src)
	if len(got) != len(want) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}

	reused := decodeF32LE(got, src[:8])
	if len(reused) != 2 || &reused[0] != &got[0] {
		t.Error("buffer not reused for a shorter block")
	}
}

func TestNewDevice(t *testing.T) {
	for source, name := range map[string]string{"": "mic", "mic": "mic", "wav": "wav"} {
		dev, err := NewDevice(source)
		if err != nil {
			t.Fatalf("NewDevice(%q): %v", source, err)
		}
		if dev.Name() != name {
			t.Errorf("NewDevice(%q).Name() = %q, want %q", source, dev.Name(), name)
		}
	}
	if _, err := NewDevice("alsa"); err == nil {
		t.Error("unknown source accepted")
	}
}
