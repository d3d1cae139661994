package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestEncodePCM16(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"silence", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32767},
		{"half", 0.5, 16383},
		{"clamp above", 3.7, 32767},
		{"clamp below", -12, -32767},
		{"nan", float32(math.NaN()), 0},
		{"positive infinity", float32(math.Inf(1)), 32767},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := EncodePCM16([]float32{tt.in})
			if len(out) != 2 {
				t.Fatalf("want 2 bytes, got %d", len(out))
			}
			got := int16(binary.LittleEndian.Uint16(out))
			if got != tt.want {
				t.Errorf("EncodePCM16(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodePCM16LengthAndOrder(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3, -0.4}
	out := EncodePCM16(in)
	if len(out) != 2*len(in) {
		t.Fatalf("want %d bytes, got %d", 2*len(in), len(out))
	}
	for i, s := range in {
		got := int16(binary.LittleEndian.Uint16(out[2*i:]))
		want := int16(s * 32767)
		if got != want {
			t.Errorf("sample %d: got %d, want %d", i, got, want)
		}
	}
	if len(EncodePCM16(nil)) != 0 {
		t.Error("empty input should encode to nothing")
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float32
	}{
		{"empty", nil, 0},
		{"silence", make([]float32, 512), 0},
		{"quiet", []float32{0.1, -0.1, 0.1, -0.1}, 0.5},
		{"loud clamps", []float32{0.9, -0.9}, 1},
		{"nan", []float32{float32(math.NaN())}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Level(tt.samples)
			if math.Abs(float64(got-tt.want)) > 1e-5 {
				t.Errorf("Level = %v, want %v", got, tt.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("Level %v out of [0,1]", got)
			}
		})
	}
}

func TestRMS(t *testing.T) {
	if got := RMS([]float32{3, 4}); math.Abs(got-math.Sqrt(12.5)) > 1e-9 {
		t.Errorf("RMS = %v", got)
	}
	if RMS(nil) != 0 {
		t.Error("RMS of empty frame should be 0")
	}
}
