package agent

import "testing"

func TestDecomposeSpectrum(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want Channels
	}{
		{"white", 0xFFFFFF, Channels{255, 255, 255}},
		{"black", 0x000000, Channels{0, 0, 0}},
		{"pure red", 0xFF0000, Channels{255, 0, 0}},
		{"pure green", 0x00FF00, Channels{0, 255, 0}},
		{"pure blue needs leading zeros", 0x0000FF, Channels{0, 0, 255}},
		{"mixed", 0x123456, Channels{0x12, 0x34, 0x56}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecomposeSpectrum(tt.in)
			if got != tt.want {
				t.Errorf("DecomposeSpectrum(%#x) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSpectrumRoundTrip(t *testing.T) {
	// The full range is too large to enumerate; step through it and pin
	// the boundaries.
	values := []int64{0, 1, 0xFF, 0x100, 0x0000FF, 0x00FF00, 0xFF0000, 0xFFFFFF}
	for v := int64(0); v <= 0xFFFFFF; v += 4097 {
		values = append(values, v)
	}

	for _, v := range values {
		if got := ComposeSpectrum(DecomposeSpectrum(v)); got != v {
			t.Fatalf("round trip of %#x = %#x", v, got)
		}
	}
}

func TestScaleBrightness(t *testing.T) {
	tests := []struct {
		name       string
		in         Channels
		brightness float64
		want       Channels
	}{
		{"full brightness is a no-op", Channels{255, 128, 1}, 100, Channels{255, 128, 1}},
		{"zero brightness darkens", Channels{255, 255, 255}, 0, Channels{0, 0, 0}},
		{"half of full red rounds to 128", Channels{255, 0, 0}, 50, Channels{128, 0, 0}},
		{"rounds to nearest per channel", Channels{255, 10, 1}, 50, Channels{128, 5, 1}},
		{"one percent of full", Channels{255, 255, 255}, 1, Channels{3, 3, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScaleBrightness(tt.in, tt.brightness)
			if got != tt.want {
				t.Errorf("ScaleBrightness(%v, %v) = %v, want %v", tt.in, tt.brightness, got, tt.want)
			}
		})
	}
}

func TestChannelsFor(t *testing.T) {
	tests := []struct {
		name   string
		states map[string]any
		want   Channels
	}{
		{"nil states means off", nil, Channels{}},
		{"off overrides everything", map[string]any{
			"on":         false,
			"color":      map[string]any{"spectrumRGB": float64(0xFF0000)},
			"brightness": float64(100),
		}, Channels{}},
		{"on without color or brightness is full white", map[string]any{
			"on": true,
		}, Channels{255, 255, 255}},
		{"color only", map[string]any{
			"on":    true,
			"color": map[string]any{"spectrumRGB": float64(0x00FF00)},
		}, Channels{0, 255, 0}},
		{"brightness scales white", map[string]any{
			"on":         true,
			"brightness": float64(50),
		}, Channels{128, 128, 128}},
		{"pure red at half brightness", map[string]any{
			"on":         true,
			"color":      map[string]any{"spectrumRGB": float64(16711680)},
			"brightness": float64(50),
		}, Channels{128, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChannelsFor(tt.states)
			if got != tt.want {
				t.Errorf("ChannelsFor(%v) = %v, want %v", tt.states, got, tt.want)
			}
		})
	}
}
