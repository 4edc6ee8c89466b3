package agent

import "math"

// Channels holds the 0-255 intensity of the three output channels.
type Channels struct {
	R, G, B uint8
}

// DecomposeSpectrum splits a 24-bit spectrumRGB value into channel
// intensities: most significant byte red, then green, then blue. Values
// with leading zero channels (e.g. 0x0000FF) decompose correctly.
func DecomposeSpectrum(v int64) Channels {
	return Channels{
		R: uint8(v >> 16 & 0xFF),
		G: uint8(v >> 8 & 0xFF),
		B: uint8(v & 0xFF),
	}
}

// ComposeSpectrum packs channels back into a 24-bit value. It is the
// exact inverse of DecomposeSpectrum.
func ComposeSpectrum(c Channels) int64 {
	return int64(c.R)<<16 | int64(c.G)<<8 | int64(c.B)
}

// ScaleBrightness scales each channel by brightness/100, rounding to the
// nearest integer per channel. Brightness 100 is a no-op.
func ScaleBrightness(c Channels, brightness float64) Channels {
	factor := brightness / 100
	return Channels{
		R: uint8(math.Round(float64(c.R) * factor)),
		G: uint8(math.Round(float64(c.G) * factor)),
		B: uint8(math.Round(float64(c.B) * factor)),
	}
}

// ChannelsFor converts a desired-state document into output intensities.
// Off means all channels at minimum. On starts from full intensity, then
// color resolves the channels, then brightness scales them; that order
// is part of the contract - brightness always scales the already
// color-resolved values.
func ChannelsFor(states map[string]any) Channels {
	if on, _ := states["on"].(bool); !on {
		return Channels{}
	}

	out := Channels{R: 255, G: 255, B: 255}

	if color, ok := states["color"].(map[string]any); ok {
		if v, ok := color["spectrumRGB"].(float64); ok {
			out = DecomposeSpectrum(int64(v))
		}
	}

	if brightness, ok := states["brightness"].(float64); ok {
		out = ScaleBrightness(out, brightness)
	}

	return out
}
