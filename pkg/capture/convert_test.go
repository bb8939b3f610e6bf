package capture

import (
	"testing"
)

func TestSamplesToBytes_RoundTrip(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1, -1, 32767, -32768, 256}
	got := bytesToSamples(samplesToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length = %d; want %d", len(got), len(samples))
	}
	for i, s := range samples {
		if got[i] != s {
			t.Errorf("sample[%d] = %d; want %d", i, got[i], s)
		}
	}
}

func TestSamplesToBytes_LittleEndian(t *testing.T) {
	t.Parallel()

	got := samplesToBytes([]int16{0x0102})
	if got[0] != 0x02 || got[1] != 0x01 {
		t.Errorf("bytes = %v; want little-endian [2 1]", got)
	}
}

func TestBytesToSamples_DropsOddTrailingByte(t *testing.T) {
	t.Parallel()

	got := bytesToSamples([]byte{0x01, 0x02, 0x03})
	if len(got) != 1 {
		t.Fatalf("length = %d; want 1", len(got))
	}
}
