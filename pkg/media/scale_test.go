package media

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"testing"
)

// encodeTest produces an encoded image of the given size for test input.
func encodeTest(t *testing.T, w, h int, asPNG bool) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	var err error
	if asPNG {
		err = png.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, img, nil)
	}
	if err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestDownscaleJPEG(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		w, h         int
		asPNG        bool
		wantW, wantH int
	}{
		{name: "within bounds untouched", w: 640, h: 480, wantW: 640, wantH: 480},
		{name: "wide image capped on width", w: 2048, h: 1024, wantW: 1024, wantH: 512},
		{name: "tall image capped on height", w: 512, h: 2048, wantW: 256, wantH: 1024},
		{name: "square oversize", w: 3000, h: 3000, wantW: 1024, wantH: 1024},
		{name: "png input re-encoded", w: 1500, h: 300, asPNG: true, wantW: 1024, wantH: 204},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := DownscaleJPEG(encodeTest(t, tt.w, tt.h, tt.asPNG), MaxImageDim)
			if err != nil {
				t.Fatalf("DownscaleJPEG: %v", err)
			}
			gotW, gotH := decodeSize(t, out)
			if gotW != tt.wantW || gotH != tt.wantH {
				t.Errorf("got %dx%d, want %dx%d", gotW, gotH, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestDownscaleJPEG_InvalidData(t *testing.T) {
	t.Parallel()
	if _, err := DownscaleJPEG([]byte("not an image"), MaxImageDim); err == nil {
		t.Fatal("expected error for invalid image data")
	}
}

func TestFitWithin_NeverZero(t *testing.T) {
	t.Parallel()
	w, h := fitWithin(10000, 1, 1024)
	if w != 1024 || h < 1 {
		t.Errorf("fitWithin(10000, 1) = %dx%d, want height >= 1", w, h)
	}
}
