package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoding for screen grabs

	"golang.org/x/image/draw"
)

// jpegQuality is the encoder quality used for downscaled frames. The live
// link favours latency over fidelity, so a mid-range quality is plenty.
const jpegQuality = 80

// DownscaleJPEG decodes data, scales the image so that neither dimension
// exceeds maxDim, and re-encodes it as JPEG. Images already within bounds are
// re-encoded without scaling so the output format is uniform regardless of the
// input encoder. data may be any format registered with image (JPEG, PNG).
func DownscaleJPEG(data []byte, maxDim int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("media: decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if w > maxDim || h > maxDim {
		w, h = fitWithin(w, h, maxDim)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("media: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin scales (w, h) down proportionally so the larger dimension equals
// maxDim. Both results are at least 1.
func fitWithin(w, h, maxDim int) (int, int) {
	if w >= h {
		scaled := h * maxDim / w
		return maxDim, max(scaled, 1)
	}
	scaled := w * maxDim / h
	return max(scaled, 1), maxDim
}
