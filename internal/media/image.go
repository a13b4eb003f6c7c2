// Package media handles the image plumbing around the pipeline: format
// detection, EXIF capture-time extraction, and resizing to platform upload
// limits.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// MaxUploadDimension is the longest edge accepted by the publishing
// platforms; larger images are resized down before publishing.
const MaxUploadDimension = 1920

// jpegQuality balances upload size against visible artifacts on flower
// close-ups.
const jpegQuality = 85

// DetectMIME sniffs the content type from image bytes.
func DetectMIME(data []byte) string {
	return http.DetectContentType(data)
}

// CaptureTime extracts the EXIF capture timestamp from image bytes.
// Fallback chain: DateTimeOriginal, then CreateDate, then ModifyDate.
// Returns false when the image carries no usable date.
func CaptureTime(data []byte) (time.Time, bool) {
	meta, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF metadata decoded")
		return time.Time{}, false
	}
	for _, ts := range []time.Time{meta.DateTimeOriginal(), meta.CreateDate(), meta.ModifyDate()} {
		if !ts.IsZero() {
			return ts, true
		}
	}
	return time.Time{}, false
}

// ResizeForUpload scales an image down so its longest edge fits maxDimension,
// preserving aspect ratio, and re-encodes it as JPEG. Images already inside
// the limit are returned unchanged.
func ResizeForUpload(data []byte, maxDimension int) ([]byte, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDimension && h <= maxDimension {
		return data, "image/" + format, nil
	}

	nw, nh := fitDimensions(w, h, maxDimension)
	resized := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encode resized image: %w", err)
	}

	log.Debug().
		Int("origWidth", w).Int("origHeight", h).
		Int("newWidth", nw).Int("newHeight", nh).
		Int("outputSize", buf.Len()).
		Msg("Image resized for upload")
	return buf.Bytes(), "image/jpeg", nil
}

// fitDimensions scales (w, h) so the longest edge equals maxDimension.
func fitDimensions(w, h, maxDimension int) (int, int) {
	if w >= h {
		nh := h * maxDimension / w
		if nh < 1 {
			nh = 1
		}
		return maxDimension, nh
	}
	nw := w * maxDimension / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDimension
}
