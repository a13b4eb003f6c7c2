package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDetectMIME(t *testing.T) {
	data := encodePNG(t, 8, 8)
	if got := DetectMIME(data); got != "image/png" {
		t.Errorf("DetectMIME = %q, want image/png", got)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	if got := DetectMIME(buf.Bytes()); got != "image/jpeg" {
		t.Errorf("DetectMIME = %q, want image/jpeg", got)
	}
}

func TestResizeForUploadSmallImageUnchanged(t *testing.T) {
	data := encodePNG(t, 640, 480)
	out, mime, err := ResizeForUpload(data, MaxUploadDimension)
	if err != nil {
		t.Fatalf("ResizeForUpload: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("small image should be returned unchanged")
	}
	if mime != "image/png" {
		t.Errorf("mime = %q, want image/png", mime)
	}
}

func TestResizeForUploadScalesDown(t *testing.T) {
	data := encodePNG(t, 4000, 2000)
	out, mime, err := ResizeForUpload(data, 1000)
	if err != nil {
		t.Fatalf("ResizeForUpload: %v", err)
	}
	if mime != "image/jpeg" {
		t.Errorf("mime = %q, want image/jpeg", mime)
	}
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode resized: %v", err)
	}
	if got := img.Bounds().Dx(); got != 1000 {
		t.Errorf("width = %d, want 1000", got)
	}
	if got := img.Bounds().Dy(); got != 500 {
		t.Errorf("height = %d, want 500", got)
	}
}

func TestResizeForUploadPortrait(t *testing.T) {
	data := encodePNG(t, 1000, 3000)
	out, _, err := ResizeForUpload(data, 1500)
	if err != nil {
		t.Fatalf("ResizeForUpload: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode resized: %v", err)
	}
	if got := img.Bounds().Dy(); got != 1500 {
		t.Errorf("height = %d, want 1500", got)
	}
	if got := img.Bounds().Dx(); got != 500 {
		t.Errorf("width = %d, want 500", got)
	}
}

func TestResizeForUploadRejectsGarbage(t *testing.T) {
	if _, _, err := ResizeForUpload([]byte("not an image"), 100); err == nil {
		t.Error("expected decode error for non-image bytes")
	}
}

func TestFitDimensions(t *testing.T) {
	cases := []struct {
		w, h, max, wantW, wantH int
	}{
		{4000, 2000, 1000, 1000, 500},
		{2000, 4000, 1000, 500, 1000},
		{3000, 3000, 1500, 1500, 1500},
		{10000, 1, 100, 100, 1},
	}
	for _, c := range cases {
		gw, gh := fitDimensions(c.w, c.h, c.max)
		if gw != c.wantW || gh != c.wantH {
			t.Errorf("fitDimensions(%d, %d, %d) = (%d, %d), want (%d, %d)",
				c.w, c.h, c.max, gw, gh, c.wantW, c.wantH)
		}
	}
}
