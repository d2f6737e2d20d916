package analysis

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/tinytelemetry/mapbench/internal/model"
	"go.uber.org/multierr"
)

func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 40), B: uint8((x + y) * 7), A: 255})
		}
	}
	return img
}

func TestRMSEIdentityAndSymmetry(t *testing.T) {
	t.Parallel()

	a := gradientImage(6, 5)
	b := solidImage(6, 5, color.RGBA{R: 200, G: 10, B: 90, A: 255})

	same, err := RMSE(a, a, 0)
	if err != nil {
		t.Fatalf("RMSE(a, a): %v", err)
	}
	if same != 0 {
		t.Errorf("RMSE(a, a) = %v, want 0", same)
	}

	ab, err := RMSE(a, b, 0)
	if err != nil {
		t.Fatalf("RMSE(a, b): %v", err)
	}
	ba, err := RMSE(b, a, 0)
	if err != nil {
		t.Fatalf("RMSE(b, a): %v", err)
	}
	if ab != ba {
		t.Errorf("RMSE not symmetric: %v vs %v", ab, ba)
	}
	if ab <= 0 {
		t.Errorf("RMSE(a, b) = %v, want > 0", ab)
	}
}

func TestRMSEKnownValue(t *testing.T) {
	t.Parallel()

	black := solidImage(4, 4, color.RGBA{A: 255})
	gray := solidImage(4, 4, color.RGBA{R: 10, G: 10, B: 10, A: 255})

	got, err := RMSE(black, gray, 0)
	if err != nil {
		t.Fatalf("RMSE: %v", err)
	}
	if got != 10 {
		t.Errorf("RMSE = %v, want 10", got)
	}
}

func TestRMSEXStartExcludesChrome(t *testing.T) {
	t.Parallel()

	a := solidImage(8, 2, color.RGBA{R: 50, G: 50, B: 50, A: 255})
	b := solidImage(8, 2, color.RGBA{R: 50, G: 50, B: 50, A: 255})
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			b.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	full, err := RMSE(a, b, 0)
	if err != nil || full == 0 {
		t.Fatalf("RMSE over full width = %v, %v; want non-zero", full, err)
	}
	cropped, err := RMSE(a, b, 3)
	if err != nil {
		t.Fatalf("RMSE from x=3: %v", err)
	}
	if cropped != 0 {
		t.Errorf("RMSE from x=3 = %v, want 0", cropped)
	}
	if _, err := RMSE(a, b, 8); err == nil {
		t.Errorf("RMSE with x-start past the image should fail")
	}
}

func TestRMSEDimensionMismatch(t *testing.T) {
	t.Parallel()

	if _, err := RMSE(solidImage(4, 4, color.RGBA{}), solidImage(4, 5, color.RGBA{}), 0); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestDecodeImageFormats(t *testing.T) {
	t.Parallel()

	src := gradientImage(16, 8)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "jpeg", payload: base64.StdEncoding.EncodeToString(buf.Bytes())},
		{name: "png", payload: encodePNG(t, src)},
		{name: "bad base64", payload: "***", wantErr: true},
		{name: "not an image", payload: base64.StdEncoding.EncodeToString([]byte("hello")), wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			img, err := DecodeImage(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeImage: %v", err)
			}
			if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
				t.Errorf("bounds = %v, want 16x8", b)
			}
		})
	}
}

func TestScoreScreenshots(t *testing.T) {
	t.Parallel()

	red := solidImage(4, 4, color.RGBA{R: 255, A: 255})
	blue := solidImage(4, 4, color.RGBA{B: 255, A: 255})

	idx := Classify([]model.TraceEvent{
		event("TracingStartedInBrowser", 1000000),
		screenshotEvent(1300000, encodePNG(t, blue)),
		screenshotEvent(1100000, encodePNG(t, red)),
		screenshotEvent(1200000, "not-base64!"),
		screenshotEvent(1400000, encodePNG(t, solidImage(2, 2, color.RGBA{A: 255}))),
	})

	shots, err := ScoreScreenshots(idx, []image.Image{red, blue}, 0)
	if err == nil {
		t.Fatal("expected aggregated error for the broken screenshots")
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Errorf("got %d errors, want 2: %v", n, err)
	}
	if len(shots) != 4 {
		t.Fatalf("got %d rows, want 4", len(shots))
	}

	wantTimes := []float64{100, 200, 300, 400}
	for i, s := range shots {
		if s.StartTimeMs != wantTimes[i] {
			t.Errorf("row %d at %v, want %v", i, s.StartTimeMs, wantTimes[i])
		}
	}

	if !shots[0].Scored(0) || shots[0].Scores[0] != 0 || shots[0].Scores[1] == 0 {
		t.Errorf("red screenshot scores = %v", shots[0].Scores)
	}
	if shots[1].Scored(0) || shots[1].Err == nil {
		t.Errorf("undecodable screenshot should carry an error, got %+v", shots[1])
	}
	if !shots[2].Scored(1) || shots[2].Scores[1] != 0 {
		t.Errorf("blue screenshot scores = %v", shots[2].Scores)
	}
	if shots[3].Err == nil || shots[3].Scores != nil {
		t.Errorf("mismatched screenshot should have no scores, got %+v", shots[3])
	}
}

func TestDecodeReferencesFailsOnBadReference(t *testing.T) {
	t.Parallel()

	good := encodePNG(t, solidImage(2, 2, color.RGBA{A: 255}))
	_, err := DecodeReferences([]string{good, "%%%"})
	if err == nil {
		t.Fatal("expected error")
	}
	var corrupt base64.CorruptInputError
	if !errors.As(err, &corrupt) {
		t.Errorf("error %v does not wrap the base64 failure", err)
	}
}
