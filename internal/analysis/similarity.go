package analysis

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/tinytelemetry/mapbench/internal/model"
	"go.uber.org/multierr"
	_ "golang.org/x/image/webp"
)

// DecodeImage decodes a base64-encoded JPEG, PNG or WebP payload.
func DecodeImage(b64 string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// DecodeReferences decodes every reference snapshot. A reference that fails
// to decode makes the whole set unusable.
func DecodeReferences(snapshots []string) ([]image.Image, error) {
	refs := make([]image.Image, 0, len(snapshots))
	for i, s := range snapshots {
		img, err := DecodeImage(s)
		if err != nil {
			return nil, fmt.Errorf("reference %d: %w", i, err)
		}
		refs = append(refs, img)
	}
	return refs, nil
}

// ScoreScreenshots compares every screenshot in idx against each reference
// image. Columns left of xStart are excluded from the comparison.
//
// A screenshot that cannot be decoded or whose size differs from a
// reference gets Err set and no scores; the remaining screenshots are still
// scored and all failures are returned together.
func ScoreScreenshots(idx *Index, refs []image.Image, xStart int) ([]model.ScreenshotRecord, error) {
	refPixels := make([]*image.RGBA, len(refs))
	for k, ref := range refs {
		refPixels[k] = toRGBA(ref)
	}

	shots := idx.byCat[model.CategoryScreenshot]
	out := make([]model.ScreenshotRecord, 0, len(shots))
	var errs error
	for i, ev := range shots {
		rec := model.ScreenshotRecord{
			StartTimeMs: idx.RelativeMs(ev.Timestamp),
			Snapshot:    ev.Args.Snapshot,
		}

		scores, err := scoreOne(ev.Args.Snapshot, refPixels, xStart)
		if err != nil {
			rec.Err = fmt.Errorf("screenshot %d at %.3fms: %w", i, rec.StartTimeMs, err)
			errs = multierr.Append(errs, rec.Err)
		} else {
			rec.Scores = scores
		}
		out = append(out, rec)
	}
	return out, errs
}

func scoreOne(snapshot string, refs []*image.RGBA, xStart int) ([]float64, error) {
	img, err := DecodeImage(snapshot)
	if err != nil {
		return nil, err
	}
	frame := toRGBA(img)
	scores := make([]float64, len(refs))
	for k, ref := range refs {
		s, err := rmseRGBA(frame, ref, xStart)
		if err != nil {
			return nil, fmt.Errorf("reference %d: %w", k, err)
		}
		scores[k] = s
	}
	return scores, nil
}

// RMSE returns the root-mean-square difference of the RGB channels of a and
// b over columns x >= xStart. Images must have identical dimensions.
func RMSE(a, b image.Image, xStart int) (float64, error) {
	return rmseRGBA(toRGBA(a), toRGBA(b), xStart)
}

func rmseRGBA(a, b *image.RGBA, xStart int) (float64, error) {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return 0, fmt.Errorf("image size %dx%d does not match reference %dx%d", ab.Dx(), ab.Dy(), bb.Dx(), bb.Dy())
	}
	if xStart < 0 {
		xStart = 0
	}
	if xStart >= ab.Dx() {
		return 0, fmt.Errorf("x-start %d leaves no columns in a %dpx wide image", xStart, ab.Dx())
	}

	var sum float64
	var n int
	for y := 0; y < ab.Dy(); y++ {
		rowA := a.Pix[y*a.Stride:]
		rowB := b.Pix[y*b.Stride:]
		for x := xStart; x < ab.Dx(); x++ {
			off := x * 4
			for c := 0; c < 3; c++ {
				d := float64(rowA[off+c]) - float64(rowB[off+c])
				sum += d * d
			}
			n += 3
		}
	}
	return math.Sqrt(sum / float64(n)), nil
}

// toRGBA returns img as a zero-origin *image.RGBA.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
