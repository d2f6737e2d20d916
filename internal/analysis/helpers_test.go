package analysis

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/tinytelemetry/mapbench/internal/model"
)

func event(name string, ts int64) model.TraceEvent {
	return model.TraceEvent{Name: name, Phase: "I", Timestamp: ts, PID: 1, TID: 1}
}

func frameEvent(name string, ts, seqID int64) model.TraceEvent {
	ev := event(name, ts)
	ev.Args.FrameSeqID = &seqID
	return ev
}

func requestEvent(name, id string, ts int64, url string) model.TraceEvent {
	ev := event(name, ts)
	ev.Args.Data = &model.RequestData{
		RequestID:     id,
		URL:           url,
		RequestMethod: "GET",
		Priority:      "High",
	}
	return ev
}

func screenshotEvent(ts int64, snapshot string) model.TraceEvent {
	ev := event(string(model.CategoryScreenshot), ts)
	ev.Args.Snapshot = snapshot
	return ev
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func floatPtr(v float64) *float64 { return &v }
