package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"
)

// testPNG returns a small valid PNG.
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 1, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// stubProvider returns a canned payload or error after an optional delay.
type stubProvider struct {
	name  string
	data  string
	err   error
	delay time.Duration
	calls int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(ctx context.Context, in Input) (*Result, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return succeeded(s.name, "stub-model", in.Guidance, s.data), nil
}

func (s *stubProvider) callCount() int { return int(atomic.LoadInt32(&s.calls)) }

func okStub(name string) *stubProvider {
	return &stubProvider{name: name, data: base64.StdEncoding.EncodeToString([]byte("img-" + name))}
}
