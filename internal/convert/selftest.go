package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
)

// SelfTest pushes a tiny generated image through the full pipeline. Run once
// at startup so an unusable encoder fails the process instead of the first
// request.
func (c *Converter) SelfTest(ctx context.Context) error {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return fmt.Errorf("build self-test image: %w", err)
	}

	if _, err := c.Process(ctx, Request{
		Filename: "selftest.jpg",
		Format:   FormatJPEG,
		Data:     buf.Bytes(),
	}); err != nil {
		return fmt.Errorf("avif encode self-test: %w", err)
	}
	return nil
}
