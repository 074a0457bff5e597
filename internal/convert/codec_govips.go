//go:build govips

package convert

import (
	"context"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	vipsOnce    sync.Once
	vipsMu      sync.Mutex
	vipsStarted bool
)

// Startup initializes the libvips runtime once per process.
func Startup() error {
	vipsOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		vipsMu.Lock()
		vipsStarted = true
		vipsMu.Unlock()
	})
	return nil
}

func Shutdown() {
	vipsMu.Lock()
	defer vipsMu.Unlock()
	if !vipsStarted {
		return
	}
	vips.Shutdown()
	vipsStarted = false
}

func newCodec() (Codec, error) {
	return govipsCodec{}, nil
}

// govipsCodec is the production codec. libvips loads the primary visual
// layer of multi-track HEIC containers, AutoRotate folds the orientation tag
// into the pixels and drops it, and the AVIF export re-serializes the
// remaining EXIF/GPS block into the output container.
type govipsCodec struct{}

func (govipsCodec) Convert(ctx context.Context, input []byte, format SourceFormat, opts EncodeOptions) (Converted, error) {
	select {
	case <-ctx.Done():
		return Converted{}, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Converted{}, newDecodeError(format, ReasonCorrupt, err)
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		return Converted{}, newDecodeError(format, ReasonCorrupt, err)
	}

	params := avifParams(opts)
	data, _, err := img.ExportAvif(params)
	if err != nil {
		return Converted{}, newEncodeError(err)
	}

	out := Converted{
		Data:            data,
		Width:           img.Width(),
		Height:          img.Height(),
		MetadataCarried: true,
	}

	if opts.ThumbnailMax > 0 {
		thumb, err := vips.NewThumbnailFromBuffer(input, opts.ThumbnailMax, opts.ThumbnailMax, vips.InterestingNone)
		if err != nil {
			return Converted{}, newEncodeError(err)
		}
		defer thumb.Close()

		out.Thumbnail, _, err = thumb.ExportAvif(params)
		if err != nil {
			return Converted{}, newEncodeError(err)
		}
	}

	return out, nil
}

func avifParams(opts EncodeOptions) *vips.AvifExportParams {
	params := vips.NewAvifExportParams()
	if opts.Quality >= 1 && opts.Quality <= 100 {
		params.Quality = opts.Quality
	}
	// libvips effort runs 0-9.
	speed := opts.Speed
	if speed > 9 {
		speed = 9
	}
	if speed >= 0 {
		params.Speed = speed
	}
	params.StripMetadata = false
	return params
}
