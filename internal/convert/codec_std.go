//go:build !govips

package convert

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"

	"github.com/Kagami/go-avif"
	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
	"github.com/rwcarlsen/goexif/exif"
)

// Startup is a no-op without the govips build tag.
func Startup() error { return nil }

func Shutdown() {}

func newCodec() (Codec, error) {
	return stdCodec{}, nil
}

// stdCodec is the default-build codec: goheif for HEIC decoding, the stdlib
// for JPEG, go-avif (libaom) for encoding. It normalizes orientation into the
// pixels but does not re-serialize the EXIF block into the AVIF container;
// full metadata carry-over requires the govips build.
type stdCodec struct{}

func (stdCodec) Convert(ctx context.Context, input []byte, format SourceFormat, opts EncodeOptions) (Converted, error) {
	var (
		dec decoded
		err error
	)
	switch format {
	case FormatHEIC:
		dec, err = decodeHEIC(input)
	case FormatJPEG:
		dec, err = decodeJPEG(input)
	default:
		err = &DecodeError{Reason: ReasonUnsupported, Format: format}
	}
	if err != nil {
		return Converted{}, err
	}

	select {
	case <-ctx.Done():
		return Converted{}, ctx.Err()
	default:
	}

	upright := uprightImage(dec.img, dec.orientation)
	bounds := upright.Bounds()

	data, err := encodeAVIF(upright, opts)
	if err != nil {
		return Converted{}, err
	}

	out := Converted{
		Data:   data,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}

	if opts.ThumbnailMax > 0 {
		thumb := imaging.Fit(upright, opts.ThumbnailMax, opts.ThumbnailMax, imaging.Lanczos)
		out.Thumbnail, err = encodeAVIF(thumb, opts)
		if err != nil {
			return Converted{}, err
		}
	}

	return out, nil
}

type decoded struct {
	img         image.Image
	orientation int
}

// decodeHEIC decodes the primary visual layer of a HEIC container; goheif
// ignores auxiliary depth and thumbnail tracks. Orientation comes from the
// embedded EXIF block when one exists.
func decodeHEIC(input []byte) (decoded, error) {
	img, err := goheif.Decode(bytes.NewReader(input))
	if err != nil {
		return decoded{}, newDecodeError(FormatHEIC, ReasonCorrupt, err)
	}

	dec := decoded{img: img, orientation: 1}
	if exifData, err := goheif.ExtractExif(bytes.NewReader(input)); err == nil && len(exifData) > 0 {
		dec.orientation = orientationFromExif(exifData)
	}
	return dec, nil
}

func decodeJPEG(input []byte) (decoded, error) {
	img, err := jpeg.Decode(bytes.NewReader(input))
	if err != nil {
		return decoded{}, newDecodeError(FormatJPEG, ReasonCorrupt, err)
	}

	dec := decoded{img: img, orientation: 1}
	if x, err := exif.Decode(bytes.NewReader(input)); err == nil && x != nil {
		dec.orientation = orientationFromExif(x.Raw)
	}
	return dec, nil
}

func encodeAVIF(img image.Image, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	err := avif.Encode(&buf, img, &avif.Options{
		Quality: avifQuality(opts.Quality),
		Speed:   avifSpeed(opts.Speed),
	})
	if err != nil {
		return nil, newEncodeError(err)
	}
	return buf.Bytes(), nil
}

// avifQuality maps the service's 1-100 scale (higher is better) onto
// go-avif's inverted 0-63 scale (lower is better).
func avifQuality(q int) int {
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return (100 - q) * avif.MaxQuality / 100
}

// avifSpeed maps the 0-10 config scale onto go-avif's 0-8.
func avifSpeed(s int) int {
	if s < 0 {
		s = 0
	}
	if s > 10 {
		s = 10
	}
	return s * avif.MaxSpeed / 10
}
