package convert

import (
	"context"
	"fmt"

	"github.com/dunamismax/aviflow/internal/config"
)

type Request struct {
	Filename string
	Format   SourceFormat
	Data     []byte
}

type Result struct {
	Data            []byte
	Filename        string
	Width           int
	Height          int
	SourceBytes     int64
	OutputBytes     int64
	Ratio           float64
	MetadataCarried bool
}

type VariantsResult struct {
	Full      Result
	Thumbnail Result
}

// Converter runs one conversion per call. It holds no per-request state, so a
// single instance is shared across concurrent requests.
type Converter struct {
	codec Codec
	cfg   config.ConvertConfig
}

func NewConverter(cfg config.ConvertConfig) (*Converter, error) {
	codec, err := newCodec()
	if err != nil {
		return nil, fmt.Errorf("build codec: %w", err)
	}
	return &Converter{codec: codec, cfg: cfg}, nil
}

// NewConverterWithCodec is for tests that substitute the codec.
func NewConverterWithCodec(cfg config.ConvertConfig, codec Codec) *Converter {
	return &Converter{codec: codec, cfg: cfg}
}

// Process converts one source image to a single AVIF output.
func (c *Converter) Process(ctx context.Context, req Request) (Result, error) {
	out, err := c.run(ctx, req, EncodeOptions{
		Quality: c.cfg.Quality,
		Speed:   c.cfg.Speed,
	})
	if err != nil {
		return Result{}, err
	}
	return c.result(req, out.Data, out), nil
}

// ProcessVariants converts one source image into the full-size output plus a
// bounded thumbnail, both AVIF.
func (c *Converter) ProcessVariants(ctx context.Context, req Request) (VariantsResult, error) {
	out, err := c.run(ctx, req, EncodeOptions{
		Quality:      c.cfg.Quality,
		Speed:        c.cfg.Speed,
		ThumbnailMax: c.cfg.ThumbnailMax,
	})
	if err != nil {
		return VariantsResult{}, err
	}

	full := c.result(req, out.Data, out)
	thumb := c.result(req, out.Thumbnail, out)
	thumb.Filename = thumbnailFilename(req.Filename)
	thumb.Width, thumb.Height = 0, 0
	return VariantsResult{Full: full, Thumbnail: thumb}, nil
}

func (c *Converter) run(ctx context.Context, req Request, opts EncodeOptions) (Converted, error) {
	size := int64(len(req.Data))
	if size > c.cfg.MaxFileSize {
		return Converted{}, &SizeError{Size: size, Limit: c.cfg.MaxFileSize}
	}
	if size == 0 {
		return Converted{}, newDecodeError(req.Format, ReasonCorrupt, fmt.Errorf("empty input"))
	}

	if err := SniffMatches(req.Data, req.Format); err != nil {
		return Converted{}, err
	}

	select {
	case <-ctx.Done():
		return Converted{}, ctx.Err()
	default:
	}

	return c.safeConvert(ctx, req.Data, req.Format, opts)
}

// safeConvert is the boundary around the codec libraries: an unexpected panic
// inside a codec call becomes an EncodeError for this request instead of
// taking down the process.
func (c *Converter) safeConvert(ctx context.Context, data []byte, format SourceFormat, opts EncodeOptions) (out Converted, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = Converted{}
			err = newEncodeError(fmt.Errorf("codec panic: %v", r))
		}
	}()
	return c.codec.Convert(ctx, data, format, opts)
}

func (c *Converter) result(req Request, data []byte, out Converted) Result {
	sourceBytes := int64(len(req.Data))
	outputBytes := int64(len(data))

	var ratio float64
	if sourceBytes > 0 {
		ratio = 1 - float64(outputBytes)/float64(sourceBytes)
	}

	return Result{
		Data:            data,
		Filename:        OutputFilename(req.Filename),
		Width:           out.Width,
		Height:          out.Height,
		SourceBytes:     sourceBytes,
		OutputBytes:     outputBytes,
		Ratio:           ratio,
		MetadataCarried: out.MetadataCarried,
	}
}
