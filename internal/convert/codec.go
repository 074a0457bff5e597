package convert

import "context"

// Codec performs the decode → normalize → encode sequence for a single image
// held entirely in memory. Implementations select the primary visual layer of
// multi-track HEIC containers, fold the EXIF orientation into the pixel
// buffer, and carry the remaining metadata block into the AVIF output where
// the underlying library supports it.
type Codec interface {
	Convert(ctx context.Context, input []byte, format SourceFormat, opts EncodeOptions) (Converted, error)
}

type EncodeOptions struct {
	// Quality is the lossy AVIF quality, 1-100.
	Quality int
	// Speed is the encoder effort tradeoff, 0 (slowest) to 10.
	Speed int
	// ThumbnailMax bounds the longest side of the thumbnail variant.
	// Zero skips the thumbnail entirely.
	ThumbnailMax int
}

type Converted struct {
	Data      []byte
	Thumbnail []byte
	Width     int
	Height    int
	// MetadataCarried reports whether the source EXIF block was
	// re-serialized into the output container.
	MetadataCarried bool
}
