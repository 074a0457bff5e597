package convert

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// SourceFormat is one of the two accepted input formats. The service does no
// format negotiation beyond these.
type SourceFormat string

const (
	FormatHEIC SourceFormat = "heic"
	FormatJPEG SourceFormat = "jpeg"
)

// DetectFormat sniffs the input bytes and returns the matching source format.
// Anything other than HEIC/HEIF or JPEG content is rejected as unsupported.
func DetectFormat(data []byte) (SourceFormat, error) {
	mime := mimetype.Detect(data)
	switch {
	case mime.Is("image/heic") || mime.Is("image/heif"):
		return FormatHEIC, nil
	case mime.Is("image/jpeg"):
		return FormatJPEG, nil
	default:
		return "", &DecodeError{
			Reason: ReasonUnsupported,
			Format: SourceFormat(strings.TrimPrefix(mime.String(), "image/")),
		}
	}
}

// SniffMatches verifies that the sniffed content matches the format the route
// declared. A JPEG posted to the HEIC endpoint is an unsupported input, not a
// corrupt one.
func SniffMatches(data []byte, declared SourceFormat) error {
	actual, err := DetectFormat(data)
	if err != nil {
		return newDecodeError(declared, ReasonUnsupported, err)
	}
	if actual != declared {
		return &DecodeError{Reason: ReasonUnsupported, Format: declared}
	}
	return nil
}

// OutputFilename rewrites the input filename's extension to .avif, keeping
// the stem. Empty filenames get a generic stem, matching the upload handler's
// fallback.
func OutputFilename(original string) string {
	stem := strings.TrimSpace(original)
	if idx := strings.LastIndexByte(stem, '.'); idx > 0 {
		stem = stem[:idx]
	}
	if stem == "" {
		stem = "image"
	}
	return stem + ".avif"
}

func thumbnailFilename(original string) string {
	out := OutputFilename(original)
	return strings.TrimSuffix(out, ".avif") + "_thumb.avif"
}
