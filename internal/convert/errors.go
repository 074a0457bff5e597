package convert

import "fmt"

// DecodeReason classifies decode failures for the HTTP layer: both are user
// errors, but the message differs.
type DecodeReason string

const (
	ReasonCorrupt     DecodeReason = "corrupt"
	ReasonUnsupported DecodeReason = "unsupported"
)

// SizeError rejects an input before any decode work happens.
type SizeError struct {
	Size  int64
	Limit int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("file too large: %d bytes exceeds limit of %d bytes", e.Size, e.Limit)
}

// DecodeError wraps a failure to parse or decode the source image. It is
// terminal for the request; retrying identical bytes would fail identically.
type DecodeError struct {
	Reason DecodeReason
	Format SourceFormat
	cause  error
}

func (e *DecodeError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("decode %s: %s input", e.Format, e.Reason)
	}
	return fmt.Sprintf("decode %s: %s input: %v", e.Format, e.Reason, e.cause)
}

func (e *DecodeError) Unwrap() error { return e.cause }

func newDecodeError(format SourceFormat, reason DecodeReason, cause error) *DecodeError {
	return &DecodeError{Reason: reason, Format: format, cause: cause}
}

// EncodeError wraps a codec-level failure on an otherwise valid decoded
// image. Unlike decode failures this indicates an internal limitation.
type EncodeError struct {
	cause error
}

func (e *EncodeError) Error() string {
	if e.cause == nil {
		return "avif encode failed"
	}
	return fmt.Sprintf("avif encode failed: %v", e.cause)
}

func (e *EncodeError) Unwrap() error { return e.cause }

func newEncodeError(cause error) *EncodeError {
	return &EncodeError{cause: cause}
}
