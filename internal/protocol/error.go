package protocol

import "errors"

var (
	// ErrFrameTooLarge is an error that occurs when a frame header announces
	// a payload larger than [MaxPayload]. The stream cannot be resynchronized.
	ErrFrameTooLarge = errors.New("frame payload too large")

	// ErrTruncatedFrame is an error that occurs when the stream ends in the
	// middle of a frame.
	ErrTruncatedFrame = errors.New("truncated frame")

	// ErrMalformedPayload is an error that occurs when a payload does not
	// decode into the structure its id implies.
	ErrMalformedPayload = errors.New("malformed payload")
)
