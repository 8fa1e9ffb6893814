package file

import "errors"

var (
	// ErrHashMismatch is an error that occurs when a copied file does not
	// match the checksum of its source.
	ErrHashMismatch = errors.New("hash mismatch")

	// ErrNotRegular is an error that occurs when an operation needs a
	// regular file but found something else.
	ErrNotRegular = errors.New("not a regular file")
)
