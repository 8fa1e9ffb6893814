package main

import "errors"

var (
	// ErrUsage occurs when a command is called with wrong arguments.
	ErrUsage = errors.New("invalid usage")

	// ErrUnknownCommand occurs when no command of the given name exists.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrUnsupportedTransfer occurs when a copy between two schemes is
	// requested that cannot be piped.
	ErrUnsupportedTransfer = errors.New("unsupported transfer")
)
