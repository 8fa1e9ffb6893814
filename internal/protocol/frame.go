package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
)

const (
	// HeaderSize is the size of a frame header.
	HeaderSize = 8

	// MaxPayload is the largest payload a frame may carry.
	MaxPayload = 64 << 20
)

// Frame is one decoded protocol message.
type Frame struct {
	ID      ID
	Payload []byte
}

// Encode returns the wire form of one frame.
func Encode(id ID, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(id))
	copy(buf[HeaderSize:], payload)

	return buf
}

// Encoder writes frames to a stream. It is safe for concurrent use, each
// frame is written atomically.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns a pointer to a new [Encoder].
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteFrame writes one frame.
func (e *Encoder) WriteFrame(id ID, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("(protocol-write) %w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(Encode(id, payload)); err != nil {
		return fmt.Errorf("(protocol-write) %s: %w", id, err)
	}

	return nil
}

// Decoder reads frames from a stream. It is not safe for concurrent use.
type Decoder struct {
	r   *bufio.Reader
	hdr [HeaderSize]byte
}

// NewDecoder returns a pointer to a new [Decoder].
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// ReadFrame blocks until one full frame is available. It returns [io.EOF]
// only when the stream ends cleanly on a frame boundary; any other error is
// fatal for the connection.
func (d *Decoder) ReadFrame() (Frame, error) {
	if _, err := io.ReadFull(d.r, d.hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}

		return Frame{}, fmt.Errorf("(protocol-read) %w: header: %w", ErrTruncatedFrame, err)
	}

	size := binary.BigEndian.Uint32(d.hdr[0:4])
	id := ID(binary.BigEndian.Uint32(d.hdr[4:8]))

	if size > MaxPayload {
		return Frame{}, fmt.Errorf("(protocol-read) %w: %s announces %d bytes", ErrFrameTooLarge, id, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}

		return Frame{}, fmt.Errorf("(protocol-read) %w: %s payload: %w", ErrTruncatedFrame, id, err)
	}

	return Frame{ID: id, Payload: payload}, nil
}

// Frames returns a lazy sequence of frames. The sequence ends after a clean
// end of stream or after yielding the first error. Ranging over it again
// resumes at the current stream position.
func (d *Decoder) Frames() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			f, err := d.ReadFrame()
			if err == io.EOF { //nolint:errorlint
				return
			}

			if err != nil {
				yield(Frame{}, err)

				return
			}

			if !yield(f, nil) {
				return
			}
		}
	}
}
