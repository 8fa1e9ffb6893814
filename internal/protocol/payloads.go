package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/desertwitch/workio/internal/schema"
	"github.com/fxamacker/cbor/v2"
)

// StartRequest starts one operation on a worker.
type StartRequest struct {
	Kind schema.OpKind `cbor:"1,keyasint"`
	Args []byte        `cbor:"2,keyasint,omitempty"`
}

// OpArgs are the packed arguments of an operation. Which fields are used
// depends on the operation kind.
type OpArgs struct {
	URL          string `cbor:"1,keyasint"`
	Dest         string `cbor:"2,keyasint,omitempty"`
	Mode         uint32 `cbor:"3,keyasint,omitempty"`
	Overwrite    bool   `cbor:"4,keyasint,omitempty"`
	Resume       bool   `cbor:"5,keyasint,omitempty"`
	Recursive    bool   `cbor:"6,keyasint,omitempty"`
	HideProgress bool   `cbor:"7,keyasint,omitempty"`
	Privileged   bool   `cbor:"8,keyasint,omitempty"`
	Hash         bool   `cbor:"9,keyasint,omitempty"`
	Data         []byte `cbor:"10,keyasint,omitempty"`
}

// ErrorPayload carries a worker reported error.
type ErrorPayload struct {
	Code schema.ErrorCode `cbor:"1,keyasint"`
	Text string           `cbor:"2,keyasint,omitempty"`
}

// MessageBoxKind selects the kind of dialog a worker asks for.
type MessageBoxKind uint8

const (
	BoxQuestion MessageBoxKind = iota + 1
	BoxWarningContinueCancel
	BoxInformation
	BoxError
)

// Message box answers.
const (
	AnswerPrimary   = 1
	AnswerSecondary = 2
	AnswerCancel    = 3
)

// MessageBoxRequest asks the user interface a question on behalf of a
// worker.
type MessageBoxRequest struct {
	Kind      MessageBoxKind `cbor:"1,keyasint"`
	Text      string         `cbor:"2,keyasint,omitempty"`
	Title     string         `cbor:"3,keyasint,omitempty"`
	Primary   string         `cbor:"4,keyasint,omitempty"`
	Secondary string         `cbor:"5,keyasint,omitempty"`
	Details   string         `cbor:"6,keyasint,omitempty"`
}

// MessageBoxAnswer is the reply to a [MessageBoxRequest].
type MessageBoxAnswer struct {
	Code int `cbor:"1,keyasint"`
}

// HostInfoRequest asks the application to resolve a host name.
type HostInfoRequest struct {
	Host string `cbor:"1,keyasint"`
}

// HostInfoResponse is the reply to a [HostInfoRequest].
type HostInfoResponse struct {
	Host  string   `cbor:"1,keyasint"`
	Addrs []string `cbor:"2,keyasint,omitempty"`
	Err   string   `cbor:"3,keyasint,omitempty"`
}

// WorkerStatus is the greeting a worker sends once its connection is up.
type WorkerStatus struct {
	PID       int    `cbor:"1,keyasint"`
	Major     uint16 `cbor:"2,keyasint"`
	Minor     uint16 `cbor:"3,keyasint"`
	Scheme    string `cbor:"4,keyasint"`
	Host      string `cbor:"5,keyasint,omitempty"`
	Connected bool   `cbor:"6,keyasint,omitempty"`
}

// PrivilegeAnswer is the reply to a [MsgPrivilegeExec] request.
type PrivilegeAnswer struct {
	Status schema.PrivilegeStatus `cbor:"1,keyasint"`
}

// Marshal encodes a structured payload.
func Marshal(v any) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("(protocol-marshal) %w", err)
	}

	return b, nil
}

// Unmarshal decodes a structured payload.
func Unmarshal(b []byte, v any) error {
	if err := cbor.Unmarshal(b, v); err != nil {
		return fmt.Errorf("(protocol-unmarshal) %w: %w", ErrMalformedPayload, err)
	}

	return nil
}

// EncodeSize encodes a size or offset payload.
func EncodeSize(n uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, n)
}

// DecodeSize decodes a size or offset payload.
func DecodeSize(b []byte) (uint64, error) {
	if len(b) != 8 { //nolint:mnd
		return 0, fmt.Errorf("(protocol-size) %w: %d bytes", ErrMalformedPayload, len(b))
	}

	return binary.BigEndian.Uint64(b), nil
}

// EncodeBool encodes a yes/no answer.
func EncodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}

	return []byte{0}
}

// DecodeBool decodes a yes/no answer.
func DecodeBool(b []byte) (bool, error) {
	if len(b) != 1 {
		return false, fmt.Errorf("(protocol-bool) %w: %d bytes", ErrMalformedPayload, len(b))
	}

	return b[0] != 0, nil
}

// EncodeMetaData encodes metadata as its ordered key/value pairs.
func EncodeMetaData(m schema.MetaData) ([]byte, error) {
	return Marshal(m.Pairs())
}

// DecodeMetaData decodes metadata, keeping the order of the wire.
func DecodeMetaData(b []byte) (schema.MetaData, error) {
	var pairs []string
	if err := Unmarshal(b, &pairs); err != nil {
		return schema.MetaData{}, err
	}

	if len(pairs)%2 != 0 {
		return schema.MetaData{}, fmt.Errorf("(protocol-metadata) %w: odd pair count", ErrMalformedPayload)
	}

	return schema.NewMetaData(pairs...), nil
}
