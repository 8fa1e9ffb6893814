// Package protocol implements the framed binary protocol spoken between the
// application and its worker processes. A frame is an 8 byte header, the
// big-endian payload length followed by the big-endian id, and the payload.
// The codec never interprets payloads; typed payload helpers encode the
// structured ones as CBOR.
package protocol

// Protocol version spoken by this side. Workers announce theirs in the
// [MsgWorkerStatus] greeting.
const (
	Major uint16 = 1
	Minor uint16 = 0
)

// IsCompatibleVersion returns if a peer speaking major.minor can be talked to.
// Peers must agree on the major version, minors are additive.
func IsCompatibleVersion(major, _ uint16) bool {
	return major == Major
}
