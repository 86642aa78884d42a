// Package wire implements the on-wire envelope the egress broker sends
// to the host egress forwarder: exactly one frame per connection,
// emitted before any other bytes, after which the channel is a raw byte
// pipe. The companion forwarder's exact byte layout is an external
// collaborator contract (see SPEC_FULL.md §6); this package defines one
// internally-consistent framing. internal/egress writes it, and the
// forwarder test doubles read it back with Decode.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds the frame body (everything after the 4-byte length
// prefix), guarding against a
// malformed or hostile peer claiming an unbounded length prefix.
const MaxFrameSize = 16 * 1024 * 1024

// ExternalRequest is the envelope carrying the chosen destination IP and
// the first application record captured from the customer stream.
type ExternalRequest struct {
	IP   string
	Data []byte
}

// Encode serializes r as: 4-byte big-endian total body length, 4-byte
// big-endian IP length, IP bytes, data bytes.
func (r ExternalRequest) Encode() ([]byte, error) {
	ipBytes := []byte(r.IP)
	bodyLen := 4 + len(ipBytes) + len(r.Data)
	if bodyLen > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame body too large (%d bytes)", bodyLen)
	}

	buf := make([]byte, 4+bodyLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(bodyLen))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(ipBytes)))
	copy(buf[8:8+len(ipBytes)], ipBytes)
	copy(buf[8+len(ipBytes):], r.Data)
	return buf, nil
}

// WriteTo encodes r and writes it to w in a single call.
func (r ExternalRequest) WriteTo(w io.Writer) (int64, error) {
	buf, err := r.Encode()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// Decode reads and parses one ExternalRequest from r.
func Decode(r io.Reader) (ExternalRequest, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return ExternalRequest{}, fmt.Errorf("wire: read frame length: %w", err)
	}

	bodyLen := binary.BigEndian.Uint32(lenBuf[:])
	if bodyLen > MaxFrameSize || bodyLen < 4 {
		return ExternalRequest{}, fmt.Errorf("wire: invalid frame body length %d", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return ExternalRequest{}, fmt.Errorf("wire: read frame body: %w", err)
	}

	ipLen := binary.BigEndian.Uint32(body[0:4])
	if uint32(len(body)-4) < ipLen {
		return ExternalRequest{}, fmt.Errorf("wire: ip length %d exceeds frame body", ipLen)
	}

	ip := string(body[4 : 4+ipLen])
	data := body[4+ipLen:]
	return ExternalRequest{IP: ip, Data: data}, nil
}
