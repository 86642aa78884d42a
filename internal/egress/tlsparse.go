package egress

import (
	"encoding/binary"
	"fmt"

	"github.com/cagemesh/fabric/internal/cagerr"
)

const (
	recordTypeHandshake    = 22
	handshakeTypeClientHi  = 1
	extensionTypeServerName = 0
	serverNameTypeHostName = 0
)

// recordHeaderLen is the 5-byte TLS plaintext record header: type(1),
// legacy_version(2), length(2).
const recordHeaderLen = 5

// extractSNI parses buf as one TLS plaintext record containing a
// ClientHello and returns the last SNI host_name entry encountered
// (last-SNI-wins, SPEC_FULL.md §4.4 / source §9). ok is false when the
// record parses but carries no usable SNI (no extension, or an empty
// name) — the caller must treat that the same as NoHostnameFound.
func extractSNI(buf []byte) (hostname string, ok bool, err error) {
	if len(buf) < recordHeaderLen {
		return "", false, fmt.Errorf("%w: record too short", cagerr.ErrTLSParse)
	}
	if buf[0] != recordTypeHandshake {
		return "", false, fmt.Errorf("%w: not a handshake record (type %d)", cagerr.ErrTLSParse, buf[0])
	}

	recLen := int(binary.BigEndian.Uint16(buf[3:5]))
	if len(buf) < recordHeaderLen+recLen {
		return "", false, fmt.Errorf("%w: truncated record body", cagerr.ErrTLSParse)
	}
	body := buf[recordHeaderLen : recordHeaderLen+recLen]

	if len(body) < 4 || body[0] != handshakeTypeClientHi {
		// Not a ClientHello: the source treats any other first message
		// as "no hostname", not a parse failure.
		return "", false, nil
	}

	msgLen := int(body[1])<<16 | int(body[2])<<8 | int(body[3])
	if len(body) < 4+msgLen {
		return "", false, fmt.Errorf("%w: truncated handshake message", cagerr.ErrTLSParse)
	}
	hello := body[4 : 4+msgLen]

	off := 0
	readU8 := func() (byte, error) {
		if off >= len(hello) {
			return 0, fmt.Errorf("%w: unexpected end of ClientHello", cagerr.ErrTLSParse)
		}
		v := hello[off]
		off++
		return v, nil
	}
	readN := func(n int) ([]byte, error) {
		if off+n > len(hello) {
			return nil, fmt.Errorf("%w: unexpected end of ClientHello", cagerr.ErrTLSParse)
		}
		v := hello[off : off+n]
		off += n
		return v, nil
	}
	readU16 := func() (uint16, error) {
		b, err := readN(2)
		if err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint16(b), nil
	}

	// legacy_version(2) + random(32)
	if _, err := readN(2 + 32); err != nil {
		return "", false, err
	}

	// session_id
	sidLen, err := readU8()
	if err != nil {
		return "", false, err
	}
	if _, err := readN(int(sidLen)); err != nil {
		return "", false, err
	}

	// cipher_suites
	csLen, err := readU16()
	if err != nil {
		return "", false, err
	}
	if _, err := readN(int(csLen)); err != nil {
		return "", false, err
	}

	// compression_methods
	cmLen, err := readU8()
	if err != nil {
		return "", false, err
	}
	if _, err := readN(int(cmLen)); err != nil {
		return "", false, err
	}

	if off >= len(hello) {
		// No extensions block at all.
		return "", false, nil
	}

	extTotalLen, err := readU16()
	if err != nil {
		return "", false, err
	}
	extBytes, err := readN(int(extTotalLen))
	if err != nil {
		return "", false, err
	}

	destination := ""
	eoff := 0
	for eoff+4 <= len(extBytes) {
		extType := binary.BigEndian.Uint16(extBytes[eoff : eoff+2])
		extLen := int(binary.BigEndian.Uint16(extBytes[eoff+2 : eoff+4]))
		eoff += 4
		if eoff+extLen > len(extBytes) {
			return "", false, fmt.Errorf("%w: truncated extension", cagerr.ErrTLSParse)
		}
		extData := extBytes[eoff : eoff+extLen]
		eoff += extLen

		if extType != extensionTypeServerName {
			continue
		}

		if name, found := lastHostNameIn(extData); found {
			destination = name // last-SNI-wins across (unusually) repeated extensions too
		}
	}

	if destination == "" {
		return "", false, nil
	}
	return destination, true, nil
}

// lastHostNameIn parses a server_name_list and returns the last
// host_name entry in it (TLS forbids more than one in practice, but
// SPEC_FULL.md §9 documents honoring the last as a policy choice rather
// than rejecting outright).
func lastHostNameIn(data []byte) (string, bool) {
	if len(data) < 2 {
		return "", false
	}
	listLen := int(binary.BigEndian.Uint16(data[0:2]))
	if 2+listLen > len(data) {
		listLen = len(data) - 2
	}
	list := data[2 : 2+listLen]

	name := ""
	found := false
	off := 0
	for off+3 <= len(list) {
		nameType := list[off]
		nameLen := int(binary.BigEndian.Uint16(list[off+1 : off+3]))
		off += 3
		if off+nameLen > len(list) {
			break
		}
		if nameType == serverNameTypeHostName && nameLen > 0 {
			name = string(list[off : off+nameLen])
			found = true
		}
		off += nameLen
	}
	return name, found
}
