package egress

import "encoding/binary"

// buildClientHello constructs a minimal, syntactically valid TLS
// plaintext record carrying a ClientHello with the given SNI hostnames
// encoded in order (last one wins per extractSNI). Passing no hostnames
// produces a ClientHello without the server_name extension at all.
func buildClientHello(hostnames ...string) []byte {
	var ext []byte
	if len(hostnames) > 0 {
		// Build one server_name extension containing one name_list
		// entry per hostname, in order, so last-SNI-wins is exercised
		// within a single extension the same way a client stuffing
		// several SNI values into one ClientHello would.
		var nameList []byte
		for _, h := range hostnames {
			entry := make([]byte, 3+len(h))
			entry[0] = 0 // host_name
			binary.BigEndian.PutUint16(entry[1:3], uint16(len(h)))
			copy(entry[3:], h)
			nameList = append(nameList, entry...)
		}
		snData := make([]byte, 2+len(nameList))
		binary.BigEndian.PutUint16(snData[0:2], uint16(len(nameList)))
		copy(snData[2:], nameList)

		extHeader := make([]byte, 4)
		binary.BigEndian.PutUint16(extHeader[0:2], 0) // extension type server_name
		binary.BigEndian.PutUint16(extHeader[2:4], uint16(len(snData)))
		ext = append(ext, extHeader...)
		ext = append(ext, snData...)
	}

	extBlock := make([]byte, 2+len(ext))
	binary.BigEndian.PutUint16(extBlock[0:2], uint16(len(ext)))
	copy(extBlock[2:], ext)

	var hello []byte
	hello = append(hello, make([]byte, 2+32)...) // legacy_version + random
	hello = append(hello, 0x00)                  // session_id length 0
	hello = append(hello, 0x00, 0x02, 0x13, 0x01) // cipher_suites length 2, one suite
	hello = append(hello, 0x01, 0x00)             // compression_methods length 1, null
	hello = append(hello, extBlock...)

	body := make([]byte, 4+len(hello))
	body[0] = handshakeTypeClientHi
	msgLen := len(hello)
	body[1] = byte(msgLen >> 16)
	body[2] = byte(msgLen >> 8)
	body[3] = byte(msgLen)
	copy(body[4:], hello)

	record := make([]byte, recordHeaderLen+len(body))
	record[0] = recordTypeHandshake
	record[1] = 3
	record[2] = 3
	binary.BigEndian.PutUint16(record[3:5], uint16(len(body)))
	copy(record[5:], body)

	return record
}

// buildNonHandshakeRecord returns a plaintext record whose first
// message is not a ClientHello, exercising the "any other message
// yields no hostname" branch.
func buildNonHandshakeRecord() []byte {
	body := []byte{0xAA, 0xBB, 0xCC}
	record := make([]byte, recordHeaderLen+len(body))
	record[0] = recordTypeHandshake
	record[1], record[2] = 3, 3
	binary.BigEndian.PutUint16(record[3:5], uint16(len(body)))
	copy(record[5:], body)
	return record
}
