package rpc

import "encoding/binary"

// headerSize is the fixed on-wire header: rpc_len (u32) + arg_len (u32).
// All integers on the wire are little-endian, pinned here so both ends
// agree regardless of host architecture.
const headerSize = 8

// maxFrameBody bounds rpc_len+arg_len. A header declaring a larger body is
// treated as corruption and closes the connection rather than allocating
// whatever a hostile or confused peer asks for.
const maxFrameBody = 64 << 20

var byteOrder = binary.LittleEndian

// putHeader writes rpc_len/arg_len into buf[0:headerSize].
func putHeader(buf []byte, rpcLen, argLen uint32) {
	byteOrder.PutUint32(buf[0:4], rpcLen)
	byteOrder.PutUint32(buf[4:8], argLen)
}

// parseHeader reads rpc_len/arg_len from buf[0:headerSize]. Caller must
// ensure len(buf) >= headerSize.
func parseHeader(buf []byte) (rpcLen, argLen uint32) {
	return byteOrder.Uint32(buf[0:4]), byteOrder.Uint32(buf[4:8])
}

// encodeRequestPreamble writes {id, name_len, name} into buf and returns
// the number of bytes written (the request's rpc_len). buf must already be
// sized to requestPreambleLen(name).
func encodeRequestPreamble(buf []byte, id uint64, name string) int {
	byteOrder.PutUint64(buf[0:8], id)
	byteOrder.PutUint64(buf[8:16], uint64(len(name)))
	copy(buf[16:], name)
	return requestPreambleLen(name)
}

func requestPreambleLen(name string) int {
	return 8 + 8 + len(name)
}

// decodeRequestPreamble parses {id, name_len, name} out of buf, which must
// be exactly rpc_len bytes (the preamble slice of a request frame, not the
// whole frame). Declared lengths are checked against the supplied slice
// before any copy.
func decodeRequestPreamble(buf []byte) (id uint64, name string, ok bool) {
	if len(buf) < 16 {
		return 0, "", false
	}
	id = byteOrder.Uint64(buf[0:8])
	nameLen := byteOrder.Uint64(buf[8:16])
	if nameLen > uint64(len(buf)-16) {
		return 0, "", false
	}
	name = string(buf[16 : 16+nameLen])
	return id, name, true
}

// encodeResponsePreamble writes {id, status, message_len, message} into buf
// and returns the number of bytes written (the response's rpc_len). buf
// must already be sized to responsePreambleLen(message).
func encodeResponsePreamble(buf []byte, id uint64, status Status, message string) int {
	byteOrder.PutUint64(buf[0:8], id)
	byteOrder.PutUint32(buf[8:12], uint32(status))
	byteOrder.PutUint64(buf[12:20], uint64(len(message)))
	copy(buf[20:], message)
	return responsePreambleLen(message)
}

func responsePreambleLen(message string) int {
	return 8 + 4 + 8 + len(message)
}

// decodeResponsePreamble parses {id, status, message_len, message} out of
// buf, which must be exactly rpc_len bytes.
func decodeResponsePreamble(buf []byte) (id uint64, status Status, message string, ok bool) {
	if len(buf) < 20 {
		return 0, 0, "", false
	}
	id = byteOrder.Uint64(buf[0:8])
	status = Status(byteOrder.Uint32(buf[8:12]))
	msgLen := byteOrder.Uint64(buf[12:20])
	if msgLen > uint64(len(buf)-20) {
		return 0, 0, "", false
	}
	message = string(buf[20 : 20+msgLen])
	return id, status, message, true
}
