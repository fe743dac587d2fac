// Package wsproto implements a minimal RFC 6455 WebSocket framing layer
// built directly on raw byte streams — no net/http upgrader, no
// gorilla/websocket on the server side. It supports exactly what the
// simulation's binary sub-protocol needs: single-frame (non-fragmented),
// binary or close frames, client frames masked, server frames unmasked.
package wsproto

import (
	"encoding/binary"
	"errors"
)

// Opcodes recognized on the wire. Continuation, text, ping and pong are
// explicit non-support cases per the framing design: this core never
// fragments, never pings, and never speaks text.
const (
	OpContinuation = 0x0
	OpText         = 0x1
	OpBinary       = 0x2
	OpClose        = 0x8
	OpPing         = 0x9
	OpPong         = 0xA
)

// Errors returned by frame decoding. Each one puts the owning connection
// into AwaitingDeletion with no further reply — see connmgr.
var (
	ErrFrameTooShort     = errors.New("wsproto: frame shorter than header requires")
	ErrExtendedLenTooShort = errors.New("wsproto: truncated extended payload length")
	ErrUnsupportedLength = errors.New("wsproto: 64-bit extended length not supported")
	ErrPayloadTruncated  = errors.New("wsproto: payload shorter than advertised length")
	ErrNotMasked         = errors.New("wsproto: client frame missing mask bit")
	ErrDisallowedOpcode  = errors.New("wsproto: opcode not supported by this core")
)

// Frame is a decoded WebSocket frame.
type Frame struct {
	Fin     bool
	Opcode  byte
	Payload []byte
}

// DecodeFrame parses exactly one client→server frame out of buf. Only
// opcodes Binary and Close are accepted; everything else — including the
// otherwise-legal continuation, text, ping and pong opcodes this core
// chooses not to support — is ErrDisallowedOpcode. Client frames must be
// masked; the mask is applied in place over the returned payload slice's
// backing copy.
func DecodeFrame(buf []byte) (Frame, error) {
	if len(buf) < 2 {
		return Frame{}, ErrFrameTooShort
	}

	fin := buf[0]&0x80 != 0
	opcode := buf[0] & 0x0F
	masked := buf[1]&0x80 != 0
	length := int(buf[1] & 0x7F)
	pos := 2

	switch length {
	case 126:
		if len(buf) < pos+2 {
			return Frame{}, ErrExtendedLenTooShort
		}
		length = int(binary.BigEndian.Uint16(buf[pos : pos+2]))
		pos += 2
	case 127:
		return Frame{}, ErrUnsupportedLength
	}

	switch opcode {
	case OpBinary, OpClose:
	default:
		return Frame{}, ErrDisallowedOpcode
	}

	if !masked {
		return Frame{}, ErrNotMasked
	}
	if len(buf) < pos+4 {
		return Frame{}, ErrFrameTooShort
	}
	var maskKey [4]byte
	copy(maskKey[:], buf[pos:pos+4])
	pos += 4

	if len(buf)-pos < length {
		return Frame{}, ErrPayloadTruncated
	}
	payload := make([]byte, length)
	copy(payload, buf[pos:pos+length])
	for i := range payload {
		payload[i] ^= maskKey[i%4]
	}

	return Frame{Fin: fin, Opcode: opcode, Payload: payload}, nil
}

// EncodeFrame produces an unmasked, FIN=1, single-frame server→client
// binary frame. Payloads over 65535 bytes are rejected — this core keeps
// every outbound payload (health grid, tree batches) under that bound by
// construction and never emits the 64-bit extended-length form.
func EncodeFrame(opcode byte, payload []byte) ([]byte, error) {
	return EncodeFrameInto(nil, opcode, payload)
}

// EncodeFrameInto is EncodeFrame, but appends onto dst[:0] instead of
// always allocating: a caller flushing many frames per pass (see
// connmgr.Manager.Flush) can hand back the same pooled buffer every
// call and only pay for growth the first time it is needed.
func EncodeFrameInto(dst []byte, opcode byte, payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFF {
		return nil, errors.New("wsproto: payload exceeds 65535 bytes, not supported on encode")
	}

	first := byte(0x80) | (opcode & 0x0F)
	out := dst[:0]
	if len(payload) <= 125 {
		out = append(out, first, byte(len(payload)))
	} else {
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], uint16(len(payload)))
		out = append(out, first, 126, ext[0], ext[1])
	}
	out = append(out, payload...)
	return out, nil
}
