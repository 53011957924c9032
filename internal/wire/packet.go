// Package wire implements byte-level MySQL packet framing: splitting a
// half-duplex TCP stream into whole MySQL protocol packets using the
// 3-byte little-endian length header, and the small set of opcode
// constants the rest of the proxy needs to recognize.
package wire

import (
	"bufio"
	"io"
)

// MaxPayloadLen is the largest payload a single MySQL packet can carry
// (2^24 - 1 bytes); a longer payload is split across multiple packets
// by the protocol itself, which this proxy never needs to reassemble
// for framing purposes.
const MaxPayloadLen = 1<<24 - 1

// HeaderLen is the size of a packet's length+sequence header.
const HeaderLen = 4

// MySQL command opcodes relevant to the classifier.
const (
	ComSleep       = 0x00
	ComQuit        = 0x01
	ComQuery       = 0x03
	ComStmtPrepare = 0x16
	ComStmtExecute = 0x17
)

// OK, ERR and EOF header bytes: the first payload byte of those server
// response packets.
const (
	OKHeader  = 0x00
	ERRHeader = 0xff
	EOFHeader = 0xfe
)

// Packet is an owned MySQL wire-protocol frame: a 3-byte little-endian
// payload length, a 1-byte sequence id, and the payload itself.
// Its lifetime is a single pipe iteration — callers that need to retain
// it past the next Framer.Next call must copy it.
type Packet []byte

// Len returns the payload length encoded in the packet's header.
func (p Packet) Len() int {
	return int(p[0]) | int(p[1])<<8 | int(p[2])<<16
}

// SequenceID returns the packet's per-conversation sequence byte.
func (p Packet) SequenceID() byte {
	return p[3]
}

// Payload returns the packet's payload, i.e. everything after the
// 4-byte header.
func (p Packet) Payload() []byte {
	return p[HeaderLen:]
}

// Opcode returns the first payload byte (the command opcode for a
// client request packet), or false if the payload is empty.
func (p Packet) Opcode() (byte, bool) {
	if len(p.Payload()) < 1 {
		return 0, false
	}
	return p.Payload()[0], true
}

// Framer splits a single half-duplex byte stream into whole MySQL
// packets. It never interprets payload contents. Next allocates a new
// slice for every packet it returns; it does not reuse one buffer
// across packets. One Framer runs per direction per connection.
type Framer struct {
	r      *bufio.Reader
	header [HeaderLen]byte
}

// NewFramer wraps r for packet-at-a-time reading.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReaderSize(r, 16*1024)}
}

// Next blocks until a whole packet has been read and returns it. It
// returns io.EOF (or io.ErrUnexpectedEOF) if the stream ends
// exactly on a packet boundary or mid-packet; in neither case is a
// partial packet returned.
func (f *Framer) Next() (Packet, error) {
	if _, err := io.ReadFull(f.r, f.header[:]); err != nil {
		// A clean EOF before any header bytes is a normal stream end;
		// anything else (including a partial header) surfaces as-is so
		// callers can distinguish "stream closed" from "stream broke".
		return nil, err
	}

	length := int(f.header[0]) | int(f.header[1])<<8 | int(f.header[2])<<16
	packet := make(Packet, HeaderLen+length)
	copy(packet[:HeaderLen], f.header[:])
	if length > 0 {
		if _, err := io.ReadFull(f.r, packet[HeaderLen:]); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
	}
	return packet, nil
}
