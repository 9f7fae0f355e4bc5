// Package wire implements the L2.5 binary header family: encode/decode for
// every message kind exchanged between daemons, dispatched by a one-byte
// type tag. All multi-byte integers are little-endian; there is no padding
// between fields and no version byte — the type tag occupies that role.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind is the one-byte type tag every header begins with.
type Kind byte

const (
	KindHello         Kind = 0
	KindBroadcast     Kind = 1
	KindUnicast       Kind = 2
	KindReliableData  Kind = 3
	KindAck           Kind = 4
	KindReward        Kind = 5
	KindRREQ4         Kind = 6
	KindRREQ6         Kind = 7
	KindRREP4         Kind = 8
	KindRREP6         Kind = 9
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindBroadcast:
		return "BROADCAST"
	case KindUnicast:
		return "UNICAST"
	case KindReliableData:
		return "RELIABLE_DATA"
	case KindAck:
		return "ACK"
	case KindReward:
		return "REWARD"
	case KindRREQ4:
		return "RREQ4"
	case KindRREQ6:
		return "RREQ6"
	case KindRREP4:
		return "RREP4"
	case KindRREP6:
		return "RREP6"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// MalformedHeader is returned when a buffer is shorter than a kind's
// minimum length, or otherwise structurally invalid.
var MalformedHeader = errors.New("wire: malformed header")

// UnknownKind is returned when the leading type tag does not match any
// known header kind.
var UnknownKind = errors.New("wire: unknown kind")

// Header is implemented by every decoded message kind. Encode is the
// inverse of the package-level Decode for that kind: Decode(h.Encode())
// reproduces h field-for-field.
type Header interface {
	Kind() Kind
	Encode() []byte
}

// MAC is a 6-byte link-layer address, used as the neighbor identity
// throughout the daemon.
type MAC [6]byte

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// decodeFunc decodes the body of a header of a known kind, given the full
// buffer including the leading type tag. Each entry in kindTable pairs a
// decodeFunc with the minimum buffer length it requires; Decode consults
// this table so that adding a kind never touches the dispatch logic.
type decodeFunc func(buf []byte) (Header, error)

type kindEntry struct {
	minLen int
	decode decodeFunc
}

var kindTable = map[Kind]kindEntry{
	KindHello:        {helloMinLen, decodeHello},
	KindBroadcast:    {broadcastMinLen, decodeBroadcast},
	KindUnicast:      {unicastMinLen, decodeUnicast},
	KindReliableData: {reliableDataMinLen, decodeReliableData},
	KindAck:          {ackMinLen, decodeAck},
	KindReward:       {rewardMinLen, decodeReward},
	KindRREQ4:        {rreq4MinLen, decodeRREQ4},
	KindRREQ6:        {rreq6MinLen, decodeRREQ6},
	KindRREP4:        {rrep4MinLen, decodeRREP4},
	KindRREP6:        {rrep6MinLen, decodeRREP6},
}

// Decode dispatches on buf[0] and decodes the corresponding header kind.
// It never panics: a too-short buffer yields MalformedHeader and an
// unrecognized tag yields UnknownKind.
func Decode(buf []byte) (Header, error) {
	if len(buf) < 1 {
		return nil, MalformedHeader
	}
	entry, ok := kindTable[Kind(buf[0])]
	if !ok {
		return nil, fmt.Errorf("%w: tag %d", UnknownKind, buf[0])
	}
	if len(buf) < entry.minLen {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", MalformedHeader, Kind(buf[0]), entry.minLen, len(buf))
	}
	return entry.decode(buf)
}

func putUint32(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf, v) }
func getUint32(buf []byte) uint32    { return binary.LittleEndian.Uint32(buf) }

func putMAC(buf []byte, m MAC) { copy(buf, m[:]) }
func getMAC(buf []byte) MAC    { var m MAC; copy(m[:], buf); return m }
