// Package itch decodes NASDAQ ITCH 5.0 feeds into engine events. The input
// is a stream of length-prefixed records: a 2-byte big-endian payload
// length followed by the payload, whose first byte is the message type.
package itch

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"nanobook/internal/types"
)

// Payload lengths of the messages the decoder understands.
const (
	addOrderLen    = 36
	replaceLen     = 35
	deleteLen      = 19
	framePrefixLen = 2
)

// knownTypes maps recognized ITCH 5.0 message types to whether they are
// skipped. Skipped messages advance the cursor by their framed length and
// emit nothing; anything absent from this map is a decode error.
var knownTypes = map[byte]bool{
	'E': true, 'C': true, 'X': true, 'F': true, 'P': true, 'Q': true,
	'R': true, 'S': true, 'H': true, 'Y': true, 'L': true, 'V': true,
	'W': true, 'K': true, 'J': true, 'h': true, 'I': true, 'N': true,
	'A': false, 'U': false, 'D': false,
}

// DecodeError aborts a parse with the byte offset of the offending record.
// Events emitted before the error remain valid.
type DecodeError struct {
	Offset int
	Type   byte
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("itch: %s at offset %d (type %q)", e.Reason, e.Offset, e.Type)
}

type EventKind int

const (
	EventSubmitLimit EventKind = iota
	EventModify
	EventCancel
)

func (k EventKind) String() string {
	switch k {
	case EventModify:
		return "modify"
	case EventCancel:
		return "cancel"
	}
	return "submit_limit"
}

// Event is one decoded engine instruction. Ref carries the feed's order
// reference; NewRef is set for replaces only.
type Event struct {
	Kind     EventKind
	Ref      uint64
	NewRef   uint64
	Side     types.Side
	Price    types.Price
	Quantity types.Quantity
}

// Message pairs an event with the stock symbol it applies to. Replace and
// delete messages carry no symbol on the wire, so theirs is empty.
type Message struct {
	Symbol string
	Event  Event
}

// Parse decodes a feed buffer, preserving feed order. On a decode error
// the events parsed so far are returned alongside it.
func Parse(data []byte) ([]Message, error) {
	var out []Message
	off := 0
	for off < len(data) {
		if off+framePrefixLen > len(data) {
			return out, &DecodeError{Offset: off, Reason: "truncated length prefix"}
		}
		n := int(binary.BigEndian.Uint16(data[off : off+framePrefixLen]))
		start := off + framePrefixLen
		if n == 0 {
			return out, &DecodeError{Offset: off, Reason: "zero-length record"}
		}
		if start+n > len(data) {
			de := &DecodeError{Offset: off, Reason: "truncated record"}
			if start < len(data) {
				de.Type = data[start]
			}
			return out, de
		}
		payload := data[start : start+n]
		msgType := payload[0]

		skip, known := knownTypes[msgType]
		if !known {
			return out, &DecodeError{Offset: off, Type: msgType, Reason: "unrecognized message type"}
		}
		if !skip {
			msg, err := decodeRecord(payload, off)
			if err != nil {
				return out, err
			}
			out = append(out, msg)
		}
		off = start + n
	}
	return out, nil
}

// ParseFile reads and decodes a feed file.
func ParseFile(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("itch: read %s: %w", path, err)
	}
	return Parse(data)
}

func decodeRecord(payload []byte, off int) (Message, error) {
	switch payload[0] {
	case 'A':
		return decodeAddOrder(payload, off)
	case 'U':
		return decodeReplace(payload, off)
	case 'D':
		return decodeDelete(payload, off)
	}
	return Message{}, &DecodeError{Offset: off, Type: payload[0], Reason: "unrecognized message type"}
}

// decodeAddOrder parses an Add Order (A): type(1) locate(2) tracking(2)
// timestamp(6) ref(8) side(1) shares(4) stock(8) price(4). ITCH prices are
// fixed-point ten-thousandths; the engine takes integer cents.
func decodeAddOrder(payload []byte, off int) (Message, error) {
	if len(payload) != addOrderLen {
		return Message{}, &DecodeError{Offset: off, Type: 'A', Reason: "bad add order length"}
	}
	ref := binary.BigEndian.Uint64(payload[11:19])
	var side types.Side
	switch payload[19] {
	case 'B':
		side = types.Buy
	case 'S':
		side = types.Sell
	default:
		return Message{}, &DecodeError{Offset: off, Type: 'A', Reason: "unknown side byte"}
	}
	shares := binary.BigEndian.Uint32(payload[20:24])
	stock := strings.TrimRight(string(payload[24:32]), " ")
	rawPrice := binary.BigEndian.Uint32(payload[32:36])
	cents := types.Price(rawPrice / 100)
	if cents <= 0 {
		return Message{}, &DecodeError{Offset: off, Type: 'A', Reason: "price out of range"}
	}
	return Message{
		Symbol: stock,
		Event: Event{
			Kind:     EventSubmitLimit,
			Ref:      ref,
			Side:     side,
			Price:    cents,
			Quantity: types.Quantity(shares),
		},
	}, nil
}

// decodeReplace parses a Replace Order (U): type(1) locate(2) tracking(2)
// timestamp(6) oldRef(8) newRef(8) shares(4) price(4).
func decodeReplace(payload []byte, off int) (Message, error) {
	if len(payload) != replaceLen {
		return Message{}, &DecodeError{Offset: off, Type: 'U', Reason: "bad replace length"}
	}
	oldRef := binary.BigEndian.Uint64(payload[11:19])
	newRef := binary.BigEndian.Uint64(payload[19:27])
	shares := binary.BigEndian.Uint32(payload[27:31])
	rawPrice := binary.BigEndian.Uint32(payload[31:35])
	cents := types.Price(rawPrice / 100)
	if cents <= 0 {
		return Message{}, &DecodeError{Offset: off, Type: 'U', Reason: "price out of range"}
	}
	return Message{
		Event: Event{
			Kind:     EventModify,
			Ref:      oldRef,
			NewRef:   newRef,
			Price:    cents,
			Quantity: types.Quantity(shares),
		},
	}, nil
}

// decodeDelete parses a Delete Order (D): type(1) locate(2) tracking(2)
// timestamp(6) ref(8).
func decodeDelete(payload []byte, off int) (Message, error) {
	if len(payload) != deleteLen {
		return Message{}, &DecodeError{Offset: off, Type: 'D', Reason: "bad delete length"}
	}
	return Message{
		Event: Event{
			Kind: EventCancel,
			Ref:  binary.BigEndian.Uint64(payload[11:19]),
		},
	}, nil
}

// AppendAddOrder encodes a framed Add Order record. Symbols longer than
// eight characters are truncated; shorter ones are space padded.
func AppendAddOrder(dst []byte, ref uint64, side types.Side, shares uint32, symbol string, priceTenThousandths uint32) []byte {
	var payload [addOrderLen]byte
	payload[0] = 'A'
	binary.BigEndian.PutUint16(payload[1:3], 1) // stock locate
	binary.BigEndian.PutUint64(payload[11:19], ref)
	if side == types.Buy {
		payload[19] = 'B'
	} else {
		payload[19] = 'S'
	}
	binary.BigEndian.PutUint32(payload[20:24], shares)
	copy(payload[24:32], "        ")
	copy(payload[24:32], symbol)
	binary.BigEndian.PutUint32(payload[32:36], priceTenThousandths)

	dst = binary.BigEndian.AppendUint16(dst, addOrderLen)
	return append(dst, payload[:]...)
}
