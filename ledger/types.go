package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// NoExtrinsic marks events emitted outside an applied extrinsic
const NoExtrinsic = -1

// ErrNoAttribute is returned when an event has fewer attributes than requested
var ErrNoAttribute = errors.New("event attribute missing")

// Field is a named, normalized event attribute or call argument. Values
// are []byte for byte arrays, *big.Int for integers, []interface{} for
// sequences and composites, or bool and string.
type Field struct {
	Name  string
	Value interface{}
}

// Event is a decoded runtime event
type Event struct {
	Pallet         string
	Name           string
	ExtrinsicIndex int
	Fields         []Field
}

// Attr returns the i-th attribute value
func (e *Event) Attr(i int) (interface{}, error) {
	if i < 0 || i >= len(e.Fields) {
		return nil, fmt.Errorf("%s.%s attribute %d: %w", e.Pallet, e.Name, i, ErrNoAttribute)
	}
	return e.Fields[i].Value, nil
}

// BytesAttr returns the i-th attribute as bytes
func (e *Event) BytesAttr(i int) ([]byte, error) {
	v, err := e.Attr(i)
	if err != nil {
		return nil, err
	}
	b, ok := AsBytes(v)
	if !ok {
		return nil, fmt.Errorf("%s.%s attribute %d is not a byte array: %T", e.Pallet, e.Name, i, v)
	}
	return b, nil
}

// BigAttr returns the i-th attribute as an integer
func (e *Event) BigAttr(i int) (*big.Int, error) {
	v, err := e.Attr(i)
	if err != nil {
		return nil, err
	}
	n, ok := AsBigInt(v)
	if !ok {
		return nil, fmt.Errorf("%s.%s attribute %d is not an integer: %T", e.Pallet, e.Name, i, v)
	}
	return n, nil
}

// Extrinsic is a block extrinsic with its call resolved to pallet and
// call names. Args holds the SCALE encoded call arguments.
type Extrinsic struct {
	Index  int
	Hash   string
	Pallet string
	Call   string
	Signer []byte
	Args   []byte
}

// Block is one ledger block with events in emission order
type Block struct {
	Height     uint64
	Hash       string
	Events     []Event
	Extrinsics []Extrinsic
}

// Extrinsic returns the extrinsic at index
func (b *Block) Extrinsic(index int) (*Extrinsic, bool) {
	if index < 0 || index >= len(b.Extrinsics) {
		return nil, false
	}
	return &b.Extrinsics[index], true
}

// Source is the read side of the ledger used by the ingestor and the
// balance query
type Source interface {
	LatestHeight(ctx context.Context) (uint64, error)
	Block(ctx context.Context, height uint64) (*Block, error)
	// StakedBalance returns the on-chain stake of the SS58 address at height
	StakedBalance(ctx context.Context, address string, height uint64) (*big.Int, error)
}

// HexString formats b as lowercase 0x-prefixed hex
func HexString(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
