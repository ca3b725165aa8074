package ledger

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/blake2b"
)

var ss58Prefix = []byte("SS58PRE")

// ErrInvalidAddress is returned for malformed SS58 strings
var ErrInvalidAddress = errors.New("invalid ss58 address")

// EncodeSS58 encodes a 32-byte public key with the given network prefix
func EncodeSS58(publicKey []byte, prefix uint16) (string, error) {
	if len(publicKey) != 32 {
		return "", fmt.Errorf("public key must be 32 bytes, got %d", len(publicKey))
	}
	if prefix > 16383 {
		return "", fmt.Errorf("ss58 prefix %d out of range", prefix)
	}

	var ident []byte
	if prefix < 64 {
		ident = []byte{byte(prefix)}
	} else {
		ident = []byte{
			byte((prefix&0xfc)>>2) | 0x40,
			byte(prefix>>8) | byte((prefix&0x03)<<6),
		}
	}

	payload := append(ident, publicKey...)
	sum := ss58Checksum(payload)
	return base58.Encode(append(payload, sum[:2]...)), nil
}

// DecodeSS58 returns the public key and network prefix of address
func DecodeSS58(address string) ([]byte, uint16, error) {
	data := base58.Decode(address)
	if len(data) < 3 {
		return nil, 0, ErrInvalidAddress
	}

	var prefix uint16
	identLen := 1
	switch {
	case data[0] < 64:
		prefix = uint16(data[0])
	case data[0] < 128:
		lower := (data[0] << 2) | (data[1] >> 6)
		upper := data[1] & 0x3f
		prefix = uint16(lower) | uint16(upper)<<8
		identLen = 2
	default:
		return nil, 0, fmt.Errorf("%w: reserved prefix byte %d", ErrInvalidAddress, data[0])
	}

	if len(data) != identLen+32+2 {
		return nil, 0, fmt.Errorf("%w: unexpected length %d", ErrInvalidAddress, len(data))
	}

	payload := data[:identLen+32]
	sum := ss58Checksum(payload)
	if sum[0] != data[identLen+32] || sum[1] != data[identLen+33] {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}

	return append([]byte(nil), data[identLen:identLen+32]...), prefix, nil
}

func ss58Checksum(payload []byte) [64]byte {
	return blake2b.Sum512(append(append([]byte(nil), ss58Prefix...), payload...))
}
