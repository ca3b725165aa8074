package ledger

import (
	"math/big"
)

// AsBytes interprets a normalized value as a byte string. Newtype
// wrappers (single element sequences) are unwrapped.
func AsBytes(v interface{}) ([]byte, bool) {
	switch val := v.(type) {
	case []byte:
		return val, true
	case []interface{}:
		if len(val) == 1 {
			if b, ok := AsBytes(val[0]); ok {
				return b, true
			}
		}
		out := make([]byte, 0, len(val))
		for _, item := range val {
			n, ok := item.(*big.Int)
			if !ok || n.Sign() < 0 || n.BitLen() > 8 {
				return nil, false
			}
			out = append(out, byte(n.Uint64()))
		}
		return out, len(out) > 0
	}
	return nil, false
}

// AsBigInt interprets a normalized value as an integer, unwrapping
// newtype wrappers
func AsBigInt(v interface{}) (*big.Int, bool) {
	switch val := v.(type) {
	case *big.Int:
		return val, val != nil
	case []interface{}:
		if len(val) == 1 {
			return AsBigInt(val[0])
		}
	}
	return nil, false
}
