package ledger

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = common.FromHex("0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d")

func TestEncodeSS58(t *testing.T) {
	tests := []struct {
		name   string
		prefix uint16
		want   string
	}{
		{"generic substrate", 42, "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"},
		{"polkadot", 0, "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeSS58(alice, tt.prefix)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSS58TwoBytePrefix(t *testing.T) {
	address, err := EncodeSS58(alice, 2112)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(address, "cF"), address)

	key, prefix, err := DecodeSS58(address)
	require.NoError(t, err)
	assert.Equal(t, uint16(2112), prefix)
	assert.Equal(t, alice, key)
}

func TestDecodeSS58(t *testing.T) {
	key, prefix, err := DecodeSS58("5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY")
	require.NoError(t, err)
	assert.Equal(t, uint16(42), prefix)
	assert.Equal(t, alice, key)

	// last character changed
	_, _, err = DecodeSS58("5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQZ")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, _, err = DecodeSS58("")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestEncodeSS58Errors(t *testing.T) {
	_, err := EncodeSS58(alice[:20], 42)
	assert.Error(t, err)

	_, err = EncodeSS58(alice, 20000)
	assert.Error(t, err)
}
