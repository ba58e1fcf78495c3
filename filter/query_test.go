package filter

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pepe = "0x6982508145454ce325ddbe47a25d4ec3d2311933"

func TestParsePositionRange(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantFrom uint32
		wantTo   uint32
		wantErr  bool
	}{
		{name: "single position", input: "890", wantFrom: 890, wantTo: 890},
		{name: "range", input: "999:1200", wantFrom: 999, wantTo: 1200},
		{name: "zero", input: "0", wantFrom: 0, wantTo: 0},
		{name: "reversed bounds", input: "5:2", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
		{name: "open end", input: "1:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePositionRange(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, got.From)
			assert.Equal(t, tt.wantTo, got.To)
		})
	}
}

func TestParseEventQuery(t *testing.T) {
	t.Run("signature and address", func(t *testing.T) {
		q, err := ParseEventQuery("Transfer(address,address,uint256)|" + pepe)
		require.NoError(t, err)
		require.NotNil(t, q.Sig)
		assert.Equal(t, KindHash, q.Sig.Kind)
		assert.Equal(t, crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")), q.Sig.Hash)
		require.NotNil(t, q.Address)
		assert.Equal(t, common.HexToAddress(pepe), *q.Address)
	})

	t.Run("address only", func(t *testing.T) {
		q, err := ParseEventQuery(pepe)
		require.NoError(t, err)
		assert.Nil(t, q.Sig)
		require.NotNil(t, q.Address)
		assert.Equal(t, common.HexToAddress(pepe), *q.Address)
	})

	t.Run("signature only", func(t *testing.T) {
		q, err := ParseEventQuery("Transfer(address,uint256)")
		require.NoError(t, err)
		require.NotNil(t, q.Sig)
		assert.Nil(t, q.Address)
	})

	t.Run("regex", func(t *testing.T) {
		q, err := ParseEventQuery("/(?i)transfer/")
		require.NoError(t, err)
		require.NotNil(t, q.Sig)
		assert.Equal(t, KindRegex, q.Sig.Kind)
	})

	t.Run("invalid address part", func(t *testing.T) {
		_, err := ParseEventQuery("Transfer(address,uint256)|0x123")
		assert.Error(t, err)
	})

	t.Run("too many separators", func(t *testing.T) {
		_, err := ParseEventQuery("a|b|c")
		assert.Error(t, err)
	})
}

func TestParseSignatureQuery(t *testing.T) {
	t.Run("exact signature hashes at parse time", func(t *testing.T) {
		q, err := ParseSignatureQuery("Swap(address,uint256,uint256,uint256,uint256,address)")
		require.NoError(t, err)
		assert.Equal(t, KindHash, q.Kind)
		assert.False(t, q.NeedsText())
	})

	t.Run("selector literal", func(t *testing.T) {
		q, err := ParseSignatureQuery("0xa9059cbb")
		require.NoError(t, err)
		assert.Equal(t, KindHash, q.Kind)
		assert.True(t, q.MatchesSelector([]byte{0xa9, 0x05, 0x9c, 0xbb}, "", false))
		assert.False(t, q.MatchesSelector([]byte{0xa9, 0x05, 0x9c, 0xbc}, "", false))
	})

	t.Run("topic literal", func(t *testing.T) {
		topic := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
		q, err := ParseSignatureQuery(topic.Hex())
		require.NoError(t, err)
		assert.True(t, q.MatchesTopic(topic, "", false))
	})

	t.Run("bare name needs dictionary text", func(t *testing.T) {
		q, err := ParseSignatureQuery("Transfer(address,address,uint256)")
		require.NoError(t, err)
		bare, err2 := ParseSignatureQuery("transfer(address,uint256)")
		require.NoError(t, err2)
		assert.False(t, q.NeedsText())
		assert.False(t, bare.NeedsText())

		name, err3 := ParseSignatureQuery("UnknownEvent")
		require.NoError(t, err3)
		assert.True(t, name.NeedsText())
		assert.True(t, name.MatchesTopic(common.Hash{}, "UnknownEvent", true))
		assert.False(t, name.MatchesTopic(common.Hash{}, "UnknownEvent", false))
	})

	t.Run("regex with inline flags", func(t *testing.T) {
		q, err := ParseSignatureQuery("/(?i)^transfer/")
		require.NoError(t, err)
		assert.True(t, q.MatchesTopic(common.Hash{}, "Transfer(address,address,uint256)", true))
		assert.False(t, q.MatchesTopic(common.Hash{}, "Approval(address,address,uint256)", true))
	})

	t.Run("bad regex", func(t *testing.T) {
		_, err := ParseSignatureQuery("/(/")
		assert.Error(t, err)
	})

	t.Run("bad hex literal length", func(t *testing.T) {
		_, err := ParseSignatureQuery("0xdeadbeefcafe")
		assert.Error(t, err)
	})

	t.Run("unterminated signature", func(t *testing.T) {
		_, err := ParseSignatureQuery("Transfer(address,uint256")
		assert.Error(t, err)
	})
}

func TestParseAddressOrName(t *testing.T) {
	t.Run("address", func(t *testing.T) {
		got, err := ParseAddressOrName(pepe)
		require.NoError(t, err)
		require.NotNil(t, got.Address)
		assert.Equal(t, common.HexToAddress(pepe), *got.Address)
		assert.Empty(t, got.ENSName)
	})

	t.Run("ens name lowercased", func(t *testing.T) {
		got, err := ParseAddressOrName("Vitalik.ETH")
		require.NoError(t, err)
		assert.Nil(t, got.Address)
		assert.Equal(t, "vitalik.eth", got.ENSName)
	})

	t.Run("neither", func(t *testing.T) {
		_, err := ParseAddressOrName("not-an-address")
		assert.Error(t, err)
	})
}

func TestParseERC20TransferQuery(t *testing.T) {
	t.Run("token only", func(t *testing.T) {
		q, err := ParseERC20TransferQuery(pepe)
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(pepe), q.Token)
		assert.Nil(t, q.Amount)
	})

	t.Run("token with amount", func(t *testing.T) {
		q, err := ParseERC20TransferQuery(pepe + "|ge1ether")
		require.NoError(t, err)
		require.NotNil(t, q.Amount)
		assert.Equal(t, OpGE, q.Amount.Op)
		assert.Equal(t, 0, q.Amount.Wei.Cmp(ether(1)))
	})

	t.Run("bad token", func(t *testing.T) {
		_, err := ParseERC20TransferQuery("0x123|ge1ether")
		assert.Error(t, err)
	})
}
