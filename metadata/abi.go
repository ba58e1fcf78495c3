package metadata

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// The lookup contracts expose a handful of fixed view functions, so the
// call data is packed by hand against precomputed selectors instead of
// binding generated contract code.
var (
	selGetNameForNode  = methodSelector("getNameForNode(bytes32)")
	selSymbol          = methodSelector("symbol()")
	selLatestRoundData = methodSelector("latestRoundData()")

	stringResult = abi.Arguments{{Type: mustType("string")}}

	// roundId, answer, startedAt, updatedAt, answeredInRound
	latestRoundResult = abi.Arguments{
		{Type: mustType("uint80")},
		{Type: mustType("int256")},
		{Type: mustType("uint256")},
		{Type: mustType("uint256")},
		{Type: mustType("uint80")},
	}
)

func methodSelector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func mustType(solidity string) abi.Type {
	typ, err := abi.NewType(solidity, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// packCall concatenates a selector and pre-encoded argument words into
// fresh call data. Selector slices alias shared keccak buffers and must
// not be appended to in place.
func packCall(selector []byte, words ...[]byte) []byte {
	data := make([]byte, 0, 4+32*len(words))
	data = append(data, selector...)
	for _, word := range words {
		data = append(data, word...)
	}
	return data
}

func unpackString(ret []byte) (string, error) {
	values, err := stringResult.Unpack(ret)
	if err != nil {
		return "", err
	}
	text, ok := values[0].(string)
	if !ok {
		return "", errors.New("unexpected string return shape")
	}
	return text, nil
}
