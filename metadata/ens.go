package metadata

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ensReverseRecords answers getNameForNode for any reverse node in one
// view call, folding the registry walk and resolver call together.
var ensReverseRecords = common.HexToAddress("0xc69c0eb9ec6e71e97c1ed25212d203ad5010d8b2")

// reverseRecordsDomain is the registrar domain reverse nodes live under.
const reverseRecordsDomain = "addr.reverse"

// Namehash implements the EIP-137 recursive name hash.
func Namehash(name string) common.Hash {
	var node common.Hash
	if name == "" {
		return node
	}

	// Resolvers hash names with the emoji variation selector stripped.
	name = strings.ReplaceAll(name, "️", "")

	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := crypto.Keccak256([]byte(labels[i]))
		node = common.BytesToHash(crypto.Keccak256(node.Bytes(), labelHash))
	}
	return node
}

// ReverseNode returns the node of `<addr-hex>.addr.reverse`, the name
// whose resolution yields addr's primary ENS name.
func ReverseNode(addr common.Address) common.Hash {
	hexAddr := strings.TrimPrefix(strings.ToLower(addr.Hex()), "0x")
	return Namehash(hexAddr + "." + reverseRecordsDomain)
}

// lookupReverseName asks the reverse-records oracle for addr's name. An
// unnamed address decodes to the empty string, which callers store as a
// negative entry.
func (c *Cache) lookupReverseName(ctx context.Context, addr common.Address) (string, error) {
	node := ReverseNode(addr)
	msg := ethereum.CallMsg{
		To:   &ensReverseRecords,
		Data: packCall(selGetNameForNode, node.Bytes()),
	}
	ret, err := c.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return "", err
	}
	return unpackString(ret)
}
