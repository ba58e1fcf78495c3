package metadata

import (
	"bytes"
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// lookupSymbol fetches symbol() from a token contract. Both return
// shapes in the wild are handled: the standard dynamic string and the
// right-padded bytes32 of pre-standard tokens such as MKR.
func (c *Cache) lookupSymbol(ctx context.Context, token common.Address) (string, error) {
	msg := ethereum.CallMsg{
		To:   &token,
		Data: packCall(selSymbol),
	}
	ret, err := c.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return "", err
	}
	return decodeSymbol(ret)
}

func decodeSymbol(ret []byte) (string, error) {
	if symbol, err := unpackString(ret); err == nil {
		return symbol, nil
	}
	if len(ret) == 32 {
		return string(bytes.TrimRight(ret, "\x00")), nil
	}
	return "", errors.Errorf("undecodable symbol return of %d bytes", len(ret))
}
