package metadata

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	scoperr "github.com/mevscope/mevscope/errors"
	"github.com/mevscope/mevscope/store"
)

// EventText returns the dictionary text for an event topic0, e.g.
// "Transfer(address,address,uint256)". The dictionary ships as a
// snapshot and is only replaced wholesale, so misses are memoized for
// the process lifetime.
func (c *Cache) EventText(ctx context.Context, topic0 common.Hash) (string, bool) {
	if text, ok := c.events.Get(topic0); ok {
		return text, text != ""
	}

	var row store.EventSignature
	err := c.dictDB.Client().Where("hash = ?", strings.ToLower(topic0.Hex())).First(&row).Error
	switch {
	case err == nil:
		c.events.Add(topic0, row.Text)
		return row.Text, row.Text != ""
	case scoperr.Is(err, gorm.ErrRecordNotFound):
		c.events.Add(topic0, "")
		return "", false
	default:
		c.logger.Warn().Err(err).Msg("event dictionary read failed")
		return "", false
	}
}

// MethodText returns the dictionary text for a 4-byte selector, e.g.
// "swapExactETHForTokens(uint256,address[],address,uint256)". Inputs
// shorter than a selector resolve to a miss.
func (c *Cache) MethodText(ctx context.Context, selector []byte) (string, bool) {
	if len(selector) < 4 {
		return "", false
	}
	key := "0x" + common.Bytes2Hex(selector[:4])

	if text, ok := c.methods.Get(key); ok {
		return text, text != ""
	}

	var row store.MethodSignature
	err := c.dictDB.Client().Where("selector = ?", key).First(&row).Error
	switch {
	case err == nil:
		c.methods.Add(key, row.Text)
		return row.Text, row.Text != ""
	case scoperr.Is(err, gorm.ErrRecordNotFound):
		c.methods.Add(key, "")
		return "", false
	default:
		c.logger.Warn().Err(err).Msg("method dictionary read failed")
		return "", false
	}
}
