// Package store contains the GORM-backed SQLite models behind the
// persistent caches.
//
// Database layout (one directory per data dir):
//
//	<data-dir>/
//	├── chain_1.db          // per-chain: checkpoints, token symbols
//	├── chain_8453.db
//	├── ens.db              // chain-independent reverse ENS names
//	└── signatures.db       // dictionary + chain directory, replaced by update-db
package store

import (
	"time"

	"gorm.io/gorm"
)

// SimulationCheckpoint is the persisted prefix of one block's replay: the
// minimal state overlay after applying positions 0..Position in order.
// One row per (chain, block); a replay that advances further supersedes
// the row inside a transaction rather than mutating it.
type SimulationCheckpoint struct {
	gorm.Model
	ChainID     uint64 `gorm:"uniqueIndex:idx_chain_block;not null"`
	BlockNumber uint64 `gorm:"uniqueIndex:idx_chain_block;not null"`
	Position    uint32 `gorm:"not null"` // highest replayed position, contiguous from 0
	Overlay     []byte // JSON-encoded state overlay
}

// EnsName caches one reverse-resolution result. Negative marks an address
// that was looked up and has no name, so it is never re-queried.
type EnsName struct {
	gorm.Model
	Address  string `gorm:"uniqueIndex;not null"` // lowercase 0x hex
	Name     string
	Negative bool
}

// TokenSymbol caches one ERC20 symbol() result per chain.
type TokenSymbol struct {
	gorm.Model
	ChainID  uint64 `gorm:"uniqueIndex:idx_chain_token;not null"`
	Address  string `gorm:"uniqueIndex:idx_chain_token;not null"` // lowercase 0x hex
	Symbol   string
	Negative bool
}

// ChainEntry is one cached row of the public chain directory, merged with
// the built-in seed data.
type ChainEntry struct {
	gorm.Model
	ChainID     uint64 `gorm:"uniqueIndex;not null"`
	Name        string
	Currency    string
	ExplorerURL string
	PriceOracle string // optional Chainlink-style feed address
	RPCURLs     string // JSON array of endpoint URLs
	RefreshedAt time.Time
}

// EventSignature maps an event topic0 to its text signature. The table is
// pre-seeded and only replaced wholesale by the dictionary updater.
type EventSignature struct {
	ID   uint   `gorm:"primarykey"`
	Hash string `gorm:"uniqueIndex;not null"` // 0x-prefixed 32-byte hex
	Text string `gorm:"not null"`
}

// TableName keeps the dictionary's original table name.
func (EventSignature) TableName() string {
	return "event_signatures"
}

// MethodSignature maps a 4-byte selector to its text signature.
type MethodSignature struct {
	ID       uint   `gorm:"primarykey"`
	Selector string `gorm:"uniqueIndex;not null"` // 0x-prefixed 4-byte hex
	Text     string `gorm:"not null"`
}

// TableName keeps the dictionary's original table name.
func (MethodSignature) TableName() string {
	return "method_signatures"
}
