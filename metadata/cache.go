// Package metadata resolves display and filter metadata: reverse ENS
// names, ERC20 symbols and the signature dictionary. Every kind reads
// through three layers: an in-process LRU, the persistent SQLite cache
// and finally the chain (or the read-only dictionary snapshot).
// Concurrent lookups of one key collapse into a single remote call, and
// known-missing results are stored so they are never re-fetched.
package metadata

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mevscope/mevscope/db"
	scoperr "github.com/mevscope/mevscope/errors"
	"github.com/mevscope/mevscope/store"
)

// contractCaller is the chain surface metadata needs: read-only calls
// against the latest state.
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// defaultLRUSize bounds each per-kind hot cache.
const defaultLRUSize = 4096

// ensChainID is the only chain with reverse-record support.
const ensChainID uint64 = 1

// Config tunes a Cache.
type Config struct {
	// ChainID keys per-chain rows and gates ENS resolution.
	ChainID uint64

	// CacheOnly skips the remote leg; misses resolve as not found.
	CacheOnly bool

	// LRUSize overrides the per-kind hot cache size when positive.
	LRUSize int
}

// Cache is the read-through metadata store. The zero value is not
// usable; construct with NewCache.
//
// Lookup methods never fail: errors on any layer degrade to a miss and
// are logged, so evaluation and display stay available when an endpoint
// or the disk cache misbehaves.
type Cache struct {
	cfg    Config
	caller contractCaller
	logger zerolog.Logger

	chainDB *db.DB // per-chain rows: token symbols
	ensDB   *db.DB // chain-independent reverse names
	dictDB  *db.DB // read-only signature dictionary

	names   *lru.Cache[common.Address, string]
	symbols *lru.Cache[common.Address, string]
	events  *lru.Cache[common.Hash, string]
	methods *lru.Cache[string, string]

	group singleflight.Group
}

// NewCache builds a Cache over the three databases. caller may be nil,
// which behaves like CacheOnly for the remote kinds.
func NewCache(cfg Config, caller contractCaller, chainDB, ensDB, dictDB *db.DB, logger zerolog.Logger) (*Cache, error) {
	size := cfg.LRUSize
	if size <= 0 {
		size = defaultLRUSize
	}

	names, err := lru.New[common.Address, string](size)
	if err != nil {
		return nil, errors.Wrap(err, "names cache")
	}
	symbols, err := lru.New[common.Address, string](size)
	if err != nil {
		return nil, errors.Wrap(err, "symbols cache")
	}
	events, err := lru.New[common.Hash, string](size)
	if err != nil {
		return nil, errors.Wrap(err, "events cache")
	}
	methods, err := lru.New[string, string](size)
	if err != nil {
		return nil, errors.Wrap(err, "methods cache")
	}

	return &Cache{
		cfg:     cfg,
		caller:  caller,
		logger:  logger.With().Str("component", "metadata").Logger(),
		chainDB: chainDB,
		ensDB:   ensDB,
		dictDB:  dictDB,
		names:   names,
		symbols: symbols,
		events:  events,
		methods: methods,
	}, nil
}

// remoteEnabled reports whether the cold leg may touch the network.
func (c *Cache) remoteEnabled() bool {
	return !c.cfg.CacheOnly && c.caller != nil
}

// ReverseName resolves the primary ENS name of addr. Only mainnet has
// reverse records; on every other chain this is a constant miss.
func (c *Cache) ReverseName(ctx context.Context, addr common.Address) (string, bool) {
	if c.cfg.ChainID != ensChainID {
		return "", false
	}

	if name, ok := c.names.Get(addr); ok {
		return name, name != ""
	}

	key := strings.ToLower(addr.Hex())
	if row, found := c.readEnsRow(key); found {
		name := row.Name
		if row.Negative {
			name = ""
		}
		c.names.Add(addr, name)
		return name, name != ""
	}

	if !c.remoteEnabled() {
		return "", false
	}

	value, err, _ := c.group.Do("ens:"+key, func() (interface{}, error) {
		name, err := c.lookupReverseName(ctx, addr)
		if err != nil {
			return nil, err
		}
		c.writeEnsRow(key, name)
		c.names.Add(addr, name)
		return name, nil
	})
	if err != nil {
		// Transient failures are not cached; the next lookup retries.
		c.logger.Debug().Str("address", key).Err(err).Msg("reverse name lookup failed")
		return "", false
	}

	name := value.(string)
	return name, name != ""
}

// TokenSymbol resolves the ERC20 symbol of a token contract. Contracts
// without a readable symbol are cached as missing, so a non-token
// address costs one call ever.
func (c *Cache) TokenSymbol(ctx context.Context, token common.Address) (string, bool) {
	if symbol, ok := c.symbols.Get(token); ok {
		return symbol, symbol != ""
	}

	key := strings.ToLower(token.Hex())
	if row, found := c.readSymbolRow(key); found {
		symbol := row.Symbol
		if row.Negative {
			symbol = ""
		}
		c.symbols.Add(token, symbol)
		return symbol, symbol != ""
	}

	if !c.remoteEnabled() {
		return "", false
	}

	flightKey := fmt.Sprintf("sym:%d:%s", c.cfg.ChainID, key)
	value, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		symbol, err := c.lookupSymbol(ctx, token)
		if err != nil {
			c.logger.Debug().Str("token", key).Err(err).Msg("symbol call failed")
			symbol = ""
		}
		c.writeSymbolRow(key, symbol)
		c.symbols.Add(token, symbol)
		return symbol, nil
	})
	if err != nil {
		return "", false
	}

	symbol := value.(string)
	return symbol, symbol != ""
}

func (c *Cache) readEnsRow(address string) (store.EnsName, bool) {
	var row store.EnsName
	err := c.ensDB.Client().Where("address = ?", address).First(&row).Error
	switch {
	case err == nil:
		return row, true
	case scoperr.Is(err, gorm.ErrRecordNotFound):
		return row, false
	default:
		c.logger.Warn().Err(err).Msg("ens cache read failed")
		return row, false
	}
}

func (c *Cache) writeEnsRow(address, name string) {
	row := store.EnsName{Address: address, Name: name, Negative: name == ""}
	err := c.ensDB.Client().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "negative", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		c.logger.Warn().Str("address", address).Err(err).Msg("ens cache write failed")
	}
}

func (c *Cache) readSymbolRow(address string) (store.TokenSymbol, bool) {
	var row store.TokenSymbol
	err := c.chainDB.Client().
		Where("chain_id = ? AND address = ?", c.cfg.ChainID, address).
		First(&row).Error
	switch {
	case err == nil:
		return row, true
	case scoperr.Is(err, gorm.ErrRecordNotFound):
		return row, false
	default:
		c.logger.Warn().Err(err).Msg("symbol cache read failed")
		return row, false
	}
}

func (c *Cache) writeSymbolRow(address, symbol string) {
	row := store.TokenSymbol{
		ChainID:  c.cfg.ChainID,
		Address:  address,
		Symbol:   symbol,
		Negative: symbol == "",
	}
	err := c.chainDB.Client().Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain_id"}, {Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"symbol", "negative", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		c.logger.Warn().Str("token", address).Err(err).Msg("symbol cache write failed")
	}
}
