package trace

import (
	"sync"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mevscope/mevscope/db"
	scoperr "github.com/mevscope/mevscope/errors"
	"github.com/mevscope/mevscope/store"
)

// SimulationCache persists each block's highest replayed prefix so a
// later query resumes instead of restarting. Rows only ever advance:
// a persist for a position at or below the stored one is a no-op.
//
// All replay work for one (chain, block) runs under that key's lock, so
// two concurrent queries cannot extend the same block's checkpoint from
// inconsistent prefixes.
type SimulationCache struct {
	database *db.DB
	logger   zerolog.Logger

	mu    sync.Mutex
	locks map[blockKey]*blockLock
}

type blockKey struct {
	chainID uint64
	block   uint64
}

type blockLock struct {
	mu   sync.Mutex
	refs int
}

// NewSimulationCache builds the checkpoint store over the per-chain
// database.
func NewSimulationCache(database *db.DB, logger zerolog.Logger) *SimulationCache {
	return &SimulationCache{
		database: database,
		logger:   logger.With().Str("component", "simulation_cache").Logger(),
		locks:    make(map[blockKey]*blockLock),
	}
}

// LockBlock takes the exclusive section for one block's replay work and
// returns its release. Lock entries are dropped once unused.
func (c *SimulationCache) LockBlock(chainID, block uint64) (release func()) {
	key := blockKey{chainID: chainID, block: block}

	c.mu.Lock()
	lock := c.locks[key]
	if lock == nil {
		lock = &blockLock{}
		c.locks[key] = lock
	}
	lock.refs++
	c.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		c.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(c.locks, key)
		}
		c.mu.Unlock()
	}
}

// Lookup returns the stored checkpoint for a block. A missing row and a
// read failure both report no checkpoint; the replay then restarts from
// the block start.
func (c *SimulationCache) Lookup(chainID, block uint64) (*store.SimulationCheckpoint, bool) {
	var row store.SimulationCheckpoint
	err := c.database.Client().
		Where("chain_id = ? AND block_number = ?", chainID, block).
		First(&row).Error
	switch {
	case err == nil:
		return &row, true
	case scoperr.Is(err, gorm.ErrRecordNotFound):
		return nil, false
	default:
		c.logger.Warn().Uint64("chain", chainID).Uint64("block", block).Err(err).
			Msg("checkpoint read failed")
		return nil, false
	}
}

// Persist stores the overlay reached after replaying positions
// 0..position. The write replaces the whole row in one transaction and
// keeps the stored position monotonic.
func (c *SimulationCache) Persist(chainID, block uint64, position uint32, overlay []byte) error {
	err := c.database.Client().Transaction(func(tx *gorm.DB) error {
		var existing store.SimulationCheckpoint
		err := tx.Where("chain_id = ? AND block_number = ?", chainID, block).
			First(&existing).Error
		if err == nil && existing.Position >= position {
			return nil
		}
		if err != nil && !scoperr.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row := store.SimulationCheckpoint{
			ChainID:     chainID,
			BlockNumber: block,
			Position:    position,
			Overlay:     overlay,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chain_id"}, {Name: "block_number"}},
			DoUpdates: clause.AssignmentColumns([]string{"position", "overlay", "updated_at"}),
		}).Create(&row).Error
	})
	if err != nil {
		return scoperr.NewCacheError(chainID, "checkpoint write failed", err)
	}
	return nil
}
