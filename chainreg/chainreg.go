// Package chainreg resolves chain ids to display metadata and candidate
// RPC endpoints. Entries merge two sources: built-in seeds for the
// common chains, and the public chain directory, cached in SQLite and
// refreshed when the cached rows outlive their TTL.
package chainreg

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mevscope/mevscope/db"
	scoperr "github.com/mevscope/mevscope/errors"
	"github.com/mevscope/mevscope/store"
)

// DefaultDirectoryURL is the public chain directory snapshot.
const DefaultDirectoryURL = "https://chainlist.org/rpcs.json"

// DefaultTTL is how long cached directory rows stay fresh.
const DefaultTTL = 24 * time.Hour

// Entry is the resolved metadata for one chain.
type Entry struct {
	ChainID     uint64
	Name        string
	Currency    string
	ExplorerURL string
	PriceOracle string
	RPCURLs     []string
	RefreshedAt time.Time
}

// Directory wire format.
type directoryChain struct {
	ChainID        uint64              `json:"chainId"`
	Name           string              `json:"name"`
	Chain          string              `json:"chain"`
	RPC            []directoryRPC      `json:"rpc"`
	NativeCurrency directoryCurrency   `json:"nativeCurrency"`
	Explorers      []directoryExplorer `json:"explorers"`
}

type directoryRPC struct {
	URL string `json:"url"`
}

type directoryCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint32 `json:"decimals"`
}

type directoryExplorer struct {
	URL string `json:"url"`
}

// Options tune a Registry. Zero values fall back to defaults.
type Options struct {
	DirectoryURL string
	HTTPClient   *http.Client
	TTL          time.Duration
	Now          func() time.Time
}

// Registry serves chain metadata from the seed set and the cached
// directory, refreshing the cache on demand.
type Registry struct {
	database     *db.DB
	httpClient   *http.Client
	directoryURL string
	ttl          time.Duration
	now          func() time.Time
	retry        *scoperr.RetryConfig
	logger       zerolog.Logger
	fetches      singleflight.Group
}

// directoryRetry is the backoff applied to directory fetches. Delays
// stay short relative to DefaultRetryConfig: callers degrade to stale
// rows or seeds once attempts run out.
func directoryRetry() *scoperr.RetryConfig {
	cfg := scoperr.DefaultRetryConfig()
	cfg.InitialDelay = 500 * time.Millisecond
	cfg.MaxDelay = 2 * time.Second
	return cfg
}

// New builds a Registry over the shared dictionary database.
func New(database *db.DB, opts Options, logger zerolog.Logger) *Registry {
	if opts.DirectoryURL == "" {
		opts.DirectoryURL = DefaultDirectoryURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Registry{
		database:     database,
		httpClient:   opts.HTTPClient,
		directoryURL: opts.DirectoryURL,
		ttl:          opts.TTL,
		now:          opts.Now,
		retry:        directoryRetry(),
		logger:       logger.With().Str("component", "chain_registry").Logger(),
	}
}

// Entry resolves one chain, refreshing the directory cache when the
// stored row is stale. Fetch failures degrade to the stale row or the
// seed instead of failing the caller.
func (r *Registry) Entry(ctx context.Context, chainID uint64) (*Entry, error) {
	row, err := r.cachedRow(chainID)
	if err != nil {
		return nil, err
	}
	if row != nil && !r.stale(row) {
		return r.merge(chainID, row), nil
	}

	if ferr := r.refresh(ctx); ferr != nil {
		if row != nil {
			r.logger.Warn().Uint64("chain_id", chainID).Err(ferr).
				Msg("directory refresh failed, serving stale entry")
			return r.merge(chainID, row), nil
		}
		if _, ok := seedEntries[chainID]; ok {
			r.logger.Warn().Uint64("chain_id", chainID).Err(ferr).
				Msg("directory refresh failed, serving seed entry")
			return r.merge(chainID, nil), nil
		}
		return nil, ferr
	}

	row, err = r.cachedRow(chainID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		if _, ok := seedEntries[chainID]; ok {
			return r.merge(chainID, nil), nil
		}
		return nil, scoperr.NewNotFoundError(chainID, fmt.Sprintf("chain %d not found in directory", chainID))
	}
	return r.merge(chainID, row), nil
}

// Endpoints returns the candidate RPC URLs for a chain, seed URLs first.
func (r *Registry) Endpoints(ctx context.Context, chainID uint64) ([]string, error) {
	entry, err := r.Entry(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return entry.RPCURLs, nil
}

// Chains lists every known chain sorted by id, refreshing the cache
// when empty or stale. A failed refresh over a non-empty cache serves
// the stale rows.
func (r *Registry) Chains(ctx context.Context) ([]Entry, error) {
	rows, err := r.allRows()
	if err != nil {
		return nil, err
	}

	needsRefresh := len(rows) == 0
	for _, row := range rows {
		if r.stale(&row) {
			needsRefresh = true
			break
		}
	}

	if needsRefresh {
		if ferr := r.refresh(ctx); ferr != nil {
			if len(rows) == 0 {
				return nil, ferr
			}
			r.logger.Warn().Err(ferr).Msg("directory refresh failed, serving stale chain list")
		} else {
			if rows, err = r.allRows(); err != nil {
				return nil, err
			}
		}
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, *r.merge(row.ChainID, &row))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ChainID < entries[j].ChainID })
	return entries, nil
}

// Refresh forces a directory fetch and transactional cache replace.
func (r *Registry) Refresh(ctx context.Context) error {
	return r.retryFetch(ctx)
}

// refresh collapses concurrent stale-triggered fetches into one.
func (r *Registry) refresh(ctx context.Context) error {
	_, err, _ := r.fetches.Do("directory", func() (interface{}, error) {
		return nil, r.retryFetch(ctx)
	})
	return err
}

// retryFetch retries transient directory failures with backoff. Parse
// and storage errors surface immediately.
func (r *Registry) retryFetch(ctx context.Context) error {
	return scoperr.RetryWithConfig(ctx, func() error {
		return r.fetchAndStore(ctx)
	}, r.retry)
}

func (r *Registry) fetchAndStore(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.directoryURL, nil)
	if err != nil {
		return scoperr.NewInternalError(0, "build directory request", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return scoperr.NewConnectivityError(0, "chain directory unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return scoperr.NewConnectivityError(0,
			fmt.Sprintf("chain directory returned status %d", resp.StatusCode), nil)
	}

	var chains []directoryChain
	if err := json.NewDecoder(resp.Body).Decode(&chains); err != nil {
		return scoperr.NewConnectivityError(0, "decode chain directory", err)
	}
	if len(chains) == 0 {
		return scoperr.NewConnectivityError(0, "chain directory returned no chains", nil)
	}

	refreshedAt := r.now()
	rows := make([]store.ChainEntry, 0, len(chains))
	for _, chain := range chains {
		urls := make([]string, 0, len(chain.RPC))
		for _, rpc := range chain.RPC {
			urls = append(urls, rpc.URL)
		}
		encoded, err := json.Marshal(urls)
		if err != nil {
			return scoperr.NewInternalError(0, "encode RPC URLs", err)
		}

		explorer := ""
		if len(chain.Explorers) > 0 {
			explorer = chain.Explorers[0].URL
		}

		rows = append(rows, store.ChainEntry{
			ChainID:     chain.ChainID,
			Name:        chain.Name,
			Currency:    chain.NativeCurrency.Symbol,
			ExplorerURL: explorer,
			PriceOracle: PriceOracle(chain.ChainID),
			RPCURLs:     string(encoded),
			RefreshedAt: refreshedAt,
		})
	}

	err = r.database.Client().Transaction(func(tx *gorm.DB) error {
		onConflict := clause.OnConflict{
			Columns: []clause.Column{{Name: "chain_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "currency", "explorer_url", "price_oracle", "rpc_urls", "refreshed_at", "updated_at",
			}),
		}
		return tx.Clauses(onConflict).CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return scoperr.NewCacheError(0, "store chain directory", err)
	}

	r.logger.Info().Int("chains", len(rows)).Msg("chain directory refreshed")
	return nil
}

func (r *Registry) cachedRow(chainID uint64) (*store.ChainEntry, error) {
	var row store.ChainEntry
	err := r.database.Client().Where("chain_id = ?", chainID).First(&row).Error
	if scoperr.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, scoperr.NewCacheError(chainID, "read chain directory cache", err)
	}
	return &row, nil
}

func (r *Registry) allRows() ([]store.ChainEntry, error) {
	var rows []store.ChainEntry
	if err := r.database.Client().Order("chain_id asc").Find(&rows).Error; err != nil {
		return nil, scoperr.NewCacheError(0, "list chain directory cache", err)
	}
	return rows, nil
}

func (r *Registry) stale(row *store.ChainEntry) bool {
	return r.now().Sub(row.RefreshedAt) > r.ttl
}

// merge overlays a cached directory row onto the seed entry. A nil row
// yields the pure seed entry.
func (r *Registry) merge(chainID uint64, row *store.ChainEntry) *Entry {
	seed := seedEntries[chainID]
	entry := &Entry{
		ChainID:     chainID,
		Name:        seed.Name,
		Currency:    seed.Currency,
		ExplorerURL: seed.ExplorerURL,
		PriceOracle: seed.PriceOracle,
		RPCURLs:     append([]string(nil), seed.RPCURLs...),
	}

	if row == nil {
		return entry
	}

	if row.Name != "" {
		entry.Name = row.Name
	}
	if row.Currency != "" {
		entry.Currency = row.Currency
	}
	if row.ExplorerURL != "" {
		entry.ExplorerURL = row.ExplorerURL
	}
	if row.PriceOracle != "" {
		entry.PriceOracle = row.PriceOracle
	}
	entry.RefreshedAt = row.RefreshedAt

	var directoryURLs []string
	if row.RPCURLs != "" {
		if err := json.Unmarshal([]byte(row.RPCURLs), &directoryURLs); err != nil {
			r.logger.Warn().Uint64("chain_id", chainID).Err(err).Msg("corrupt RPC URL list in cache")
		}
	}

	seen := make(map[string]struct{}, len(entry.RPCURLs))
	for _, url := range entry.RPCURLs {
		seen[url] = struct{}{}
	}
	for _, url := range directoryURLs {
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		entry.RPCURLs = append(entry.RPCURLs, url)
	}
	return entry
}
