package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/brojonat/nftmarket/service/ledger"
	"github.com/brojonat/nftmarket/service/metrics"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
)

// ViewCaller invokes read-only program functions.
type ViewCaller interface {
	CallView(ctx context.Context, req ledger.ViewRequest) ([]json.RawMessage, error)
}

// detailFetchConcurrency bounds parallel detail calls in ListOwned.
const detailFetchConcurrency = 4

// Lookup answers per-item and per-owner questions through the program's
// view functions. Item details are cached; the cache must be invalidated
// when the catalog refreshes (see Catalog.OnRefresh).
type Lookup struct {
	caller      ViewCaller
	marketplace string
	module      string
	cache       *cache.Cache
	metrics     *metrics.Metrics
	logger      *slog.Logger

	// epoch counts invalidations. A Get that started before the latest
	// Invalidate must not repopulate the cache with what it read.
	mu    sync.Mutex
	epoch uint64
}

// NewLookup creates a Lookup. A ttl of zero disables caching.
func NewLookup(caller ViewCaller, cfg Config, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *Lookup {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var c *cache.Cache
	if ttl > 0 {
		c = cache.New(ttl, 2*ttl)
	}
	return &Lookup{
		caller:      caller,
		marketplace: cfg.MarketplaceAddress,
		module:      cfg.moduleAddress(),
		cache:       c,
		metrics:     m,
		logger:      logger,
	}
}

// Invalidate drops every cached item, including any read still in flight.
func (l *Lookup) Invalidate() {
	if l.cache == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.epoch++
	l.cache.Flush()
}

func (l *Lookup) currentEpoch() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

// store caches rec unless the cache was invalidated after epoch.
func (l *Lookup) store(key string, rec ListingRecord, epoch uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.epoch != epoch {
		l.logger.Debug("discarding detail read from before invalidation", "key", key)
		return
	}
	l.cache.SetDefault(key, rec)
}

// Get returns one decoded item.
func (l *Lookup) Get(ctx context.Context, id uint64) (ListingRecord, error) {
	key := strconv.FormatUint(id, 10)
	epoch := l.currentEpoch()
	if l.cache != nil {
		if v, ok := l.cache.Get(key); ok {
			l.recordCache(true)
			return v.(ListingRecord), nil
		}
		l.recordCache(false)
	}

	values, err := l.caller.CallView(ctx, ledger.ViewRequest{
		Function:  ledger.FunctionID(l.module, ledger.MarketplaceModule, "get_nft_details"),
		Arguments: []any{l.marketplace, key},
	})
	if err != nil {
		return ListingRecord{}, fmt.Errorf("failed to get item %d: %w", id, err)
	}

	raw, err := parseDetails(values)
	if err != nil {
		return ListingRecord{}, fmt.Errorf("failed to parse item %d: %w", id, err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return ListingRecord{}, err
	}

	if l.cache != nil {
		l.store(key, rec, epoch)
	}
	return rec, nil
}

// ListOwned returns the items held by owner, resolved through Get. limit and
// offset are passed to the program as-is.
func (l *Lookup) ListOwned(ctx context.Context, owner string, limit, offset uint64) ([]ListingRecord, error) {
	values, err := l.caller.CallView(ctx, ledger.ViewRequest{
		Function: ledger.FunctionID(l.module, ledger.MarketplaceModule, "get_all_nfts_for_owner"),
		Arguments: []any{
			l.marketplace,
			owner,
			strconv.FormatUint(limit, 10),
			strconv.FormatUint(offset, 10),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list items for %s: %w", owner, err)
	}
	if len(values) == 0 {
		return []ListingRecord{}, nil
	}

	var ids []U64
	if err := json.Unmarshal(values[0], &ids); err != nil {
		return nil, fmt.Errorf("%w: malformed owner listing: %v", ledger.ErrNetwork, err)
	}

	records := make([]ListingRecord, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailFetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := l.Get(gctx, uint64(id))
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	l.logger.DebugContext(ctx, "listed owned items", "owner", owner, "count", len(records))
	return records, nil
}

func (l *Lookup) recordCache(hit bool) {
	if l.metrics != nil {
		l.metrics.RecordDetailCacheLookup(hit)
	}
}

// parseDetails accepts the detail view's return values either as one struct
// object or as the flat tuple (id, owner, name, description, uri, price,
// for_sale, rarity).
func parseDetails(values []json.RawMessage) (RawListingRecord, error) {
	var raw RawListingRecord
	switch len(values) {
	case 1:
		if err := json.Unmarshal(values[0], &raw); err != nil {
			return raw, fmt.Errorf("%w: %v", ledger.ErrNetwork, err)
		}
		return raw, nil
	case 8:
		targets := []any{&raw.ID, &raw.Owner, &raw.Name, &raw.Description, &raw.URI, &raw.Price, &raw.ForSale, &raw.Rarity}
		for i, target := range targets {
			if err := json.Unmarshal(values[i], target); err != nil {
				return raw, fmt.Errorf("%w: value %d: %v", ledger.ErrNetwork, i, err)
			}
		}
		return raw, nil
	default:
		return raw, fmt.Errorf("%w: expected 1 or 8 values, got %d", ledger.ErrNetwork, len(values))
	}
}

