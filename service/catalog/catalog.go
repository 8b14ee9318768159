// Package catalog holds the client's view of the marketplace listings: the
// decoded record set, the rarity filter and the current page.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/nftmarket/service/ledger"
	"github.com/brojonat/nftmarket/service/metrics"
)

// ErrSuperseded is returned by Refresh when a newer refresh has already been
// applied. The result of the older one is discarded.
var ErrSuperseded = errors.New("refresh superseded by a newer one")

// ResourceReader fetches a typed resource from the ledger.
type ResourceReader interface {
	GetResource(ctx context.Context, address, resourceType string) (*ledger.Resource, error)
}

// Config identifies the marketplace.
type Config struct {
	// MarketplaceAddress is the account holding the Marketplace resource.
	MarketplaceAddress string
	// ModuleAddress is where the NFTMarketplace program is published.
	// Defaults to MarketplaceAddress.
	ModuleAddress string
	PageSize      int
}

func (c Config) moduleAddress() string {
	if c.ModuleAddress == "" {
		return c.MarketplaceAddress
	}
	return c.ModuleAddress
}

// RefreshResult describes an applied refresh.
type RefreshResult struct {
	Generation uint64
	Listings   int
	Dropped    int
}

// Catalog is safe for concurrent use. Every update replaces the ViewState as
// a whole, so readers never see a half-applied refresh.
type Catalog struct {
	reader       ResourceReader
	marketplace  string
	resourceType string
	metrics      *metrics.Metrics
	logger       *slog.Logger

	mu          sync.RWMutex
	state       ViewState
	started     uint64
	applied     uint64
	refreshedAt time.Time
	onRefresh   []func()
}

// New creates an empty catalog. Call Refresh to load it.
func New(reader ResourceReader, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Catalog{
		reader:       reader,
		marketplace:  cfg.MarketplaceAddress,
		resourceType: ledger.FunctionID(cfg.moduleAddress(), ledger.MarketplaceModule, "Marketplace"),
		metrics:      m,
		logger:       logger,
		state:        NewViewState(cfg.PageSize),
	}
}

// OnRefresh registers fn to run after every applied refresh.
func (c *Catalog) OnRefresh(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRefresh = append(c.onRefresh, fn)
}

type marketplaceData struct {
	NFTs []RawListingRecord `json:"nfts"`
}

// Refresh refetches the marketplace resource and replaces the record set.
// Filter and page are kept. If a refresh started later has already been
// applied when this one completes, the result is dropped and ErrSuperseded
// is returned.
func (c *Catalog) Refresh(ctx context.Context) (RefreshResult, error) {
	c.mu.Lock()
	c.started++
	gen := c.started
	c.mu.Unlock()

	resource, err := c.reader.GetResource(ctx, c.marketplace, c.resourceType)
	if err != nil {
		c.recordRefresh("error", 0)
		return RefreshResult{}, fmt.Errorf("failed to fetch marketplace: %w", err)
	}

	var data marketplaceData
	if err := json.Unmarshal(resource.Data, &data); err != nil {
		c.recordRefresh("error", 0)
		return RefreshResult{}, fmt.Errorf("%w: malformed marketplace resource: %v", ledger.ErrNetwork, err)
	}

	ingested := Ingest(data.NFTs)
	if c.metrics != nil {
		c.metrics.RecordIngest(len(ingested.Records), ingested.Dropped)
	}
	for _, err := range ingested.Errors {
		c.logger.WarnContext(ctx, "dropped undecodable listing", "error", err)
	}

	c.mu.Lock()
	if gen <= c.applied {
		c.mu.Unlock()
		c.recordRefresh("superseded", 0)
		c.logger.DebugContext(ctx, "discarding stale refresh", "generation", gen)
		return RefreshResult{Generation: gen}, ErrSuperseded
	}
	c.state = c.state.WithRecords(ingested.Records)
	c.applied = gen
	c.refreshedAt = time.Now()
	hooks := append([]func(){}, c.onRefresh...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}

	c.recordRefresh("applied", len(ingested.Records))
	c.logger.InfoContext(ctx, "catalog refreshed",
		"generation", gen,
		"listings", len(ingested.Records),
		"dropped", ingested.Dropped,
	)

	return RefreshResult{
		Generation: gen,
		Listings:   len(ingested.Records),
		Dropped:    ingested.Dropped,
	}, nil
}

func (c *Catalog) recordRefresh(outcome string, listings int) {
	if c.metrics != nil {
		c.metrics.RecordCatalogRefresh(outcome, listings)
	}
}

// View returns the current state.
func (c *Catalog) View() ViewState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetFilter changes the shared view's rarity filter and returns it to page 1.
// SetFilter and SetPage are for callers that own a Catalog and browse it
// statefully, like the CLI; request-scoped callers use Query.
func (c *Catalog) SetFilter(f RarityFilter) ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = c.state.WithFilter(f)
	return c.state
}

// SetPage moves the shared view to page. A page past the end renders empty.
func (c *Catalog) SetPage(page int) (ViewState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.state.WithPage(page)
	if err != nil {
		return c.state, err
	}
	c.state = next
	return c.state, nil
}

// RefreshedAt is the time of the last applied refresh, zero if none.
func (c *Catalog) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}

// Query renders one page of the current records under an explicit filter
// without touching the shared view. Used by stateless callers such as the
// HTTP API, where every request carries its own filter and page.
func (c *Catalog) Query(f RarityFilter, page int) (ViewState, error) {
	state := c.View().WithFilter(f)
	return state.WithPage(page)
}
