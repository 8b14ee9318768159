package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/brojonat/nftmarket/service/ledger"
	"github.com/brojonat/nftmarket/service/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves GetResource from a function so each test controls timing.
type fakeReader struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error)
}

func (f *fakeReader) GetResource(ctx context.Context, address, resourceType string) (*ledger.Resource, error) {
	return f.fn(ctx, f.calls.Add(1), address, resourceType)
}

func marketplaceResource(t *testing.T, records ...RawListingRecord) *ledger.Resource {
	t.Helper()
	if records == nil {
		records = []RawListingRecord{}
	}
	data, err := json.Marshal(marketplaceData{NFTs: records})
	require.NoError(t, err)
	return &ledger.Resource{Type: "0xmod::NFTMarketplace::Marketplace", Data: data}
}

func scenarioRaw() []RawListingRecord {
	raw := make([]RawListingRecord, len(scenarioRarities))
	for i, r := range scenarioRarities {
		raw[i] = rawRecord(uint64(i+1), r)
	}
	return raw
}

var testConfig = Config{MarketplaceAddress: "0xmarket", ModuleAddress: "0xmod", PageSize: 8}

func TestRefresh_LoadsMarketplace(t *testing.T) {
	reader := &fakeReader{fn: func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error) {
		assert.Equal(t, "0xmarket", address)
		assert.Equal(t, "0xmod::NFTMarketplace::Marketplace", resourceType)
		return marketplaceResource(t, scenarioRaw()...), nil
	}}
	c := New(reader, testConfig, metrics.NewMetrics(prometheus.NewRegistry()), nil)

	res, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, res.Listings)
	assert.Equal(t, 0, res.Dropped)
	assert.Equal(t, uint64(1), res.Generation)
	assert.False(t, c.RefreshedAt().IsZero())

	view := c.SetFilter(2)
	assert.Equal(t, []uint64{3, 6, 10}, ids(view.Visible()))
	assert.Equal(t, "Item 3", view.Visible()[0].Name)

	view, err = c.SetPage(2)
	require.NoError(t, err)
	assert.Empty(t, view.Visible())
}

func TestRefresh_ModuleAddressDefaultsToMarketplace(t *testing.T) {
	reader := &fakeReader{fn: func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error) {
		assert.Equal(t, "0xmarket::NFTMarketplace::Marketplace", resourceType)
		return marketplaceResource(t), nil
	}}
	c := New(reader, Config{MarketplaceAddress: "0xmarket"}, nil, nil)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, c.View().PageSize())
}

func TestRefresh_KeepsFilterAndPage(t *testing.T) {
	reader := &fakeReader{fn: func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error) {
		return marketplaceResource(t, scenarioRaw()...), nil
	}}
	c := New(reader, Config{MarketplaceAddress: "0xmarket", PageSize: 2}, nil, nil)
	c.SetFilter(1)
	_, err := c.SetPage(2)
	require.NoError(t, err)

	_, err = c.Refresh(context.Background())
	require.NoError(t, err)

	view := c.View()
	assert.Equal(t, RarityFilter(1), view.Filter())
	assert.Equal(t, 2, view.Page())
	assert.Equal(t, []uint64{7}, ids(view.Visible()))
}

func TestRefresh_ReportsDroppedRecords(t *testing.T) {
	raw := scenarioRaw()
	raw[4].Description = "0x4"
	reader := &fakeReader{fn: func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error) {
		return marketplaceResource(t, raw...), nil
	}}
	c := New(reader, testConfig, nil, nil)

	res, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, res.Listings)
	assert.Equal(t, 1, res.Dropped)
	assert.NotContains(t, ids(c.View().Records()), uint64(5))
}

func TestRefresh_ErrorLeavesStateUntouched(t *testing.T) {
	reader := &fakeReader{fn: func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error) {
		if call == 1 {
			return marketplaceResource(t, scenarioRaw()...), nil
		}
		return nil, ledger.ErrNetwork
	}}
	c := New(reader, testConfig, nil, nil)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	_, err = c.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrNetwork)
	assert.Len(t, c.View().Records(), 10)
}

func TestRefresh_NotFoundIsPropagated(t *testing.T) {
	reader := &fakeReader{fn: func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error) {
		return nil, &ledger.APIError{StatusCode: 404, Message: "resource not found"}
	}}
	c := New(reader, testConfig, nil, nil)

	_, err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Contains(t, err.Error(), "failed to fetch marketplace")
}

func TestRefresh_MalformedResource(t *testing.T) {
	reader := &fakeReader{fn: func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error) {
		return &ledger.Resource{Data: json.RawMessage(`{"nfts":"nope"}`)}, nil
	}}
	c := New(reader, testConfig, nil, nil)

	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ledger.ErrNetwork)
}

func TestRefresh_StaleResultDiscarded(t *testing.T) {
	aStarted := make(chan struct{})
	releaseA := make(chan struct{})

	reader := &fakeReader{fn: func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error) {
		if call == 1 {
			close(aStarted)
			<-releaseA
			return marketplaceResource(t, rawRecord(1, 1)), nil
		}
		return marketplaceResource(t, scenarioRaw()...), nil
	}}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	c := New(reader, testConfig, m, nil)

	var wg sync.WaitGroup
	var errA error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errA = c.Refresh(context.Background())
	}()

	<-aStarted
	resB, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), resB.Generation)

	close(releaseA)
	wg.Wait()

	assert.True(t, errors.Is(errA, ErrSuperseded))
	assert.Len(t, c.View().Records(), 10)
}

func TestRefresh_OlderApplyIsOverwrittenByNewer(t *testing.T) {
	reader := &fakeReader{fn: func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error) {
		if call == 1 {
			return marketplaceResource(t, rawRecord(1, 1)), nil
		}
		return marketplaceResource(t, scenarioRaw()...), nil
	}}
	c := New(reader, testConfig, nil, nil)

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, c.View().Records(), 1)

	_, err = c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, c.View().Records(), 10)
}

func TestRefresh_RunsHooks(t *testing.T) {
	reader := &fakeReader{fn: func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error) {
		if call == 2 {
			return nil, ledger.ErrNetwork
		}
		return marketplaceResource(t), nil
	}}
	c := New(reader, testConfig, nil, nil)

	var hookCalls int
	c.OnRefresh(func() { hookCalls++ })

	_, _ = c.Refresh(context.Background())
	_, _ = c.Refresh(context.Background())
	_, _ = c.Refresh(context.Background())

	assert.Equal(t, 2, hookCalls)
}

func TestQuery_DoesNotTouchSharedView(t *testing.T) {
	reader := &fakeReader{fn: func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error) {
		return marketplaceResource(t, scenarioRaw()...), nil
	}}
	c := New(reader, testConfig, nil, nil)
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	view, err := c.Query(4, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 9}, ids(view.Visible()))
	assert.Equal(t, AllRarities, c.View().Filter())

	_, err = c.Query(4, 0)
	assert.ErrorIs(t, err, ErrInvalidPage)
}

type fakeBalances struct {
	balance uint64
	err     error
}

func (f fakeBalances) GetBalance(ctx context.Context, address string) (uint64, error) {
	return f.balance, f.err
}

func TestLoadOverview(t *testing.T) {
	reader := &fakeReader{fn: func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error) {
		return marketplaceResource(t, scenarioRaw()...), nil
	}}
	c := New(reader, testConfig, nil, nil)

	ov, err := LoadOverview(context.Background(), fakeBalances{balance: 150000000}, c, "0xme")
	require.NoError(t, err)
	assert.Equal(t, uint64(150000000), ov.Balance)
	assert.Equal(t, 10, ov.Refresh.Listings)
	assert.Len(t, ov.View.Visible(), 8)
}

func TestLoadOverview_BalanceFailure(t *testing.T) {
	reader := &fakeReader{fn: func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error) {
		return marketplaceResource(t), nil
	}}
	c := New(reader, testConfig, nil, nil)

	_, err := LoadOverview(context.Background(), fakeBalances{err: ledger.ErrNetwork}, c, "0xme")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrNetwork)
}

func TestLoadOverview_NoAddressSkipsBalance(t *testing.T) {
	reader := &fakeReader{fn: func(ctx context.Context, call int32, address, resourceType string) (*ledger.Resource, error) {
		return marketplaceResource(t), nil
	}}
	c := New(reader, testConfig, nil, nil)

	ov, err := LoadOverview(context.Background(), fakeBalances{err: errors.New("must not be called")}, c, "")
	require.NoError(t, err)
	assert.Zero(t, ov.Balance)
}
