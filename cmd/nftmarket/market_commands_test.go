package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brojonat/nftmarket/service/catalog"
	"github.com/brojonat/nftmarket/service/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testListing() listingView {
	return newListingView(catalog.ListingRecord{
		ID:      7,
		Owner:   "0xa11ce",
		Name:    "Golden Dragon",
		URI:     "ipfs://dragon",
		Price:   150_000_000,
		ForSale: true,
		Rarity:  3,
	})
}

func TestNewListingView(t *testing.T) {
	lv := testListing()
	assert.Equal(t, "7-golden-dragon", lv.Slug)
	assert.Equal(t, "1.5 APT", lv.DisplayPrice)
	assert.Equal(t, "Rare", lv.RarityLabel)
}

func TestJQFilterMatching(t *testing.T) {
	tests := []struct {
		name        string
		filters     []string
		expectMatch bool
	}{
		{"no filters", nil, true},
		{"for sale", []string{`.for_sale`}, true},
		{"rarity match", []string{`.rarity == 3`}, true},
		{"rarity mismatch", []string{`.rarity == 1`}, false},
		{"price is a string of smallest units", []string{`.price == "150000000"`}, true},
		{"price comparison", []string{`.price | tonumber < 200000000`}, true},
		{"all filters must pass", []string{`.for_sale`, `.name | startswith("Silver")`}, false},
		{"null result is falsy", []string{`.missing`}, false},
		{"empty result is falsy", []string{`empty`}, false},
		{"non-boolean result is truthy", []string{`.name`}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes, err := compileJQFilters(tt.filters)
			require.NoError(t, err)

			matched, err := matchesJQ(codes, testListing())
			require.NoError(t, err)
			assert.Equal(t, tt.expectMatch, matched)
		})
	}
}

func TestJQFilterErrors(t *testing.T) {
	t.Run("parse error", func(t *testing.T) {
		_, err := compileJQFilters([]string{`.for_sale ==`})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse jq filter")
	})

	t.Run("runtime error", func(t *testing.T) {
		codes, err := compileJQFilters([]string{`.name | tonumber`})
		require.NoError(t, err)

		_, err = matchesJQ(codes, testListing())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jq filter failed")
	})
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy([]interface{}{}))
}

func TestParsePriceFlags(t *testing.T) {
	tests := []struct {
		name         string
		price        string
		displayPrice string
		want         uint64
		wantErr      string
	}{
		{"smallest units", "150000000", "", 150_000_000, ""},
		{"display units", "", "1.5", 150_000_000, ""},
		{"both", "1", "1", 0, "not both"},
		{"neither", "", "", 0, "is required"},
		{"negative", "-1", "", 0, "price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePriceFlags(tt.price, tt.displayPrice)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModuleAddress(t *testing.T) {
	assert.Equal(t, "0xbeef", moduleAddress(catalog.Config{MarketplaceAddress: "0xbeef"}))
	assert.Equal(t, "0xcafe", moduleAddress(catalog.Config{MarketplaceAddress: "0xbeef", ModuleAddress: "0xcafe"}))
}

// newMarketplaceNode serves a marketplace resource holding n items with
// rarities cycling 1..4.
func newMarketplaceNode(t *testing.T, n int) *httptest.Server {
	t.Helper()
	nfts := make([]catalog.RawListingRecord, n)
	for i := range nfts {
		id := uint64(i + 1)
		nfts[i] = catalog.RawListingRecord{
			ID:          catalog.U64(id),
			Owner:       "0xa11ce",
			Name:        codec.EncodeFieldHex(fmt.Sprintf("Item %d", id)),
			Description: codec.EncodeFieldHex("test"),
			URI:         codec.EncodeFieldHex("ipfs://item"),
			Price:       catalog.U64(id * 100_000_000),
			ForSale:     true,
			Rarity:      uint8(i%4 + 1),
		}
	}
	data, err := json.Marshal(map[string]interface{}{"nfts": nfts})
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/resource/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "GET", r.Method)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"type": "0xbeef::NFTMarketplace::Marketplace",
			"data": json.RawMessage(data),
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestMarketListCommand(t *testing.T) {
	node := newMarketplaceNode(t, 20)

	tests := []struct {
		name string
		args []string
	}{
		{"first page", nil},
		{"rarity filter", []string{"--rarity", "2"}},
		{"second page", []string{"--page", "2"}},
		{"huge page", []string{"--page", "1152921504606846977"}},
		{"jq filter", []string{"--jq", ".rarity == 3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{
				"nftmarket", "--json",
				"--node-url", node.URL + "/v1",
				"--marketplace-address", "0xbeef",
				"market", "list",
			}, tt.args...)
			require.NoError(t, newApp().Run(args))
		})
	}
}

func TestMarketListCommand_BadPage(t *testing.T) {
	node := newMarketplaceNode(t, 3)

	err := newApp().Run([]string{
		"nftmarket", "--node-url", node.URL + "/v1", "--marketplace-address", "0xbeef",
		"market", "list", "--page", "0",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrInvalidPage)
}
