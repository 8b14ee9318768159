// Package txbuilder turns user intents into chain-ready payloads. It does no
// I/O; every function here can be tested by inspecting the payload it returns.
package txbuilder

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/brojonat/nftmarket/service/catalog"
	"github.com/brojonat/nftmarket/service/codec"
	"github.com/brojonat/nftmarket/service/ledger"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("validation error")

// ValidationError reports user input that cannot be turned into a payload.
type ValidationError struct {
	// Fields lists the offending inputs in form order.
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Builder builds payloads for one marketplace.
type Builder struct {
	module      string
	marketplace string
}

// New returns a builder. moduleAddress defaults to marketplaceAddress when empty.
func New(moduleAddress, marketplaceAddress string) *Builder {
	if moduleAddress == "" {
		moduleAddress = marketplaceAddress
	}
	return &Builder{module: moduleAddress, marketplace: marketplaceAddress}
}

// BuildMintPayload builds a mint_nft call. All four fields are required; the
// error names every missing one.
func (b *Builder) BuildMintPayload(name, description, uri string, rarity uint8) (ledger.Payload, error) {
	var missing []string
	if strings.TrimSpace(name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(uri) == "" {
		missing = append(missing, "uri")
	}
	if rarity == 0 {
		missing = append(missing, "rarity")
	}
	if len(missing) > 0 {
		return ledger.Payload{}, &ValidationError{Fields: missing, Reason: "missing required fields"}
	}
	if !slices.Contains(catalog.Rarities(), rarity) {
		return ledger.Payload{}, &ValidationError{
			Fields: []string{"rarity"},
			Reason: fmt.Sprintf("unknown rarity %d", rarity),
		}
	}

	return ledger.Payload{
		Type:          ledger.EntryFunctionPayloadType,
		Function:      ledger.FunctionID(b.module, ledger.MarketplaceModule, "mint_nft"),
		TypeArguments: []string{},
		Arguments: []any{
			codec.EncodeField(name),
			codec.EncodeField(description),
			codec.EncodeField(uri),
			rarity,
		},
	}, nil
}

// BuildListForSalePayload builds a list_for_sale call. price is in smallest
// units. u64 arguments are rendered as decimal strings.
func (b *Builder) BuildListForSalePayload(itemID, price uint64) (ledger.Payload, error) {
	return ledger.Payload{
		Type:          ledger.EntryFunctionPayloadType,
		Function:      ledger.FunctionID(b.module, ledger.MarketplaceModule, "list_for_sale"),
		TypeArguments: []string{},
		Arguments: []any{
			b.marketplace,
			strconv.FormatUint(itemID, 10),
			strconv.FormatUint(price, 10),
		},
	}, nil
}

// ParsePrice parses a price typed in smallest units.
func ParsePrice(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &ValidationError{Fields: []string{"price"}, Reason: "missing required fields"}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &ValidationError{
			Fields: []string{"price"},
			Reason: fmt.Sprintf("price must be a non-negative integer, got %q", s),
		}
	}
	return v, nil
}

// ParseItemID parses an item id typed by the user.
func ParseItemID(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &ValidationError{
			Fields: []string{"id"},
			Reason: fmt.Sprintf("item id must be a non-negative integer, got %q", s),
		}
	}
	return v, nil
}
