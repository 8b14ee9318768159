package pipeline

import (
	"fmt"

	"github.com/brojonat/nftmarket/service/ledger"
	"github.com/brojonat/nftmarket/service/txbuilder"
)

// Action names, also used as metric labels and event subjects.
const (
	ActionMint        = "mint"
	ActionListForSale = "list_for_sale"
)

// Intent is a write action the user asked for.
type Intent interface {
	Action() string
	// Key identifies the logical action. Two intents with the same key may
	// not be in flight at once.
	Key() string
	Build(b *txbuilder.Builder) (ledger.Payload, error)
}

// MintIntent asks to mint a new item.
type MintIntent struct {
	Name        string
	Description string
	URI         string
	Rarity      uint8
}

func (i MintIntent) Action() string { return ActionMint }

func (i MintIntent) Key() string {
	return fmt.Sprintf("%s:%q:%q:%q:%d", ActionMint, i.Name, i.Description, i.URI, i.Rarity)
}

func (i MintIntent) Build(b *txbuilder.Builder) (ledger.Payload, error) {
	return b.BuildMintPayload(i.Name, i.Description, i.URI, i.Rarity)
}

// ListForSaleIntent asks to put an owned item up for sale. Only one listing
// per item may be in flight, whatever the price.
type ListForSaleIntent struct {
	ItemID uint64
	Price  uint64
}

func (i ListForSaleIntent) Action() string { return ActionListForSale }

func (i ListForSaleIntent) Key() string {
	return fmt.Sprintf("%s:%d", ActionListForSale, i.ItemID)
}

func (i ListForSaleIntent) Build(b *txbuilder.Builder) (ledger.Payload, error) {
	return b.BuildListForSalePayload(i.ItemID, i.Price)
}
