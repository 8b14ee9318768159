package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/brojonat/nftmarket/service/codec"
	"github.com/brojonat/nftmarket/service/currency"
	"github.com/gosimple/slug"
)

// U64 is an unsigned 64-bit value as the node renders it: a decimal string.
// Plain JSON numbers are accepted too.
type U64 uint64

func (u U64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}

func (u *U64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid u64 %q: %w", string(data), err)
	}
	*u = U64(v)
	return nil
}

// RawListingRecord is a listing exactly as stored on chain. Text fields are
// still hex encoded.
type RawListingRecord struct {
	ID          U64    `json:"id"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URI         string `json:"uri"`
	Price       U64    `json:"price"`
	ForSale     bool   `json:"for_sale"`
	Rarity      uint8  `json:"rarity"`
}

// ListingRecord is a decoded listing. Price is in smallest units.
type ListingRecord struct {
	ID          uint64 `json:"id"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URI         string `json:"uri"`
	Price       uint64 `json:"price"`
	ForSale     bool   `json:"for_sale"`
	Rarity      uint8  `json:"rarity"`
}

// Slug is a URL-friendly identifier, e.g. "7-golden-dragon".
func (r ListingRecord) Slug() string {
	return slug.Make(fmt.Sprintf("%d %s", r.ID, r.Name))
}

// DisplayPrice renders the price in display currency.
func (r ListingRecord) DisplayPrice() string {
	return currency.Format(r.Price)
}

// RarityLabel returns the display label for the record's rarity.
func (r ListingRecord) RarityLabel() string {
	return RarityLabel(r.Rarity)
}

var rarityLabels = map[uint8]string{
	1: "Common",
	2: "Uncommon",
	3: "Rare",
	4: "Epic",
}

// RarityLabel maps a rarity value to its label. Unknown values are labelled
// "Unknown" rather than rejected; the program owns the range.
func RarityLabel(rarity uint8) string {
	if label, ok := rarityLabels[rarity]; ok {
		return label
	}
	return "Unknown"
}

// Rarities returns the known rarity values in ascending order.
func Rarities() []uint8 {
	return []uint8{1, 2, 3, 4}
}

// IngestResult is the outcome of decoding a batch of raw records.
type IngestResult struct {
	Records []ListingRecord
	// Dropped counts records whose text fields could not be decoded.
	Dropped int
	// Errors holds one decode error per dropped record, in order.
	Errors []error
}

// Ingest decodes every raw record. A record with an undecodable field is
// dropped on its own; the rest of the batch is kept in ledger order.
func Ingest(raw []RawListingRecord) IngestResult {
	result := IngestResult{Records: make([]ListingRecord, 0, len(raw))}
	for _, r := range raw {
		rec, err := decodeRecord(r)
		if err != nil {
			result.Dropped++
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Records = append(result.Records, rec)
	}
	return result
}

func decodeRecord(r RawListingRecord) (ListingRecord, error) {
	name, err := codec.DecodeField(r.Name)
	if err != nil {
		return ListingRecord{}, fmt.Errorf("item %d name: %w", r.ID, err)
	}
	description, err := codec.DecodeField(r.Description)
	if err != nil {
		return ListingRecord{}, fmt.Errorf("item %d description: %w", r.ID, err)
	}
	uri, err := codec.DecodeField(r.URI)
	if err != nil {
		return ListingRecord{}, fmt.Errorf("item %d uri: %w", r.ID, err)
	}
	return ListingRecord{
		ID:          uint64(r.ID),
		Owner:       r.Owner,
		Name:        name,
		Description: description,
		URI:         uri,
		Price:       uint64(r.Price),
		ForSale:     r.ForSale,
		Rarity:      r.Rarity,
	}, nil
}
