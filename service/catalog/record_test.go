package catalog

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/brojonat/nftmarket/service/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawRecord(id uint64, rarity uint8) RawListingRecord {
	return RawListingRecord{
		ID:          U64(id),
		Owner:       "0xowner",
		Name:        codec.EncodeFieldHex(fmt.Sprintf("Item %d", id)),
		Description: codec.EncodeFieldHex("a test item"),
		URI:         codec.EncodeFieldHex(fmt.Sprintf("https://example.com/%d.png", id)),
		Price:       U64(id * 100000000),
		ForSale:     id%2 == 0,
		Rarity:      rarity,
	}
}

func TestRawListingRecord_UnmarshalNodeJSON(t *testing.T) {
	data := `{
		"id": "7",
		"owner": "0xabc",
		"name": "0x476f6c64656e20447261676f6e",
		"description": "0x",
		"uri": "0x68747470733a2f2f782e696f2f372e706e67",
		"price": "250000000",
		"for_sale": true,
		"rarity": 4
	}`

	var raw RawListingRecord
	require.NoError(t, json.Unmarshal([]byte(data), &raw))
	assert.Equal(t, U64(7), raw.ID)
	assert.Equal(t, U64(250000000), raw.Price)

	result := Ingest([]RawListingRecord{raw})
	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Equal(t, "Golden Dragon", rec.Name)
	assert.Equal(t, "", rec.Description)
	assert.Equal(t, "https://x.io/7.png", rec.URI)
	assert.Equal(t, "2.5 APT", rec.DisplayPrice())
	assert.Equal(t, "Epic", rec.RarityLabel())
	assert.Equal(t, "7-golden-dragon", rec.Slug())
}

func TestU64_AcceptsNumber(t *testing.T) {
	var v U64
	require.NoError(t, json.Unmarshal([]byte(`42`), &v))
	assert.Equal(t, U64(42), v)

	assert.Error(t, json.Unmarshal([]byte(`"-1"`), &v))
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &v))

	out, err := json.Marshal(U64(18446744073709551615))
	require.NoError(t, err)
	assert.Equal(t, `"18446744073709551615"`, string(out))
}

func TestIngest_DropsCorruptRecordsIndividually(t *testing.T) {
	good1 := rawRecord(1, 1)
	badHex := rawRecord(2, 2)
	badHex.Name = "0xzz"
	oddLength := rawRecord(3, 3)
	oddLength.URI = "0xabc"
	good2 := rawRecord(4, 4)

	result := Ingest([]RawListingRecord{good1, badHex, oddLength, good2})

	require.Len(t, result.Records, 2)
	assert.Equal(t, uint64(1), result.Records[0].ID)
	assert.Equal(t, uint64(4), result.Records[1].ID)
	assert.Equal(t, 2, result.Dropped)
	require.Len(t, result.Errors, 2)
	for _, err := range result.Errors {
		assert.ErrorIs(t, err, codec.ErrDecode)
	}
	assert.Contains(t, result.Errors[0].Error(), "item 2 name")
	assert.Contains(t, result.Errors[1].Error(), "item 3 uri")
}

func TestIngest_Empty(t *testing.T) {
	result := Ingest(nil)
	assert.NotNil(t, result.Records)
	assert.Empty(t, result.Records)
	assert.Zero(t, result.Dropped)
}

func TestRarityLabel(t *testing.T) {
	assert.Equal(t, "Common", RarityLabel(1))
	assert.Equal(t, "Uncommon", RarityLabel(2))
	assert.Equal(t, "Rare", RarityLabel(3))
	assert.Equal(t, "Epic", RarityLabel(4))
	assert.Equal(t, "Unknown", RarityLabel(9))
	assert.Equal(t, []uint8{1, 2, 3, 4}, Rarities())
}
