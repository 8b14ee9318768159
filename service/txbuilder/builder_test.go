package txbuilder

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/brojonat/nftmarket/service/codec"
	"github.com/brojonat/nftmarket/service/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMintPayload(t *testing.T) {
	b := New("0xmod", "0xmarket")

	payload, err := b.BuildMintPayload("n", "d", "u", 2)
	require.NoError(t, err)

	assert.Equal(t, ledger.EntryFunctionPayloadType, payload.Type)
	assert.Equal(t, "0xmod::NFTMarketplace::mint_nft", payload.Function)
	assert.Equal(t, []string{}, payload.TypeArguments)
	assert.Equal(t, []any{
		codec.ByteVector("n"),
		codec.ByteVector("d"),
		codec.ByteVector("u"),
		uint8(2),
	}, payload.Arguments)
}

func TestBuildMintPayload_WireFormat(t *testing.T) {
	b := New("", "0xmarket")

	payload, err := b.BuildMintPayload("Ab", "d", "u", 3)
	require.NoError(t, err)

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "entry_function_payload",
		"function": "0xmarket::NFTMarketplace::mint_nft",
		"type_arguments": [],
		"arguments": [[65, 98], [100], [117], 3]
	}`, string(data))
}

func TestBuildMintPayload_Validation(t *testing.T) {
	b := New("0xmod", "0xmarket")

	tests := []struct {
		name        string
		fieldName   string
		description string
		uri         string
		rarity      uint8
		wantFields  []string
	}{
		{name: "missing name", fieldName: "", description: "d", uri: "u", rarity: 1, wantFields: []string{"name"}},
		{name: "blank description", fieldName: "n", description: "   ", uri: "u", rarity: 1, wantFields: []string{"description"}},
		{name: "missing rarity", fieldName: "n", description: "d", uri: "u", rarity: 0, wantFields: []string{"rarity"}},
		{name: "everything missing", wantFields: []string{"name", "description", "uri", "rarity"}},
		{name: "unknown rarity", fieldName: "n", description: "d", uri: "u", rarity: 9, wantFields: []string{"rarity"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.BuildMintPayload(tt.fieldName, tt.description, tt.uri, tt.rarity)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantFields, verr.Fields)
		})
	}
}

func TestBuildMintPayload_NameErrorMessage(t *testing.T) {
	_, err := New("0xmod", "0xmarket").BuildMintPayload("", "d", "u", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
}

func TestBuildListForSalePayload(t *testing.T) {
	b := New("0xmod", "0xmarket")

	payload, err := b.BuildListForSalePayload(7, 250000000)
	require.NoError(t, err)

	assert.Equal(t, "0xmod::NFTMarketplace::list_for_sale", payload.Function)
	assert.Equal(t, []string{}, payload.TypeArguments)
	assert.Equal(t, []any{"0xmarket", "7", "250000000"}, payload.Arguments)

	payload, err = b.BuildListForSalePayload(0, 18446744073709551615)
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551615", payload.Arguments[2])
}

func TestParsePrice(t *testing.T) {
	v, err := ParsePrice(" 100 ")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), v)

	v, err = ParsePrice("0")
	require.NoError(t, err)
	assert.Zero(t, v)

	for _, bad := range []string{"", "-1", "1.5", "abc", "18446744073709551616"} {
		_, err := ParsePrice(bad)
		assert.ErrorIs(t, err, ErrValidation, "input %q", bad)
	}
}

func TestParseItemID(t *testing.T) {
	v, err := ParseItemID("42")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	_, err = ParseItemID("x")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"id"}, verr.Fields)
}
