// Package codec converts on-chain text fields between their wire form and
// display strings.
//
// The ledger stores name, description and uri as vector<u8>. The node's JSON
// API renders those as "0x"-prefixed hex strings. Mint payloads go the other
// way and carry the raw bytes as a JSON array of numbers.
package codec

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// HexPrefix is the marker the node puts in front of every byte vector.
const HexPrefix = "0x"

// ErrDecode is returned for byte-vector fields that are not well-formed hex
// of valid UTF-8 text.
var ErrDecode = errors.New("decode error")

// ByteVector is a vector<u8> argument. It marshals to a JSON array of numbers
// rather than the base64 string encoding/json uses for []byte.
type ByteVector []byte

// MarshalJSON renders the vector as [n, n, ...].
func (v ByteVector) MarshalJSON() ([]byte, error) {
	nums := make([]int, len(v))
	for i, b := range v {
		nums[i] = int(b)
	}
	return json.Marshal(nums)
}

// UnmarshalJSON accepts either a number array or a "0x" hex string.
func (v *ByteVector) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		raw, err := decodeHex(s)
		if err != nil {
			return err
		}
		*v = raw
		return nil
	}

	var nums []uint8
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("%w: byte vector must be a hex string or number array", ErrDecode)
	}
	*v = ByteVector(nums)
	return nil
}

// DecodeField strips the wire prefix from a hex-encoded byte vector and
// returns the UTF-8 text it carries.
func DecodeField(hexWithPrefix string) (string, error) {
	raw, err := decodeHex(hexWithPrefix)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: field is not valid UTF-8", ErrDecode)
	}
	return string(raw), nil
}

// EncodeField returns the raw bytes of text. No prefix is applied.
func EncodeField(text string) ByteVector {
	return ByteVector(text)
}

// EncodeFieldHex returns text in the read-path wire form, "0x" + hex.
func EncodeFieldHex(text string) string {
	return HexPrefix + hex.EncodeToString([]byte(text))
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, HexPrefix) {
		return nil, fmt.Errorf("%w: missing %q prefix in %q", ErrDecode, HexPrefix, truncate(s))
	}
	body := s[len(HexPrefix):]
	if len(body)%2 != 0 {
		return nil, fmt.Errorf("%w: odd hex length %d", ErrDecode, len(body))
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return raw, nil
}

func truncate(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}
