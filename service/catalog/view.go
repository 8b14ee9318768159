package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultPageSize is the number of listings shown per page.
const DefaultPageSize = 8

// ErrInvalidPage is returned for a non-positive page number or page size.
var ErrInvalidPage = errors.New("page and page size must be positive")

// RarityFilter selects listings by rarity. AllRarities matches everything.
type RarityFilter uint8

const AllRarities RarityFilter = 0

// ParseRarityFilter accepts "", "all" or a rarity number.
func ParseRarityFilter(s string) (RarityFilter, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "all" {
		return AllRarities, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || n == 0 {
		return AllRarities, fmt.Errorf("invalid rarity filter %q", s)
	}
	return RarityFilter(n), nil
}

func (f RarityFilter) String() string {
	if f == AllRarities {
		return "all"
	}
	return strconv.Itoa(int(f))
}

// Matches reports whether a record with the given rarity passes the filter.
func (f RarityFilter) Matches(rarity uint8) bool {
	return f == AllRarities || uint8(f) == rarity
}

// FilterByRarity returns the records matching f in their original order.
// AllRarities returns records unchanged.
func FilterByRarity(records []ListingRecord, f RarityFilter) []ListingRecord {
	if f == AllRarities {
		return records
	}
	out := make([]ListingRecord, 0, len(records))
	for _, r := range records {
		if f.Matches(r.Rarity) {
			out = append(out, r)
		}
	}
	return out
}

// Paginate returns the 1-based page of records. Pages past the end are empty.
func Paginate(records []ListingRecord, page, pageSize int) ([]ListingRecord, error) {
	if page < 1 || pageSize < 1 {
		return nil, ErrInvalidPage
	}
	// Compare page counts before multiplying; (page-1)*pageSize can overflow.
	if page-1 >= TotalPages(len(records), pageSize) {
		return []ListingRecord{}, nil
	}
	start := (page - 1) * pageSize
	end := len(records)
	if len(records)-start > pageSize {
		end = start + pageSize
	}
	return records[start:end], nil
}

// TotalPages is the number of non-empty pages for n records.
func TotalPages(n, pageSize int) int {
	if n <= 0 || pageSize <= 0 {
		return 0
	}
	pages := n / pageSize
	if n%pageSize != 0 {
		pages++
	}
	return pages
}

// ViewState is what the presentation layer renders. It is never mutated;
// every transition returns a new value.
type ViewState struct {
	filter   RarityFilter
	page     int
	pageSize int
	records  []ListingRecord
}

// NewViewState returns a state on page 1 with no filter and no records.
func NewViewState(pageSize int) ViewState {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return ViewState{filter: AllRarities, page: 1, pageSize: pageSize}
}

func (s ViewState) Filter() RarityFilter { return s.filter }
func (s ViewState) Page() int            { return s.page }
func (s ViewState) PageSize() int        { return s.pageSize }

// Records returns the full last-fetched record set.
func (s ViewState) Records() []ListingRecord { return s.records }

// WithFilter changes the rarity filter. The page always goes back to 1.
func (s ViewState) WithFilter(f RarityFilter) ViewState {
	s.filter = f
	s.page = 1
	return s
}

// WithPage moves to another page. It does not check the upper bound; a page
// past the end renders empty.
func (s ViewState) WithPage(page int) (ViewState, error) {
	if page < 1 {
		return s, ErrInvalidPage
	}
	s.page = page
	return s, nil
}

// WithRecords replaces the record set, keeping filter and page.
func (s ViewState) WithRecords(records []ListingRecord) ViewState {
	cp := make([]ListingRecord, len(records))
	copy(cp, records)
	s.records = cp
	return s
}

// Filtered returns all records passing the current filter.
func (s ViewState) Filtered() []ListingRecord {
	return FilterByRarity(s.records, s.filter)
}

// Visible returns the records on the current page.
func (s ViewState) Visible() []ListingRecord {
	// page and pageSize are kept positive by the transitions
	visible, _ := Paginate(s.Filtered(), s.page, s.pageSize)
	return visible
}

// TotalPages is the page count for the current filter.
func (s ViewState) TotalPages() int {
	return TotalPages(len(s.Filtered()), s.pageSize)
}
