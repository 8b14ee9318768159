package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/brojonat/nftmarket/service/catalog"
	"github.com/brojonat/nftmarket/service/currency"
	"github.com/brojonat/nftmarket/service/ledger"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func marketCommands() *cli.Command {
	return &cli.Command{
		Name:  "market",
		Usage: "Read the marketplace directly from a ledger node",
		Subcommands: []*cli.Command{
			listListingsCommand(),
			getListingCommand(),
			ownedItemsCommand(),
			balanceCommand(),
			overviewCommand(),
		},
	}
}

func listListingsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List marketplace items, one page at a time",
		Aliases: []string{"ls"},
		Description: `Load the marketplace and print one page of listings.

Use --jq to keep only listings for which every filter is truthy. Filters run
against each listing's JSON form and apply to the page being shown.

Example:
  nftmarket market list --rarity 3 --jq '.for_sale' --jq '.price | tonumber < 100000000'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rarity",
				Aliases: []string{"r"},
				Usage:   "Rarity to show (1-4, or all)",
				Value:   "all",
			},
			&cli.IntFlag{
				Name:    "page",
				Aliases: []string{"p"},
				Usage:   "Page number, starting at 1",
				Value:   1,
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Listings per page",
				Value: catalog.DefaultPageSize,
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter a listing must satisfy (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			filter, err := catalog.ParseRarityFilter(c.String("rarity"))
			if err != nil {
				return err
			}
			codes, err := compileJQFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			ledgerClient, cfg, err := getLedger(c)
			if err != nil {
				return err
			}
			cfg.PageSize = c.Int("page-size")
			cat := catalog.New(ledgerClient, cfg, nil, setupLogger(c.String("log-level")))

			res, err := cat.Refresh(c.Context)
			if err != nil {
				return fmt.Errorf("failed to load marketplace: %w", err)
			}
			if res.Dropped > 0 {
				fmt.Fprintf(os.Stderr, "Warning: %d listings could not be decoded and were skipped\n", res.Dropped)
			}

			// Same transitions a browsing UI makes: pick a rarity (back to
			// page 1), then move to the requested page.
			cat.SetFilter(filter)
			view, err := cat.SetPage(c.Int("page"))
			if err != nil {
				return err
			}

			listings := make([]listingView, 0, len(view.Visible()))
			for _, r := range view.Visible() {
				lv := newListingView(r)
				ok, err := matchesJQ(codes, lv)
				if err != nil {
					return err
				}
				if ok {
					listings = append(listings, lv)
				}
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"listings":    listings,
					"rarity":      view.Filter().String(),
					"page":        view.Page(),
					"total_pages": view.TotalPages(),
					"total":       len(view.Filtered()),
				})
			}

			printListingTable(listings)
			fmt.Fprintf(os.Stderr, "\nPage %d of %d (%d listings, rarity: %s)\n",
				view.Page(), view.TotalPages(), len(view.Filtered()), view.Filter())
			return nil
		},
	}
}

func getListingCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one item",
		ArgsUsage: "<item-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: item ID")
			}
			id, err := strconv.ParseUint(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item ID %q", c.Args().First())
			}

			ledgerClient, cfg, err := getLedger(c)
			if err != nil {
				return err
			}
			lookup := catalog.NewLookup(ledgerClient, cfg, 0, nil, setupLogger(c.String("log-level")))

			record, err := lookup.Get(c.Context, id)
			if err != nil {
				return fmt.Errorf("failed to get item: %w", err)
			}

			lv := newListingView(record)
			if c.Bool("json") {
				return outputJSON(lv)
			}
			printListingDetailed(lv)
			return nil
		},
	}
}

func ownedItemsCommand() *cli.Command {
	return &cli.Command{
		Name:      "owned",
		Usage:     "List the items an account owns",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:  "limit",
				Usage: "Maximum number of items",
				Value: 20,
			},
			&cli.Uint64Flag{
				Name:  "offset",
				Usage: "Number of items to skip",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}

			ledgerClient, cfg, err := getLedger(c)
			if err != nil {
				return err
			}
			lookup := catalog.NewLookup(ledgerClient, cfg, 0, nil, setupLogger(c.String("log-level")))

			records, err := lookup.ListOwned(c.Context, c.Args().First(), c.Uint64("limit"), c.Uint64("offset"))
			if err != nil {
				return fmt.Errorf("failed to list owned items: %w", err)
			}

			items := make([]listingView, len(records))
			for i, r := range records {
				items[i] = newListingView(r)
			}
			if c.Bool("json") {
				return outputJSON(items)
			}
			printListingTable(items)
			fmt.Fprintf(os.Stderr, "\nTotal: %d items\n", len(items))
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show an account's coin balance",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			address := c.Args().First()

			ledgerClient, err := newLedgerClient(c)
			if err != nil {
				return err
			}
			balance, err := ledgerClient.GetBalance(c.Context, address)
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"address":         address,
					"balance":         catalog.U64(balance),
					"display_balance": currency.Format(balance),
				})
			}
			fmt.Printf("%s: %s\n", address, currency.Format(balance))
			return nil
		},
	}
}

func overviewCommand() *cli.Command {
	return &cli.Command{
		Name:      "overview",
		Usage:     "Load the marketplace and an account balance together",
		ArgsUsage: "[address]",
		Action: func(c *cli.Context) error {
			ledgerClient, cfg, err := getLedger(c)
			if err != nil {
				return err
			}
			cat := catalog.New(ledgerClient, cfg, nil, setupLogger(c.String("log-level")))

			ov, err := catalog.LoadOverview(c.Context, ledgerClient, cat, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to load overview: %w", err)
			}

			counts := make(map[string]int)
			forSale := 0
			for _, r := range ov.View.Records() {
				counts[r.RarityLabel()]++
				if r.ForSale {
					forSale++
				}
			}

			if c.Bool("json") {
				out := map[string]interface{}{
					"listings":  len(ov.View.Records()),
					"for_sale":  forSale,
					"by_rarity": counts,
					"dropped":   ov.Refresh.Dropped,
				}
				if ov.Address != "" {
					out["address"] = ov.Address
					out["balance"] = catalog.U64(ov.Balance)
					out["display_balance"] = currency.Format(ov.Balance)
				}
				return outputJSON(out)
			}

			if ov.Address != "" {
				fmt.Printf("Account:   %s\n", ov.Address)
				fmt.Printf("Balance:   %s\n", currency.Format(ov.Balance))
			}
			fmt.Printf("Listings:  %d (%d for sale)\n", len(ov.View.Records()), forSale)
			for _, rarity := range catalog.Rarities() {
				label := catalog.RarityLabel(rarity)
				fmt.Printf("  %-10s %d\n", label+":", counts[label])
			}
			if ov.Refresh.Dropped > 0 {
				fmt.Printf("Skipped:   %d undecodable listings\n", ov.Refresh.Dropped)
			}
			return nil
		},
	}
}

// listingView is the JSON and table form of a listing.
type listingView struct {
	ID           uint64      `json:"id"`
	Slug         string      `json:"slug"`
	Owner        string      `json:"owner"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	URI          string      `json:"uri"`
	Price        catalog.U64 `json:"price"`
	DisplayPrice string      `json:"display_price"`
	ForSale      bool        `json:"for_sale"`
	Rarity       uint8       `json:"rarity"`
	RarityLabel  string      `json:"rarity_label"`
}

func newListingView(r catalog.ListingRecord) listingView {
	return listingView{
		ID:           r.ID,
		Slug:         r.Slug(),
		Owner:        r.Owner,
		Name:         r.Name,
		Description:  r.Description,
		URI:          r.URI,
		Price:        catalog.U64(r.Price),
		DisplayPrice: r.DisplayPrice(),
		ForSale:      r.ForSale,
		Rarity:       r.Rarity,
		RarityLabel:  r.RarityLabel(),
	}
}

func printListingTable(listings []listingView) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRARITY\tPRICE\tFOR SALE\tOWNER")
	for _, l := range listings {
		forSale := "no"
		if l.ForSale {
			forSale = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			l.ID,
			l.Name,
			l.RarityLabel,
			l.DisplayPrice,
			forSale,
			l.Owner,
		)
	}
	w.Flush()
}

func printListingDetailed(l listingView) {
	fmt.Printf("Item #%d: %s\n", l.ID, l.Name)
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Slug:         %s\n", l.Slug)
	fmt.Printf("Owner:        %s\n", l.Owner)
	fmt.Printf("Rarity:       %s (%d)\n", l.RarityLabel, l.Rarity)
	fmt.Printf("Price:        %s (%d)\n", l.DisplayPrice, uint64(l.Price))
	fmt.Printf("For Sale:     %v\n", l.ForSale)
	fmt.Printf("URI:          %s\n", l.URI)
	if l.Description != "" {
		fmt.Printf("Description:  %s\n", l.Description)
	}
}

// compileJQFilters parses and compiles every filter up front so a typo fails
// before any network call.
func compileJQFilters(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// matchesJQ reports whether every filter yields a truthy first result for v.
// gojq only accepts plain JSON values, so v is round-tripped first.
func matchesJQ(codes []*gojq.Code, v interface{}) (bool, error) {
	if len(codes) == 0 {
		return true, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("failed to marshal value for jq: %w", err)
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return false, fmt.Errorf("failed to unmarshal value for jq: %w", err)
	}

	for _, code := range codes {
		iter := code.Run(input)
		result, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := result.(error); isErr {
			return false, fmt.Errorf("jq filter failed: %w", err)
		}
		if !isTruthy(result) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// newLedgerClient creates a ledger client from the global flags.
func newLedgerClient(c *cli.Context) (*ledger.Client, error) {
	return ledger.NewClient(ledger.Config{
		NodeURL:        c.String("node-url"),
		Timeout:        30 * time.Second,
		RetryMax:       3,
		ConfirmTimeout: 60 * time.Second,
		PollInterval:   time.Second,
	}, nil, setupLogger(c.String("log-level")))
}

// getLedger returns a ledger client and the marketplace it reads.
func getLedger(c *cli.Context) (*ledger.Client, catalog.Config, error) {
	cfg := catalog.Config{
		MarketplaceAddress: c.String("marketplace-address"),
		ModuleAddress:      c.String("module-address"),
		PageSize:           catalog.DefaultPageSize,
	}
	if cfg.MarketplaceAddress == "" {
		return nil, cfg, fmt.Errorf("marketplace-address is required (set MARKETPLACE_ADDRESS env var or use --marketplace-address)")
	}

	ledgerClient, err := newLedgerClient(c)
	if err != nil {
		return nil, cfg, err
	}
	return ledgerClient, cfg, nil
}

