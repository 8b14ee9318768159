package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/brojonat/nftmarket/client"
	"github.com/brojonat/nftmarket/service/catalog"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with a running nftmarket server",
		Subcommands: []*cli.Command{
			clientListingsCommand(),
			clientListingCommand(),
			clientRefreshCommand(),
			clientBalanceCommand(),
			clientOwnedCommand(),
			clientMintCommand(),
			clientListForSaleCommand(),
			clientSubmissionsCommand(),
		},
	}
}

// newAPIClient creates an API client whose requests are bounded by timeout.
func newAPIClient(c *cli.Context, timeout time.Duration) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	httpClient := &http.Client{Timeout: timeout}
	return client.NewClient(serverURL, httpClient, setupLogger(c.String("log-level"))), nil
}

func clientListingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "listings",
		Usage: "Show one page of the server's catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "rarity", Aliases: []string{"r"}, Usage: "Rarity to show (1-4, or all)", Value: "all"},
			&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Usage: "Page number, starting at 1", Value: 1},
		},
		Action: func(c *cli.Context) error {
			filter, err := catalog.ParseRarityFilter(c.String("rarity"))
			if err != nil {
				return err
			}
			cl, err := newAPIClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			page, err := cl.Listings(c.Context, uint8(filter), c.Int("page"))
			if err != nil {
				return fmt.Errorf("failed to list listings: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(page)
			}
			printListingTable(listingViewsFromAPI(page.Listings))
			fmt.Fprintf(os.Stderr, "\nPage %d of %d (%d listings, rarity: %s)\n",
				page.Page, page.TotalPages, page.Total, page.Rarity)
			if page.RefreshedAt != nil {
				fmt.Fprintf(os.Stderr, "Refreshed at %s\n", page.RefreshedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func clientListingCommand() *cli.Command {
	return &cli.Command{
		Name:      "listing",
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
			cl, err := newAPIClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			listing, err := cl.Listing(c.Context, id)
			if client.IsNotFound(err) {
				return fmt.Errorf("item %d does not exist", id)
			}
			if err != nil {
				return fmt.Errorf("failed to get listing: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(listing)
			}
			printListingDetailed(listingViewsFromAPI([]client.Listing{*listing})[0])
			return nil
		},
	}
}

func clientRefreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Ask the server to reload the marketplace",
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c, time.Minute)
			if err != nil {
				return err
			}
			res, err := cl.RefreshListings(c.Context)
			if err != nil {
				return fmt.Errorf("failed to refresh: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(res)
			}
			if !res.Applied {
				fmt.Printf("Refresh %d was superseded by a newer one\n", res.Generation)
				return nil
			}
			fmt.Printf("✓ Refresh %d applied: %d listings", res.Generation, res.Listings)
			if res.Dropped > 0 {
				fmt.Printf(", %d skipped", res.Dropped)
			}
			fmt.Println()
			return nil
		},
	}
}

func clientBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show an account's coin balance",
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			cl, err := newAPIClient(c, 30*time.Second)
			if err != nil {
				return err
			}
			bal, err := cl.Balance(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(bal)
			}
			fmt.Printf("%s: %s\n", bal.Address, formatUnits(bal.Balance))
			return nil
		},
	}
}

func clientOwnedCommand() *cli.Command {
	return &cli.Command{
		Name:      "owned",
		Usage:     "List the items an account owns",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of items", Value: 20},
			&cli.IntFlag{Name: "offset", Usage: "Number of items to skip"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			cl, err := newAPIClient(c, time.Minute)
			if err != nil {
				return err
			}
			items, err := cl.OwnedItems(c.Context, c.Args().First(), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list owned items: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(items)
			}
			printListingTable(listingViewsFromAPI(items))
			fmt.Fprintf(os.Stderr, "\nTotal: %d items\n", len(items))
			return nil
		},
	}
}

func clientMintCommand() *cli.Command {
	return &cli.Command{
		Name:  "mint",
		Usage: "Mint an item through the server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Item name", Required: true},
			&cli.StringFlag{Name: "description", Usage: "Item description", Required: true},
			&cli.StringFlag{Name: "uri", Usage: "Item metadata URI", Required: true},
			&cli.UintFlag{Name: "rarity", Usage: "Rarity (1-4)", Value: 1},
			&cli.DurationFlag{Name: "timeout", Usage: "How long to wait for the outcome", Value: 10 * time.Minute},
		},
		Action: func(c *cli.Context) error {
			rarity := c.Uint("rarity")
			if rarity > 255 {
				return fmt.Errorf("rarity must fit in a byte, got %d", rarity)
			}
			cl, err := newAPIClient(c, c.Duration("timeout"))
			if err != nil {
				return err
			}
			res, err := cl.Mint(c.Context, client.MintRequest{
				Name:        c.String("name"),
				Description: c.String("description"),
				URI:         c.String("uri"),
				Rarity:      uint8(rarity),
			})
			return reportSubmitResult(c, res, err)
		},
	}
}

func clientListForSaleCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-for-sale",
		Usage:     "List an owned item for sale through the server",
		ArgsUsage: "<item-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "price", Usage: "Price in smallest units"},
			&cli.StringFlag{Name: "display-price", Usage: "Price in display units, e.g. 1.5"},
			&cli.DurationFlag{Name: "timeout", Usage: "How long to wait for the outcome", Value: 10 * time.Minute},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: item ID")
			}
			id, err := strconv.ParseUint(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item ID %q", c.Args().First())
			}
			price, err := parsePriceFlags(c.String("price"), c.String("display-price"))
			if err != nil {
				return err
			}
			cl, err := newAPIClient(c, c.Duration("timeout"))
			if err != nil {
				return err
			}
			res, err := cl.ListForSale(c.Context, id, price)
			return reportSubmitResult(c, res, err)
		},
	}
}

func clientSubmissionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "submissions",
		Usage:     "List journaled submissions, or show one by ID",
		ArgsUsage: "[submission-id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "action", Usage: "Filter by action (mint, list_for_sale)"},
			&cli.StringFlag{Name: "state", Usage: "Filter by state (succeeded, failed)"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of submissions", Value: 50},
			&cli.IntFlag{Name: "offset", Usage: "Number of submissions to skip"},
		},
		Action: func(c *cli.Context) error {
			cl, err := newAPIClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			if c.NArg() == 1 {
				sub, err := cl.GetSubmission(c.Context, c.Args().First())
				if err != nil {
					return fmt.Errorf("failed to get submission: %w", err)
				}
				return outputJSON(sub)
			}

			subs, err := cl.ListSubmissions(c.Context, client.SubmissionFilter{
				Action: c.String("action"),
				State:  c.String("state"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return fmt.Errorf("failed to list submissions: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(subs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tACTION\tSTATE\tFAILURE\tHASH\tCREATED")
			for _, sub := range subs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					sub.ID,
					sub.Action,
					sub.State,
					orDash(sub.FailureKind),
					orDash(sub.Hash),
					sub.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()
			fmt.Fprintf(os.Stderr, "\nTotal: %d submissions\n", len(subs))
			return nil
		},
	}
}

// reportSubmitResult prints a submission outcome. A failed submission prints
// its record before returning the error.
func reportSubmitResult(c *cli.Context, res *client.SubmitResult, err error) error {
	if res == nil {
		return err
	}
	if c.Bool("json") {
		if jerr := outputJSON(res); jerr != nil {
			return jerr
		}
	} else {
		sub := res.Submission
		fmt.Printf("Submission:   %s\n", sub.ID)
		fmt.Printf("State:        %s\n", sub.State)
		if sub.Hash != "" {
			fmt.Printf("Hash:         %s\n", sub.Hash)
		}
		if res.Version != "" {
			fmt.Printf("Version:      %s\n", res.Version)
		}
		if sub.FailureKind != "" {
			fmt.Printf("Failure:      %s\n", sub.FailureKind)
		}
		if res.RefreshError != "" {
			fmt.Printf("Warning:      listings may be stale: %s\n", res.RefreshError)
		}
	}
	return err
}

func listingViewsFromAPI(listings []client.Listing) []listingView {
	out := make([]listingView, len(listings))
	for i, l := range listings {
		out[i] = listingView{
			ID:           l.ID,
			Slug:         l.Slug,
			Owner:        l.Owner,
			Name:         l.Name,
			Description:  l.Description,
			URI:          l.URI,
			Price:        catalog.U64(l.Price),
			DisplayPrice: l.DisplayPrice,
			ForSale:      l.ForSale,
			Rarity:       l.Rarity,
			RarityLabel:  l.RarityLabel,
		}
	}
	return out
}
