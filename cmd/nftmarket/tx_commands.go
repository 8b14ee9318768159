package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brojonat/nftmarket/service/catalog"
	"github.com/brojonat/nftmarket/service/currency"
	"github.com/brojonat/nftmarket/service/ledger"
	"github.com/brojonat/nftmarket/service/pipeline"
	"github.com/brojonat/nftmarket/service/txbuilder"
	"github.com/urfave/cli/v2"
)

func txCommands() *cli.Command {
	return &cli.Command{
		Name:  "tx",
		Usage: "Sign and submit marketplace transactions through the wallet bridge",
		Subcommands: []*cli.Command{
			mintCommand(),
			listForSaleCommand(),
		},
	}
}

func mintCommand() *cli.Command {
	return &cli.Command{
		Name:  "mint",
		Usage: "Mint a new item",
		Description: `Build a mint transaction, hand it to the wallet bridge for signing and wait
for the ledger to confirm it.

Example:
  nftmarket tx mint --name "Golden Dragon" --description "Shiny" --uri ipfs://dragon --rarity 3`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Item name", Required: true},
			&cli.StringFlag{Name: "description", Usage: "Item description", Required: true},
			&cli.StringFlag{Name: "uri", Usage: "Item metadata URI", Required: true},
			&cli.UintFlag{Name: "rarity", Usage: "Rarity (1-4)", Value: 1},
		},
		Action: func(c *cli.Context) error {
			rarity := c.Uint("rarity")
			if rarity > 255 {
				return fmt.Errorf("rarity must fit in a byte, got %d", rarity)
			}
			return runIntent(c, pipeline.MintIntent{
				Name:        c.String("name"),
				Description: c.String("description"),
				URI:         c.String("uri"),
				Rarity:      uint8(rarity),
			})
		},
	}
}

func listForSaleCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List an owned item for sale",
		ArgsUsage: "<item-id>",
		Description: `Price is either --price in smallest units or --display-price in coins.

Example:
  nftmarket tx list 7 --display-price 1.5`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "price", Usage: "Price in smallest units"},
			&cli.StringFlag{Name: "display-price", Usage: "Price in display units, e.g. 1.5"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: item ID")
			}
			id, err := txbuilder.ParseItemID(c.Args().First())
			if err != nil {
				return err
			}
			price, err := parsePriceFlags(c.String("price"), c.String("display-price"))
			if err != nil {
				return err
			}
			return runIntent(c, pipeline.ListForSaleIntent{ItemID: id, Price: price})
		},
	}
}

// parsePriceFlags accepts exactly one of a smallest-unit or display price.
func parsePriceFlags(price, displayPrice string) (uint64, error) {
	switch {
	case price != "" && displayPrice != "":
		return 0, errors.New("give either --price or --display-price, not both")
	case displayPrice != "":
		return currency.ParseDisplay(displayPrice)
	case price != "":
		return txbuilder.ParsePrice(price)
	default:
		return 0, errors.New("--price or --display-price is required")
	}
}

// runIntent wires a one-shot pipeline and submits intent through it.
func runIntent(c *cli.Context, intent pipeline.Intent) error {
	ledgerClient, cfg, err := getLedger(c)
	if err != nil {
		return err
	}
	logger := setupLogger(c.String("log-level"))

	cat := catalog.New(ledgerClient, cfg, nil, logger)
	signer := ledger.NewWalletSigner(c.String("wallet-url"), nil, logger)
	builder := txbuilder.New(moduleAddress(cfg), cfg.MarketplaceAddress)

	jsonOutput := c.Bool("json")
	var observers []pipeline.Observer
	if !jsonOutput {
		observers = append(observers, func(ev pipeline.Event) {
			fmt.Fprintf(os.Stderr, "  %s  %s\n", ev.Time.Format(time.TimeOnly), ev.Submission.State)
		})
		fmt.Fprintf(os.Stderr, "Submitting %s (approve it in your wallet)...\n", intent.Action())
	}

	p := pipeline.New(builder, ledgerClient, cat, signer, pipeline.Options{
		Observers: observers,
		Logger:    logger,
	})

	res, submitErr := p.Submit(c.Context, intent)
	if errors.Is(submitErr, pipeline.ErrDuplicateSubmission) {
		return submitErr
	}

	if jsonOutput {
		out := map[string]interface{}{
			"submission": res.Submission,
			"version":    res.Outcome.Version,
			"vm_status":  res.Outcome.VMStatus,
		}
		if res.RefreshErr != nil {
			out["refresh_error"] = res.RefreshErr.Error()
		}
		if err := outputJSON(out); err != nil {
			return err
		}
	} else {
		printSubmission(res)
	}

	if submitErr != nil {
		return fmt.Errorf("%s failed: %w", intent.Action(), submitErr)
	}
	return nil
}

func moduleAddress(cfg catalog.Config) string {
	if cfg.ModuleAddress != "" {
		return cfg.ModuleAddress
	}
	return cfg.MarketplaceAddress
}

func printSubmission(res pipeline.Result) {
	sub := res.Submission
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Submission:   %s\n", sub.ID)
	fmt.Printf("Action:       %s\n", sub.Action)
	fmt.Printf("State:        %s\n", sub.State)
	if sub.Hash != "" {
		fmt.Printf("Hash:         %s\n", sub.Hash)
	}
	if res.Outcome.Version != "" {
		fmt.Printf("Version:      %s\n", res.Outcome.Version)
	}
	if sub.FailureKind != "" {
		fmt.Printf("Failure:      %s\n", sub.FailureKind)
	}
	if sub.Error != "" {
		fmt.Printf("Error:        %s\n", sub.Error)
	}
	if res.RefreshErr != nil {
		fmt.Printf("Warning:      listings may be stale: %v\n", res.RefreshErr)
	}
	fmt.Printf("Took:         %s\n", sub.UpdatedAt.Sub(sub.CreatedAt).Round(time.Millisecond))
}

// formatUnits renders smallest units next to the display amount.
func formatUnits(units uint64) string {
	return fmt.Sprintf("%s (%s)", currency.Format(units), strconv.FormatUint(units, 10))
}
