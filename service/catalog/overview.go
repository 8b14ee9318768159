package catalog

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// BalanceReader reads an account's coin balance in smallest units.
type BalanceReader interface {
	GetBalance(ctx context.Context, address string) (uint64, error)
}

// Overview is what the landing page shows: the account balance next to the
// freshly loaded listings.
type Overview struct {
	Address string
	Balance uint64
	View    ViewState
	Refresh RefreshResult
}

// LoadOverview refreshes the catalog and reads the balance of address
// concurrently. The two reads are independent; either failing fails the
// overview. An empty address skips the balance.
func LoadOverview(ctx context.Context, balances BalanceReader, c *Catalog, address string) (Overview, error) {
	ov := Overview{Address: address}

	g, gctx := errgroup.WithContext(ctx)
	if address != "" {
		g.Go(func() error {
			balance, err := balances.GetBalance(gctx, address)
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}
			ov.Balance = balance
			return nil
		})
	}
	g.Go(func() error {
		res, err := c.Refresh(gctx)
		if err != nil {
			return err
		}
		ov.Refresh = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}

	ov.View = c.View()
	return ov, nil
}
