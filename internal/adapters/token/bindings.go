package token

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Custody ata un ledger de colateral a la cuenta de custodia del engine
// (ports.CollateralAsset). Los depósitos tiran del allowance que la cuenta
// concedió a custodia.
type Custody struct {
	ledger  *Ledger
	custody common.Address
}

func NewCustody(ledger *Ledger, custody common.Address) *Custody {
	return &Custody{ledger: ledger, custody: custody}
}

func (c *Custody) TransferIn(ctx context.Context, from common.Address, amount *uint256.Int) error {
	if err := c.ledger.TransferFrom(ctx, c.custody, from, c.custody, amount); err != nil {
		return fmt.Errorf("token.Custody.TransferIn: %w: %w", domain.ErrTransferFailed, err)
	}
	return nil
}

func (c *Custody) TransferOut(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if err := c.ledger.Transfer(ctx, c.custody, to, amount); err != nil {
		return fmt.Errorf("token.Custody.TransferOut: %w: %w", domain.ErrTransferFailed, err)
	}
	return nil
}

func (c *Custody) Burn(ctx context.Context, amount *uint256.Int) error {
	if err := c.ledger.Burn(ctx, c.custody, amount); err != nil {
		return fmt.Errorf("token.Custody.Burn: %w", err)
	}
	return nil
}

func (c *Custody) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return c.ledger.BalanceOf(ctx, account)
}

func (c *Custody) Decimals(ctx context.Context) (uint8, error) {
	return c.ledger.Decimals(ctx)
}

// Issuer expone un ledger como el asset sintético del engine
// (ports.SyntheticAsset), sin pasar por el rol de tesorería: el engine es el
// único emisor.
type Issuer struct {
	ledger *Ledger
}

func NewIssuer(ledger *Ledger) *Issuer {
	return &Issuer{ledger: ledger}
}

func (i *Issuer) Mint(_ context.Context, to common.Address, amount *uint256.Int) error {
	return i.ledger.mint(to, amount)
}

func (i *Issuer) BurnFrom(_ context.Context, holder common.Address, amount *uint256.Int) error {
	return i.ledger.burn(holder, amount)
}

func (i *Issuer) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	return i.ledger.Transfer(ctx, from, to, amount)
}

func (i *Issuer) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return i.ledger.BalanceOf(ctx, account)
}

func (i *Issuer) Decimals(ctx context.Context) (uint8, error) {
	return i.ledger.Decimals(ctx)
}
