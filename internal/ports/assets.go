package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// CollateralAsset mueve el token de colateral dentro y fuera de custodia.
type CollateralAsset interface {
	// TransferIn trae amount de la cuenta a custodia. La cuenta tiene que
	// haber aprobado la custodia antes.
	TransferIn(ctx context.Context, from common.Address, amount *uint256.Int) error

	// TransferOut paga amount desde custodia a la cuenta.
	TransferOut(ctx context.Context, to common.Address, amount *uint256.Int) error

	// Burn destruye amount de la custodia (fee de cierre).
	Burn(ctx context.Context, amount *uint256.Int) error

	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	Decimals(ctx context.Context) (uint8, error)
}

// SyntheticAsset es el ledger del pegged sobre el que el engine emite y quema.
type SyntheticAsset interface {
	Mint(ctx context.Context, to common.Address, amount *uint256.Int) error

	// BurnFrom destruye amount de holder. Falla con
	// domain.ErrInsufficientBalance si no le llega.
	BurnFrom(ctx context.Context, holder common.Address, amount *uint256.Int) error

	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	Decimals(ctx context.Context) (uint8, error)
}
