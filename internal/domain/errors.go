package domain

import "errors"

// Errores de negocio. Las operaciones del engine los devuelven envueltos con
// contexto (fmt.Errorf("...: %w", err)); usar errors.Is para comprobarlos.
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrUnderwater             = errors.New("underwater")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrTransferFailed         = errors.New("transfer failed")
	ErrOracleUnavailable      = errors.New("oracle unavailable")
	ErrNoData                 = errors.New("no data")
	ErrSlippageExceeded       = errors.New("slippage exceeded")
	ErrNoDebt                 = errors.New("no debt")
	ErrUnauthorized           = errors.New("unauthorized")

	// ErrOverflow se devuelve cuando una operación aritmética se saldría del
	// rango de uint256 (incluido underflow): nunca se hace wrap.
	ErrOverflow = errors.New("arithmetic overflow")
	// ErrInvalidPrice marca un precio cero o negativo reportado por el oráculo.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrStalePrice lo devuelve la política de frescura sobre el oráculo.
	ErrStalePrice = errors.New("stale price")
)
