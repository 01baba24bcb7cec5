package market

import "errors"

// Every failed operation returns one of these (possibly wrapped) and leaves
// books, wallets and inventories exactly as they were.
var (
	ErrValidation              = errors.New("validation failed")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInsufficientInventory   = errors.New("insufficient inventory")
	ErrNotFound                = errors.New("order not found")
	ErrLiquidityUnavailable    = errors.New("liquidity unavailable")
	ErrCounterpartyUnavailable = errors.New("counterparty unavailable")
)
