package purchase

import "errors"

var (
	// ErrNotFound is returned for tracking ids that are not in the store
	ErrNotFound = errors.New("transaction not found")
	// ErrUnknownProduct is returned for product ids missing from the catalog
	ErrUnknownProduct = errors.New("unknown product")
	// ErrUnsupportedCurrency is returned for currencies the gateway is not offered
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrAlreadyCompleted is returned when cancelling a paid transaction
	ErrAlreadyCompleted = errors.New("transaction already completed")
	// ErrNoAddress is returned when the gateway has not assigned a payout address yet
	ErrNoAddress = errors.New("payment address not available")
)
