package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceSource retrieves the current USD price of a token by identifier.
type PriceSource interface {
	FetchTokenPrice(ctx context.Context, tokenID string) (decimal.Decimal, error)
}

// PortfolioSource retrieves a wallet's aggregate holdings value in USD.
type PortfolioSource interface {
	FetchPortfolioValue(ctx context.Context, wallet string) (decimal.Decimal, error)
}

// TransientError marks a fetch failure as retryable; the monitoring cycle
// skips the sample and continues on schedule.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient fetch failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError, preserving nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is a transient fetch failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
