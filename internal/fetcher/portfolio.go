package fetcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PortfolioOptions parameterise the on-chain holdings fetcher.
type PortfolioOptions struct {
	RPCURL      string
	BaseTokenID string
	Timeout     time.Duration
}

// Portfolio values a wallet's native holdings in USD: balance at the latest
// block priced through the market data API.
type Portfolio struct {
	opts      PortfolioOptions
	prices    PriceSource
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewPortfolio builds a portfolio value fetcher.
func NewPortfolio(opts PortfolioOptions, prices PriceSource, logger zerolog.Logger) *Portfolio {
	return &Portfolio{
		opts:   opts,
		prices: prices,
		logger: logger.With().Str("component", "portfolio_fetcher").Logger(),
	}
}

// FetchPortfolioValue retrieves the wallet's holdings value in USD.
func (p *Portfolio) FetchPortfolioValue(ctx context.Context, wallet string) (decimal.Decimal, error) {
	if p.opts.RPCURL == "" {
		return decimal.Decimal{}, errors.New("ethereum rpc url not configured")
	}
	if !common.IsHexAddress(wallet) {
		return decimal.Decimal{}, errors.New("wallet address is not a valid hex address")
	}

	timeout := p.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := p.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, Transient(err)
	}

	balanceWei, err := client.BalanceAt(ctx, common.HexToAddress(wallet), nil)
	if err != nil {
		return decimal.Decimal{}, Transient(err)
	}

	price, err := p.prices.FetchTokenPrice(ctx, p.opts.BaseTokenID)
	if err != nil {
		return decimal.Decimal{}, err
	}

	balance := decimal.NewFromBigInt(balanceWei, -18)
	value := balance.Mul(price)

	p.logger.Debug().
		Str("wallet", wallet).
		Str("balance", balance.String()).
		Str("value_usd", value.String()).
		Msg("portfolio valued")

	return value, nil
}

func (p *Portfolio) getClient(ctx context.Context) (*ethclient.Client, error) {
	p.clientMux.Lock()
	defer p.clientMux.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	client, err := ethclient.DialContext(ctx, p.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

var _ PortfolioSource = (*Portfolio)(nil)
