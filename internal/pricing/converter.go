package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/mtds-alfa/kipu-bank-v2/internal/domain"
)

// QuoteDecimals is the fixed precision quotes are expected to carry.
const QuoteDecimals = 8

// normDecimals is the fixed-point width amounts are normalized to before
// multiplying by the quote.
const normDecimals = 18

// maxQuoteDecimals bounds the precision a source may report. Anything wider
// is a misconfigured or hostile feed, not a real quote.
const maxQuoteDecimals = 36

// Converter turns raw asset amounts into USD minor units using a price source.
// All arithmetic is exact integer math with floor division; the result is never
// rounded up, so a depositor can never push more nominal value through the cap
// check than is later redeemable.
type Converter struct {
	logger *slog.Logger
}

func NewConverter(logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{logger: logger}
}

// UsdValue converts amount (in the asset's native units, assetDecimals wide)
// into USD minor units (domain.UsdDecimals wide) at the source's latest quote.
// It fails with domain.ErrInvalidPrice if the quote is not positive.
func (c *Converter) UsdValue(ctx context.Context, asset domain.Asset, source Source, assetDecimals uint8, amount *big.Int) (*big.Int, error) {
	quote, err := source.LatestQuote(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch quote for %s: %w", asset, err)
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		price := quote.Price
		if price == nil {
			price = big.NewInt(0)
		}
		return nil, &domain.PriceError{Asset: asset, Quote: new(big.Int).Set(price)}
	}
	if quote.Decimals > maxQuoteDecimals {
		return nil, fmt.Errorf("quote for %s reports %d decimals (max %d): %w",
			asset, quote.Decimals, maxQuoteDecimals, domain.ErrInvalidPrice)
	}

	// usd = amount * 10^(18-assetDecimals) * price / 10^(quoteDecimals + 18 - usdDecimals)
	norm := new(big.Int).Set(amount)
	if assetDecimals < normDecimals {
		scale := pow10(normDecimals - int(assetDecimals))
		norm.Mul(norm, scale)
	}
	norm.Mul(norm, quote.Price)

	divisor := pow10(int(quote.Decimals) + normDecimals - domain.UsdDecimals)
	return norm.Quo(norm, divisor), nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
