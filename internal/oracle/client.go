// Package oracle builds outbound price queries and decodes the
// provider's responses into fixed-point price vectors. The provider
// protocol follows cryptocompare's pricemulti endpoint: a comma list of
// symbols in, a sparse {"SYM":{"USD":<price>}} object out.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Aidin1998/coinvest_unified/internal/assets"
	"github.com/Aidin1998/coinvest_unified/pkg/errs"
	"github.com/Aidin1998/coinvest_unified/pkg/models"
	"github.com/Aidin1998/coinvest_unified/pkg/numeric"
)

// DefaultBaseURL is the provider endpoint queries are built against.
const DefaultBaseURL = "https://min-api.cryptocompare.com/data/pricemulti"

const quoteCurrency = "USD"

// Client crafts queries and decodes responses for registered assets.
type Client struct {
	registry *assets.Registry
	baseURL  string
}

// NewClient creates an oracle client. An empty baseURL selects the
// default provider endpoint.
func NewClient(registry *assets.Registry, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{registry: registry, baseURL: baseURL}
}

// WithTx returns a copy of the client whose registry reads are scoped
// to the given transaction.
func (c *Client) WithTx(tx *gorm.DB) *Client {
	cc := *c
	cc.registry = c.registry.WithTx(tx)
	return &cc
}

// CraftQuery builds the provider query string for the given order. The
// settlement token's own symbol always leads the list. A regular asset
// and its inverse counterpart resolve to the same base symbol and both
// appear when both are requested; only exact id repeats are collapsed.
// Unknown ids fail with ErrUnknownAsset.
func (c *Client) CraftQuery(ctx context.Context, settlement models.SettlementToken, assetIDs []uint32) (string, error) {
	symbols := []string{string(settlement)}
	seen := make(map[uint32]bool, len(assetIDs))
	for _, id := range assetIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		asset, err := c.registry.Get(ctx, id)
		if err != nil {
			return "", err
		}
		symbols = append(symbols, asset.Symbol)
	}
	// The provider expects a trailing comma after the last symbol.
	return fmt.Sprintf("%s?fsyms=%s,&tsyms=%s", c.baseURL, strings.Join(symbols, ","), quoteCurrency), nil
}

// DecodeResponse parses the provider payload and returns the price of
// every requested asset, index-aligned with assetIDs, together with the
// settlement token's own price. Inverse assets are priced as
// scale^2/basePrice, which truncates at the 18th fractional digit. A
// symbol absent from the payload fails the whole decode with
// ErrMissingPrice; nothing is settled partially.
func (c *Client) DecodeResponse(ctx context.Context, settlement models.SettlementToken, assetIDs []uint32, payload []byte) ([]numeric.Value, numeric.Value, error) {
	var raw map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, numeric.Zero(), fmt.Errorf("malformed oracle payload: %w", err)
	}

	settlementPrice, err := lookup(raw, string(settlement))
	if err != nil {
		return nil, numeric.Zero(), err
	}

	prices := make([]numeric.Value, len(assetIDs))
	for i, id := range assetIDs {
		asset, err := c.registry.Get(ctx, id)
		if err != nil {
			return nil, numeric.Zero(), err
		}
		price, err := lookup(raw, asset.Symbol)
		if err != nil {
			return nil, numeric.Zero(), err
		}
		if asset.IsInverse {
			price, err = price.Inverse()
			if err != nil {
				return nil, numeric.Zero(), fmt.Errorf("inverse price for asset %d: %w", id, err)
			}
		}
		prices[i] = price
	}
	return prices, settlementPrice, nil
}

func lookup(raw map[string]map[string]decimal.Decimal, symbol string) (numeric.Value, error) {
	quotes, ok := raw[symbol]
	if !ok {
		return numeric.Zero(), fmt.Errorf("symbol %s: %w", symbol, errs.ErrMissingPrice)
	}
	d, ok := quotes[quoteCurrency]
	if !ok {
		return numeric.Zero(), fmt.Errorf("symbol %s has no %s quote: %w", symbol, quoteCurrency, errs.ErrMissingPrice)
	}
	price, err := numeric.FromDecimal(d)
	if err != nil {
		return numeric.Zero(), fmt.Errorf("symbol %s: %w", symbol, err)
	}
	return price, nil
}
