// Package admin holds the administrator configuration shared by the
// investment services. Administrative operations authenticate with an
// opaque capability token instead of caller-address comparisons.
package admin

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Aidin1998/coinvest_unified/pkg/errs"
)

// Default gas price attached to outbound oracle queries, in wei.
const DefaultGasPrice uint64 = 20000000000

// Config is passed by reference to every service that exposes
// administrator operations.
type Config struct {
	mu           sync.RWMutex
	capability   uuid.UUID
	feeRecipient uuid.UUID
	gasPrice     uint64
	logger       *zap.Logger
}

// NewConfig creates the administrator configuration. The capability is
// the sole credential for administrative calls.
func NewConfig(capability, feeRecipient uuid.UUID, logger *zap.Logger) *Config {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Config{
		capability:   capability,
		feeRecipient: feeRecipient,
		gasPrice:     DefaultGasPrice,
		logger:       logger,
	}
}

// Authorize validates an administrative capability token.
func (c *Config) Authorize(capability uuid.UUID) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if capability != c.capability {
		return errs.ErrUnauthorized
	}
	return nil
}

// FeeRecipient returns the account credited with protocol fees and
// swept stray tokens.
func (c *Config) FeeRecipient() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feeRecipient
}

// SetFeeRecipient rebinds the fee recipient.
func (c *Config) SetFeeRecipient(capability, recipient uuid.UUID) error {
	if err := c.Authorize(capability); err != nil {
		return err
	}
	c.mu.Lock()
	c.feeRecipient = recipient
	c.mu.Unlock()
	c.logger.Info("fee recipient changed", zap.String("recipient", recipient.String()))
	return nil
}

// GasPrice returns the gas price attached to oracle queries.
func (c *Config) GasPrice() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gasPrice
}

// SetGasPrice updates the oracle query gas policy.
func (c *Config) SetGasPrice(capability uuid.UUID, price uint64) error {
	if err := c.Authorize(capability); err != nil {
		return err
	}
	c.mu.Lock()
	c.gasPrice = price
	c.mu.Unlock()
	c.logger.Info("oracle gas price changed", zap.Uint64("price", price))
	return nil
}
