// Package fees decides whether a settlement pays the basis-point
// protocol fee or consumes one of the user's pre-granted free-trade
// credits.
package fees

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/coinvest_unified/internal/admin"
	"github.com/Aidin1998/coinvest_unified/pkg/errs"
	"github.com/Aidin1998/coinvest_unified/pkg/models"
	"github.com/Aidin1998/coinvest_unified/pkg/numeric"
)

// Policy applies the fee schedule and manages free-trade credits.
type Policy struct {
	db       *gorm.DB
	admin    *admin.Config
	logger   *zap.Logger
	basisPts int64
}

// NewPolicy creates the fee policy. basisPts is the fee in basis points
// of gross settlement value (300 = 3%).
func NewPolicy(db *gorm.DB, adminCfg *admin.Config, basisPts int64, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{db: db, admin: adminCfg, logger: logger, basisPts: basisPts}
}

// WithTx returns a copy of the policy scoped to the given transaction.
func (p *Policy) WithTx(tx *gorm.DB) *Policy {
	c := *p
	c.db = tx
	return &c
}

// BasisPoints returns the configured fee rate.
func (p *Policy) BasisPoints() int64 { return p.basisPts }

// Apply settles the fee for one trade. A user holding at least one
// free-trade credit spends it and pays nothing; otherwise the
// basis-point fee is carved out of the gross value. Returns the net
// value, the fee, and whether a fee was charged.
func (p *Policy) Apply(ctx context.Context, user uuid.UUID, gross numeric.Value) (numeric.Value, numeric.Value, bool, error) {
	var row models.FreeTradeBalance
	err := p.db.WithContext(ctx).Where("user_id = ?", user).First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return numeric.Zero(), numeric.Zero(), false, fmt.Errorf("failed to read free trades: %w", err)
	}

	if row.Trades > 0 {
		row.Trades--
		row.UpdatedAt = time.Now()
		if err := p.db.WithContext(ctx).Save(&row).Error; err != nil {
			return numeric.Zero(), numeric.Zero(), false, fmt.Errorf("failed to consume free trade: %w", err)
		}
		return gross, numeric.Zero(), false, nil
	}

	fee, err := gross.MulBps(p.basisPts)
	if err != nil {
		return numeric.Zero(), numeric.Zero(), false, err
	}
	net, err := gross.Sub(fee)
	if err != nil {
		return numeric.Zero(), numeric.Zero(), false, err
	}
	return net, fee, true, nil
}

// Grant adds free-trade credits to each user. Administrator-only; the
// two arrays are index-aligned and must have equal length.
func (p *Policy) Grant(ctx context.Context, capability uuid.UUID, users []uuid.UUID, counts []uint64) error {
	if err := p.admin.Authorize(capability); err != nil {
		return err
	}
	if len(users) != len(counts) {
		return fmt.Errorf("users and counts: %w", errs.ErrLengthMismatch)
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, user := range users {
			var row models.FreeTradeBalance
			err := tx.Where("user_id = ?", user).First(&row).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				row = models.FreeTradeBalance{UserID: user, Trades: counts[i], UpdatedAt: time.Now()}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("failed to grant free trades: %w", err)
				}
			case err != nil:
				return fmt.Errorf("failed to read free trades: %w", err)
			default:
				row.Trades += counts[i]
				row.UpdatedAt = time.Now()
				if err := tx.Save(&row).Error; err != nil {
					return fmt.Errorf("failed to grant free trades: %w", err)
				}
			}
		}
		p.logger.Info("free trades granted", zap.Int("users", len(users)))
		return nil
	})
}

// FreeTrades returns the user's remaining credits.
func (p *Policy) FreeTrades(ctx context.Context, user uuid.UUID) (uint64, error) {
	var row models.FreeTradeBalance
	err := p.db.WithContext(ctx).Where("user_id = ?", user).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read free trades: %w", err)
	}
	return row.Trades, nil
}
