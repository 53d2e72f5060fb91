// Package ledger implements the per-user holdings store. Balances are
// mutated only by the bound settlement engine; the administrator may
// rebind the engine and sweep stray tokens off the ledger's account.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/coinvest_unified/internal/admin"
	"github.com/Aidin1998/coinvest_unified/internal/tokens"
	"github.com/Aidin1998/coinvest_unified/pkg/errs"
	"github.com/Aidin1998/coinvest_unified/pkg/models"
	"github.com/Aidin1998/coinvest_unified/pkg/numeric"
)

// binding is the rebindable engine identity, shared by transaction-
// scoped copies of the service.
type binding struct {
	mu       sync.RWMutex
	engineID uuid.UUID
}

func (b *binding) check(caller uuid.UUID) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if caller != b.engineID {
		return errs.ErrUnauthorized
	}
	return nil
}

// Service is the holdings ledger.
type Service struct {
	db        *gorm.DB
	admin     *admin.Config
	tokens    *tokens.Service
	logger    *zap.Logger
	bind      *binding
	accountID uuid.UUID
}

// NewService creates the ledger. The engine is bound later via
// ChangeSettlementEngine.
func NewService(db *gorm.DB, adminCfg *admin.Config, tokenSvc *tokens.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:        db,
		admin:     adminCfg,
		tokens:    tokenSvc,
		logger:    logger,
		bind:      &binding{},
		accountID: uuid.New(),
	}
}

// WithTx returns a copy of the service scoped to the given transaction.
// The engine binding stays shared.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	c := *s
	c.db = tx
	c.tokens = s.tokens.WithTx(tx)
	return &c
}

// AccountID is the ledger's own token account, the destination of
// stray transfers recoverable via TokenEscape.
func (s *Service) AccountID() uuid.UUID { return s.accountID }

// ChangeSettlementEngine rebinds the engine allowed to mutate holdings.
func (s *Service) ChangeSettlementEngine(capability, engineID uuid.UUID) error {
	if err := s.admin.Authorize(capability); err != nil {
		return err
	}
	s.bind.mu.Lock()
	s.bind.engineID = engineID
	s.bind.mu.Unlock()
	s.logger.Info("settlement engine rebound on ledger", zap.String("engine", engineID.String()))
	return nil
}

// Increase credits amount of assetID to the user. Engine-only.
func (s *Service) Increase(ctx context.Context, caller, user uuid.UUID, assetID uint32, amount numeric.Value) error {
	if err := s.bind.check(caller); err != nil {
		return err
	}

	var row models.Holding
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND asset_id = ?", user, assetID).
		First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.Holding{UserID: user, AssetID: assetID, Balance: amount, UpdatedAt: time.Now()}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create holding: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to read holding: %w", err)
	}

	total, err := row.Balance.Add(amount)
	if err != nil {
		return fmt.Errorf("holding overflow for asset %d: %w", assetID, err)
	}
	row.Balance = total
	row.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to update holding: %w", err)
	}
	return nil
}

// Decrease debits amount of assetID from the user, failing with
// ErrInsufficientHoldings on underflow. Engine-only.
func (s *Service) Decrease(ctx context.Context, caller, user uuid.UUID, assetID uint32, amount numeric.Value) error {
	if err := s.bind.check(caller); err != nil {
		return err
	}

	var row models.Holding
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND asset_id = ?", user, assetID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("asset %d: %w", assetID, errs.ErrInsufficientHoldings)
	}
	if err != nil {
		return fmt.Errorf("failed to read holding: %w", err)
	}

	remaining, err := row.Balance.Sub(amount)
	if err != nil {
		return fmt.Errorf("asset %d: %w", assetID, errs.ErrInsufficientHoldings)
	}
	row.Balance = remaining
	row.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to update holding: %w", err)
	}
	return nil
}

// Balance returns the user's balance of one asset, zero when unset.
func (s *Service) Balance(ctx context.Context, user uuid.UUID, assetID uint32) (numeric.Value, error) {
	var row models.Holding
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND asset_id = ?", user, assetID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return numeric.Zero(), nil
	}
	if err != nil {
		return numeric.Zero(), fmt.Errorf("failed to read holding: %w", err)
	}
	return row.Balance, nil
}

// ReturnHoldings returns the user's balances for asset ids start
// through end inclusive; index i holds the balance of id start+i.
func (s *Service) ReturnHoldings(ctx context.Context, user uuid.UUID, start, end uint32) ([]numeric.Value, error) {
	if end < start {
		return nil, fmt.Errorf("holdings range [%d,%d]: %w", start, end, errs.ErrLengthMismatch)
	}

	var rows []models.Holding
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND asset_id BETWEEN ? AND ?", user, start, end).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read holdings: %w", err)
	}

	out := make([]numeric.Value, end-start+1)
	for _, row := range rows {
		out[row.AssetID-start] = row.Balance
	}
	return out, nil
}

// TokenEscape sweeps the ledger account's full balance of a stray
// token to the administrator's fee recipient.
func (s *Service) TokenEscape(ctx context.Context, capability uuid.UUID, token string) error {
	if err := s.admin.Authorize(capability); err != nil {
		return err
	}
	balance, err := s.tokens.BalanceOf(ctx, token, s.accountID)
	if err != nil {
		return err
	}
	if balance.IsZero() {
		return nil
	}
	return s.tokens.Transfer(ctx, token, s.accountID, s.admin.FeeRecipient(), balance)
}
