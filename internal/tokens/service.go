// Package tokens implements the balance-and-allowance store for the
// settlement tokens (COIN, CASH) and any foreign token that ends up in
// a service account. It mirrors the transfer/approve/transferFrom
// protocol the custody and migration components settle through.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Aidin1998/coinvest_unified/pkg/models"
	"github.com/Aidin1998/coinvest_unified/pkg/numeric"
)

// ApprovalReceiver is implemented by components that accept
// approve-and-call transfers, such as the legacy migration facility.
type ApprovalReceiver interface {
	AccountID() uuid.UUID
	ReceiveApproval(ctx context.Context, token string, from uuid.UUID, amount numeric.Value) error
}

// Service implements the token store on a shared gorm database.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a token service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, logger: logger}
}

// WithTx returns a copy of the service scoped to the given transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	c := *s
	c.db = tx
	return &c
}

// BalanceOf returns the holder's balance, zero if no row exists.
func (s *Service) BalanceOf(ctx context.Context, token string, holder uuid.UUID) (numeric.Value, error) {
	var row models.TokenBalance
	err := s.db.WithContext(ctx).
		Where("token = ? AND holder = ?", token, holder).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return numeric.Zero(), nil
	}
	if err != nil {
		return numeric.Zero(), fmt.Errorf("failed to read %s balance: %w", token, err)
	}
	return row.Balance, nil
}

// Mint credits freshly issued tokens to a holder.
func (s *Service) Mint(ctx context.Context, token string, to uuid.UUID, amount numeric.Value) error {
	return s.credit(ctx, token, to, amount)
}

// Transfer moves tokens between holders, failing closed when the
// sender's balance is insufficient.
func (s *Service) Transfer(ctx context.Context, token string, from, to uuid.UUID, amount numeric.Value) error {
	if err := s.debit(ctx, token, from, amount); err != nil {
		return err
	}
	return s.credit(ctx, token, to, amount)
}

// Approve authorizes spender to pull up to amount of owner's tokens.
func (s *Service) Approve(ctx context.Context, token string, owner, spender uuid.UUID, amount numeric.Value) error {
	row := models.TokenAllowance{
		Token:     token,
		Owner:     owner,
		Spender:   spender,
		Amount:    amount,
		UpdatedAt: time.Now(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}, {Name: "owner"}, {Name: "spender"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to set %s allowance: %w", token, err)
	}
	return nil
}

// Allowance returns the remaining amount spender may pull from owner.
func (s *Service) Allowance(ctx context.Context, token string, owner, spender uuid.UUID) (numeric.Value, error) {
	var row models.TokenAllowance
	err := s.db.WithContext(ctx).
		Where("token = ? AND owner = ? AND spender = ?", token, owner, spender).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return numeric.Zero(), nil
	}
	if err != nil {
		return numeric.Zero(), fmt.Errorf("failed to read %s allowance: %w", token, err)
	}
	return row.Amount, nil
}

// TransferFrom moves owner's tokens to a recipient on the strength of a
// prior approval to spender. The allowance is reduced by the amount.
func (s *Service) TransferFrom(ctx context.Context, token string, spender, owner, to uuid.UUID, amount numeric.Value) error {
	var row models.TokenAllowance
	err := s.db.WithContext(ctx).
		Where("token = ? AND owner = ? AND spender = ?", token, owner, spender).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("no %s allowance from %s to %s", token, owner, spender)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s allowance: %w", token, err)
	}

	remaining, err := row.Amount.Sub(amount)
	if err != nil {
		return fmt.Errorf("%s allowance exceeded: %w", token, err)
	}
	row.Amount = remaining
	row.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to update %s allowance: %w", token, err)
	}

	return s.Transfer(ctx, token, owner, to, amount)
}

// ApproveAndCall approves the receiver's account and hands control to
// its approval hook in one step, mirroring the legacy token's
// approveAndCall entry point.
func (s *Service) ApproveAndCall(ctx context.Context, token string, owner uuid.UUID, amount numeric.Value, receiver ApprovalReceiver) error {
	if err := s.Approve(ctx, token, owner, receiver.AccountID(), amount); err != nil {
		return err
	}
	return receiver.ReceiveApproval(ctx, token, owner, amount)
}

func (s *Service) debit(ctx context.Context, token string, holder uuid.UUID, amount numeric.Value) error {
	var row models.TokenBalance
	err := s.db.WithContext(ctx).
		Where("token = ? AND holder = ?", token, holder).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("insufficient %s balance for %s", token, holder)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s balance: %w", token, err)
	}

	remaining, err := row.Balance.Sub(amount)
	if err != nil {
		return fmt.Errorf("insufficient %s balance for %s: %w", token, holder, err)
	}
	row.Balance = remaining
	row.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to update %s balance: %w", token, err)
	}
	return nil
}

func (s *Service) credit(ctx context.Context, token string, holder uuid.UUID, amount numeric.Value) error {
	var row models.TokenBalance
	err := s.db.WithContext(ctx).
		Where("token = ? AND holder = ?", token, holder).
		First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = models.TokenBalance{Token: token, Holder: holder, Balance: amount, UpdatedAt: time.Now()}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to create %s balance: %w", token, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to read %s balance: %w", token, err)
	}

	total, err := row.Balance.Add(amount)
	if err != nil {
		return fmt.Errorf("%s balance overflow for %s: %w", token, holder, err)
	}
	row.Balance = total
	row.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("failed to update %s balance: %w", token, err)
	}
	return nil
}
