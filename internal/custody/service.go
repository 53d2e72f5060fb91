// Package custody implements the bank holding the settlement-token
// pool on behalf of all users. Outbound transfers are authorized only
// for the bound settlement engine; the settlement tokens themselves can
// never be swept out through stray-token recovery.
package custody

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/coinvest_unified/internal/admin"
	"github.com/Aidin1998/coinvest_unified/internal/tokens"
	"github.com/Aidin1998/coinvest_unified/pkg/errs"
	"github.com/Aidin1998/coinvest_unified/pkg/models"
	"github.com/Aidin1998/coinvest_unified/pkg/numeric"
)

type binding struct {
	mu       sync.RWMutex
	engineID uuid.UUID
}

// Service is the custody bank.
type Service struct {
	db        *gorm.DB
	admin     *admin.Config
	tokens    *tokens.Service
	logger    *zap.Logger
	bind      *binding
	accountID uuid.UUID
	coinToken string
	cashToken string
}

// NewService creates the custody bank over the two settlement tokens.
func NewService(db *gorm.DB, adminCfg *admin.Config, tokenSvc *tokens.Service, coinToken, cashToken string, logger *zap.Logger) *Service {
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
		coinToken: coinToken,
		cashToken: cashToken,
	}
}

// WithTx returns a copy of the service scoped to the given transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	c := *s
	c.db = tx
	c.tokens = s.tokens.WithTx(tx)
	return &c
}

// AccountID is the custody pool's token account.
func (s *Service) AccountID() uuid.UUID { return s.accountID }

// ChangeSettlementEngine rebinds the engine allowed to move custody
// funds.
func (s *Service) ChangeSettlementEngine(capability, engineID uuid.UUID) error {
	if err := s.admin.Authorize(capability); err != nil {
		return err
	}
	s.bind.mu.Lock()
	s.bind.engineID = engineID
	s.bind.mu.Unlock()
	s.logger.Info("settlement engine rebound on custody", zap.String("engine", engineID.String()))
	return nil
}

// Transfer moves amount of the selected settlement token from custody
// to the recipient. Engine-only; fails closed on insufficient balance.
func (s *Service) Transfer(ctx context.Context, caller, to uuid.UUID, amount numeric.Value, useCoin bool) error {
	s.bind.mu.RLock()
	engineID := s.bind.engineID
	s.bind.mu.RUnlock()
	if caller != engineID {
		return errs.ErrUnauthorized
	}
	return s.tokens.Transfer(ctx, s.settlementToken(useCoin), s.accountID, to, amount)
}

// Balance returns the custody pool balance of a settlement token.
func (s *Service) Balance(ctx context.Context, useCoin bool) (numeric.Value, error) {
	return s.tokens.BalanceOf(ctx, s.settlementToken(useCoin), s.accountID)
}

// TokenEscape sweeps a stray token off the custody account to the
// administrator's fee recipient. The settlement tokens belong to the
// pool and are never recoverable this way.
func (s *Service) TokenEscape(ctx context.Context, capability uuid.UUID, token string) error {
	if err := s.admin.Authorize(capability); err != nil {
		return err
	}
	if token == s.coinToken || token == s.cashToken {
		return fmt.Errorf("settlement token %s: %w", token, errs.ErrForbidden)
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

func (s *Service) settlementToken(useCoin bool) string {
	if useCoin {
		return s.coinToken
	}
	return s.cashToken
}

// SettlementTokenSymbol resolves the token identifier for a settlement
// denomination.
func (s *Service) SettlementTokenSymbol(settlement models.SettlementToken) string {
	return s.settlementToken(settlement == models.SettlementCoin)
}
