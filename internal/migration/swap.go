// Package migration implements the one-way legacy token swap: holders
// approve the facility for an amount of the old token and receive the
// replacement token 1:1.
package migration

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/coinvest_unified/internal/tokens"
	"github.com/Aidin1998/coinvest_unified/pkg/errs"
	"github.com/Aidin1998/coinvest_unified/pkg/numeric"
)

// Facility exchanges the legacy token for its replacement at par. It
// implements tokens.ApprovalReceiver so holders can swap in a single
// approve-and-call step.
type Facility struct {
	db        *gorm.DB
	tokens    *tokens.Service
	logger    *zap.Logger
	accountID uuid.UUID
	oldToken  string
	newToken  string
}

// NewFacility creates the swap facility. The facility's account must be
// funded with enough of the new token to honor incoming swaps.
func NewFacility(db *gorm.DB, tokenSvc *tokens.Service, oldToken, newToken string, logger *zap.Logger) *Facility {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facility{
		db:        db,
		tokens:    tokenSvc,
		logger:    logger,
		accountID: uuid.New(),
		oldToken:  oldToken,
		newToken:  newToken,
	}
}

// AccountID is the facility's token account, the spender holders
// approve and the reserve the new token is paid from.
func (f *Facility) AccountID() uuid.UUID { return f.accountID }

// OldToken is the legacy token being retired.
func (f *Facility) OldToken() string { return f.oldToken }

// NewToken is the replacement token paid out at par.
func (f *Facility) NewToken() string { return f.newToken }

// ReceiveApproval pulls the approved amount of the legacy token and
// pays out the replacement 1:1, atomically. Approvals in any other
// token are rejected.
func (f *Facility) ReceiveApproval(ctx context.Context, token string, from uuid.UUID, amount numeric.Value) error {
	if token != f.oldToken {
		return fmt.Errorf("token %s is not the legacy token: %w", token, errs.ErrUnauthorized)
	}

	err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tok := f.tokens.WithTx(tx)
		if err := tok.TransferFrom(ctx, f.oldToken, f.accountID, from, f.accountID, amount); err != nil {
			return err
		}
		return tok.Transfer(ctx, f.newToken, f.accountID, from, amount)
	})
	if err != nil {
		return err
	}

	f.logger.Info("legacy tokens swapped",
		zap.String("holder", from.String()),
		zap.String("amount", amount.String()))
	return nil
}
