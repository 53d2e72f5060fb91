package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/Aidin1998/coinvest_unified/pkg/models"
	"github.com/Aidin1998/coinvest_unified/pkg/numeric"
)

// SettlementsChannel carries settlement confirmations to subscribers.
const SettlementsChannel = "coinvest.settlements"

// SettlementConfirmation is published after an order settles.
type SettlementConfirmation struct {
	RequestID   uuid.UUID              `json:"request_id"`
	Beneficiary uuid.UUID              `json:"beneficiary"`
	Side        models.OrderSide       `json:"side"`
	Settlement  models.SettlementToken `json:"settlement"`
	GrossValue  numeric.Value          `json:"gross_value"`
	NetValue    numeric.Value          `json:"net_value"`
	Fee         numeric.Value          `json:"fee"`
	FreeTrade   bool                   `json:"free_trade"`
	SettledAt   time.Time              `json:"settled_at"`
}
