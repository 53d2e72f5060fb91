// Package models holds the persistent data model shared by the
// investment services.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/coinvest_unified/pkg/numeric"
)

// SettlementToken selects which of the two settlement tokens an order
// is denominated in.
type SettlementToken string

const (
	SettlementCoin SettlementToken = "COIN"
	SettlementCash SettlementToken = "CASH"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus is the lifecycle state of a pending order. There is no
// cancelled state: an order the oracle never answers stays pending.
type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderSettled OrderStatus = "settled"
)

// Asset is a registry entry mapping an asset id to its market symbol.
// An inverse asset shares the symbol of its regular counterpart and is
// priced as its reciprocal. Entries are append-only.
type Asset struct {
	ID        uint32          `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Symbol    string          `json:"symbol" gorm:"index"`
	BasePrice decimal.Decimal `json:"base_price" gorm:"type:numeric"`
	IsInverse bool            `json:"is_inverse"`
	CreatedAt time.Time       `json:"created_at"`
}

// PendingOrder is a phase-1 order awaiting its oracle price callback.
// RequestID is the sole external handle; the row is the engine's alone.
type PendingOrder struct {
	RequestID   uuid.UUID       `json:"request_id" gorm:"primaryKey;type:uuid"`
	Beneficiary uuid.UUID       `json:"beneficiary" gorm:"type:uuid;index"`
	AssetIDs    []uint32        `json:"asset_ids" gorm:"serializer:json"`
	Amounts     []numeric.Value `json:"amounts" gorm:"serializer:json"`
	Side        OrderSide       `json:"side"`
	Settlement  SettlementToken `json:"settlement"`
	Status      OrderStatus     `json:"status" gorm:"index"`
	CreatedAt   time.Time       `json:"created_at"`
	SettledAt   *time.Time      `json:"settled_at"`
}

// Holding is a user's balance of one registered asset.
type Holding struct {
	UserID    uuid.UUID     `json:"user_id" gorm:"primaryKey;type:uuid"`
	AssetID   uint32        `json:"asset_id" gorm:"primaryKey;autoIncrement:false"`
	Balance   numeric.Value `json:"balance" gorm:"type:string"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// FreeTradeBalance is the number of fee waivers a user still holds.
type FreeTradeBalance struct {
	UserID    uuid.UUID `json:"user_id" gorm:"primaryKey;type:uuid"`
	Trades    uint64    `json:"trades"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenBalance is a holder's balance of one token. Settlement tokens
// and stray foreign tokens share the table.
type TokenBalance struct {
	Token     string        `json:"token" gorm:"primaryKey"`
	Holder    uuid.UUID     `json:"holder" gorm:"primaryKey;type:uuid"`
	Balance   numeric.Value `json:"balance" gorm:"type:string"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// TokenAllowance authorizes a spender to pull an owner's tokens.
type TokenAllowance struct {
	Token     string        `json:"token" gorm:"primaryKey"`
	Owner     uuid.UUID     `json:"owner" gorm:"primaryKey;type:uuid"`
	Spender   uuid.UUID     `json:"spender" gorm:"primaryKey;type:uuid"`
	Amount    numeric.Value `json:"amount" gorm:"type:string"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Delegation lets a delegate place orders on behalf of a beneficiary.
type Delegation struct {
	Beneficiary uuid.UUID `json:"beneficiary" gorm:"primaryKey;type:uuid"`
	Delegate    uuid.UUID `json:"delegate" gorm:"primaryKey;type:uuid"`
	CreatedAt   time.Time `json:"created_at"`
}

// All returns every model for migration.
func All() []interface{} {
	return []interface{}{
		&Asset{},
		&PendingOrder{},
		&Holding{},
		&FreeTradeBalance{},
		&TokenBalance{},
		&TokenAllowance{},
		&Delegation{},
	}
}
