// Package engine implements the order-settlement state machine. Phase
// one registers a pending order and emits a price query; phase two is
// the asynchronous oracle callback that prices, fees and settles the
// order atomically against the holdings ledger and the custody pool.
package engine

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
	"github.com/Aidin1998/coinvest_unified/internal/assets"
	"github.com/Aidin1998/coinvest_unified/internal/custody"
	"github.com/Aidin1998/coinvest_unified/internal/fees"
	"github.com/Aidin1998/coinvest_unified/internal/ledger"
	"github.com/Aidin1998/coinvest_unified/internal/oracle"
	"github.com/Aidin1998/coinvest_unified/internal/tokens"
	"github.com/Aidin1998/coinvest_unified/internal/valuation"
	"github.com/Aidin1998/coinvest_unified/pkg/errs"
	"github.com/Aidin1998/coinvest_unified/pkg/metrics"
	"github.com/Aidin1998/coinvest_unified/pkg/models"
	"github.com/Aidin1998/coinvest_unified/pkg/numeric"
)

// OracleGateway emits crafted price queries toward the oracle bridge.
type OracleGateway interface {
	PublishQuery(ctx context.Context, requestID uuid.UUID, query string, gasPrice uint64) error
}

// EventPublisher distributes settlement confirmations. May be nil.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, msg interface{}) error
}

// Engine owns the pending-order records and orchestrates settlement.
type Engine struct {
	db      *gorm.DB
	logger  *zap.Logger
	admin   *admin.Config
	id      uuid.UUID
	oracle  *oracle.Client
	fees    *fees.Policy
	tokens  *tokens.Service
	gateway OracleGateway
	events  EventPublisher

	// Rebindable collaborators, swapped by RebindContracts.
	mu      sync.RWMutex
	ledger  *ledger.Service
	custody *custody.Service
}

// New creates the settlement engine. The engine's id doubles as its
// token account: buyers approve it as spender before placing orders.
func New(
	db *gorm.DB,
	adminCfg *admin.Config,
	oracleClient *oracle.Client,
	feePolicy *fees.Policy,
	ledgerSvc *ledger.Service,
	custodySvc *custody.Service,
	tokenSvc *tokens.Service,
	gateway OracleGateway,
	events EventPublisher,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:      db,
		logger:  logger,
		admin:   adminCfg,
		id:      uuid.New(),
		oracle:  oracleClient,
		fees:    feePolicy,
		ledger:  ledgerSvc,
		custody: custodySvc,
		tokens:  tokenSvc,
		gateway: gateway,
		events:  events,
	}
}

// ID is the engine's identity, bound into the ledger and custody
// services and used as the token spender for buy orders.
func (e *Engine) ID() uuid.UUID { return e.id }

// RebindContracts swaps the custody and ledger collaborators.
// Administrator-only; the settlement token identifiers ride along
// inside the custody service.
func (e *Engine) RebindContracts(capability uuid.UUID, custodySvc *custody.Service, ledgerSvc *ledger.Service) error {
	if err := e.admin.Authorize(capability); err != nil {
		return err
	}
	e.mu.Lock()
	e.custody = custodySvc
	e.ledger = ledgerSvc
	e.mu.Unlock()
	e.logger.Info("contracts rebound on engine")
	return nil
}

// SweepToken moves stray tokens off the engine's own account to the
// administrator's fee recipient. Administrator-only.
func (e *Engine) SweepToken(ctx context.Context, capability uuid.UUID, token string, amount numeric.Value) error {
	if err := e.admin.Authorize(capability); err != nil {
		return err
	}
	return e.tokens.Transfer(ctx, token, e.id, e.admin.FeeRecipient(), amount)
}

// Delegate authorizes delegate to place orders for the beneficiary.
func (e *Engine) Delegate(ctx context.Context, beneficiary, delegate uuid.UUID) error {
	row := models.Delegation{Beneficiary: beneficiary, Delegate: delegate, CreatedAt: time.Now()}
	err := e.db.WithContext(ctx).
		Where("beneficiary = ? AND delegate = ?", beneficiary, delegate).
		FirstOrCreate(&row).Error
	if err != nil {
		return fmt.Errorf("failed to record delegation: %w", err)
	}
	return nil
}

// RevokeDelegate removes a prior delegation.
func (e *Engine) RevokeDelegate(ctx context.Context, beneficiary, delegate uuid.UUID) error {
	err := e.db.WithContext(ctx).
		Where("beneficiary = ? AND delegate = ?", beneficiary, delegate).
		Delete(&models.Delegation{}).Error
	if err != nil {
		return fmt.Errorf("failed to revoke delegation: %w", err)
	}
	return nil
}

// Buy registers a buy order for the beneficiary and emits its price
// query. The settlement funds are pulled in phase two via the
// beneficiary's prior token approval of the engine, so a callback can
// never settle for more than the beneficiary authorized.
func (e *Engine) Buy(ctx context.Context, caller, beneficiary uuid.UUID, assetIDs []uint32, amounts []numeric.Value, useCoin bool) (uuid.UUID, error) {
	return e.place(ctx, models.SideBuy, caller, beneficiary, assetIDs, amounts, useCoin)
}

// Sell registers a sell order, validating the beneficiary's recorded
// holdings cover every requested amount.
func (e *Engine) Sell(ctx context.Context, caller, beneficiary uuid.UUID, assetIDs []uint32, amounts []numeric.Value, useCoin bool) (uuid.UUID, error) {
	return e.place(ctx, models.SideSell, caller, beneficiary, assetIDs, amounts, useCoin)
}

func (e *Engine) place(ctx context.Context, side models.OrderSide, caller, beneficiary uuid.UUID, assetIDs []uint32, amounts []numeric.Value, useCoin bool) (uuid.UUID, error) {
	if len(assetIDs) == 0 || len(assetIDs) != len(amounts) {
		return uuid.Nil, fmt.Errorf("asset ids and amounts: %w", errs.ErrLengthMismatch)
	}
	if caller != beneficiary && !e.delegated(ctx, beneficiary, caller) {
		return uuid.Nil, fmt.Errorf("caller %s for beneficiary %s: %w", caller, beneficiary, errs.ErrUnauthorized)
	}

	settlement := settlementFor(useCoin)
	// Exchange orders never touch holdings, so the sell-side balance
	// check applies only to the generic path.
	if side == models.SideSell && !isExchangeShape(settlement, assetIDs) {
		led := e.ledgerSvc()
		for i, id := range assetIDs {
			balance, err := led.Balance(ctx, beneficiary, id)
			if err != nil {
				return uuid.Nil, err
			}
			if balance.Cmp(amounts[i]) < 0 {
				return uuid.Nil, fmt.Errorf("asset %d: %w", id, errs.ErrInsufficientHoldings)
			}
		}
	}

	query, err := e.oracle.CraftQuery(ctx, settlement, assetIDs)
	if err != nil {
		return uuid.Nil, err
	}

	order := models.PendingOrder{
		RequestID:   uuid.New(),
		Beneficiary: beneficiary,
		AssetIDs:    assetIDs,
		Amounts:     amounts,
		Side:        side,
		Settlement:  settlement,
		Status:      models.OrderPending,
		CreatedAt:   time.Now(),
	}
	if err := e.db.WithContext(ctx).Create(&order).Error; err != nil {
		return uuid.Nil, fmt.Errorf("failed to register order: %w", err)
	}

	if err := e.gateway.PublishQuery(ctx, order.RequestID, query, e.admin.GasPrice()); err != nil {
		// Phase one is all-or-nothing: without an emitted query the
		// order could never settle, so unregister it.
		if delErr := e.db.WithContext(ctx).Delete(&order).Error; delErr != nil {
			e.logger.Error("failed to unregister order after publish failure",
				zap.Error(delErr),
				zap.String("request_id", order.RequestID.String()))
		}
		return uuid.Nil, fmt.Errorf("failed to emit oracle query: %w", err)
	}

	metrics.OrdersPlaced.WithLabelValues(string(side)).Inc()
	e.logger.Info("order registered",
		zap.String("request_id", order.RequestID.String()),
		zap.String("side", string(side)),
		zap.String("beneficiary", beneficiary.String()),
		zap.String("settlement", string(settlement)))
	return order.RequestID, nil
}

// HandlePriceResponse settles the pending order identified by the
// correlation id. The whole step runs in one database transaction: any
// failure leaves ledger, custody, fee credits and the order untouched,
// and the oracle bridge may redeliver. Redelivery for an order already
// settled is a no-op; an id that was never registered fails with
// ErrUnknownOrder.
func (e *Engine) HandlePriceResponse(ctx context.Context, requestID uuid.UUID, payload []byte) error {
	start := time.Now()
	var conf *SettlementConfirmation

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.PendingOrder
		err := tx.Where("request_id = ?", requestID).First(&order).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("request %s: %w", requestID, errs.ErrUnknownOrder)
		}
		if err != nil {
			return fmt.Errorf("failed to load order: %w", err)
		}
		if order.Status == models.OrderSettled {
			e.logger.Info("duplicate price callback ignored",
				zap.String("request_id", requestID.String()))
			return nil
		}

		prices, settlementPrice, err := e.oracle.WithTx(tx).DecodeResponse(ctx, order.Settlement, order.AssetIDs, payload)
		if err != nil {
			return err
		}
		gross, err := valuation.CalculateValue(order.Amounts, prices, settlementPrice)
		if err != nil {
			return err
		}
		net, fee, charged, err := e.fees.WithTx(tx).Apply(ctx, order.Beneficiary, gross)
		if err != nil {
			return err
		}

		if e.isExchange(&order) {
			err = e.settleExchange(ctx, tx, &order, gross, net, fee, charged)
		} else if order.Side == models.SideBuy {
			err = e.settleBuy(ctx, tx, &order, gross, fee, charged)
		} else {
			err = e.settleSell(ctx, tx, &order, net, fee, charged)
		}
		if err != nil {
			return err
		}

		now := time.Now()
		order.Status = models.OrderSettled
		order.SettledAt = &now
		if err := tx.Save(&order).Error; err != nil {
			return fmt.Errorf("failed to consume order: %w", err)
		}

		conf = &SettlementConfirmation{
			RequestID:   order.RequestID,
			Beneficiary: order.Beneficiary,
			Side:        order.Side,
			Settlement:  order.Settlement,
			GrossValue:  gross,
			NetValue:    net,
			Fee:         fee,
			FreeTrade:   !charged,
			SettledAt:   now,
		}
		return nil
	})
	if err != nil {
		metrics.SettlementFailures.Inc()
		return err
	}

	metrics.SettlementLatency.Observe(time.Since(start).Seconds())
	if conf != nil {
		metrics.OrdersSettled.WithLabelValues(string(conf.Side)).Inc()
		if !conf.Fee.IsZero() {
			feeUnits, _ := conf.Fee.Decimal().Float64()
			metrics.FeesCollected.WithLabelValues(string(conf.Settlement)).Add(feeUnits)
		}
		e.publish(ctx, conf)
		e.logger.Info("order settled",
			zap.String("request_id", conf.RequestID.String()),
			zap.String("side", string(conf.Side)),
			zap.String("gross", conf.GrossValue.String()),
			zap.String("fee", conf.Fee.String()))
	}
	return nil
}

// settleBuy charges the fee on top of the gross value: custody receives
// the full gross so a later sell of the same holdings can pay out net
// plus fee without shorting the pool.
func (e *Engine) settleBuy(ctx context.Context, tx *gorm.DB, order *models.PendingOrder, gross, fee numeric.Value, charged bool) error {
	led, cus := e.collaborators()
	led, cus = led.WithTx(tx), cus.WithTx(tx)
	tok := e.tokens.WithTx(tx)

	for i, id := range order.AssetIDs {
		if err := led.Increase(ctx, e.id, order.Beneficiary, id, order.Amounts[i]); err != nil {
			return err
		}
	}

	sym := cus.SettlementTokenSymbol(order.Settlement)
	if err := tok.TransferFrom(ctx, sym, e.id, order.Beneficiary, cus.AccountID(), gross); err != nil {
		return err
	}
	if charged && !fee.IsZero() {
		if err := tok.TransferFrom(ctx, sym, e.id, order.Beneficiary, e.admin.FeeRecipient(), fee); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) settleSell(ctx context.Context, tx *gorm.DB, order *models.PendingOrder, net, fee numeric.Value, charged bool) error {
	led, cus := e.collaborators()
	led, cus = led.WithTx(tx), cus.WithTx(tx)

	for i, id := range order.AssetIDs {
		if err := led.Decrease(ctx, e.id, order.Beneficiary, id, order.Amounts[i]); err != nil {
			return err
		}
	}

	useCoin := order.Settlement == models.SettlementCoin
	if err := cus.Transfer(ctx, e.id, order.Beneficiary, net, useCoin); err != nil {
		return err
	}
	if charged && !fee.IsZero() {
		if err := cus.Transfer(ctx, e.id, e.admin.FeeRecipient(), fee, useCoin); err != nil {
			return err
		}
	}
	return nil
}

// settleExchange performs the COIN<->CASH par conversion: the order's
// single asset is the opposite settlement token, so the gross value
// crosses between the two custody pools at 1:1 instead of touching
// holdings. Fees follow the generic paths: on top for buys, carved out
// of the payout for sells.
func (e *Engine) settleExchange(ctx context.Context, tx *gorm.DB, order *models.PendingOrder, gross, net, fee numeric.Value, charged bool) error {
	_, cus := e.collaborators()
	cus = cus.WithTx(tx)
	tok := e.tokens.WithTx(tx)

	settlementIsCoin := order.Settlement == models.SettlementCoin
	settleSym := cus.SettlementTokenSymbol(order.Settlement)
	counterSym := cus.SettlementTokenSymbol(counterOf(order.Settlement))

	if order.Side == models.SideBuy {
		// The beneficiary pays gross plus fee in the settlement token
		// and receives the gross value of the counter token at par.
		if err := tok.TransferFrom(ctx, settleSym, e.id, order.Beneficiary, cus.AccountID(), gross); err != nil {
			return err
		}
		if charged && !fee.IsZero() {
			if err := tok.TransferFrom(ctx, settleSym, e.id, order.Beneficiary, e.admin.FeeRecipient(), fee); err != nil {
				return err
			}
		}
		return cus.Transfer(ctx, e.id, order.Beneficiary, gross, !settlementIsCoin)
	}

	// Sell: the gross counter value moves into custody at par; the
	// beneficiary receives net and the fee leaves custody as in the
	// generic sell path.
	if err := tok.TransferFrom(ctx, counterSym, e.id, order.Beneficiary, cus.AccountID(), gross); err != nil {
		return err
	}
	if err := cus.Transfer(ctx, e.id, order.Beneficiary, net, settlementIsCoin); err != nil {
		return err
	}
	if charged && !fee.IsZero() {
		return cus.Transfer(ctx, e.id, e.admin.FeeRecipient(), fee, settlementIsCoin)
	}
	return nil
}

// isExchange reports whether the order is exactly the single designated
// exchange asset id for its settlement token. Mixing the exchange id
// with any other id keeps the generic path.
func (e *Engine) isExchange(order *models.PendingOrder) bool {
	return isExchangeShape(order.Settlement, order.AssetIDs)
}

func isExchangeShape(settlement models.SettlementToken, assetIDs []uint32) bool {
	if len(assetIDs) != 1 {
		return false
	}
	if settlement == models.SettlementCoin {
		return assetIDs[0] == assets.CashAssetID
	}
	return assetIDs[0] == assets.CoinAssetID
}

func (e *Engine) delegated(ctx context.Context, beneficiary, delegate uuid.UUID) bool {
	var count int64
	err := e.db.WithContext(ctx).Model(&models.Delegation{}).
		Where("beneficiary = ? AND delegate = ?", beneficiary, delegate).
		Count(&count).Error
	if err != nil {
		e.logger.Error("failed to check delegation", zap.Error(err))
		return false
	}
	return count > 0
}

func (e *Engine) publish(ctx context.Context, conf *SettlementConfirmation) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, SettlementsChannel, conf); err != nil {
		e.logger.Warn("failed to publish settlement confirmation",
			zap.Error(err),
			zap.String("request_id", conf.RequestID.String()))
	}
}

func (e *Engine) collaborators() (*ledger.Service, *custody.Service) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger, e.custody
}

func (e *Engine) ledgerSvc() *ledger.Service {
	led, _ := e.collaborators()
	return led
}

func settlementFor(useCoin bool) models.SettlementToken {
	if useCoin {
		return models.SettlementCoin
	}
	return models.SettlementCash
}

func counterOf(settlement models.SettlementToken) models.SettlementToken {
	if settlement == models.SettlementCoin {
		return models.SettlementCash
	}
	return models.SettlementCoin
}
