package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Aidin1998/coinvest_unified/internal/admin"
	"github.com/Aidin1998/coinvest_unified/internal/assets"
	"github.com/Aidin1998/coinvest_unified/internal/custody"
	"github.com/Aidin1998/coinvest_unified/internal/fees"
	"github.com/Aidin1998/coinvest_unified/internal/ledger"
	"github.com/Aidin1998/coinvest_unified/internal/oracle"
	"github.com/Aidin1998/coinvest_unified/internal/tokens"
	"github.com/Aidin1998/coinvest_unified/pkg/errs"
	"github.com/Aidin1998/coinvest_unified/pkg/logger"
	"github.com/Aidin1998/coinvest_unified/pkg/models"
	"github.com/Aidin1998/coinvest_unified/pkg/numeric"
)

type stubGateway struct {
	requestIDs []uuid.UUID
	queries    []string
	gasPrices  []uint64
	err        error
}

func (g *stubGateway) PublishQuery(_ context.Context, requestID uuid.UUID, query string, gasPrice uint64) error {
	if g.err != nil {
		return g.err
	}
	g.requestIDs = append(g.requestIDs, requestID)
	g.queries = append(g.queries, query)
	g.gasPrices = append(g.gasPrices, gasPrice)
	return nil
}

type eventRecorder struct {
	confirmations []*SettlementConfirmation
}

func (r *eventRecorder) Publish(_ context.Context, _ string, msg interface{}) error {
	if conf, ok := msg.(*SettlementConfirmation); ok {
		r.confirmations = append(r.confirmations, conf)
	}
	return nil
}

type fixture struct {
	db           *gorm.DB
	capability   uuid.UUID
	feeRecipient uuid.UUID
	admin        *admin.Config
	tokens       *tokens.Service
	registry     *assets.Registry
	fees         *fees.Policy
	ledger       *ledger.Service
	custody      *custody.Service
	gateway      *stubGateway
	events       *eventRecorder
	engine       *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))

	f := &fixture{
		db:           db,
		capability:   uuid.New(),
		feeRecipient: uuid.New(),
		gateway:      &stubGateway{},
		events:       &eventRecorder{},
	}
	f.admin = admin.NewConfig(f.capability, f.feeRecipient, logger.Nop())
	f.tokens = tokens.NewService(db, logger.Nop())
	f.registry = assets.NewRegistry(db, f.admin, logger.Nop())
	require.NoError(t, f.registry.Seed(context.Background()))
	f.fees = fees.NewPolicy(db, f.admin, 300, logger.Nop())
	f.ledger = ledger.NewService(db, f.admin, f.tokens, logger.Nop())
	f.custody = custody.NewService(db, f.admin, f.tokens, "COIN", "CASH", logger.Nop())

	f.engine = New(db, f.admin, oracle.NewClient(f.registry, ""), f.fees, f.ledger, f.custody, f.tokens, f.gateway, f.events, logger.Nop())
	require.NoError(t, f.ledger.ChangeSettlementEngine(f.capability, f.engine.ID()))
	require.NoError(t, f.custody.ChangeSettlementEngine(f.capability, f.engine.ID()))
	return f
}

// fundBuyer mints settlement tokens for the user and approves the
// engine to pull them during settlement.
func (f *fixture) fundBuyer(t *testing.T, user uuid.UUID, token string, amount numeric.Value) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.tokens.Mint(ctx, token, user, amount))
	require.NoError(t, f.tokens.Approve(ctx, token, user, f.engine.ID(), amount))
}

func (f *fixture) orderCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.PendingOrder{}).Count(&count).Error)
	return count
}

func (f *fixture) tokenBalance(t *testing.T, token string, holder uuid.UUID) string {
	t.Helper()
	balance, err := f.tokens.BalanceOf(context.Background(), token, holder)
	require.NoError(t, err)
	return balance.String()
}

func amounts(values ...int64) []numeric.Value {
	out := make([]numeric.Value, len(values))
	for i, v := range values {
		out[i] = numeric.MustInt(v)
	}
	return out
}

func TestBuyRegistersOrderAndEmitsQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	requestID, err := f.engine.Buy(ctx, user, user, []uint32{1, 2}, amounts(1, 2), true)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, requestID)

	require.Len(t, f.gateway.queries, 1)
	assert.Equal(t, "https://min-api.cryptocompare.com/data/pricemulti?fsyms=COIN,BTC,ETH,&tsyms=USD", f.gateway.queries[0])
	assert.Equal(t, requestID, f.gateway.requestIDs[0])
	assert.Equal(t, admin.DefaultGasPrice, f.gateway.gasPrices[0])

	var order models.PendingOrder
	require.NoError(t, f.db.Where("request_id = ?", requestID).First(&order).Error)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.Equal(t, models.SideBuy, order.Side)
	assert.Equal(t, models.SettlementCoin, order.Settlement)
}

func TestBuyLengthMismatch(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()

	_, err := f.engine.Buy(context.Background(), user, user, []uint32{1, 2}, amounts(1), true)
	assert.ErrorIs(t, err, errs.ErrLengthMismatch)
	assert.Zero(t, f.orderCount(t))

	_, err = f.engine.Buy(context.Background(), user, user, nil, nil, true)
	assert.ErrorIs(t, err, errs.ErrLengthMismatch)
	assert.Zero(t, f.orderCount(t))
}

func TestBuyUnknownAsset(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()

	_, err := f.engine.Buy(context.Background(), user, user, []uint32{99}, amounts(1), true)
	assert.ErrorIs(t, err, errs.ErrUnknownAsset)
	assert.Zero(t, f.orderCount(t))
}

func TestPlaceUnauthorizedCaller(t *testing.T) {
	f := newFixture(t)
	beneficiary, stranger := uuid.New(), uuid.New()

	_, err := f.engine.Buy(context.Background(), stranger, beneficiary, []uint32{1}, amounts(1), true)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.Zero(t, f.orderCount(t))
}

func TestDelegationAllowsPlacing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	beneficiary, delegate := uuid.New(), uuid.New()

	require.NoError(t, f.engine.Delegate(ctx, beneficiary, delegate))
	_, err := f.engine.Buy(ctx, delegate, beneficiary, []uint32{1}, amounts(1), true)
	require.NoError(t, err)

	require.NoError(t, f.engine.RevokeDelegate(ctx, beneficiary, delegate))
	_, err = f.engine.Buy(ctx, delegate, beneficiary, []uint32{1}, amounts(1), true)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestSellInsufficientHoldings(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()

	_, err := f.engine.Sell(context.Background(), user, user, []uint32{1}, amounts(1), true)
	assert.ErrorIs(t, err, errs.ErrInsufficientHoldings)
	assert.Zero(t, f.orderCount(t))
}

func TestPublishFailureUnregistersOrder(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("broker unavailable")
	user := uuid.New()

	_, err := f.engine.Buy(context.Background(), user, user, []uint32{1}, amounts(1), true)
	assert.Error(t, err)
	assert.Zero(t, f.orderCount(t))
}

func TestBuySettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	f.fundBuyer(t, user, "COIN", numeric.MustInt(100))

	requestID, err := f.engine.Buy(ctx, user, user, []uint32{1, 2}, amounts(1, 2), true)
	require.NoError(t, err)

	// 1*2 + 2*1 = 4 USD at COIN=0.5 -> gross 8 COIN, 3% fee.
	payload := []byte(`{"COIN":{"USD":0.5},"BTC":{"USD":2},"ETH":{"USD":1}}`)
	require.NoError(t, f.engine.HandlePriceResponse(ctx, requestID, payload))

	btc, err := f.ledger.Balance(ctx, user, 1)
	require.NoError(t, err)
	assert.Equal(t, "1", btc.String())
	eth, err := f.ledger.Balance(ctx, user, 2)
	require.NoError(t, err)
	assert.Equal(t, "2", eth.String())

	// Fee on top: custody holds the full gross, the buyer paid 8.24.
	assert.Equal(t, "8", f.tokenBalance(t, "COIN", f.custody.AccountID()))
	assert.Equal(t, "0.24", f.tokenBalance(t, "COIN", f.feeRecipient))
	assert.Equal(t, "91.76", f.tokenBalance(t, "COIN", user))

	var order models.PendingOrder
	require.NoError(t, f.db.Where("request_id = ?", requestID).First(&order).Error)
	assert.Equal(t, models.OrderSettled, order.Status)
	require.NotNil(t, order.SettledAt)

	require.Len(t, f.events.confirmations, 1)
	conf := f.events.confirmations[0]
	assert.Equal(t, "8", conf.GrossValue.String())
	assert.Equal(t, "7.76", conf.NetValue.String())
	assert.Equal(t, "0.24", conf.Fee.String())
	assert.False(t, conf.FreeTrade)
}

func TestBuySettlementWithFreeTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	f.fundBuyer(t, user, "COIN", numeric.MustInt(100))
	require.NoError(t, f.fees.Grant(ctx, f.capability, []uuid.UUID{user}, []uint64{1}))

	requestID, err := f.engine.Buy(ctx, user, user, []uint32{1}, amounts(2), true)
	require.NoError(t, err)

	// 2*2 = 4 USD at COIN=0.5 -> gross 8 COIN, fee waived.
	payload := []byte(`{"COIN":{"USD":0.5},"BTC":{"USD":2}}`)
	require.NoError(t, f.engine.HandlePriceResponse(ctx, requestID, payload))

	assert.Equal(t, "8", f.tokenBalance(t, "COIN", f.custody.AccountID()))
	assert.Equal(t, "0", f.tokenBalance(t, "COIN", f.feeRecipient))

	remaining, err := f.fees.FreeTrades(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	require.Len(t, f.events.confirmations, 1)
	assert.True(t, f.events.confirmations[0].FreeTrade)
}

func TestSellSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, f.ledger.Increase(ctx, f.engine.ID(), user, 1, numeric.MustInt(2)))
	require.NoError(t, f.tokens.Mint(ctx, "COIN", f.custody.AccountID(), numeric.MustInt(100)))

	requestID, err := f.engine.Sell(ctx, user, user, []uint32{1}, amounts(2), true)
	require.NoError(t, err)

	// 2*2 = 4 USD at COIN=0.5 -> gross 8 COIN, net 7.76, fee 0.24.
	payload := []byte(`{"COIN":{"USD":0.5},"BTC":{"USD":2}}`)
	require.NoError(t, f.engine.HandlePriceResponse(ctx, requestID, payload))

	btc, err := f.ledger.Balance(ctx, user, 1)
	require.NoError(t, err)
	assert.True(t, btc.IsZero())

	assert.Equal(t, "7.76", f.tokenBalance(t, "COIN", user))
	assert.Equal(t, "0.24", f.tokenBalance(t, "COIN", f.feeRecipient))
	assert.Equal(t, "92", f.tokenBalance(t, "COIN", f.custody.AccountID()))
}

func TestBuySellRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	f.fundBuyer(t, user, "COIN", numeric.MustInt(100))

	// Custody starts empty: the buy alone must fund the later sell.
	payload := []byte(`{"COIN":{"USD":0.5},"BTC":{"USD":2},"ETH":{"USD":1}}`)

	buyID, err := f.engine.Buy(ctx, user, user, []uint32{1, 2}, amounts(1, 2), true)
	require.NoError(t, err)
	require.NoError(t, f.engine.HandlePriceResponse(ctx, buyID, payload))

	sellID, err := f.engine.Sell(ctx, user, user, []uint32{1, 2}, amounts(1, 2), true)
	require.NoError(t, err)
	require.NoError(t, f.engine.HandlePriceResponse(ctx, sellID, payload))

	// Holdings are fully restored and custody drained to zero: the buy
	// deposited gross 8, the sell paid out 7.76 net plus 0.24 fee.
	btc, err := f.ledger.Balance(ctx, user, 1)
	require.NoError(t, err)
	assert.True(t, btc.IsZero())
	eth, err := f.ledger.Balance(ctx, user, 2)
	require.NoError(t, err)
	assert.True(t, eth.IsZero())

	assert.Equal(t, "0", f.tokenBalance(t, "COIN", f.custody.AccountID()))
	// The user is down exactly the two fees (0.24 on top of the buy,
	// 0.24 carved out of the sell payout).
	assert.Equal(t, "99.52", f.tokenBalance(t, "COIN", user))
	assert.Equal(t, "0.48", f.tokenBalance(t, "COIN", f.feeRecipient))
}

func TestHandleUnknownOrder(t *testing.T) {
	f := newFixture(t)
	err := f.engine.HandlePriceResponse(context.Background(), uuid.New(), []byte(`{}`))
	assert.ErrorIs(t, err, errs.ErrUnknownOrder)
}

func TestReplayedCallbackIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	f.fundBuyer(t, user, "COIN", numeric.MustInt(100))

	requestID, err := f.engine.Buy(ctx, user, user, []uint32{1}, amounts(2), true)
	require.NoError(t, err)

	payload := []byte(`{"COIN":{"USD":0.5},"BTC":{"USD":2}}`)
	require.NoError(t, f.engine.HandlePriceResponse(ctx, requestID, payload))
	require.NoError(t, f.engine.HandlePriceResponse(ctx, requestID, payload))

	// Nothing moved twice.
	assert.Equal(t, "8", f.tokenBalance(t, "COIN", f.custody.AccountID()))
	btc, err := f.ledger.Balance(ctx, user, 1)
	require.NoError(t, err)
	assert.Equal(t, "2", btc.String())
	assert.Len(t, f.events.confirmations, 1)
}

func TestFailedCallbackLeavesOrderPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	f.fundBuyer(t, user, "COIN", numeric.MustInt(100))

	requestID, err := f.engine.Buy(ctx, user, user, []uint32{1, 2}, amounts(1, 1), true)
	require.NoError(t, err)

	// ETH price missing: the whole callback fails, nothing settles.
	err = f.engine.HandlePriceResponse(ctx, requestID, []byte(`{"COIN":{"USD":0.5},"BTC":{"USD":2}}`))
	assert.ErrorIs(t, err, errs.ErrMissingPrice)

	var order models.PendingOrder
	require.NoError(t, f.db.Where("request_id = ?", requestID).First(&order).Error)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.Equal(t, "100", f.tokenBalance(t, "COIN", user))

	// A complete redelivery settles normally.
	payload := []byte(`{"COIN":{"USD":0.5},"BTC":{"USD":2},"ETH":{"USD":1}}`)
	require.NoError(t, f.engine.HandlePriceResponse(ctx, requestID, payload))
	require.NoError(t, f.db.Where("request_id = ?", requestID).First(&order).Error)
	assert.Equal(t, models.OrderSettled, order.Status)
}

func TestBuyWithoutAllowanceFailsAndStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	requestID, err := f.engine.Buy(ctx, user, user, []uint32{1}, amounts(1), true)
	require.NoError(t, err)

	err = f.engine.HandlePriceResponse(ctx, requestID, []byte(`{"COIN":{"USD":0.5},"BTC":{"USD":2}}`))
	assert.Error(t, err)

	var order models.PendingOrder
	require.NoError(t, f.db.Where("request_id = ?", requestID).First(&order).Error)
	assert.Equal(t, models.OrderPending, order.Status)

	// The aborted settlement left no holdings behind.
	btc, err := f.ledger.Balance(ctx, user, 1)
	require.NoError(t, err)
	assert.True(t, btc.IsZero())
}

func TestExchangeBuyCashForCoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	// Buying the CASH exchange asset settled in COIN: the user pays
	// COIN and receives CASH from custody at par.
	f.fundBuyer(t, user, "COIN", numeric.MustInt(10))
	require.NoError(t, f.tokens.Mint(ctx, "CASH", f.custody.AccountID(), numeric.MustInt(100)))

	requestID, err := f.engine.Buy(ctx, user, user, []uint32{assets.CashAssetID}, amounts(4), true)
	require.NoError(t, err)

	// 4 CASH * 1 USD / 0.5 USD = 8 COIN gross, net 7.76.
	payload := []byte(`{"COIN":{"USD":0.5},"CASH":{"USD":1}}`)
	require.NoError(t, f.engine.HandlePriceResponse(ctx, requestID, payload))

	assert.Equal(t, "8", f.tokenBalance(t, "CASH", user))
	assert.Equal(t, "8", f.tokenBalance(t, "COIN", f.custody.AccountID()))
	assert.Equal(t, "0.24", f.tokenBalance(t, "COIN", f.feeRecipient))
	assert.Equal(t, "92", f.tokenBalance(t, "CASH", f.custody.AccountID()))

	// Holdings stay untouched on the exchange path.
	holding, err := f.ledger.Balance(ctx, user, assets.CashAssetID)
	require.NoError(t, err)
	assert.True(t, holding.IsZero())
}

func TestExchangeSellCoinForCash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	// Selling the COIN exchange asset settled in CASH: the user's COIN
	// moves into custody at par and CASH comes back net of fee.
	f.fundBuyer(t, user, "COIN", numeric.MustInt(10))
	require.NoError(t, f.tokens.Mint(ctx, "CASH", f.custody.AccountID(), numeric.MustInt(100)))

	requestID, err := f.engine.Sell(ctx, user, user, []uint32{assets.CoinAssetID}, amounts(4), false)
	require.NoError(t, err)

	// 4 COIN * 0.5 USD / 1 USD = 2 CASH gross, net 1.94, fee 0.06.
	payload := []byte(`{"CASH":{"USD":1},"COIN":{"USD":0.5}}`)
	require.NoError(t, f.engine.HandlePriceResponse(ctx, requestID, payload))

	assert.Equal(t, "1.94", f.tokenBalance(t, "CASH", user))
	assert.Equal(t, "2", f.tokenBalance(t, "COIN", f.custody.AccountID()))
	assert.Equal(t, "0.06", f.tokenBalance(t, "CASH", f.feeRecipient))
	assert.Equal(t, "8", f.tokenBalance(t, "COIN", user))
}

func TestExchangeNotTriggeredWhenMixed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	f.fundBuyer(t, user, "COIN", numeric.MustInt(100))

	// The exchange id mixed with another asset follows the generic
	// path: both become holdings, no CASH leaves custody.
	require.NoError(t, f.tokens.Mint(ctx, "CASH", f.custody.AccountID(), numeric.MustInt(100)))

	requestID, err := f.engine.Buy(ctx, user, user, []uint32{assets.CashAssetID, 1}, amounts(4, 1), true)
	require.NoError(t, err)

	payload := []byte(`{"COIN":{"USD":0.5},"CASH":{"USD":1},"BTC":{"USD":2}}`)
	require.NoError(t, f.engine.HandlePriceResponse(ctx, requestID, payload))

	cashHolding, err := f.ledger.Balance(ctx, user, assets.CashAssetID)
	require.NoError(t, err)
	assert.Equal(t, "4", cashHolding.String())
	btcHolding, err := f.ledger.Balance(ctx, user, 1)
	require.NoError(t, err)
	assert.Equal(t, "1", btcHolding.String())

	assert.Equal(t, "0", f.tokenBalance(t, "CASH", user))
	assert.Equal(t, "100", f.tokenBalance(t, "CASH", f.custody.AccountID()))
}

func TestConcreteScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	f.fundBuyer(t, user, "COIN", numeric.MustDecimal("100000"))

	requestID, err := f.engine.Buy(ctx, user, user, []uint32{1, 2}, amounts(1, 2), true)
	require.NoError(t, err)

	payload := []byte(`{"COIN":{"USD":0.1554},"BTC":{"USD":8193.14},"ETH":{"USD":473.36}}`)
	require.NoError(t, f.engine.HandlePriceResponse(ctx, requestID, payload))

	// gross = (8193.14 + 2*473.36) / 0.1554 = 58815.057915..., 3% fee.
	require.Len(t, f.events.confirmations, 1)
	conf := f.events.confirmations[0]
	assert.Equal(t, "58815.057915057915057915", conf.GrossValue.String())

	fee, err := conf.GrossValue.MulBps(300)
	require.NoError(t, err)
	assert.Equal(t, fee, conf.Fee)
	assert.Equal(t, fee.String(), f.tokenBalance(t, "COIN", f.feeRecipient))

	net, err := conf.GrossValue.Sub(fee)
	require.NoError(t, err)
	assert.Equal(t, net, conf.NetValue)
	assert.Equal(t, conf.GrossValue.String(), f.tokenBalance(t, "COIN", f.custody.AccountID()))

	btc, err := f.ledger.Balance(ctx, user, 1)
	require.NoError(t, err)
	assert.Equal(t, "1", btc.String())
	eth, err := f.ledger.Balance(ctx, user, 2)
	require.NoError(t, err)
	assert.Equal(t, "2", eth.String())
}

func TestRebindContracts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	replacementLedger := ledger.NewService(f.db, f.admin, f.tokens, logger.Nop())
	replacementCustody := custody.NewService(f.db, f.admin, f.tokens, "COIN2", "CASH2", logger.Nop())

	err := f.engine.RebindContracts(uuid.New(), replacementCustody, replacementLedger)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	require.NoError(t, f.engine.RebindContracts(f.capability, replacementCustody, replacementLedger))
	require.NoError(t, replacementLedger.ChangeSettlementEngine(f.capability, f.engine.ID()))
	require.NoError(t, replacementCustody.ChangeSettlementEngine(f.capability, f.engine.ID()))

	// Settlement now flows through the replacement services.
	user := uuid.New()
	require.NoError(t, f.tokens.Mint(ctx, "COIN2", user, numeric.MustInt(100)))
	require.NoError(t, f.tokens.Approve(ctx, "COIN2", user, f.engine.ID(), numeric.MustInt(100)))

	requestID, err := f.engine.Buy(ctx, user, user, []uint32{1}, amounts(2), true)
	require.NoError(t, err)
	require.NoError(t, f.engine.HandlePriceResponse(ctx, requestID, []byte(`{"COIN":{"USD":0.5},"BTC":{"USD":2}}`)))

	assert.Equal(t, "8", f.tokenBalance(t, "COIN2", replacementCustody.AccountID()))
	btc, err := replacementLedger.Balance(ctx, user, 1)
	require.NoError(t, err)
	assert.Equal(t, "2", btc.String())
}

func TestSweepToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tokens.Mint(ctx, "STRAY", f.engine.ID(), numeric.MustInt(3)))

	err := f.engine.SweepToken(ctx, uuid.New(), "STRAY", numeric.MustInt(3))
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	require.NoError(t, f.engine.SweepToken(ctx, f.capability, "STRAY", numeric.MustInt(3)))
	assert.Equal(t, "3", f.tokenBalance(t, "STRAY", f.feeRecipient))
}
