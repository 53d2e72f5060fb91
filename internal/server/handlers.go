package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Aidin1998/coinvest_unified/pkg/errs"
	"github.com/Aidin1998/coinvest_unified/pkg/models"
	"github.com/Aidin1998/coinvest_unified/pkg/numeric"
)

const (
	userHeader       = "X-User-ID"
	capabilityHeader = "X-Admin-Capability"
)

func (s *Server) caller(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader(userHeader))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + userHeader + " header"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) capability(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader(capabilityHeader))
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "missing or invalid " + capabilityHeader + " header"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, errs.ErrUnknownAsset), errors.Is(err, errs.ErrUnknownOrder):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrLengthMismatch),
		errors.Is(err, errs.ErrValueOverflow),
		errors.Is(err, errs.ErrMissingPrice),
		errors.Is(err, errs.ErrInsufficientHoldings):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type orderRequest struct {
	Beneficiary uuid.UUID       `json:"beneficiary"`
	AssetIDs    []uint32        `json:"asset_ids" binding:"required"`
	Amounts     []numeric.Value `json:"amounts" binding:"required"`
	UseCoin     bool            `json:"use_coin"`
}

func (s *Server) handleBuy(c *gin.Context)  { s.handleOrder(c, true) }
func (s *Server) handleSell(c *gin.Context) { s.handleOrder(c, false) }

func (s *Server) handleOrder(c *gin.Context, buy bool) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Beneficiary == uuid.Nil {
		req.Beneficiary = caller
	}

	var (
		requestID uuid.UUID
		err       error
	)
	if buy {
		requestID, err = s.engine.Buy(c.Request.Context(), caller, req.Beneficiary, req.AssetIDs, req.Amounts, req.UseCoin)
	} else {
		requestID, err = s.engine.Sell(c.Request.Context(), caller, req.Beneficiary, req.AssetIDs, req.Amounts, req.UseCoin)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"request_id": requestID})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	var order models.PendingOrder
	err = s.db.WithContext(c.Request.Context()).Where("request_id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.fail(c, errs.ErrUnknownOrder)
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type oracleCallbackRequest struct {
	RequestID uuid.UUID `json:"request_id" binding:"required"`
	Payload   string    `json:"payload" binding:"required"`
}

// handleOracleCallback is the webhook form of the price response, for
// bridges that deliver over HTTP instead of the response topic.
func (s *Server) handleOracleCallback(c *gin.Context) {
	var req oracleCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.HandlePriceResponse(c.Request.Context(), req.RequestID, []byte(req.Payload)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "settled"})
}

func (s *Server) handleListAssets(c *gin.Context) {
	list, err := s.registry.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": list})
}

func (s *Server) handleHoldings(c *gin.Context) {
	user, err := uuid.Parse(c.Param("user"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	start, err1 := parseUint32(c.DefaultQuery("start", "1"))
	end, err2 := parseUint32(c.DefaultQuery("end", "21"))
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid holdings range"})
		return
	}
	balances, err := s.ledger.ReturnHoldings(c.Request.Context(), user, start, end)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"start": start, "end": end, "balances": balances})
}

func (s *Server) handleHolding(c *gin.Context) {
	user, err := uuid.Parse(c.Param("user"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	assetID, err := parseUint32(c.Param("asset"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return
	}
	balance, err := s.ledger.Balance(c.Request.Context(), user, assetID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset_id": assetID, "balance": balance})
}

func (s *Server) handleFreeTrades(c *gin.Context) {
	user, err := uuid.Parse(c.Param("user"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	trades, err := s.fees.FreeTrades(c.Request.Context(), user)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"free_trades": trades})
}

type delegationRequest struct {
	Delegate uuid.UUID `json:"delegate" binding:"required"`
}

func (s *Server) handleDelegate(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req delegationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.Delegate(c.Request.Context(), caller, req.Delegate); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"beneficiary": caller, "delegate": req.Delegate})
}

func (s *Server) handleRevokeDelegate(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	delegate, err := uuid.Parse(c.Param("delegate"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delegate id"})
		return
	}
	if err := s.engine.RevokeDelegate(c.Request.Context(), caller, delegate); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type approveRequest struct {
	Token   string        `json:"token" binding:"required"`
	Spender uuid.UUID     `json:"spender" binding:"required"`
	Amount  numeric.Value `json:"amount"`
}

func (s *Server) handleApprove(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.tokens.Approve(c.Request.Context(), req.Token, caller, req.Spender, req.Amount); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": req.Token, "spender": req.Spender, "amount": req.Amount})
}

func (s *Server) handleTokenBalance(c *gin.Context) {
	holder, err := uuid.Parse(c.Param("holder"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid holder id"})
		return
	}
	balance, err := s.tokens.BalanceOf(c.Request.Context(), c.Param("token"), holder)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": c.Param("token"), "balance": balance})
}

type swapRequest struct {
	Amount numeric.Value `json:"amount"`
}

func (s *Server) handleSwap(c *gin.Context) {
	caller, ok := s.caller(c)
	if !ok {
		return
	}
	var req swapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.tokens.ApproveAndCall(c.Request.Context(), s.migration.OldToken(), caller, req.Amount, s.migration)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swapped": req.Amount, "token": s.migration.NewToken()})
}

type addAssetRequest struct {
	ID        uint32 `json:"id" binding:"required"`
	Symbol    string `json:"symbol" binding:"required"`
	BasePrice string `json:"base_price"`
	IsInverse bool   `json:"is_inverse"`
}

func (s *Server) handleAddAsset(c *gin.Context) {
	capability, ok := s.capability(c)
	if !ok {
		return
	}
	var req addAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	basePrice, err := parseDecimal(req.BasePrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid base price"})
		return
	}
	if err := s.registry.AddAsset(c.Request.Context(), capability, req.ID, req.Symbol, basePrice, req.IsInverse); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

type grantRequest struct {
	Users  []uuid.UUID `json:"users" binding:"required"`
	Counts []uint64    `json:"counts" binding:"required"`
}

func (s *Server) handleGrantFreeTrades(c *gin.Context) {
	capability, ok := s.capability(c)
	if !ok {
		return
	}
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.fees.Grant(c.Request.Context(), capability, req.Users, req.Counts); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSetFeeRecipient(c *gin.Context) {
	capability, ok := s.capability(c)
	if !ok {
		return
	}
	var req struct {
		Recipient uuid.UUID `json:"recipient" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.admin.SetFeeRecipient(capability, req.Recipient); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSetGasPrice(c *gin.Context) {
	capability, ok := s.capability(c)
	if !ok {
		return
	}
	var req struct {
		GasPrice uint64 `json:"gas_price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.admin.SetGasPrice(capability, req.GasPrice); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type escapeRequest struct {
	Target string `json:"target" binding:"required"`
	Token  string `json:"token" binding:"required"`
}

// handleTokenEscape sweeps a stray token off the ledger or custody
// account to the fee recipient.
func (s *Server) handleTokenEscape(c *gin.Context) {
	capability, ok := s.capability(c)
	if !ok {
		return
	}
	var req escapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	switch req.Target {
	case "ledger":
		err = s.ledger.TokenEscape(c.Request.Context(), capability, req.Token)
	case "custody":
		err = s.custody.TokenEscape(c.Request.Context(), capability, req.Token)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "target must be ledger or custody"})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
