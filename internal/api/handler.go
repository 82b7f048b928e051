// Package api exposes the ledger and price queries over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"crypto-ledger/internal/domain"
	"crypto-ledger/internal/ledger"
	"crypto-ledger/internal/query"
)

// Response messages.
const (
	msgBuyOK        = "Buy transaction successful"
	msgSellOK       = "Sell transaction successful"
	msgNotFound     = "Cryptocurrency not found"
	msgInsufficient = "Not enough holdings"
	msgServerError  = "Server error"
	msgBadBody      = "Invalid request body"
)

// Ledger executes orders.
type Ledger interface {
	Buy(ctx context.Context, order ledger.Order) (*ledger.Fill, error)
	Sell(ctx context.Context, order ledger.Order) (*ledger.Fill, error)
}

// Queries answers read-only requests.
type Queries interface {
	Prices(ctx context.Context) (*query.PriceSummary, error)
	History(ctx context.Context) (*domain.LedgerHistory, error)
}

// Handler serves the /api routes.
type Handler struct {
	ledger  Ledger
	queries Queries
	logger  *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(l Ledger, q Queries, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ledger: l, queries: q, logger: logger.Named("api")}
}

// RegisterRoutes mounts the API on r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/cryptos", h.ListCryptos)
	r.POST("/buy", h.Buy)
	r.POST("/sell", h.Sell)
	r.GET("/transactions", h.ListTransactions)
}

// OrderReq is the body of /buy and /sell. Amount accepts a JSON number or a
// numeric string.
type OrderReq struct {
	CryptoName string          `json:"cryptoName"`
	Amount     decimal.Decimal `json:"amount"`
}

type cryptosResp struct {
	Cryptos  []*domain.PriceRecord `json:"cryptos"`
	AvgPrice string                `json:"avgPrice"`
}

type buyResp struct {
	Message       string          `json:"message"`
	TotalCost     decimal.Decimal `json:"totalCost"`
	UpdatedAmount decimal.Decimal `json:"updatedAmount"`
}

type sellResp struct {
	Message       string          `json:"message"`
	TotalRevenue  decimal.Decimal `json:"totalRevenue"`
	UpdatedAmount decimal.Decimal `json:"updatedAmount"`
}

type historyResp struct {
	Transactions []*domain.Transaction `json:"transactions"`
	Holdings     []*domain.Holding     `json:"holdings"`
}

// ListCryptos returns every stored price and the average last price.
func (h *Handler) ListCryptos(c *gin.Context) {
	summary, err := h.queries.Prices(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	cryptos := summary.Cryptos
	if cryptos == nil {
		cryptos = []*domain.PriceRecord{}
	}
	c.JSON(http.StatusOK, cryptosResp{Cryptos: cryptos, AvgPrice: summary.AveragePrice})
}

// Buy executes a buy order.
func (h *Handler) Buy(c *gin.Context) {
	order, ok := h.bindOrder(c)
	if !ok {
		return
	}

	fill, err := h.ledger.Buy(c.Request.Context(), order)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, buyResp{
		Message:       msgBuyOK,
		TotalCost:     fill.Total,
		UpdatedAmount: fill.UpdatedAmount,
	})
}

// Sell executes a sell order.
func (h *Handler) Sell(c *gin.Context) {
	order, ok := h.bindOrder(c)
	if !ok {
		return
	}

	fill, err := h.ledger.Sell(c.Request.Context(), order)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, sellResp{
		Message:       msgSellOK,
		TotalRevenue:  fill.Total,
		UpdatedAmount: fill.UpdatedAmount,
	})
}

// ListTransactions returns the transaction log and current holdings.
func (h *Handler) ListTransactions(c *gin.Context) {
	history, err := h.queries.History(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := historyResp{Transactions: history.Transactions, Holdings: history.Holdings}
	if resp.Transactions == nil {
		resp.Transactions = []*domain.Transaction{}
	}
	if resp.Holdings == nil {
		resp.Holdings = []*domain.Holding{}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) bindOrder(c *gin.Context) (ledger.Order, bool) {
	var req OrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgBadBody})
		return ledger.Order{}, false
	}
	return ledger.Order{CryptoName: req.CryptoName, Amount: req.Amount}, true
}

// fail maps err to a status code and a caller-safe message.
func (h *Handler) fail(c *gin.Context, err error) {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, ledger.ErrUnknownInstrument):
		c.JSON(http.StatusNotFound, gin.H{"error": msgNotFound})
	case errors.Is(err, ledger.ErrInsufficientHoldings):
		c.JSON(http.StatusNotFound, gin.H{"error": msgInsufficient})
	default:
		h.logger.Error("request failed",
			zap.String("request_id", RequestIDFrom(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgServerError})
	}
}
