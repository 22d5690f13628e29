// Package http 撮合上下文的 HTTP 接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/assetexchange/internal/matching/application"
	matchingdomain "github.com/wyfcoding/assetexchange/internal/matching/domain"
	orderdomain "github.com/wyfcoding/assetexchange/internal/order/domain"
	walletdomain "github.com/wyfcoding/assetexchange/internal/wallet/domain"
	"github.com/wyfcoding/assetexchange/pkg/logger"
)

// TradingHandler 撮合相关的 HTTP 处理器
type TradingHandler struct {
	matchingService *application.Service
}

// NewTradingHandler 创建 HTTP 处理器
func NewTradingHandler(matchingService *application.Service) *TradingHandler {
	return &TradingHandler{matchingService: matchingService}
}

// RegisterRoutes 注册路由
func (h *TradingHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/trading")
	{
		api.POST("/orders", h.SubmitOrder)
		api.GET("/orders", h.GetUserOrders)
		api.GET("/orders/:order_id", h.GetOrder)
		api.DELETE("/orders/:order_id", h.CancelOrder)
		api.GET("/orderbook", h.GetOrderBook)
		api.GET("/trades", h.GetRecentTrades)
		api.GET("/mytrades", h.GetUserTrades)
	}
}

// SubmitOrderRequest 提交订单请求
type SubmitOrderRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	Symbol        string `json:"symbol" binding:"required"`
	Side          string `json:"side" binding:"required,oneof=BUY SELL"`
	Price         string `json:"price" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	ClientOrderID string `json:"client_order_id"`
}

// SubmitOrder 提交限价订单
func (h *TradingHandler) SubmitOrder(c *gin.Context) {
	var req SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	result, err := h.matchingService.SubmitOrder(c.Request.Context(), application.SubmitOrderCommand{
		UserID:        req.UserID,
		Symbol:        req.Symbol,
		Side:          orderdomain.OrderSide(req.Side),
		Price:         price,
		Amount:        amount,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": result.Order, "trades": result.Trades})
}

// CancelOrder 撤销订单
func (h *TradingHandler) CancelOrder(c *gin.Context) {
	orderID := c.Param("order_id")
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	if err := h.matchingService.CancelOrder(c.Request.Context(), orderID, userID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": orderdomain.OrderStatusCancelled})
}

// GetOrder 查询单个订单
func (h *TradingHandler) GetOrder(c *gin.Context) {
	order, err := h.matchingService.GetOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetUserOrders 查询用户订单列表
func (h *TradingHandler) GetUserOrders(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	limit, offset := paging(c)

	orders, err := h.matchingService.GetUserOrders(c.Request.Context(), userID, c.Query("symbol"), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orders})
}

// GetOrderBook 获取订单簿深度
func (h *TradingHandler) GetOrderBook(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	depth, err := strconv.Atoi(c.DefaultQuery("depth", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid depth"})
		return
	}

	snapshot, err := h.matchingService.GetOrderBook(c.Request.Context(), symbol, depth)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// GetRecentTrades 获取交易对最新成交
func (h *TradingHandler) GetRecentTrades(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	trades, err := h.matchingService.GetRecentTrades(c.Request.Context(), symbol, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trades})
}

// GetUserTrades 查询用户成交列表
func (h *TradingHandler) GetUserTrades(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	limit, offset := paging(c)

	trades, err := h.matchingService.GetUserTrades(c.Request.Context(), userID, c.Query("symbol"), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trades})
}

// respondError 领域错误到 HTTP 状态码的映射，内部错误不向外泄露细节
func (h *TradingHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, matchingdomain.ErrInvalidInstrument),
		errors.Is(err, orderdomain.ErrInvalidOrder),
		errors.Is(err, walletdomain.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, application.ErrUnknownSymbol):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, orderdomain.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, orderdomain.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, walletdomain.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, application.ErrEngineBusy),
		errors.Is(err, application.ErrEngineStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func paging(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
