// Package http 钱包上下文的 HTTP 接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/assetexchange/internal/wallet/application"
	"github.com/wyfcoding/assetexchange/internal/wallet/domain"
	"github.com/wyfcoding/assetexchange/pkg/logger"
)

// WalletHandler 钱包相关的 HTTP 处理器
type WalletHandler struct {
	walletService *application.Service
}

// NewWalletHandler 创建 HTTP 处理器
func NewWalletHandler(walletService *application.Service) *WalletHandler {
	return &WalletHandler{walletService: walletService}
}

// RegisterRoutes 注册路由
func (h *WalletHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/wallet")
	{
		api.POST("/deposit", h.Deposit)
		api.POST("/withdraw", h.Withdraw)
		api.GET("/balance", h.GetBalance)
		api.GET("/wallets", h.GetWallets)
		api.GET("/ledger", h.GetLedger)
		api.GET("/summary", h.GetAssetSummary)
	}
}

// TransferRequest 充值与提现的公共请求体
type TransferRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Asset       string `json:"asset" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	ReferenceID string `json:"reference_id"`
}

// Deposit 充值
func (h *WalletHandler) Deposit(c *gin.Context) {
	req, amount, ok := h.bindTransfer(c)
	if !ok {
		return
	}
	if err := h.walletService.Deposit(c.Request.Context(), req.UserID, req.Asset, amount, req.ReferenceID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "asset": req.Asset, "amount": req.Amount})
}

// Withdraw 提现，只能动用可用余额
func (h *WalletHandler) Withdraw(c *gin.Context) {
	req, amount, ok := h.bindTransfer(c)
	if !ok {
		return
	}
	if err := h.walletService.Withdraw(c.Request.Context(), req.UserID, req.Asset, amount, req.ReferenceID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "asset": req.Asset, "amount": req.Amount})
}

// GetBalance 查询单个资产余额
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID := c.Query("user_id")
	asset := c.Query("asset")
	if userID == "" || asset == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and asset are required"})
		return
	}

	wallet, err := h.walletService.GetBalance(c.Request.Context(), userID, asset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

// GetWallets 查询用户全部钱包
func (h *WalletHandler) GetWallets(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	wallets, err := h.walletService.GetWallets(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wallets})
}

// GetLedger 查询钱包流水
func (h *WalletHandler) GetLedger(c *gin.Context) {
	userID := c.Query("user_id")
	asset := c.Query("asset")
	if userID == "" || asset == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and asset are required"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	entries, err := h.walletService.GetLedger(c.Request.Context(), userID, asset, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}

// GetAssetSummary 资产对账汇总
func (h *WalletHandler) GetAssetSummary(c *gin.Context) {
	asset := c.Query("asset")
	if asset == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asset is required"})
		return
	}

	summary, err := h.walletService.GetAssetSummary(c.Request.Context(), asset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *WalletHandler) bindTransfer(c *gin.Context) (TransferRequest, decimal.Decimal, bool) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, decimal.Zero, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return req, decimal.Zero, false
	}
	return req, amount, true
}

// respondError 领域错误到 HTTP 状态码的映射，内部错误不向外泄露细节
func (h *WalletHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrWalletNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientLocked):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
