// Package httpserver exposes the coinstore HTTP JSON API.
package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/trollstown/coinstore/internal/errs"
	"github.com/trollstown/coinstore/internal/model"
	"github.com/trollstown/coinstore/internal/service"
)

// Server wires services into HTTP handlers.
type Server struct {
	purchases  service.PurchaseService
	activation service.ActivationService
	sweeper    *service.Sweeper
	log        *zap.Logger
}

// New constructs the HTTP server with injected services.
func New(purchases service.PurchaseService, activation service.ActivationService, sweeper *service.Sweeper, log *zap.Logger) *Server {
	return &Server{purchases: purchases, activation: activation, sweeper: sweeper, log: log}
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(Recover(s.log), RequestLogger(s.log))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := r.Group("/api/v1")
	{
		users := v1.Group("/users/:user_id")
		users.POST("/purchases", s.handlePurchase)
		users.GET("/purchases", s.handleListOwned)
		users.POST("/activations", s.handleSetActive)
		users.GET("/active-items", s.handleListActive)
		users.GET("/balances", s.handleBalances)
		users.GET("/ledger", s.handleLedger)
	}

	internal := r.Group("/internal")
	internal.POST("/credits", s.handleCredit)
	internal.POST("/sweep", s.handleSweep)

	return r
}

func userID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.FromString(c.Param("user_id"))
	if err != nil || id == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad user_id"})
		return uuid.Nil, false
	}
	return id, true
}

// fail maps sentinel errors onto stable HTTP statuses. Expected, user-facing
// conditions keep their message; infrastructure faults are masked.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrUnknownItem),
		errors.Is(err, errs.ErrUnknownCategory),
		errors.Is(err, errs.ErrNotOwned):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrAlreadyOwned):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrExpiredEntitlement):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}

type purchaseRequest struct {
	ItemKey          string         `json:"item_key" binding:"required"`
	AutoActivate     bool           `json:"auto_activate"`
	IdempotencyToken string         `json:"idempotency_token"`
	Metadata         map[string]any `json:"metadata"`
}

func (s *Server) handlePurchase(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request: " + err.Error()})
		return
	}

	out, err := s.purchases.Purchase(c.Request.Context(), uid, req.ItemKey, service.PurchaseOptions{
		AutoActivate:     req.AutoActivate,
		IdempotencyToken: req.IdempotencyToken,
		Metadata:         model.Metadata(req.Metadata),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ToPurchaseResponse(out))
}

type activationRequest struct {
	Category string `json:"category" binding:"required"`
	ItemID   string `json:"item_id" binding:"required"`
	Active   *bool  `json:"active" binding:"required"`
}

func (s *Server) handleSetActive(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req activationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request: " + err.Error()})
		return
	}

	out, err := s.activation.SetActive(c.Request.Context(), uid, req.Category, req.ItemID, *req.Active)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"category":   out.Category,
		"item_id":    out.ItemID,
		"active":     out.Active,
		"expires_at": out.ExpiresAt,
	})
}

func (s *Server) handleListOwned(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	includeExpired := c.Query("include_expired") == "true"
	itemType := c.Query("item_type")

	owned, err := s.purchases.ListOwned(c.Request.Context(), uid, itemType, includeExpired)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": ToOwnershipDTOs(owned)})
}

func (s *Server) handleListActive(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	active, err := s.activation.ListActive(c.Request.Context(), uid)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": active})
}

func (s *Server) handleBalances(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	balances, err := s.purchases.Balances(c.Request.Context(), uid)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": ToBalancesDTO(balances)})
}

func (s *Server) handleLedger(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	entries, err := s.purchases.LedgerEntries(c.Request.Context(), uid, 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": ToLedgerEntryDTOs(entries)})
}

type creditRequest struct {
	UserID       string         `json:"user_id" binding:"required"`
	Amount       int64          `json:"amount" binding:"required"`
	Denomination string         `json:"denomination" binding:"required"`
	Type         string         `json:"type"`
	Metadata     map[string]any `json:"metadata"`
}

func (s *Server) handleCredit(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request: " + err.Error()})
		return
	}
	uid, err := uuid.FromString(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad user_id"})
		return
	}
	if !model.Denomination(req.Denomination).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad denomination"})
		return
	}
	if req.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "non-positive amount"})
		return
	}

	newBal, err := s.purchases.Grant(c.Request.Context(), uid, model.Denomination(req.Denomination),
		req.Amount, model.TxType(req.Type), model.Metadata(req.Metadata))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": newBal})
}

func (s *Server) handleSweep(c *gin.Context) {
	res, err := s.sweeper.Sweep(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deleted_count":    res.DeletedRecords,
		"cleared_pointers": res.ClearedPointers,
	})
}
