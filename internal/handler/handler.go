package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"creditgate/internal/auth"
	"creditgate/internal/model"
	"creditgate/internal/service"
	"creditgate/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	maxWebhookBody      = 64 << 10
)

// Handler exposes the services over HTTP. Generate is nil when generation is
// disabled.
type Handler struct {
	identity *service.IdentityService
	ledger   *service.LedgerService
	invoices *service.InvoiceService
	webhook  *service.WebhookService
	generate *service.GenerateService
	sessions *auth.SessionManager
	log      *zap.Logger
}

type Deps struct {
	Identity *service.IdentityService
	Ledger   *service.LedgerService
	Invoices *service.InvoiceService
	Webhook  *service.WebhookService
	Generate *service.GenerateService
	Sessions *auth.SessionManager
	Log      *zap.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		identity: d.Identity,
		ledger:   d.Ledger,
		invoices: d.Invoices,
		webhook:  d.Webhook,
		generate: d.Generate,
		sessions: d.Sessions,
		log:      d.Log.Named("http"),
	}
}

// fail maps service errors to HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidIdentifier), errors.Is(err, service.ErrInvalidTier):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrInsufficientBalance):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrGatewayUnavailable):
		response.Unavailable(c, err.Error())
	case errors.Is(err, service.ErrUpstreamGeneration):
		response.ServerError(c, err.Error())
	default:
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServerError(c, "internal error")
	}
}

// ============================================================
// Accounts
// ============================================================

type AccountProfile struct {
	PlatformID   string     `json:"platform_id"`
	AccessToken  string     `json:"access_token"`
	DisplayName  string     `json:"display_name"`
	Balance      int64      `json:"balance"`
	CreatedAt    time.Time  `json:"created_at"`
	SessionToken string     `json:"session_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func profileOf(a *model.Account) AccountProfile {
	return AccountProfile{
		PlatformID:  a.PlatformID,
		AccessToken: a.AccessToken,
		DisplayName: a.DisplayName,
		Balance:     a.Balance,
		CreatedAt:   a.CreatedAt,
	}
}

// GetBalance returns the balance for a platform id or access token. An
// unseen platform id gets a fresh account.
// GET /balance/:id
func (h *Handler) GetBalance(c *gin.Context) {
	account, err := h.identity.ResolveOrCreate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"balance": account.Balance})
}

// Authenticate exchanges an access token for the account profile and a
// session token.
// GET /auth/:access_token
func (h *Handler) Authenticate(c *gin.Context) {
	token := c.Param("access_token")
	if !service.ValidIdentifier(token) {
		response.NotFound(c, service.ErrNotFound.Error())
		return
	}
	account, err := h.identity.ResolveByToken(c.Request.Context(), token)
	if err != nil {
		h.fail(c, err)
		return
	}

	session, err := h.sessions.Issue(account.PlatformID)
	if err != nil {
		h.fail(c, err)
		return
	}
	profile := profileOf(account)
	profile.SessionToken = session.Token
	profile.ExpiresAt = &session.ExpiresAt
	response.Success(c, profile)
}

// Me returns the profile of the session's account.
// GET /me
func (h *Handler) Me(c *gin.Context) {
	platformID, _ := auth.PlatformID(c)
	account, err := h.identity.Resolve(c.Request.Context(), platformID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, profileOf(account))
}

// MyTransactions lists the newest journal entries of the session's account.
// GET /me/transactions?limit=n
func (h *Handler) MyTransactions(c *gin.Context) {
	platformID, _ := auth.PlatformID(c)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit <= 0 {
		response.ParamError(c, "limit must be a positive integer")
		return
	}

	entries, err := h.ledger.History(c.Request.Context(), platformID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"transactions": entries})
}

// ============================================================
// Generation
// ============================================================

type GenerateRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Prompt string `json:"prompt" binding:"required"`
}

// Generate spends one credit on a generation.
// POST /generate
func (h *Handler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.generate.Generate(c.Request.Context(), req.UserID, req.Prompt)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// Top-up
// ============================================================

type TopupRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Tier   *int   `json:"tier" binding:"required"`
}

// Topup creates a payment invoice for a tier.
// POST /topup
func (h *Handler) Topup(c *gin.Context) {
	var req TopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if _, err := h.invoices.TierByIndex(*req.Tier); err != nil {
		h.fail(c, err)
		return
	}
	account, err := h.identity.ResolveOrCreate(ctx, req.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	invoice, err := h.invoices.CreateTierInvoice(ctx, account, *req.Tier)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"order_id":   invoice.OrderID,
		"pay_url":    invoice.PayURL,
		"usd_amount": invoice.USDAmount,
		"credits":    invoice.CreditCount,
	})
}

// ListTiers returns the purchasable packs.
// GET /tiers
func (h *Handler) ListTiers(c *gin.Context) {
	tiers := h.invoices.Tiers()
	out := make([]gin.H, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, gin.H{
			"index":   t.Index,
			"usd":     t.USD.String(),
			"credits": t.Credits,
			"label":   t.Label(),
		})
	}
	response.Success(c, gin.H{"tiers": out})
}

// ============================================================
// Payment gateway callback
// ============================================================

// PaymentWebhook acknowledges every JSON notification so the gateway stops
// retrying; whether it was applied is only logged.
// POST /payment_webhook, POST /payment_webhook/:secret
func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := readBody(c, maxWebhookBody)
	if err != nil || !json.Valid(body) {
		response.ParamError(c, "body must be JSON")
		return
	}

	ack := h.webhook.HandleNotification(c.Request.Context(), body, c.Param("secret"))
	h.log.Debug("payment notification handled", zap.String("result", ack.Result), zap.Bool("applied", ack.Applied))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func readBody(c *gin.Context, limit int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	return c.GetRawData()
}
