// Package management serves the operator API: live account state, runtime
// enable/disable, and usage aggregates.
package management

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/relay-for-me/AccountRelayAPI/internal/api/handlers"
)

// Handler serves the management endpoints.
type Handler struct {
	*handlers.BaseHandler
}

// NewHandler builds a management endpoint handler on the shared base.
func NewHandler(base *handlers.BaseHandler) *Handler {
	return &Handler{BaseHandler: base}
}

// AccountStatus is one row of the account listing: static identity plus the
// live selection state.
type AccountStatus struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Platform       string `json:"platform"`
	Priority       int    `json:"priority"`
	Enabled        bool   `json:"enabled"`
	RequestCount   int64  `json:"request_count"`
	InCooldown     bool   `json:"in_cooldown"`
	CooldownReason string `json:"cooldown_reason,omitempty"`
	CooldownUntil  string `json:"cooldown_until,omitempty"`
}

// Accounts handles GET /v0/management/accounts.
func (h *Handler) Accounts(c *gin.Context) {
	accounts := h.Registry.All()
	statuses := make([]AccountStatus, 0, len(accounts))
	for _, acct := range accounts {
		status := AccountStatus{
			ID:           acct.ID,
			Name:         acct.Name,
			Platform:     string(acct.Platform),
			Priority:     acct.Priority,
			Enabled:      acct.Enabled(),
			RequestCount: acct.RequestCount(),
		}
		if reason, until, active := h.Scheduler.CooldownStatus(acct.ID); active {
			status.InCooldown = true
			status.CooldownReason = reason
			status.CooldownUntil = until.UTC().Format(time.RFC3339)
		}
		statuses = append(statuses, status)
	}
	c.JSON(http.StatusOK, gin.H{"accounts": statuses})
}

// PatchAccount handles PATCH /v0/management/accounts/:id with body
// {"enabled": bool}. The toggle takes effect on the next selection; it does
// not clear a running cooldown.
func (h *Handler) PatchAccount(c *gin.Context) {
	id := c.Param("id")
	acct, ok := h.Registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, handlers.ErrorResponse{
			Error: handlers.ErrorDetail{
				Type:    "not_found",
				Message: fmt.Sprintf("Unknown account: %s", id),
			},
		})
		return
	}

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Enabled == nil {
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{
			Error: handlers.ErrorDetail{
				Type:    "invalid_request",
				Message: "Request body must carry an enabled flag",
			},
		})
		return
	}

	acct.SetEnabled(*body.Enabled)
	state := "disabled"
	if *body.Enabled {
		state = "enabled"
	}
	log.Infof("account %s %s via management API", id, state)
	c.JSON(http.StatusOK, gin.H{"id": id, "enabled": *body.Enabled})
}

// Usage handles GET /v0/management/usage?account_id=&days=, aggregating the
// account's recorded usage over the trailing window (7 days by default).
func (h *Handler) Usage(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{
			Error: handlers.ErrorDetail{
				Type:    "invalid_request",
				Message: "Query parameter account_id is required",
			},
		})
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days <= 0 {
		c.JSON(http.StatusBadRequest, handlers.ErrorResponse{
			Error: handlers.ErrorDetail{
				Type:    "invalid_request",
				Message: "Query parameter days must be a positive integer",
			},
		})
		return
	}

	agg, err := h.Store.UsageByAccount(c.Request.Context(), accountID, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, handlers.ErrorResponse{
			Error: handlers.ErrorDetail{
				Type:    "internal_error",
				Message: err.Error(),
				Code:    500,
			},
		})
		return
	}
	c.JSON(http.StatusOK, agg)
}
