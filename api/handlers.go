/*
handlers.go - HTTP handlers for the rewards ledger API

ENDPOINTS:
  Account (user-facing):
    GET  /api/account?userId=X  Account summary (auto-creates the account)
    POST /api/account           withdraw | topup | card_bonus | referral

  Auth:
    POST /api/auth              telegram_login | check_admin

  Admin (Bearer session token, allow-list re-checked per request):
    GET  /api/admin?action=stats|users|transactions&limit=N
    POST /api/admin             add_bonus | confirm_topup | fail_topup

ERROR HANDLING:
  Business-rule rejections come back 4xx as {success:false, error}.
  Internal faults come back 500 with a generic message; the cause is
  logged, never leaked to the caller.
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/warp/rewards-ledger/auth"
	"github.com/warp/rewards-ledger/ledger"
)

// recentTransactions caps the list on the account summary.
const recentTransactions = 10

// =============================================================================
// HANDLER
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *ledger.Engine
	Resolver *ledger.Resolver
	Queries  *ledger.Queries
	Gate     *auth.Gate
	Sessions *auth.Sessions

	// BotToken verifies login widget payloads. Empty disables login.
	BotToken string
}

// NewHandler wires a handler over a shared engine.
func NewHandler(engine *ledger.Engine, gate *auth.Gate, sessions *auth.Sessions, botToken string) *Handler {
	return &Handler{
		Engine:   engine,
		Resolver: ledger.NewResolver(engine),
		Queries:  ledger.NewQueries(engine.Store),
		Gate:     gate,
		Sessions: sessions,
		BotToken: botToken,
	}
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

// GetAccount returns the caller's account summary, creating the account
// on first contact.
// GET /api/account?userId=X
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if _, err := h.Engine.EnsureAccount(ctx, userID); err != nil {
		h.writeLedgerError(w, err)
		return
	}

	summary, err := h.Queries.Summary(ctx, userID, recentTransactions)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AccountSummaryResponse{
		User:          toAccountDTO(summary.Account),
		Transactions:  toTransactionDTOs(summary.Transactions),
		ReferralCount: summary.ReferralCount,
	})
}

// AccountAction dispatches user-facing balance operations.
// POST /api/account
func (h *Handler) AccountAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AccountActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	switch req.Action {
	case "withdraw":
		tx, err := h.Engine.Apply(ctx, ledger.Operation{
			UserID:      req.UserID,
			Type:        ledger.TxWithdraw,
			Amount:      req.Amount,
			Description: "Withdrawal request",
			Phone:       req.Phone,
			Bank:        req.Bank,
		})
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}
		writeAction(w, "Withdrawal successful", tx)

	case "topup":
		tx, err := h.Engine.Apply(ctx, ledger.Operation{
			UserID:      req.UserID,
			Type:        ledger.TxTopup,
			Amount:      req.Amount,
			Description: "Top-up request",
		})
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}
		writeAction(w, "Top-up pending confirmation", tx)

	case "card_bonus":
		tx, err := h.Engine.ClaimCardBonus(ctx, req.UserID)
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}
		writeAction(w, "Card bonus added", tx)

	case "referral":
		if _, err := h.Engine.EnsureAccount(ctx, req.UserID); err != nil {
			h.writeLedgerError(w, err)
			return
		}
		if _, err := h.Resolver.Attribute(ctx, req.UserID, req.ReferrerID); err != nil {
			h.writeLedgerError(w, err)
			return
		}
		writeAction(w, "Referral recorded", nil)

	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

// Auth handles login and the public admin check.
// POST /api/auth
func (h *Handler) Auth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case "telegram_login":
		if err := auth.VerifyLoginPayload(req.AuthData, h.BotToken); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid authentication")
			return
		}

		userID := ledger.UserIDFromChatID(req.AuthData["id"])
		account, err := h.Engine.SyncProfile(ctx, userID, ledger.Profile{
			FirstName: req.AuthData["first_name"],
			LastName:  req.AuthData["last_name"],
			Username:  req.AuthData["username"],
			PhotoURL:  req.AuthData["photo_url"],
			IsAdmin:   h.Gate.IsStaticAdmin(userID),
		})
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}

		token, err := h.Sessions.Issue(userID, h.Engine.Now())
		if err != nil {
			h.internalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, LoginResponse{
			Success: true,
			User:    toAccountDTO(*account),
			Token:   token,
		})

	case "check_admin":
		isAdmin, err := h.Gate.IsAdmin(ctx, req.UserID)
		if err != nil {
			h.internalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CheckAdminResponse{IsAdmin: isAdmin})

	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// RequireAdmin authenticates the session token and re-checks the
// allow-list before every privileged handler.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusForbidden, "access denied")
			return
		}

		userID, err := h.Sessions.Verify(token)
		if err != nil {
			writeError(w, http.StatusForbidden, "access denied")
			return
		}
		if err := h.Gate.Require(r.Context(), userID); err != nil {
			if errors.Is(err, ledger.ErrUnauthorized) {
				writeError(w, http.StatusForbidden, "access denied")
				return
			}
			h.internalError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AdminQuery serves the read-only admin surface.
// GET /api/admin?action=stats|users|transactions&limit=N
func (h *Handler) AdminQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	switch r.URL.Query().Get("action") {
	case "stats":
		stats, err := h.Queries.Stats(ctx)
		if err != nil {
			h.internalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, StatsDTO{
			TotalUsers:       stats.TotalUsers,
			TotalBalance:     stats.TotalBalance.StringFixed(2),
			TotalWithdrawals: stats.TotalWithdrawals,
			TotalTopups:      stats.TotalTopups,
			TotalReferrals:   stats.TotalReferrals,
		})

	case "users":
		accounts, err := h.Queries.ListUsers(ctx, limit)
		if err != nil {
			h.internalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": toAccountDTOs(accounts)})

	case "transactions":
		txs, err := h.Queries.ListTransactions(ctx, limit)
		if err != nil {
			h.internalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": toTransactionDTOs(txs)})

	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

// AdminAction dispatches privileged mutations.
// POST /api/admin
func (h *Handler) AdminAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AdminActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case "add_bonus":
		bonusType := ledger.TxType(req.Type)
		if req.Type == "" {
			bonusType = ledger.TxCardBonus
		}
		switch bonusType {
		case ledger.TxCardBonus, ledger.TxReferralBonus, ledger.TxAdminBonus:
		default:
			writeError(w, http.StatusBadRequest, "invalid bonus type")
			return
		}

		description := req.Description
		if description == "" {
			description = "Bonus from administrator"
		}
		tx, err := h.Engine.Apply(ctx, ledger.Operation{
			UserID:      req.UserID,
			Type:        bonusType,
			Amount:      req.Amount,
			Description: description,
		})
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}
		writeAction(w, "Bonus added", tx)

	case "confirm_topup":
		tx, err := h.Engine.ConfirmTopup(ctx, req.TransactionID)
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}
		writeAction(w, "Top-up confirmed", tx)

	case "fail_topup":
		tx, err := h.Engine.FailTopup(ctx, req.TransactionID)
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}
		writeAction(w, "Top-up rejected", tx)

	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: message})
}

func writeAction(w http.ResponseWriter, message string, tx *ledger.Transaction) {
	resp := ActionResponse{Success: true, Message: message}
	if tx != nil {
		dto := toTransactionDTO(*tx)
		resp.Transaction = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeLedgerError maps engine failures onto HTTP statuses. Anything
// outside the business taxonomy is an internal fault.
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, ledger.ErrBusy):
		writeError(w, http.StatusTooManyRequests, "account busy, retry shortly")
	default:
		h.internalError(w, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	log.WithError(err).Error("internal error")
	writeError(w, http.StatusInternalServerError, "internal error")
}
