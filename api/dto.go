/*
dto.go - Data Transfer Objects for API requests and responses

The wire shapes mirror what the rewards front-end already speaks:
action-dispatched POST bodies and camelCase keys. Money crosses the
wire as strings to keep decimal precision out of float territory.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/rewards-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// AccountActionRequest is the body of POST /api/account.
type AccountActionRequest struct {
	Action     string          `json:"action"`
	UserID     string          `json:"userId"`
	Amount     decimal.Decimal `json:"amount"`
	Phone      string          `json:"phone,omitempty"`
	Bank       string          `json:"bank,omitempty"`
	ReferrerID string          `json:"referrerId,omitempty"`
}

// AuthRequest is the body of POST /api/auth.
type AuthRequest struct {
	Action   string            `json:"action"`
	UserID   string            `json:"userId,omitempty"`
	AuthData map[string]string `json:"authData,omitempty"`
}

// AdminActionRequest is the body of POST /api/admin.
type AdminActionRequest struct {
	Action        string          `json:"action"`
	UserID        string          `json:"userId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Type          string          `json:"type,omitempty"`
	Description   string          `json:"description,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	UserID           string `json:"user_id"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	Username         string `json:"username,omitempty"`
	PhotoURL         string `json:"photo_url,omitempty"`
	ReferralCode     string `json:"referral_code"`
	IsAdmin          bool   `json:"is_admin"`
	Balance          string `json:"balance"`
	CardEarnings     string `json:"card_earnings"`
	ReferralEarnings string `json:"referral_earnings"`
	CreatedAt        string `json:"created_at"`
}

// TransactionDTO represents a transaction in API responses.
type TransactionDTO struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// AccountSummaryResponse is the body of GET /api/account.
type AccountSummaryResponse struct {
	User          AccountDTO       `json:"user"`
	Transactions  []TransactionDTO `json:"transactions"`
	ReferralCount int              `json:"referralCount"`
}

// ActionResponse acknowledges a state-changing request.
type ActionResponse struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message,omitempty"`
	Transaction *TransactionDTO `json:"transaction,omitempty"`
}

// LoginResponse is the body of a successful telegram_login.
type LoginResponse struct {
	Success bool       `json:"success"`
	User    AccountDTO `json:"user"`
	Token   string     `json:"token"`
}

// CheckAdminResponse is the body of check_admin.
type CheckAdminResponse struct {
	IsAdmin bool `json:"isAdmin"`
}

// StatsDTO is the body of GET /api/admin?action=stats.
type StatsDTO struct {
	TotalUsers       int    `json:"totalUsers"`
	TotalBalance     string `json:"totalBalance"`
	TotalWithdrawals int    `json:"totalWithdrawals"`
	TotalTopups      int    `json:"totalTopups"`
	TotalReferrals   int    `json:"totalReferrals"`
}

// ErrorResponse is returned for any failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		UserID:           a.UserID,
		FirstName:        a.FirstName,
		LastName:         a.LastName,
		Username:         a.Username,
		PhotoURL:         a.PhotoURL,
		ReferralCode:     a.ReferralCode,
		IsAdmin:          a.IsAdmin,
		Balance:          a.Balance.StringFixed(2),
		CardEarnings:     a.CardEarnings.StringFixed(2),
		ReferralEarnings: a.ReferralEarnings.StringFixed(2),
		CreatedAt:        a.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          tx.ID,
		UserID:      tx.UserID,
		Type:        string(tx.Type),
		Amount:      tx.Amount.StringFixed(2),
		Status:      string(tx.Status),
		Description: tx.Description,
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toAccountDTOs(accounts []ledger.Account) []AccountDTO {
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	return dtos
}
