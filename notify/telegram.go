/*
Package notify pushes transaction events to users through the chat
platform's bot API. Delivery is best effort: the ledger has already
committed when a notification goes out, and failures are only logged.
*/
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"github.com/warp/rewards-ledger/ledger"
)

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// Telegram implements ledger.Notifier over the bot API.
type Telegram struct {
	bot sender
}

// sender is the slice of the bot API the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// New connects to the bot API with the given token.
func New(token string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("bot init: %w", err)
	}
	log.WithField("bot", bot.Self.UserName).Info("notifier connected")
	return &Telegram{bot: bot}, nil
}

// TransactionCompleted sends the user a message about their settled
// transaction. Accounts whose id does not map to a chat are skipped.
func (t *Telegram) TransactionCompleted(_ context.Context, tx ledger.Transaction) {
	chatID, ok := chatIDFor(tx.UserID)
	if !ok {
		return
	}

	msg := tgbotapi.NewMessage(chatID, messageFor(tx))
	if _, err := t.bot.Send(msg); err != nil {
		log.WithFields(log.Fields{
			"user_id": tx.UserID,
			"tx_id":   tx.ID,
		}).WithError(err).Warn("notification failed")
	}
}

// chatIDFor extracts the numeric chat id from a "TG<id>" account id.
func chatIDFor(userID string) (int64, bool) {
	raw, ok := strings.CutPrefix(userID, ledger.ChatIDPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func messageFor(tx ledger.Transaction) string {
	amount := tx.Amount.StringFixed(2)
	switch tx.Type {
	case ledger.TxWithdraw:
		return fmt.Sprintf("✅ Withdrawal of %s processed", amount)
	case ledger.TxTopup:
		return fmt.Sprintf("✅ Top-up of %s confirmed", amount)
	case ledger.TxReferralBonus:
		return fmt.Sprintf("🎉 Referral bonus +%s credited", amount)
	case ledger.TxCardBonus:
		return fmt.Sprintf("🎉 Card bonus +%s credited", amount)
	default:
		return fmt.Sprintf("💰 Bonus +%s credited", amount)
	}
}
