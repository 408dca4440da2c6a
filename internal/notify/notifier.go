// Package notify implements operator notifications as a plain outbound
// channel drained by a single worker goroutine, in place of a notification
// thread with its own event loop. Fire-and-forget sends push onto the
// channel; Telegram delivery does the one thing this core needs: push a
// message to every configured chat, never block the caller, never retry.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Severity tags an outbound message so the worker can decide formatting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type message struct {
	severity Severity
	text     string
}

// Notifier owns the outbound channel and the bot client. A nil bot (no
// token configured) makes every send a no-op.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatIDs []string
	queue   chan message
}

const queueDepth = 256

// New constructs a Notifier and starts its worker goroutine. Pass an empty
// token to run in disabled mode (Notify becomes a no-op drain).
func New(token string, chatIDs []string) *Notifier {
	n := &Notifier{chatIDs: chatIDs, queue: make(chan message, queueDepth)}
	if token != "" {
		bot, err := tgbotapi.NewBotAPI(token)
		if err != nil {
			log.Warn().Err(err).Msg("telegram bot init failed, notifications disabled")
		} else {
			n.bot = bot
		}
	}
	go n.run()
	return n
}

func (n *Notifier) run() {
	for m := range n.queue {
		n.deliver(m)
	}
}

func (n *Notifier) deliver(m message) {
	if n.bot == nil {
		return
	}
	prefix := ""
	switch m.severity {
	case SeverityCritical:
		prefix = "[CRITICAL] "
	case SeverityWarning:
		prefix = "[WARNING] "
	}
	for _, chatID := range n.chatIDs {
		id, err := parseChatID(chatID)
		if err != nil {
			log.Warn().Str("chat_id", chatID).Err(err).Msg("invalid telegram chat id")
			continue
		}
		msg := tgbotapi.NewMessage(id, prefix+m.text)
		if _, err := n.bot.Send(msg); err != nil {
			log.Warn().Str("chat_id", chatID).Err(err).Msg("telegram send failed")
		}
	}
}

func parseChatID(s string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err
}

// Notify pushes msg onto the outbound channel without blocking. If the
// queue is full the message is dropped and logged — never blocks a cycle.
func (n *Notifier) Notify(severity Severity, format string, args ...any) {
	if n == nil {
		return
	}
	text := fmt.Sprintf(format, args...)
	select {
	case n.queue <- message{severity: severity, text: text}:
	default:
		log.Warn().Str("text", text).Msg("notification queue full, dropping message")
	}
}
