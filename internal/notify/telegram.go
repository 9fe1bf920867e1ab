// Package notify sends the pass summary to a Telegram chat. Send-only: no
// poller, no command handling.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "arrsweep/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64
}

type Notifier struct {
	bot  *tele.Bot
	chat tele.ChatID
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Notifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Notifier{bot: b, chat: tele.ChatID(cfg.ChatID), log: log}, nil
}

// SendSummary delivers one pass summary. Failures are logged and returned;
// the caller treats them as non-fatal.
func (n *Notifier) SendSummary(ctx context.Context, text string) error {
	if n == nil || n.bot == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { _, err := n.bot.Send(n.chat, text); done <- err }()

	select {
	case err := <-done:
		if err != nil {
			n.log.Warn("summary notification failed", logx.Err(err))
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(15 * time.Second):
		return errors.New("summary notification timed out")
	}
}
