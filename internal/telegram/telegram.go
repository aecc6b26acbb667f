// Package telegram connects the chat controller to the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	appLog "itevents/internal/log"
	"itevents/internal/model"
)

// maxMessageLen is the Bot API limit for one text message, in runes.
const maxMessageLen = 4096

// Handler receives inbound chat events. *bot.Controller implements it.
type Handler interface {
	HandleMessage(ctx context.Context, uid model.UserID, text string)
	HandleCallback(ctx context.Context, uid model.UserID, payload string)
}

// Client is a bot.Transport over the Bot API. Replies go to the private chat
// whose id equals the user id.
type Client struct {
	api *tgbotapi.BotAPI
}

// New authenticates with token. endpoint overrides the API URL format
// ("https://api.telegram.org/bot%s/%s") and may be empty.
func New(token, endpoint string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram: empty bot token")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	appLog.Info("telegram bot authorized", "username", api.Self.UserName)
	return &Client{api: api}, nil
}

// Send delivers a text message, split at the length limit. The keyboard is
// attached to the last part.
func (c *Client) Send(ctx context.Context, to model.UserID, n model.Notification) error {
	parts := split(n.Text, maxMessageLen)
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(int64(to), part)
		msg.DisableWebPagePreview = true
		if i == len(parts)-1 && len(n.Keyboard) > 0 {
			msg.ReplyMarkup = keyboard(n.Keyboard)
		}
		if _, err := c.api.Send(msg); err != nil {
			return fmt.Errorf("telegram: send message: %w", err)
		}
	}
	return nil
}

// SendDocument uploads data as a file.
func (c *Client) SendDocument(ctx context.Context, to model.UserID, filename string, data []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(int64(to), tgbotapi.FileBytes{Name: filename, Bytes: data})
	doc.Caption = caption
	if _, err := c.api.Send(doc); err != nil {
		return fmt.Errorf("telegram: send document: %w", err)
	}
	return nil
}

// userQueue bounds the updates buffered for one user before the poll loop
// waits on that user.
const userQueue = 32

// Run long-polls updates and hands them to h until ctx is cancelled.
func (c *Client) Run(ctx context.Context, h Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.api.GetUpdatesChan(u)
	defer c.api.StopReceivingUpdates()
	c.serve(ctx, h, updates)
	return nil
}

// serve fans updates out to one worker per user. A user's updates are
// handled one at a time in arrival order; different users run in parallel.
func (c *Client) serve(ctx context.Context, h Handler, updates <-chan tgbotapi.Update) {
	var wg sync.WaitGroup
	workers := make(map[int64]chan tgbotapi.Update)
	defer func() {
		for _, ch := range workers {
			close(ch)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			uid, ok := sender(upd)
			if !ok {
				continue
			}
			ch, ok := workers[uid]
			if !ok {
				ch = make(chan tgbotapi.Update, userQueue)
				workers[uid] = ch
				wg.Add(1)
				go func() {
					defer wg.Done()
					for upd := range ch {
						if ctx.Err() != nil {
							continue
						}
						c.dispatch(ctx, h, upd)
					}
				}()
			}
			select {
			case ch <- upd:
			case <-ctx.Done():
				return
			}
		}
	}
}

func sender(upd tgbotapi.Update) (int64, bool) {
	switch {
	case upd.CallbackQuery != nil && upd.CallbackQuery.From != nil:
		return upd.CallbackQuery.From.ID, true
	case upd.Message != nil && upd.Message.From != nil:
		return upd.Message.From.ID, true
	}
	return 0, false
}

func (c *Client) dispatch(ctx context.Context, h Handler, upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		cq := upd.CallbackQuery
		// Stop the client-side spinner; the answer text stays empty.
		if _, err := c.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			appLog.Error("telegram: answer callback failed", err, "user_id", cq.From.ID)
		}
		h.HandleCallback(ctx, model.UserID(cq.From.ID), cq.Data)
	case upd.Message != nil && upd.Message.From != nil:
		if upd.Message.Chat == nil || !upd.Message.Chat.IsPrivate() {
			appLog.Debug("telegram: ignoring non-private chat", "user_id", upd.Message.From.ID)
			return
		}
		h.HandleMessage(ctx, model.UserID(upd.Message.From.ID), upd.Message.Text)
	}
}

func keyboard(kb model.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, r := range kb {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			if b.URL != "" {
				row = append(row, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
				continue
			}
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Payload))
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// split cuts s into pieces of at most n runes, preferring line breaks.
func split(s string, n int) []string {
	if utf8.RuneCountInString(s) <= n {
		return []string{s}
	}
	var out []string
	runes := []rune(s)
	for len(runes) > n {
		cut := n
		for i := n; i > n/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
