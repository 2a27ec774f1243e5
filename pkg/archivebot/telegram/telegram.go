// Package telegram implements the conversation-level operations of the
// triage loop on top of Telegram Web K, by evaluating small scripts in the
// page through the browser session.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/archivebot/pkg/archivebot/chat"
)

// DefaultURL is the Web K client address.
const DefaultURL = "https://web.telegram.org/k"

// Page is the subset of the browser session the adapter needs.
type Page interface {
	Evaluate(ctx context.Context, expression string, out any) error
	PressKey(ctx context.Context, key string) error
	InsertText(ctx context.Context, text string) error
}

// Selectors are the CSS selectors of the Web K markup.
type Selectors struct {
	MenuButton     string   `yaml:"menu_button"`
	MenuItem       string   `yaml:"menu_item"`
	ArchiveLabels  []string `yaml:"archive_labels"`
	ChatItem       string   `yaml:"chat_item"`
	ChatName       string   `yaml:"chat_name"`
	UnreadBadges   []string `yaml:"unread_badges"`
	Muted          string   `yaml:"muted"`
	Bubble         string   `yaml:"bubble"`
	MessageText    string   `yaml:"message_text"`
	Input          []string `yaml:"input"`
	SendButton     []string `yaml:"send_button"`
	AuthIndicators []string `yaml:"auth_indicators"`
}

// DefaultSelectors returns the selectors matching the current Web K markup.
func DefaultSelectors() Selectors {
	return Selectors{
		MenuButton:    "button.btn-menu-toggle.sidebar-tools-button",
		MenuItem:      ".btn-menu-item",
		ArchiveLabels: []string{"Archived Chats", "Архивные чаты"},
		ChatItem:      "a.chatlist-chat[data-peer-id]",
		ChatName:      ".peer-title",
		UnreadBadges: []string{
			".dialog-subtitle-badge.unread",
			".badge.unread",
			"[class*='unread']",
		},
		Muted:       ".is-muted",
		Bubble:      ".bubble[data-mid]",
		MessageText: ".translatable-message",
		Input: []string{
			".input-message-container > .input-message-input[contenteditable='true']:not(.input-field-input-fake)",
			".input-message-input[contenteditable='true']:not(.input-field-input-fake)",
		},
		SendButton:     []string{".btn-send", "button[aria-label='Send']"},
		AuthIndicators: []string{".sidebar", ".chatlist", "main"},
	}
}

// Config configures the adapter.
type Config struct {
	// PrioritizeOldest lists chats lowest on screen (oldest) first
	// (default: true).
	PrioritizeOldest bool `yaml:"prioritize_oldest"`

	// MenuDelayMS is the wait after opening the sidebar menu (default: 300).
	MenuDelayMS int `yaml:"menu_delay_ms"`

	// OpenDelayMS is the wait after clicking a chat (default: 2000).
	OpenDelayMS int `yaml:"open_delay_ms"`

	// TypeDelayMS is the wait between focusing, typing and sending
	// (default: 300).
	TypeDelayMS int `yaml:"type_delay_ms"`

	// MaxUnreadIncoming caps the unread incoming messages (default: 3).
	MaxUnreadIncoming int `yaml:"max_unread_incoming"`

	// UnreadWindow is how many recent messages are inspected for unread
	// incoming ones (default: 30).
	UnreadWindow int `yaml:"unread_window"`

	Selectors Selectors `yaml:"selectors"`
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{
		PrioritizeOldest:  true,
		MenuDelayMS:       300,
		OpenDelayMS:       2000,
		TypeDelayMS:       300,
		MaxUnreadIncoming: 3,
		UnreadWindow:      30,
		Selectors:         DefaultSelectors(),
	}
}

// Client drives Telegram Web K through a Page.
type Client struct {
	page   Page
	cfg    Config
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a client. Empty selector fields fall back to the defaults.
func New(page Page, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUnreadIncoming <= 0 {
		cfg.MaxUnreadIncoming = 3
	}
	if cfg.UnreadWindow <= 0 {
		cfg.UnreadWindow = 30
	}
	cfg.Selectors = mergeSelectors(cfg.Selectors, DefaultSelectors())
	return &Client{
		page:   page,
		cfg:    cfg,
		logger: logger.With("component", "telegram"),
		sleep:  sleepCtx,
	}
}

func mergeSelectors(s, def Selectors) Selectors {
	str := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	list := func(v *[]string, d []string) {
		if len(*v) == 0 {
			*v = d
		}
	}
	str(&s.MenuButton, def.MenuButton)
	str(&s.MenuItem, def.MenuItem)
	list(&s.ArchiveLabels, def.ArchiveLabels)
	str(&s.ChatItem, def.ChatItem)
	str(&s.ChatName, def.ChatName)
	list(&s.UnreadBadges, def.UnreadBadges)
	str(&s.Muted, def.Muted)
	str(&s.Bubble, def.Bubble)
	str(&s.MessageText, def.MessageText)
	list(&s.Input, def.Input)
	list(&s.SendButton, def.SendButton)
	list(&s.AuthIndicators, def.AuthIndicators)
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c *Client) eval(ctx context.Context, tmpl string, params, out any) error {
	expr, err := script(tmpl, params)
	if err != nil {
		return err
	}
	return c.page.Evaluate(ctx, expr, out)
}

// Authenticated reports whether any logged-in indicator is visible.
func (c *Client) Authenticated(ctx context.Context) (bool, error) {
	var ok bool
	err := c.eval(ctx, authScript, map[string]any{"selectors": c.cfg.Selectors.AuthIndicators}, &ok)
	return ok, err
}

// OpenArchiveFolder opens the sidebar menu and clicks its archive entry.
func (c *Client) OpenArchiveFolder(ctx context.Context) (bool, error) {
	sel := c.cfg.Selectors

	var clicked bool
	if err := c.eval(ctx, menuScript, map[string]any{"button": sel.MenuButton}, &clicked); err != nil {
		return false, fmt.Errorf("opening menu: %w", err)
	}
	if !clicked {
		c.logger.Warn("menu button not found or not visible")
		return false, nil
	}
	if err := c.sleep(ctx, ms(c.cfg.MenuDelayMS)); err != nil {
		return false, err
	}

	var opened bool
	params := map[string]any{"item": sel.MenuItem, "labels": sel.ArchiveLabels}
	if err := c.eval(ctx, archiveItemScript, params, &opened); err != nil {
		return false, fmt.Errorf("clicking archive item: %w", err)
	}
	if !opened {
		c.logger.Warn("archive entry not found in menu", "labels", sel.ArchiveLabels)
		return false, nil
	}
	return true, c.sleep(ctx, ms(c.cfg.MenuDelayMS))
}

type listedChat struct {
	Name   string `json:"name"`
	PeerID string `json:"peer_id"`
	Unread int    `json:"unread"`
	Muted  bool   `json:"muted"`
}

// ArchivedChatsWithUnread lists the visible archived chats with an unread
// badge, oldest first unless configured otherwise.
func (c *Client) ArchivedChatsWithUnread(ctx context.Context) ([]chat.Candidate, error) {
	sel := c.cfg.Selectors
	params := map[string]any{
		"item":         sel.ChatItem,
		"name":         sel.ChatName,
		"badges":       sel.UnreadBadges,
		"muted":        sel.Muted,
		"oldest_first": c.cfg.PrioritizeOldest,
	}

	var listed []listedChat
	if err := c.eval(ctx, listScript, params, &listed); err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}

	out := make([]chat.Candidate, 0, len(listed))
	for _, l := range listed {
		out = append(out, chat.Candidate{
			Name:        l.Name,
			UnreadCount: max(l.Unread, 1),
			Muted:       l.Muted,
			PeerID:      l.PeerID,
		})
	}
	c.logger.Debug("archived chats with unread", "count", len(out))
	return out, nil
}

// SelectChat clicks the chat whose title equals name.
func (c *Client) SelectChat(ctx context.Context, name string) (bool, error) {
	sel := c.cfg.Selectors
	params := map[string]any{"item": sel.ChatItem, "name": sel.ChatName, "target": name}

	var ok bool
	if err := c.eval(ctx, selectScript, params, &ok); err != nil {
		return false, fmt.Errorf("selecting chat: %w", err)
	}
	if !ok {
		c.logger.Warn("chat not found in list", "chat", name)
		return false, nil
	}
	return true, c.sleep(ctx, ms(c.cfg.OpenDelayMS))
}

// ExitCurrentChat closes the open chat with Escape.
func (c *Client) ExitCurrentChat(ctx context.Context) error {
	if err := c.page.PressKey(ctx, "Escape"); err != nil {
		return fmt.Errorf("exit chat: %w", err)
	}
	return c.sleep(ctx, ms(c.cfg.TypeDelayMS))
}

type bubble struct {
	Text string `json:"text"`
	Out  bool   `json:"out"`
}

// RecentMessages reads up to max visible messages, oldest first.
func (c *Client) RecentMessages(ctx context.Context, max int) (chat.History, error) {
	sel := c.cfg.Selectors
	params := map[string]any{"bubble": sel.Bubble, "text": sel.MessageText, "max": max}

	var bubbles []bubble
	if err := c.eval(ctx, historyScript, params, &bubbles); err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}

	history := make(chat.History, 0, len(bubbles))
	for _, b := range bubbles {
		role := chat.RoleOther
		if b.Out {
			role = chat.RoleSelf
		}
		history = append(history, chat.Message{Role: role, Text: b.Text})
	}
	return history.Tail(max).Renumber(), nil
}

// UnreadIncoming returns the incoming messages after the last outgoing one,
// at most MaxUnreadIncoming, oldest first.
func (c *Client) UnreadIncoming(ctx context.Context) (chat.History, error) {
	history, err := c.RecentMessages(ctx, c.cfg.UnreadWindow)
	if err != nil {
		return nil, err
	}
	return history.TrailingIncoming(c.cfg.MaxUnreadIncoming), nil
}

// SendMessage types text into the composer and clicks send once.
func (c *Client) SendMessage(ctx context.Context, text string) (bool, error) {
	sel := c.cfg.Selectors

	var focused bool
	if err := c.eval(ctx, focusInputScript, map[string]any{"inputs": sel.Input}, &focused); err != nil {
		return false, fmt.Errorf("focusing input: %w", err)
	}
	if !focused {
		c.logger.Error("message input not found")
		return false, nil
	}
	if err := c.page.InsertText(ctx, text); err != nil {
		return false, fmt.Errorf("typing message: %w", err)
	}
	if err := c.sleep(ctx, ms(c.cfg.TypeDelayMS)); err != nil {
		return false, err
	}

	var sent bool
	if err := c.eval(ctx, sendScript, map[string]any{"buttons": sel.SendButton}, &sent); err != nil {
		return false, fmt.Errorf("clicking send: %w", err)
	}
	if !sent {
		c.logger.Error("send button not found")
		return false, nil
	}
	c.logger.Info("message sent", "length", len([]rune(text)))
	return true, c.sleep(ctx, ms(c.cfg.TypeDelayMS))
}
