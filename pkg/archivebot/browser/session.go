// Package browser drives a Chrome/Chromium page over the Chrome DevTools
// Protocol (CDP).
//
// Architecture:
//
//	triage loop ──Navigate──▶ Session ──CDP──▶ Chrome page target
//	telegram    ──Evaluate──▶ Session ──CDP──▶ Runtime.evaluate → JSON
//	telegram    ──PressKey/InsertText──▶ Session ──CDP──▶ Input.*
//
// The browser is launched lazily on first use (or attached to through
// cdp_url) and kept alive for the whole run. A persistent profile directory
// keeps the web client login across restarts.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Config configures the browser session.
type Config struct {
	// ChromePath is the path to the Chrome/Chromium binary.
	// Auto-detected if empty.
	ChromePath string `yaml:"chrome_path"`

	// Headless runs the browser without a visible window (default: false,
	// the login needs a visible window).
	Headless bool `yaml:"headless"`

	// CDPURL attaches to an already running browser
	// (e.g. "http://127.0.0.1:9222") instead of launching one.
	CDPURL string `yaml:"cdp_url"`

	// UserDataDir is the persistent profile directory.
	UserDataDir string `yaml:"user_data_dir"`

	// WindowWidth is the browser window width (default: 1280).
	WindowWidth int `yaml:"window_width"`

	// WindowHeight is the browser window height (default: 900).
	WindowHeight int `yaml:"window_height"`

	// TimeoutSeconds is the max time for a single CDP command (default: 30).
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// PageLoadTimeoutSeconds bounds the wait for a page load (default: 60).
	PageLoadTimeoutSeconds int `yaml:"page_load_timeout_seconds"`

	// ExtraArgs are additional command-line arguments for Chrome.
	ExtraArgs []string `yaml:"extra_args"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UserDataDir:            "./data/browser-profile",
		WindowWidth:            1280,
		WindowHeight:           900,
		TimeoutSeconds:         30,
		PageLoadTimeoutSeconds: 60,
	}
}

// ErrClosed is returned by every call on a closed session.
var ErrClosed = errors.New("browser session closed")

// Session manages a Chrome process and the CDP connection to its page.
// Calls are serialized; a session is used by one logical flow at a time.
type Session struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	mu      sync.Mutex
	cmd     *exec.Cmd
	conn    *websocket.Conn
	wsURL   string
	msgID   int
	started bool
	closed  bool
}

// NewSession creates a session. Nothing is launched until first use.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.PageLoadTimeoutSeconds <= 0 {
		cfg.PageLoadTimeoutSeconds = 60
	}
	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = 1280
	}
	if cfg.WindowHeight <= 0 {
		cfg.WindowHeight = 900
	}
	return &Session{
		cfg:    cfg,
		logger: logger.With("component", "browser"),
		client: &http.Client{Timeout: 2 * time.Second},
	}
}

// findChrome locates the Chrome/Chromium binary.
func (s *Session) findChrome() string {
	if s.cfg.ChromePath != "" {
		return s.cfg.ChromePath
	}
	candidates := []string{
		"google-chrome",
		"google-chrome-stable",
		"chromium-browser",
		"chromium",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path
		}
	}
	return ""
}

// allocatePort finds a free TCP port.
func allocatePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}

// Start launches Chrome (or resolves the attach endpoint) and finds the
// page target. Called lazily by every page operation.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Session) startLocked(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}

	endpoint := strings.TrimRight(s.cfg.CDPURL, "/")
	if endpoint == "" {
		var err error
		if endpoint, err = s.launchLocked(); err != nil {
			return err
		}
	}

	wsURL, err := s.waitForPage(ctx, endpoint, 15*time.Second)
	if err != nil {
		s.killLocked()
		return fmt.Errorf("CDP not ready: %w", err)
	}

	s.wsURL = wsURL
	s.started = true
	s.logger.Debug("page target found", "ws", wsURL)
	return nil
}

func (s *Session) launchLocked() (string, error) {
	chromePath := s.findChrome()
	if chromePath == "" {
		return "", fmt.Errorf("chrome/chromium not found; install Chrome or set browser.chrome_path in config")
	}

	port, err := allocatePort()
	if err != nil {
		return "", fmt.Errorf("failed to allocate CDP port: %w", err)
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-popup-blocking",
		"--disable-translate",
		"--disable-sync",
		"--disable-default-apps",
		"--disable-dev-shm-usage",
		"--disable-blink-features=AutomationControlled",
		fmt.Sprintf("--window-size=%d,%d", s.cfg.WindowWidth, s.cfg.WindowHeight),
	}
	if s.cfg.UserDataDir != "" {
		if err := os.MkdirAll(s.cfg.UserDataDir, 0o700); err != nil {
			return "", fmt.Errorf("creating profile dir: %w", err)
		}
		args = append(args, "--user-data-dir="+s.cfg.UserDataDir)
	}
	if s.cfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, s.cfg.ExtraArgs...)
	args = append(args, "about:blank")

	// Not bound to a request context: the browser lives until Close.
	s.cmd = exec.Command(chromePath, args...)
	if err := s.cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start Chrome: %w", err)
	}

	s.logger.Info("chrome started", "pid", s.cmd.Process.Pid, "port", port, "headless", s.cfg.Headless)
	return fmt.Sprintf("http://127.0.0.1:%d", port), nil
}

type target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// waitForPage polls /json/list until a page target is listed.
func (s *Session) waitForPage(ctx context.Context, endpoint string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	listURL := endpoint + "/json/list"

	for {
		if wsURL, err := s.pageTarget(ctx, listURL); err == nil {
			return wsURL, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("timeout waiting for a page target at %s", endpoint)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (s *Session) pageTarget(ctx context.Context, listURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var targets []target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", err
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", errors.New("no page target")
}

// connectLocked establishes or reuses the WebSocket connection to CDP.
func (s *Session) connectLocked() (*websocket.Conn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("CDP WebSocket dial failed: %w", err)
	}
	s.conn = conn
	return conn, nil
}

type cdpResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// send issues a CDP command and waits for its response, skipping events.
func (s *Session) send(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.startLocked(ctx); err != nil {
		return nil, err
	}
	conn, err := s.connectLocked()
	if err != nil {
		return nil, err
	}

	s.msgID++
	msg := map[string]any{
		"id":     s.msgID,
		"method": method,
	}
	if params != nil {
		msg["params"] = params
	}

	if err := conn.WriteJSON(msg); err != nil {
		s.dropConnLocked()
		return nil, fmt.Errorf("CDP write error: %w", err)
	}

	deadline := time.Now().Add(time.Duration(s.cfg.TimeoutSeconds) * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	targetID := s.msgID
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.dropConnLocked()
			return nil, fmt.Errorf("CDP read error (%s): %w", method, err)
		}

		var resp cdpResponse
		if json.Unmarshal(data, &resp) != nil || resp.ID != targetID {
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("CDP error (%s): %s", method, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (s *Session) dropConnLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Navigate loads url and waits until the document is complete.
func (s *Session) Navigate(ctx context.Context, url string) error {
	result, err := s.send(ctx, "Page.navigate", map[string]any{"url": url})
	if err != nil {
		return err
	}

	var nav struct {
		ErrorText string `json:"errorText"`
	}
	if err := json.Unmarshal(result, &nav); err == nil && nav.ErrorText != "" {
		return fmt.Errorf("navigating to %s: %s", url, nav.ErrorText)
	}

	s.logger.Debug("navigated", "url", url)
	return s.waitReady(ctx)
}

// waitReady polls document.readyState until "complete".
func (s *Session) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(time.Duration(s.cfg.PageLoadTimeoutSeconds) * time.Second)
	for {
		var state string
		if err := s.Evaluate(ctx, "document.readyState", &state); err == nil && state == "complete" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("page load timed out after %ds", s.cfg.PageLoadTimeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// Evaluate runs a JavaScript expression in the page and decodes its
// by-value result into out (which may be nil). Promises are awaited.
// A thrown exception is returned as an error.
func (s *Session) Evaluate(ctx context.Context, expression string, out any) error {
	result, err := s.send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return err
	}

	var eval struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(result, &eval); err != nil {
		return fmt.Errorf("decoding evaluate result: %w", err)
	}
	if ex := eval.ExceptionDetails; ex != nil {
		msg := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			msg = ex.Exception.Description
		}
		return fmt.Errorf("javascript exception: %s", msg)
	}
	if out == nil || len(eval.Result.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(eval.Result.Value, out); err != nil {
		return fmt.Errorf("decoding %s value: %w", eval.Result.Type, err)
	}
	return nil
}

var keyCodes = map[string]int{
	"Enter":     13,
	"Escape":    27,
	"Backspace": 8,
	"Tab":       9,
}

// PressKey dispatches a keyDown/keyUp pair for key (e.g. "Escape").
func (s *Session) PressKey(ctx context.Context, key string) error {
	for _, typ := range []string{"keyDown", "keyUp"} {
		params := map[string]any{
			"type": typ,
			"key":  key,
			"code": key,
		}
		if code, ok := keyCodes[key]; ok {
			params["windowsVirtualKeyCode"] = code
			params["nativeVirtualKeyCode"] = code
		}
		if _, err := s.send(ctx, "Input.dispatchKeyEvent", params); err != nil {
			return fmt.Errorf("key %s %s failed: %w", key, typ, err)
		}
	}
	return nil
}

// InsertText types text into the focused element as a single input.
func (s *Session) InsertText(ctx context.Context, text string) error {
	if _, err := s.send(ctx, "Input.insertText", map[string]any{"text": text}); err != nil {
		return fmt.Errorf("insert text failed: %w", err)
	}
	return nil
}

// Close disconnects and stops a launched browser. Safe to call more than
// once; an attached browser is left running.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.dropConnLocked()
	return s.killLocked()
}

func (s *Session) killLocked() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	cmd := s.cmd
	s.cmd = nil
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stopping chrome: %w", err)
	}
	cmd.Wait()
	s.logger.Info("chrome stopped")
	return nil
}
