package triage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/archivebot/pkg/archivebot/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSite records every adapter call in order.
type fakeSite struct {
	mu    sync.Mutex
	calls []string

	openArchive    bool
	openArchiveErr error

	// scans is consumed one entry per call; the last entry repeats.
	scans   [][]chat.Candidate
	scanErr error

	selectOK    bool
	selectErr   error
	history     chat.History
	historyErr  error
	historyFunc func() (chat.History, error)
	unread      chat.History
	unreadErr   error
	sendOK      bool
	sendErr     error
	sent        []string
	exitErr     error
	exitPanic   bool
}

func newFakeSite() *fakeSite {
	return &fakeSite{openArchive: true, selectOK: true, sendOK: true}
}

func (s *fakeSite) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *fakeSite) count(call string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (s *fakeSite) OpenArchiveFolder(context.Context) (bool, error) {
	s.record("open-archive")
	return s.openArchive, s.openArchiveErr
}

func (s *fakeSite) ArchivedChatsWithUnread(context.Context) ([]chat.Candidate, error) {
	s.record("scan")
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	if len(s.scans) == 0 {
		return nil, nil
	}
	next := s.scans[0]
	if len(s.scans) > 1 {
		s.scans = s.scans[1:]
	}
	return next, nil
}

func (s *fakeSite) SelectChat(_ context.Context, name string) (bool, error) {
	s.record("select")
	return s.selectOK, s.selectErr
}

func (s *fakeSite) ExitCurrentChat(context.Context) error {
	s.record("exit")
	if s.exitPanic {
		panic("exit exploded")
	}
	return s.exitErr
}

func (s *fakeSite) RecentMessages(_ context.Context, max int) (chat.History, error) {
	s.record("history")
	if s.historyFunc != nil {
		return s.historyFunc()
	}
	return s.history, s.historyErr
}

func (s *fakeSite) UnreadIncoming(context.Context) (chat.History, error) {
	s.record("unread")
	return s.unread, s.unreadErr
}

func (s *fakeSite) SendMessage(_ context.Context, text string) (bool, error) {
	s.record("send")
	s.sent = append(s.sent, text)
	return s.sendOK, s.sendErr
}

type fakeGenerator struct {
	decision chat.Decision
	calls    int
	lastText string
	history  chat.History
}

func (g *fakeGenerator) Generate(_ context.Context, history chat.History, last string) chat.Decision {
	g.calls++
	g.lastText = last
	g.history = history
	return g.decision
}

type fakeSession struct {
	navigated []string
	navErr    error
	closed    int
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.navigated = append(s.navigated, url)
	return s.navErr
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

// fakeProbe reports authenticated from the after-th probe on (0 = first).
// after < 0 never authenticates.
// A non-nil clock is advanced by delay on every probe.
type fakeProbe struct {
	after int
	calls int
	clock *fakeClock
	delay time.Duration
}

func (p *fakeProbe) Authenticated(context.Context) (bool, error) {
	p.calls++
	if p.clock != nil {
		p.clock.now = p.clock.now.Add(p.delay)
	}
	return p.after >= 0 && p.calls > p.after, nil
}

type fakePrompter struct {
	answer bool
	err    error
	asked  []string
}

func (p *fakePrompter) Confirm(_ context.Context, question string) (bool, error) {
	p.asked = append(p.asked, question)
	return p.answer, p.err
}

// fakeClock records sleeps without waiting. After stopAfter sleeps it calls
// cancel so the loop under test winds down.
type fakeClock struct {
	now       time.Time
	sleeps    []time.Duration
	stopAfter int
	cancel    context.CancelFunc
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	if c.stopAfter > 0 && len(c.sleeps) >= c.stopAfter && c.cancel != nil {
		c.cancel()
		return context.Canceled
	}
	return nil
}

// recordingObserver keeps what the loop reported.
type recordingObserver struct {
	transitions [][2]State
	scans       []int
	cycles      []CycleReport
	recoveries  []error
	stopped     []State
}

func (o *recordingObserver) OnTransition(from, to State) {
	o.transitions = append(o.transitions, [2]State{from, to})
}
func (o *recordingObserver) OnScan(found int) { o.scans = append(o.scans, found) }
func (o *recordingObserver) OnCycle(_ context.Context, r CycleReport) {
	o.cycles = append(o.cycles, r)
}
func (o *recordingObserver) OnRecovery(err error) { o.recoveries = append(o.recoveries, err) }
func (o *recordingObserver) OnStop(final State)   { o.stopped = append(o.stopped, final) }

func (o *recordingObserver) visited(s State) bool {
	for _, t := range o.transitions {
		if t[1] == s {
			return true
		}
	}
	return false
}

var errBoom = errors.New("boom")

func fiveMessages() chat.History {
	return chat.History{
		{Role: chat.RoleOther, Text: "hey"},
		{Role: chat.RoleSelf, Text: "hi"},
		{Role: chat.RoleOther, Text: "how are you"},
		{Role: chat.RoleSelf, Text: "fine"},
		{Role: chat.RoleOther, Text: "cool, what's up?"},
	}.Renumber()
}
