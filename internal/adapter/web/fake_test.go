package web

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/boddenberg/surface-exec/internal/port"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSession serves scripted HTML: page until the query is submitted,
// then answer. Has and Text run the package selector engine on it.
type fakeSession struct {
	id     string
	page   string
	answer string

	mu         sync.Mutex
	current    string
	navigated  []string
	clicks     []string
	typed      []rune
	backspaces int
	closes     int
	// actions records clicks, key presses and mouse moves in order.
	actions []string
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, url)
	s.current = s.page
	return nil
}

func (s *fakeSession) HTML(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *fakeSession) Has(_ context.Context, selector string) (bool, error) {
	doc, err := parseHTML(s.snapshot())
	if err != nil {
		return false, err
	}
	return query(doc, selector) != nil, nil
}

func (s *fakeSession) Text(_ context.Context, selector string) (string, error) {
	doc, err := parseHTML(s.snapshot())
	if err != nil {
		return "", err
	}
	return visibleText(query(doc, selector)), nil
}

func (s *fakeSession) Click(_ context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks = append(s.clicks, selector)
	s.actions = append(s.actions, "click "+selector)
	if selector == "#send" {
		s.current = s.answer
	}
	return nil
}

func (s *fakeSession) InsertText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typed = append(s.typed, []rune(text)...)
	return nil
}

func (s *fakeSession) Press(_ context.Context, key port.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case port.KeyBackspace:
		s.backspaces++
		if len(s.typed) > 0 {
			s.typed = s.typed[:len(s.typed)-1]
		}
	case port.KeyEnter:
		s.current = s.answer
		s.actions = append(s.actions, "press enter")
	}
	return nil
}

func (s *fakeSession) MoveMouse(context.Context, float64, float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, "move")
	return nil
}

func (s *fakeSession) Scroll(context.Context, float64) error { return nil }

func (s *fakeSession) Screenshot(context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (s *fakeSession) ResponseHeaders() map[string]string {
	return map[string]string{"content-type": "text/html"}
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSession) snapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *fakeSession) typedText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.typed)
}

func (s *fakeSession) actionLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.actions...)
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeFactory struct {
	page   string
	answer string
	err    error

	mu       sync.Mutex
	sessions []*fakeSession
	opts     []port.SessionOptions
	closed   int
}

func (f *fakeFactory) NewSession(_ context.Context, opts port.SessionOptions) (port.BrowserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSession{id: "sess-" + string(rune('a'+len(f.sessions))), page: f.page, answer: f.answer}
	f.sessions = append(f.sessions, s)
	f.opts = append(f.opts, opts)
	return s, nil
}

func (f *fakeFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeFactory) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

var errLaunch = errors.New("dial chrome: connection refused")

// typoTiming mistypes every letter and never waits.
type typoTiming struct{ NoDelay }

func (typoTiming) Typo() bool { return true }
