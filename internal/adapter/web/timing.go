package web

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/boddenberg/surface-exec/internal/infra/resilience"
	"github.com/boddenberg/surface-exec/internal/port"
)

// Timing decides every delay the state machine injects between browser
// actions. HumanTiming imitates a person; NoDelay is for tests.
type Timing interface {
	// Keystroke is the gap after one typed character.
	Keystroke() time.Duration
	// Hesitation returns an extra pause after a keystroke, or 0.
	Hesitation() time.Duration
	// Typo reports whether the next character is mistyped and corrected.
	Typo() bool
	// Think is the pause before and after a deliberate action.
	Think() time.Duration
	// Cursor returns a point to move the mouse to.
	Cursor() (x, y float64)
	// Scroll returns a vertical scroll distance in pixels.
	Scroll() float64
	// Poll is the interval between response readiness checks.
	Poll() time.Duration
}

// HumanTimingConfig holds the delay ranges and probabilities.
type HumanTimingConfig struct {
	KeystrokeMin   time.Duration
	KeystrokeMax   time.Duration
	PauseChance    float64
	PauseMin       time.Duration
	PauseMax       time.Duration
	TypoChance     float64
	ThinkMin       time.Duration
	ThinkMax       time.Duration
	PollInterval   time.Duration
	ViewportWidth  float64
	ViewportHeight float64
}

// DefaultHumanTiming returns the standard typing profile.
func DefaultHumanTiming() HumanTimingConfig {
	return HumanTimingConfig{
		KeystrokeMin:   40 * time.Millisecond,
		KeystrokeMax:   120 * time.Millisecond,
		PauseChance:    0.08,
		PauseMin:       150 * time.Millisecond,
		PauseMax:       400 * time.Millisecond,
		TypoChance:     0.02,
		ThinkMin:       200 * time.Millisecond,
		ThinkMax:       700 * time.Millisecond,
		PollInterval:   500 * time.Millisecond,
		ViewportWidth:  1366,
		ViewportHeight: 768,
	}
}

// HumanTiming draws delays from the configured ranges. Safe for concurrent use.
type HumanTiming struct {
	cfg HumanTimingConfig
	mu  sync.Mutex
	rng *rand.Rand
}

// NewHumanTiming creates a policy. A zero seed uses the current time.
func NewHumanTiming(cfg HumanTimingConfig, seed int64) *HumanTiming {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.KeystrokeMax < cfg.KeystrokeMin {
		cfg.KeystrokeMax = cfg.KeystrokeMin
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultHumanTiming().PollInterval
	}
	return &HumanTiming{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (h *HumanTiming) between(lo, hi time.Duration) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(h.rng.Int63n(int64(hi-lo)))
}

func (h *HumanTiming) chance(p float64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.Float64() < p
}

func (h *HumanTiming) Keystroke() time.Duration {
	return h.between(h.cfg.KeystrokeMin, h.cfg.KeystrokeMax)
}

func (h *HumanTiming) Hesitation() time.Duration {
	if !h.chance(h.cfg.PauseChance) {
		return 0
	}
	return h.between(h.cfg.PauseMin, h.cfg.PauseMax)
}

func (h *HumanTiming) Typo() bool {
	return h.chance(h.cfg.TypoChance)
}

func (h *HumanTiming) Think() time.Duration {
	return h.between(h.cfg.ThinkMin, h.cfg.ThinkMax)
}

func (h *HumanTiming) Cursor() (float64, float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// keep away from the edges where real users rarely point
	x := h.cfg.ViewportWidth * (0.15 + 0.7*h.rng.Float64())
	y := h.cfg.ViewportHeight * (0.15 + 0.7*h.rng.Float64())
	return x, y
}

func (h *HumanTiming) Scroll() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return 80 + 240*h.rng.Float64()
}

func (h *HumanTiming) Poll() time.Duration {
	return h.cfg.PollInterval
}

// NoDelay never waits and never mistypes.
type NoDelay struct{}

func (NoDelay) Keystroke() time.Duration { return 0 }

func (NoDelay) Hesitation() time.Duration { return 0 }

func (NoDelay) Typo() bool { return false }

func (NoDelay) Think() time.Duration { return 0 }

func (NoDelay) Cursor() (float64, float64) { return 100, 100 }

func (NoDelay) Scroll() float64 { return 0 }

func (NoDelay) Poll() time.Duration { return 5 * time.Millisecond }

// neighbours maps a key to one physically adjacent key on a QWERTY layout.
var neighbours = map[rune]rune{
	'a': 's', 'b': 'v', 'c': 'x', 'd': 'f', 'e': 'r', 'f': 'g', 'g': 'h', 'h': 'j',
	'i': 'o', 'j': 'k', 'k': 'l', 'l': 'k', 'm': 'n', 'n': 'm', 'o': 'p', 'p': 'o',
	'q': 'w', 'r': 't', 's': 'd', 't': 'y', 'u': 'i', 'v': 'b', 'w': 'e', 'x': 'c',
	'y': 'u', 'z': 'x',
}

// typeHuman types text into the focused element one character at a time.
// Typos are only injected on letters so the correction is unambiguous.
func typeHuman(ctx context.Context, sess port.BrowserSession, timing Timing, text string) error {
	for _, r := range text {
		if wrong, ok := neighbours[r]; ok && timing.Typo() {
			if err := sess.InsertText(ctx, string(wrong)); err != nil {
				return err
			}
			if err := resilience.Sleep(ctx, timing.Keystroke()); err != nil {
				return err
			}
			if err := sess.Press(ctx, port.KeyBackspace); err != nil {
				return err
			}
		}
		if err := sess.InsertText(ctx, string(r)); err != nil {
			return err
		}
		if err := resilience.Sleep(ctx, timing.Keystroke()+timing.Hesitation()); err != nil {
			return err
		}
	}
	return nil
}

// fidget moves the cursor and scrolls a little, as people do around actions.
func fidget(ctx context.Context, sess port.BrowserSession, timing Timing) error {
	x, y := timing.Cursor()
	if err := sess.MoveMouse(ctx, x, y); err != nil {
		return err
	}
	if dy := timing.Scroll(); dy != 0 {
		if err := sess.Scroll(ctx, dy); err != nil {
			return err
		}
	}
	return resilience.Sleep(ctx, timing.Think())
}
