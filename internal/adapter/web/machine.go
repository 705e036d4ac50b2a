package web

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/infra/resilience"
	"github.com/boddenberg/surface-exec/internal/port"
)

// State is a step of one browser query.
type State string

const (
	StateIdle             State = "idle"
	StateNavigating       State = "navigating"
	StateBlockCheck       State = "block_check"
	StateSubmitting       State = "submitting"
	StateAwaitingResponse State = "awaiting_response"
	StateExtracting       State = "extracting"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
)

// Transition records when a state was entered.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// stateFn performs one state and returns the next; nil ends the run.
type stateFn func(ctx context.Context, r *run) stateFn

// run is the mutable state of one query against one leased session.
type run struct {
	surface Surface
	sess    port.BrowserSession
	timing  Timing
	req     *domain.SurfaceQueryRequest
	logger  *zap.Logger

	trace       []Transition
	start       time.Time
	submittedAt time.Time
	firstText   time.Time

	src string
	doc *html.Node

	resp *domain.SurfaceQueryResponse
	err  error
}

func newRun(s Surface, sess port.BrowserSession, timing Timing, req *domain.SurfaceQueryRequest, logger *zap.Logger) *run {
	r := &run{surface: s, sess: sess, timing: timing, req: req, logger: logger, start: time.Now()}
	r.enter(StateIdle)
	return r
}

// execute drives the machine to a terminal state. A failure is reported
// either as err or as a success=false response when artifacts were captured.
func (r *run) execute(ctx context.Context) (*domain.SurfaceQueryResponse, error) {
	for state := stateFn(navigating); state != nil; {
		state = state(ctx, r)
	}
	return r.resp, r.err
}

func (r *run) enter(s State) {
	r.trace = append(r.trace, Transition{State: s, At: time.Now()})
}

// states returns the visited states in order.
func (r *run) states() []string {
	out := make([]string, len(r.trace))
	for i, t := range r.trace {
		out[i] = string(t.State)
	}
	return out
}

func (r *run) fail(err error) stateFn {
	r.err = err
	return failed
}

func navigating(ctx context.Context, r *run) stateFn {
	r.enter(StateNavigating)
	if r.surface.Templated() {
		// the query travels in the URL, so submission starts now
		r.submittedAt = time.Now()
	}
	if err := r.sess.Navigate(ctx, r.surface.URLFor(r.req.Query)); err != nil {
		return r.fail(fmt.Errorf("navigate %s: %w", r.surface.Meta.ID, err))
	}
	return blockCheck
}

func blockCheck(ctx context.Context, r *run) stateFn {
	r.enter(StateBlockCheck)
	if err := r.snapshot(ctx); err != nil {
		return r.fail(err)
	}
	if se := detectBlock(r.doc, r.surface, r.req.Query); se != nil {
		return r.blocked(ctx, se)
	}
	if r.surface.Templated() {
		return awaitingResponse
	}
	return submitting
}

func submitting(ctx context.Context, r *run) stateFn {
	r.enter(StateSubmitting)
	if err := fidget(ctx, r.sess, r.timing); err != nil {
		return r.fail(err)
	}
	if err := r.sess.Click(ctx, r.surface.InputSelector); err != nil {
		return r.fail(fmt.Errorf("focus input: %w", err))
	}
	if err := typeHuman(ctx, r.sess, r.timing, r.req.Query); err != nil {
		return r.fail(fmt.Errorf("type query: %w", err))
	}
	if err := resilience.Sleep(ctx, r.timing.Think()); err != nil {
		return r.fail(err)
	}

	r.submittedAt = time.Now()
	var err error
	if r.surface.SubmitSelector != "" {
		err = r.sess.Click(ctx, r.surface.SubmitSelector)
	} else {
		err = r.sess.Press(ctx, port.KeyEnter)
	}
	if err != nil {
		return r.fail(fmt.Errorf("submit query: %w", err))
	}
	if err := fidget(ctx, r.sess, r.timing); err != nil {
		return r.fail(err)
	}
	return awaitingResponse
}

// awaitingResponse polls until the loading indicator is gone and the
// response container has text. Streaming surfaces must also show the same
// text on two consecutive polls.
func awaitingResponse(ctx context.Context, r *run) stateFn {
	r.enter(StateAwaitingResponse)
	var previous string
	for {
		if err := resilience.Sleep(ctx, r.timing.Poll()); err != nil {
			return r.fail(fmt.Errorf("waiting for response: %w", err))
		}

		loading := false
		if sel := r.surface.LoadingSelector; sel != "" {
			var err error
			if loading, err = r.sess.Has(ctx, sel); err != nil {
				return r.fail(err)
			}
		}
		text, err := r.sess.Text(ctx, r.surface.ResponseSelector)
		if err != nil {
			return r.fail(err)
		}
		if text != "" && r.firstText.IsZero() {
			r.firstText = time.Now()
		}

		ready := !loading && text != ""
		if ready && r.surface.Meta.Capabilities.Streaming && text != previous {
			ready = false
		}
		previous = text
		if ready {
			return extracting
		}
	}
}

func extracting(ctx context.Context, r *run) stateFn {
	r.enter(StateExtracting)
	if err := r.snapshot(ctx); err != nil {
		return r.fail(err)
	}
	// a challenge can replace the page after submission; the answer itself
	// may mention one, so only DOM markers count here
	if se := detectChallenge(r.doc, r.surface); se != nil {
		return r.blocked(ctx, se)
	}

	sr, level := extractAnswer(r.doc, r.surface)
	if sr == nil {
		return r.fail(domain.NewSurfaceError(domain.CodeInvalidResponse,
			"no answer found on "+r.surface.Meta.ID, true, 2*time.Second, nil))
	}

	r.resp = &domain.SurfaceQueryResponse{
		Success:      true,
		ResponseText: sr.MainResponse,
		Structured:   sr,
		Evidence:     captureEvidence(ctx, r.sess, r.req.Evidence(), r.src, r.doc, r.logger),
		Metadata:     map[string]any{"extraction": level},
	}
	return succeeded
}

func succeeded(_ context.Context, r *run) stateFn {
	r.enter(StateSucceeded)
	r.finish()
	return nil
}

func failed(_ context.Context, r *run) stateFn {
	r.enter(StateFailed)
	if r.resp == nil {
		r.resp = &domain.SurfaceQueryResponse{}
	}
	r.resp.Success = false
	var se *domain.SurfaceError
	if errors.As(r.err, &se) {
		r.resp.Error = se
		r.err = nil
	}
	r.finish()
	r.logger.Info("web query failed",
		zap.Strings("states", r.states()),
		zap.NamedError("cause", r.errOrResp()),
	)
	return nil
}

// blocked fails the run, keeping page evidence when the caller asked for it.
func (r *run) blocked(ctx context.Context, se *domain.SurfaceError) stateFn {
	r.resp = &domain.SurfaceQueryResponse{
		Evidence: captureEvidence(ctx, r.sess, r.req.Evidence(), r.src, r.doc, r.logger),
	}
	return r.fail(se)
}

func (r *run) snapshot(ctx context.Context) error {
	src, err := r.sess.HTML(ctx)
	if err != nil {
		return fmt.Errorf("read page: %w", err)
	}
	doc, err := parseHTML(src)
	if err != nil {
		return domain.NewSurfaceError(domain.CodeInvalidResponse, "unparseable page", true, 2*time.Second, err)
	}
	r.src, r.doc = src, doc
	return nil
}

// finish fills timing and the state trace. Network time is not observable
// from inside the page and is left unset.
func (r *run) finish() {
	end := time.Now()
	t := domain.ResponseTiming{TotalMs: end.Sub(r.start).Milliseconds()}
	if !r.submittedAt.IsZero() {
		t.ResponseMs = end.Sub(r.submittedAt).Milliseconds()
		if !r.firstText.IsZero() {
			t.TTFBMs = r.firstText.Sub(r.submittedAt).Milliseconds()
		}
	}
	r.resp.Timing = t
	if r.resp.Metadata == nil {
		r.resp.Metadata = make(map[string]any)
	}
	r.resp.Metadata["stateTrace"] = r.states()
	r.resp.Metadata["sessionId"] = r.sess.ID()
}

func (r *run) errOrResp() error {
	if r.err != nil {
		return r.err
	}
	return r.resp.Error
}
