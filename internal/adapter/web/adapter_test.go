package web

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/surface-exec/internal/adapter"
	"github.com/boddenberg/surface-exec/internal/domain"
)

const chatPage = `<html><head><title>Chat</title></head><body>
<textarea id="prompt"></textarea><button id="send">Send</button>
</body></html>`

const chatAnswer = `<html><body>
<div class="answer">Old answer.</div>
<div class="answer"><p>Paris is the capital of France.</p>
<a href="https://en.wikipedia.org/wiki/Paris">Wikipedia</a>
<button>Copy</button></div>
<button class="suggest">What about Lyon?</button>
</body></html>`

const searchPage = `<html><body><div id="search">
<div class="g"><a href="/url?q=https://go.dev/&sa=U"><h3>The Go Programming Language</h3></a>
<div class="VwiC3b">Go is an open source programming language.</div></div>
<div class="g"><a href="https://pkg.go.dev/"><h3>Go Packages</h3></a>
<div class="VwiC3b">Find Go packages.</div></div>
</div></body></html>`

const captchaPage = `<html><body><div id="search"></div>
<form id="captcha-form"><div class="g-recaptcha" data-sitekey="x"></div></form>
<p>Our systems have detected unusual traffic from your computer network.</p>
</body></html>`

func chatSurface() Surface {
	return Surface{
		Meta: domain.SurfaceMetadata{
			ID: "test-web", Category: domain.CategoryWebChatbot,
			Capabilities: domain.Capabilities{Streaming: true}, RateLimitPerMinute: 10, Enabled: true,
		},
		HomeURL:          "https://chat.test/",
		InputSelector:    "#prompt",
		SubmitSelector:   "#send",
		ResponseSelector: "div.answer",
		Extractor: ChatExtractor{
			Answer:   "div.answer",
			Chrome:   "button",
			FollowUp: "button.suggest",
		},
	}
}

func builtin(t *testing.T, id string) Surface {
	t.Helper()
	for _, s := range BuiltinSurfaces() {
		if s.Meta.ID == id {
			return s
		}
	}
	t.Fatalf("no builtin surface %s", id)
	return Surface{}
}

func newTestAdapter(t *testing.T, s Surface, f *fakeFactory, timing Timing) (*Adapter, *SessionPool) {
	t.Helper()
	pool := NewSessionPool(f, 2, zap.NewNop())
	a, err := New(Config{
		Surface: s,
		Pool:    pool,
		Timing:  timing,
		Policy:  adapter.RetryPolicy{Timeout: 5 * time.Second, MaxRetries: 1, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond},
	}, zap.NewNop())
	require.NoError(t, err)
	return a, pool
}

func TestAdapter_FormSurfaceSucceeds(t *testing.T) {
	f := &fakeFactory{page: chatPage, answer: chatAnswer}
	a, pool := newTestAdapter(t, chatSurface(), f, NoDelay{})

	resp := a.Query(context.Background(), &domain.SurfaceQueryRequest{Query: "capital of france"})

	require.True(t, resp.Success, "error: %v", resp.Error)
	require.NoError(t, resp.Validate())
	assert.Equal(t, "Paris is the capital of France.\nWikipedia", resp.ResponseText)
	require.Len(t, resp.Structured.Sources, 1)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Paris", resp.Structured.Sources[0].URL)
	assert.Equal(t, "citation", resp.Structured.Sources[0].Kind)
	assert.Equal(t, []string{"What about Lyon?"}, resp.Structured.FollowUps)

	assert.Equal(t, []string{"idle", "navigating", "block_check", "submitting", "awaiting_response", "extracting", "succeeded"},
		resp.Metadata["stateTrace"])
	assert.Equal(t, fromStructured, resp.Metadata["extraction"])
	assert.Equal(t, "test-web", resp.Metadata["surfaceId"])
	assert.Zero(t, resp.Timing.NetworkMs)
	assert.Nil(t, resp.Evidence)

	sess := f.last()
	assert.Equal(t, "capital of france", sess.typedText())
	assert.Equal(t, []string{"https://chat.test/"}, sess.navigated)
	assert.Contains(t, sess.clicks, "#send")
	assert.Equal(t, []string{"move", "click #prompt", "click #send", "move"}, sess.actionLog())
	assert.Equal(t, 1, sess.closeCount())
	assert.Zero(t, pool.InUse())
}

func TestAdapter_AnswerAboutCaptchaIsNotABlock(t *testing.T) {
	answer := `<html><body><div class="answer"><p>A CAPTCHA is a test that tells humans and bots apart.
Sites show one when they see unusual traffic and want you to verify you are human.</p></div></body></html>`
	f := &fakeFactory{page: chatPage, answer: answer}
	a, pool := newTestAdapter(t, chatSurface(), f, NoDelay{})

	resp := a.Query(context.Background(), &domain.SurfaceQueryRequest{Query: "what is a captcha?"})

	require.True(t, resp.Success, "error: %v", resp.Error)
	assert.Contains(t, resp.ResponseText, "A CAPTCHA is a test")
	assert.Equal(t, fromStructured, resp.Metadata["extraction"])
	assert.Zero(t, pool.InUse())
}

func TestAdapter_SearchForCaptchaIsNotABlock(t *testing.T) {
	page := `<html><body><div id="searchform"><span>captcha</span></div><div id="search">
<div class="g"><a href="https://en.wikipedia.org/wiki/CAPTCHA"><h3>CAPTCHA - Wikipedia</h3></a>
<div class="VwiC3b">A CAPTCHA is a challenge used to detect unusual traffic.</div></div>
</div></body></html>`
	f := &fakeFactory{page: page}
	a, _ := newTestAdapter(t, builtin(t, "google-search"), f, NoDelay{})

	resp := a.Query(context.Background(), &domain.SurfaceQueryRequest{Query: "captcha"})

	require.True(t, resp.Success, "error: %v", resp.Error)
	require.Len(t, resp.Structured.Sources, 1)
	assert.Equal(t, "https://en.wikipedia.org/wiki/CAPTCHA", resp.Structured.Sources[0].URL)
}

func TestAdapter_ChallengeAfterSubmitIsTerminal(t *testing.T) {
	answer := `<html><body><div class="answer">Thinking</div><div class="cf-turnstile"></div></body></html>`
	f := &fakeFactory{page: chatPage, answer: answer}
	a, pool := newTestAdapter(t, chatSurface(), f, NoDelay{})

	resp := a.Query(context.Background(), &domain.SurfaceQueryRequest{Query: "hello"})

	require.False(t, resp.Success)
	assert.Equal(t, domain.CodeCaptchaRequired, resp.Error.Code)
	assert.Len(t, resp.Attempts, 1)
	assert.Zero(t, pool.InUse())
}

func TestAdapter_TemplatedSearchSkipsSubmission(t *testing.T) {
	f := &fakeFactory{page: searchPage}
	a, _ := newTestAdapter(t, builtin(t, "google-search"), f, NoDelay{})

	resp := a.Query(context.Background(), &domain.SurfaceQueryRequest{Query: "golang tutorial"})

	require.True(t, resp.Success, "error: %v", resp.Error)
	sess := f.last()
	require.Len(t, sess.navigated, 1)
	assert.True(t, strings.Contains(sess.navigated[0], "q=golang+tutorial"), sess.navigated[0])
	assert.Empty(t, sess.typedText())
	assert.NotContains(t, resp.Metadata["stateTrace"], "submitting")

	sources := resp.Structured.Sources
	require.Len(t, sources, 2)
	assert.Equal(t, domain.SourceCitation{
		Rank: 1, Title: "The Go Programming Language", URL: "https://go.dev/",
		Snippet: "Go is an open source programming language.", Kind: "organic",
	}, sources[0])
	assert.Equal(t, 2, sources[1].Rank)
	assert.Equal(t, "The Go Programming Language: Go is an open source programming language.\nGo Packages: Find Go packages.",
		resp.ResponseText)
}

func TestAdapter_CaptchaIsTerminal(t *testing.T) {
	f := &fakeFactory{page: captchaPage}
	a, pool := newTestAdapter(t, builtin(t, "google-search"), f, NoDelay{})

	resp := a.Query(context.Background(), &domain.SurfaceQueryRequest{
		Query: "golang", CaptureEvidence: true, EvidenceLevel: domain.EvidenceFull,
	})

	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.CodeCaptchaRequired, resp.Error.Code)
	assert.False(t, resp.Error.Retryable)
	assert.Len(t, resp.Attempts, 1)
	assert.Equal(t, []string{"idle", "navigating", "block_check", "failed"}, resp.Metadata["stateTrace"])

	require.NotNil(t, resp.Evidence)
	assert.Equal(t, []byte("png"), resp.Evidence.Screenshot)
	assert.Equal(t, "text/html", resp.Evidence.Headers["content-type"])
	assert.Len(t, resp.Evidence.Digest, 64)

	assert.Len(t, f.sessions, 1)
	assert.Equal(t, 1, f.last().closeCount())
	assert.Zero(t, pool.InUse())
}

func TestAdapter_TimeoutReleasesSession(t *testing.T) {
	s := Surface{
		Meta:             domain.SurfaceMetadata{ID: "slow-search", Category: domain.CategorySearch},
		QueryURL:         "https://search.test/?q={query}",
		ResponseSelector: "#results",
		LoadingSelector:  "#spinner",
	}
	f := &fakeFactory{page: `<body><div id="spinner"></div><div id="results">partial</div></body>`}
	pool := NewSessionPool(f, 1, zap.NewNop())
	a, err := New(Config{Surface: s, Pool: pool, Timing: NoDelay{}, Policy: adapter.RetryPolicy{Timeout: time.Second}}, zap.NewNop())
	require.NoError(t, err)

	resp := a.Query(context.Background(), &domain.SurfaceQueryRequest{Query: "q", TimeoutMs: 50})

	require.False(t, resp.Success)
	assert.Equal(t, domain.CodeTimeout, resp.Error.Code)
	assert.Equal(t, 1, f.last().closeCount())
	assert.Zero(t, pool.InUse())
}

func TestAdapter_RoutingReachesSession(t *testing.T) {
	f := &fakeFactory{page: searchPage}
	a, _ := newTestAdapter(t, builtin(t, "google-search"), f, NoDelay{})
	loc := &domain.Location{Country: "DE", Locale: "de-DE"}
	ctx := adapter.WithRouting(context.Background(), adapter.Routing{Proxy: "http://proxy.test:8080", Location: loc, SessionID: "s-1"})

	resp := a.Query(ctx, &domain.SurfaceQueryRequest{Query: "wetter"})

	require.True(t, resp.Success)
	require.Len(t, f.opts, 1)
	assert.Equal(t, "http://proxy.test:8080", f.opts[0].Proxy)
	assert.Equal(t, loc, f.opts[0].Location)
	assert.Equal(t, "s-1", f.opts[0].SessionID)
}

func TestAdapter_CloseIsIdempotentAndRejectsQueries(t *testing.T) {
	f := &fakeFactory{page: searchPage}
	a, pool := newTestAdapter(t, builtin(t, "google-search"), f, NoDelay{})

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	resp := a.Query(context.Background(), &domain.SurfaceQueryRequest{Query: "golang"})
	require.False(t, resp.Success)
	assert.Equal(t, domain.CodeServiceUnavailable, resp.Error.Code)
	assert.Empty(t, f.sessions)
	assert.False(t, a.HealthCheck(context.Background()).Healthy)
	assert.False(t, pool.Closed())
}

func TestAdapter_SessionFactoryFailureIsRetried(t *testing.T) {
	f := &fakeFactory{err: errLaunch}
	a, pool := newTestAdapter(t, builtin(t, "google-search"), f, NoDelay{})

	resp := a.Query(context.Background(), &domain.SurfaceQueryRequest{Query: "golang"})

	require.False(t, resp.Success)
	assert.Len(t, resp.Attempts, 1+a.Policy().MaxRetries)
	assert.Zero(t, pool.InUse())
}

func TestNew_Validates(t *testing.T) {
	pool := NewSessionPool(&fakeFactory{}, 1, nil)

	_, err := New(Config{Pool: pool}, nil)
	assert.Error(t, err)

	_, err = New(Config{Surface: builtin(t, "google-search")}, nil)
	assert.Error(t, err)

	form := chatSurface()
	form.InputSelector = ""
	_, err = New(Config{Surface: form, Pool: pool}, nil)
	assert.Error(t, err)

	a, err := New(Config{Surface: builtin(t, "bing-search"), Pool: pool}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), a.Policy())
}
