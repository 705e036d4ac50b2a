package web

import (
	"net/url"
	"strings"

	"github.com/boddenberg/surface-exec/internal/domain"
)

// Surface describes how to drive one browser-backed surface.
type Surface struct {
	Meta domain.SurfaceMetadata

	// HomeURL is opened for form-based surfaces.
	HomeURL string
	// QueryURL, when set, contains a {query} placeholder and the surface is
	// driven by navigation alone.
	QueryURL string

	InputSelector    string
	SubmitSelector   string
	ResponseSelector string
	LoadingSelector  string

	// ChallengeSelectors and LoginSelectors extend the built-in block markers.
	ChallengeSelectors []string
	LoginSelectors     []string

	Extractor Extractor
}

// contentAreas is implemented by extractors whose blocks hold answer or
// result content rather than page chrome.
type contentAreas interface {
	contentSelectors() []string
}

// contentSelectors lists the selectors whose text belongs to the answer.
func (s Surface) contentSelectors() []string {
	sels := []string{s.ResponseSelector}
	if c, ok := s.Extractor.(contentAreas); ok {
		sels = append(sels, c.contentSelectors()...)
	}
	return sels
}

// Templated reports whether the query is passed in the URL.
func (s Surface) Templated() bool {
	return s.QueryURL != ""
}

// URLFor returns the first URL to open for query.
func (s Surface) URLFor(query string) string {
	if !s.Templated() {
		return s.HomeURL
	}
	return strings.ReplaceAll(s.QueryURL, "{query}", url.QueryEscape(query))
}

// BuiltinSurfaces returns the browser surfaces shipped with the service.
// Selectors track the live sites and are the first thing to check when a
// surface starts returning invalid_response.
func BuiltinSurfaces() []Surface {
	chat := domain.Capabilities{Streaming: true}
	return []Surface{
		{
			Meta: domain.SurfaceMetadata{
				ID: "chatgpt-web", Name: "ChatGPT (web)", Category: domain.CategoryWebChatbot,
				Auth: domain.AuthSession, Capabilities: chat, RateLimitPerMinute: 6, Enabled: true,
			},
			HomeURL:          "https://chatgpt.com/",
			InputSelector:    "#prompt-textarea",
			SubmitSelector:   "button[data-testid=send-button]",
			ResponseSelector: "div[data-message-author-role=assistant]",
			LoadingSelector:  "button[data-testid=stop-button]",
			LoginSelectors:   []string{"button[data-testid=login-button]"},
			Extractor: ChatExtractor{
				Answer:   "div[data-message-author-role=assistant]",
				Chrome:   "button, nav, .sr-only",
				FollowUp: "button[data-testid=suggestion]",
			},
		},
		{
			Meta: domain.SurfaceMetadata{
				ID: "perplexity-web", Name: "Perplexity (web)", Category: domain.CategoryWebChatbot,
				Auth: domain.AuthNone, Capabilities: chat, RateLimitPerMinute: 10, Enabled: true,
			},
			HomeURL:          "https://www.perplexity.ai/",
			InputSelector:    "textarea",
			SubmitSelector:   "button[aria-label=Submit]",
			ResponseSelector: ".prose",
			LoadingSelector:  "[data-testid=answer-loading]",
			Extractor: ChatExtractor{
				Answer:    ".prose",
				Citations: "a[data-testid=citation], .citation a",
				Chrome:    "button, nav",
				FollowUp:  "div[data-testid=related-question]",
			},
		},
		{
			Meta: domain.SurfaceMetadata{
				ID: "google-search", Name: "Google Search", Category: domain.CategorySearch,
				Auth: domain.AuthNone, RateLimitPerMinute: 10, Enabled: true,
			},
			QueryURL:           "https://www.google.com/search?q={query}&hl=en",
			ResponseSelector:   "#search",
			ChallengeSelectors: []string{"form#captcha-form", "div#recaptcha"},
			Extractor: SearchExtractor{
				Overview: "div[data-attrid=ai_overview], div.ai-overview",
				Result:   "div.g",
				Title:    "h3",
				Link:     "a[href]",
				Snippet:  "div.VwiC3b, span.st",
			},
		},
		{
			Meta: domain.SurfaceMetadata{
				ID: "bing-search", Name: "Bing Search", Category: domain.CategorySearch,
				Auth: domain.AuthNone, RateLimitPerMinute: 10, Enabled: true,
			},
			QueryURL:         "https://www.bing.com/search?q={query}",
			ResponseSelector: "#b_results",
			Extractor: SearchExtractor{
				Overview: "div.b_ans div.rqnaContainer, div#copans_container",
				Result:   "li.b_algo",
				Title:    "h2",
				Link:     "h2 a[href]",
				Snippet:  "p, div.b_caption p",
			},
		},
	}
}
