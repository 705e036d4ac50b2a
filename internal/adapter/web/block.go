package web

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/boddenberg/surface-exec/internal/domain"
)

// challengeText is matched against visible page chrome, lowercased.
var challengeText = []string{
	"captcha",
	"unusual traffic",
	"verify you are human",
	"are you a robot",
}

// challengeSelectors are DOM markers left by common bot-challenge vendors.
var challengeSelectors = []string{
	"iframe[src*=recaptcha]",
	"iframe[src*=hcaptcha]",
	"iframe[src*=challenges.cloudflare.com]",
	".g-recaptcha",
	".h-captcha",
	"#challenge-form",
	"#challenge-running",
	".cf-turnstile",
	"[data-sitekey]",
}

var loginText = []string{
	"log in to continue",
	"sign in to continue",
	"your session has expired",
}

// detectBlock returns a non-retryable error when the page is a bot challenge
// or a login wall, and nil otherwise. Text markers are only looked for in
// the page chrome: answer and result areas are skipped and the query itself
// is removed, so content that talks about captchas is not a block.
func detectBlock(doc *html.Node, s Surface, q string) *domain.SurfaceError {
	if se := detectChallenge(doc, s); se != nil {
		return se
	}

	text := chromeText(doc, s, q)
	for _, marker := range challengeText {
		if strings.Contains(text, marker) {
			return domain.NewSurfaceError(domain.CodeCaptchaRequired,
				"bot challenge on "+s.Meta.ID+": page mentions "+marker, false, 0, nil)
		}
	}
	for _, marker := range loginText {
		if strings.Contains(text, marker) {
			return domain.NewSurfaceError(domain.CodeSessionExpired,
				"login wall on "+s.Meta.ID+": page mentions "+marker, false, 0, nil)
		}
	}
	return nil
}

// detectChallenge looks for challenge and login-wall DOM markers only. It is
// the check used once an answer may be on the page.
func detectChallenge(doc *html.Node, s Surface) *domain.SurfaceError {
	for _, sel := range append(challengeSelectors[:len(challengeSelectors):len(challengeSelectors)], s.ChallengeSelectors...) {
		if query(doc, sel) != nil {
			return domain.NewSurfaceError(domain.CodeCaptchaRequired,
				"bot challenge on "+s.Meta.ID+": found "+sel, false, 0, nil)
		}
	}
	for _, sel := range s.LoginSelectors {
		if query(doc, sel) != nil {
			return domain.NewSurfaceError(domain.CodeSessionExpired,
				"login wall on "+s.Meta.ID+": found "+sel, false, 0, nil)
		}
	}
	return nil
}

// chromeText is the lowercased visible text outside the surface's content
// areas, with occurrences of the query removed.
func chromeText(doc *html.Node, s Surface, q string) string {
	skip := make(map[*html.Node]bool)
	for _, sel := range s.contentSelectors() {
		for _, n := range queryAll(doc, sel) {
			skip[n] = true
		}
	}
	text := strings.ToLower(visibleTextSkipping(doc, skip))
	if q = strings.ToLower(strings.Join(strings.Fields(q), " ")); q != "" {
		text = strings.ReplaceAll(text, q, " ")
	}
	return text
}
