package web

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/boddenberg/surface-exec/internal/domain"
)

// Extractor pulls a structured answer out of a rendered page. It returns
// nil when the surface-specific blocks are missing; the caller then falls
// back to less structured content.
type Extractor interface {
	Extract(doc *html.Node) *domain.StructuredResponse
}

// Fallback levels recorded in response metadata.
const (
	fromStructured = "structured"
	fromContainer  = "container"
	fromPage       = "page"
)

// ChatExtractor reads the newest assistant message of a chat UI.
type ChatExtractor struct {
	Answer string
	// Citations selects source links; empty means every link in the answer.
	Citations string
	// Chrome selects UI elements inside the answer to drop (copy buttons etc).
	Chrome   string
	FollowUp string
}

func (e ChatExtractor) contentSelectors() []string {
	return []string{e.Answer, e.FollowUp}
}

func (e ChatExtractor) Extract(doc *html.Node) *domain.StructuredResponse {
	answer := queryLast(doc, e.Answer)
	if answer == nil {
		return nil
	}

	var sources []domain.SourceCitation
	linkSel := e.Citations
	scope := doc
	if linkSel == "" {
		linkSel, scope = "a[href]", answer
	}
	seen := make(map[string]bool)
	for _, a := range queryAll(scope, linkSel) {
		href := resolveLink(getAttrValue(a, "href"))
		if href == "" || seen[href] {
			continue
		}
		seen[href] = true
		sources = append(sources, domain.SourceCitation{
			Rank:  len(sources) + 1,
			Title: visibleText(a),
			URL:   href,
			Kind:  "citation",
		})
	}

	if e.Chrome != "" {
		for _, n := range queryAll(answer, e.Chrome) {
			detach(n)
		}
	}
	text := visibleText(answer)
	if text == "" {
		return nil
	}

	var followUps []string
	for _, n := range queryAll(doc, e.FollowUp) {
		if t := visibleText(n); t != "" {
			followUps = append(followUps, t)
		}
	}
	return &domain.StructuredResponse{MainResponse: text, Sources: sources, FollowUps: followUps}
}

// SearchExtractor separates an AI overview block from ranked organic results.
type SearchExtractor struct {
	Overview string
	Result   string
	Title    string
	Link     string
	Snippet  string
}

func (e SearchExtractor) contentSelectors() []string {
	return []string{e.Overview, e.Result}
}

func (e SearchExtractor) Extract(doc *html.Node) *domain.StructuredResponse {
	var (
		sources  []domain.SourceCitation
		overview string
	)

	if block := query(doc, e.Overview); block != nil {
		overview = visibleText(block)
		for _, a := range queryAll(block, "a[href]") {
			if href := resolveLink(getAttrValue(a, "href")); href != "" {
				sources = append(sources, domain.SourceCitation{
					Rank: len(sources) + 1, Title: visibleText(a), URL: href, Kind: "citation",
				})
			}
		}
	}

	rank := 0
	var lines []string
	for _, res := range queryAll(doc, e.Result) {
		link := query(res, e.Link)
		if link == nil {
			continue
		}
		href := resolveLink(getAttrValue(link, "href"))
		if href == "" {
			continue
		}
		title := visibleText(query(res, e.Title))
		snippet := visibleText(query(res, e.Snippet))
		rank++
		sources = append(sources, domain.SourceCitation{
			Rank: rank, Title: title, URL: href, Snippet: snippet, Kind: "organic",
		})
		if len(lines) < 3 && title != "" {
			lines = append(lines, strings.TrimSpace(title+": "+snippet))
		}
	}

	main := overview
	if main == "" {
		// no overview: summarise the top organic results
		main = strings.Join(lines, "\n")
	}
	if main == "" {
		return nil
	}
	return &domain.StructuredResponse{MainResponse: main, Sources: sources}
}

// resolveLink keeps absolute http(s) links and unwraps search-engine
// redirect links such as /url?q=.
func resolveLink(href string) string {
	if strings.HasPrefix(href, "/url?") {
		if u, err := url.Parse(href); err == nil {
			href = u.Query().Get("q")
		}
	}
	u, err := url.Parse(href)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.String()
}

// extractAnswer runs the surface extractor and degrades to the response
// container text, then to the visible page text.
func extractAnswer(doc *html.Node, s Surface) (*domain.StructuredResponse, string) {
	if s.Extractor != nil {
		if sr := s.Extractor.Extract(doc); sr != nil && sr.MainResponse != "" {
			return sr, fromStructured
		}
	}
	if c := queryLast(doc, s.ResponseSelector); c != nil {
		if text := visibleText(c); text != "" {
			return &domain.StructuredResponse{MainResponse: text}, fromContainer
		}
	}
	body := query(doc, "body")
	if body == nil {
		body = doc
	}
	if text := visibleText(body); text != "" {
		return &domain.StructuredResponse{MainResponse: text}, fromPage
	}
	return nil, ""
}
