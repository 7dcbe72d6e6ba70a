package recovery

import (
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/page"
	"github.com/arenabridge/agent/internal/shared/faults"
)

// Verdict classifies one response, page, or stream unit.
type Verdict int

const (
	Normal Verdict = iota
	RateLimited
	Challenged
)

func (v Verdict) String() string {
	switch v {
	case RateLimited:
		return "rate_limited"
	case Challenged:
		return "challenged"
	default:
		return "normal"
	}
}

// Blocked reports whether the verdict requires recovery.
func (v Verdict) Blocked() bool {
	return v == RateLimited || v == Challenged
}

// Kind maps a blocking verdict to its fault class.
func (v Verdict) Kind() faults.Kind {
	switch v {
	case RateLimited:
		return faults.RateLimited
	case Challenged:
		return faults.ChallengeDetected
	default:
		return ""
	}
}

// Fault converts a blocking verdict into a classified error.
func (v Verdict) Fault(msg string) error {
	if !v.Blocked() {
		return nil
	}
	return faults.New(v.Kind(), msg)
}

// challengePhrases are content-level markers that show up in interstitial
// bodies and in stream units when the anti-automation layer intercepts a
// call.
var challengePhrases = []string{
	"just a moment...",
	"enable javascript and cookies to continue",
	"checking your browser before accessing",
	"verifying you are human",
	"cf-chl",
	"challenges.cloudflare.com",
}

// domMarkers are XPath expressions only challenge interstitials match.
var domMarkers = []string{
	`//form[@id='challenge-form']`,
	`//*[@id='challenge-running' or @id='cf-challenge-running']`,
	`//*[contains(@class, 'cf-turnstile')]`,
	`//*[@id='turnstile-wrapper']`,
	`//script[contains(@src, 'challenges.cloudflare.com')]`,
}

// normalMarkers are elements a real application page always has; their
// absence on a near-empty document is treated as an interstitial.
var normalMarkers = []string{
	"main",
	"nav",
	"#__next",
	"[data-sentry-component]",
}

// Detector classifies block conditions. It is stateless; one instance serves
// every caller.
type Detector struct {
	log *logging.Logger
}

func NewDetector(log *logging.Logger) *Detector {
	return &Detector{log: log}
}

// ClassifyStatus classifies on status code alone. Only the explicit
// rate-limit code is conclusive without content.
func (d *Detector) ClassifyStatus(status int) Verdict {
	if status == http.StatusTooManyRequests {
		return RateLimited
	}
	return Normal
}

// ClassifyResponse classifies a completed response. Interstitial statuses
// need content confirmation: a plain 403 from the application is a normal
// error, not a block.
func (d *Detector) ClassifyResponse(status int, body string) Verdict {
	if status == http.StatusTooManyRequests {
		return RateLimited
	}
	if hasChallengePhrase(body) {
		return Challenged
	}
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		if d.ClassifyPage(body) == Challenged {
			return Challenged
		}
	}
	return Normal
}

// ClassifyChunk applies the phrase markers to a single stream unit. DOM
// heuristics are skipped: units are fragments, not documents.
func (d *Detector) ClassifyChunk(chunk string) Verdict {
	if hasChallengePhrase(chunk) {
		return Challenged
	}
	return Normal
}

// ClassifyPage applies the full page-level heuristics: title markers,
// challenge DOM markers, then the empty-structure ratio.
func (d *Detector) ClassifyPage(html string) Verdict {
	if hasChallengePhrase(html) {
		return Challenged
	}

	doc, err := page.LoadDocument(html)
	if err != nil {
		return Normal
	}

	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	if strings.HasPrefix(title, "just a moment") || strings.Contains(title, "attention required") {
		d.log.Debug("challenge title detected", zap.String("title", title))
		return Challenged
	}

	if node, err := page.LoadNode(html); err == nil {
		for _, expr := range domMarkers {
			if htmlquery.FindOne(node, expr) != nil {
				d.log.Debug("challenge marker detected", zap.String("xpath", expr))
				return Challenged
			}
		}
	}

	if looksHollow(doc) {
		d.log.Debug("hollow page structure, treating as challenge")
		return Challenged
	}
	return Normal
}

// looksHollow flags documents with almost no structure and none of the
// markers a real application page carries. Interstitials are tiny; the
// application shell is not.
func looksHollow(doc *goquery.Document) bool {
	for _, sel := range normalMarkers {
		if doc.Find(sel).Length() > 0 {
			return false
		}
	}

	elements := doc.Find("body *").Length()
	text := strings.TrimSpace(doc.Find("body").Text())
	return elements > 0 && elements < 12 && len(text) < 400
}

func hasChallengePhrase(s string) bool {
	lowered := strings.ToLower(s)
	for _, phrase := range challengePhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
