package upload

import (
	"context"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/infrastructure/logging"
	"github.com/arenabridge/agent/internal/page"
	"github.com/arenabridge/agent/internal/shared/faults"
)

// tokenValidity is how long an extracted action token is trusted before the
// cache re-extracts.
const tokenValidity = 30 * time.Minute

// Step names for the two action-keyed upload calls.
const (
	StepSign   = "sign"
	StepNotify = "notify"
)

// stepPatterns locate per-step action identifiers in captured page content.
// The page embeds them as 40-hex server action ids next to the step name.
var stepPatterns = map[string]*regexp.Regexp{
	StepSign:   regexp.MustCompile(`(?i)"sign[a-z-]*"\s*[:,]\s*"([0-9a-f]{40,})"`),
	StepNotify: regexp.MustCompile(`(?i)"notify[a-z-]*"\s*[:,]\s*"([0-9a-f]{40,})"`),
}

type actionEntry struct {
	token       string
	refreshedAt time.Time
}

// ActionCache maps upload step names to currently valid action tokens.
// Tokens go stale after tokenValidity and are re-extracted from page
// content; live traffic refreshes them passively through Observe; seeded
// defaults cover pages that stopped embedding them.
type ActionCache struct {
	session  *page.Session
	defaults map[string]string
	log      *logging.Logger

	mu      sync.Mutex
	entries map[string]actionEntry
}

// NewActionCache builds the cache over the page session. Seeds are
// last-known-good tokens from configuration; nil is fine.
func NewActionCache(session *page.Session, seeds map[string]string, log *logging.Logger) *ActionCache {
	defaults := make(map[string]string, len(seeds))
	for step, token := range seeds {
		defaults[step] = token
	}
	return &ActionCache{
		session:  session,
		defaults: defaults,
		log:      log,
		entries:  make(map[string]actionEntry),
	}
}

// Get returns a valid token for the step, refreshing from page content when
// the cached one is stale. Extraction failure falls back to the seeded
// default before giving up.
func (c *ActionCache) Get(ctx context.Context, step string) (string, error) {
	c.mu.Lock()
	entry, ok := c.entries[step]
	c.mu.Unlock()

	if ok && time.Since(entry.refreshedAt) < tokenValidity {
		return entry.token, nil
	}

	if token := c.extract(ctx, step); token != "" {
		c.store(step, token)
		return token, nil
	}

	if token := c.defaults[step]; token != "" {
		c.log.Warn("action extraction failed, using seeded default",
			zap.String("step", step))
		c.store(step, token)
		return token, nil
	}

	// A stale token beats none at all.
	if ok {
		c.log.Warn("action extraction failed, reusing stale token",
			zap.String("step", step))
		return entry.token, nil
	}

	return "", faults.Newf(faults.ParseFailure, "no action token for step %q", step)
}

// Observe records a rotated token seen on live upload traffic.
func (c *ActionCache) Observe(step, token string) {
	if token == "" {
		return
	}
	c.store(step, token)
	c.log.Debug("action token refreshed from traffic", zap.String("step", step))
}

// Invalidate marks every entry stale so the next Get re-extracts. Called
// after recovery reloads, when the page may embed new identifiers.
func (c *ActionCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for step, entry := range c.entries {
		entry.refreshedAt = time.Time{}
		c.entries[step] = entry
	}
}

func (c *ActionCache) store(step, token string) {
	c.mu.Lock()
	c.entries[step] = actionEntry{token: token, refreshedAt: time.Now()}
	c.mu.Unlock()
}

func (c *ActionCache) extract(ctx context.Context, step string) string {
	pattern, ok := stepPatterns[step]
	if !ok {
		return ""
	}

	html, err := c.session.HTML(ctx)
	if err != nil {
		c.log.Debug("page capture failed during action extraction", zap.Error(err))
		return ""
	}

	if m := pattern.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}
