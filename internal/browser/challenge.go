package browser

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/avitolab/listings-crawler/internal/crawler"
)

// challengeSelectors are tried in order; each is one way the site asks a
// visitor to prove they are human.
var challengeSelectors = []string{
	`button[data-marker="button-continue"]`,
	`[data-marker="hold-button"]`,
	`form#captcha_form button[type="submit"]`,
}

// ChallengeSolver clears continue-button and captcha interstitials on a live
// chromedp session.
type ChallengeSolver struct {
	attemptTimeout time.Duration
	settleDelay    time.Duration
}

// NewChallengeSolver builds a solver with default timings.
func NewChallengeSolver() *ChallengeSolver {
	return &ChallengeSolver{
		attemptTimeout: 5 * time.Second,
		settleDelay:    2 * time.Second,
	}
}

// Resolve clicks through the known challenge controls and reports whether
// the page no longer shows a challenge afterwards. Sessions not backed by
// chromedp are reported as unsolved, never as an error.
func (c *ChallengeSolver) Resolve(ctx context.Context, session crawler.Session) (bool, error) {
	s, ok := session.(*Session)
	if !ok {
		return false, nil
	}

	clicked := false
	for _, selector := range challengeSelectors {
		if c.tryClick(s, selector) {
			clicked = true
			break
		}
	}
	if !clicked {
		return false, nil
	}

	// Give the page a moment to swap the interstitial for real content.
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(c.settleDelay):
	}

	view, err := session.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return !looksChallenged(view.HTML), nil
}

func (c *ChallengeSolver) tryClick(s *Session, selector string) bool {
	clickCtx, cancel := context.WithTimeout(s.browserCtx, c.attemptTimeout)
	defer cancel()
	err := chromedp.Run(clickCtx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	return err == nil
}

func looksChallenged(html string) bool {
	lower := strings.ToLower(html)
	return strings.Contains(lower, "captcha") ||
		strings.Contains(lower, `data-marker="button-continue"`) ||
		strings.Contains(lower, `data-marker="hold-button"`)
}
