package browser

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/avitolab/listings-crawler/internal/crawler"
)

// Detector classifies page snapshots. Transport-level block signals are
// checked before any content heuristics so a blocked proxy is never
// misread as a missing card.
type Detector struct{}

// NewDetector returns the page-state classifier.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect maps a page view onto a PageState. It returns an error when the
// snapshot matches no known state; callers treat that as a detection error.
func (d *Detector) Detect(view crawler.PageView) (crawler.PageState, error) {
	switch view.StatusCode {
	case http.StatusForbidden:
		return crawler.StateProxyBlocked, nil
	case http.StatusProxyAuthRequired:
		return crawler.StateProxyAuth, nil
	case http.StatusTooManyRequests:
		return crawler.StateRateLimited, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(view.HTML))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	switch {
	case hasAny(doc, `form#captcha_form, [class*="captcha"] img, img[src*="captcha"]`):
		return crawler.StateCaptcha, nil
	case hasAny(doc, `button[data-marker="button-continue"], [data-marker="hold-button"]`):
		return crawler.StateContinueButton, nil
	case hasAny(doc, `[data-marker="item-view/closed-warning"], [data-marker="item-view/item-removed"]`):
		return crawler.StateRemoved, nil
	case hasAny(doc, `[data-marker="profile-title"], [data-marker="profile/summary"]`):
		return crawler.StateSellerProfile, nil
	case hasAny(doc, `[data-marker="catalog-serp"], [data-marker="search-form"]`):
		return crawler.StateCatalog, nil
	case hasAny(doc, `[data-marker="item-view/title-info"], h1[itemprop="name"]`):
		return crawler.StateCardFound, nil
	}

	return "", fmt.Errorf("page state not recognized (status %d)", view.StatusCode)
}

func hasAny(doc *goquery.Document, selector string) bool {
	return doc.Find(selector).Length() > 0
}
