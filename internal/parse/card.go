// Package parse extracts structured listing data from raw card HTML.
package parse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/avitolab/listings-crawler/internal/crawler"
)

// ErrCardParse reports that the page did not contain a parseable card.
var ErrCardParse = errors.New("card parse failed")

var digitsRe = regexp.MustCompile(`\d+`)

// CardParser implements crawler.CardParser over listing card markup.
type CardParser struct{}

// NewCardParser returns a goquery-backed card parser.
func NewCardParser() *CardParser {
	return &CardParser{}
}

// Parse extracts the card fields from the page HTML. A missing title marks
// the whole card as unparseable; every other field is optional.
func (p *CardParser) Parse(html string) (crawler.CardData, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return crawler.CardData{}, fmt.Errorf("%w: %v", ErrCardParse, err)
	}

	card := crawler.CardData{
		Title:       text(doc, `[data-marker="item-view/title-info"], h1[itemprop="name"]`),
		Description: text(doc, `[data-marker="item-view/item-description"], [itemprop="description"]`),
		Price:       attrOr(doc, `[itemprop="price"]`, "content", text(doc, `[data-marker="item-view/item-price"]`)),
		PublishedAt: text(doc, `[data-marker="item-view/item-date"]`),
	}
	if card.Title == "" {
		return crawler.CardData{}, fmt.Errorf("%w: title not found", ErrCardParse)
	}

	if raw := text(doc, `[data-marker="item-view/item-id"]`); raw != "" {
		if m := digitsRe.FindString(raw); m != "" {
			card.ItemID, _ = strconv.ParseInt(m, 10, 64)
		}
	}
	if raw := text(doc, `[data-marker="item-view/total-views"]`); raw != "" {
		if m := digitsRe.FindString(strings.ReplaceAll(raw, " ", "")); m != "" {
			card.ViewsTotal, _ = strconv.Atoi(m)
		}
	}

	card.Characteristics = characteristics(doc)

	seller := doc.Find(`[data-marker="seller-info/name"], [data-marker="seller-link/link"]`).First()
	card.SellerName = strings.TrimSpace(seller.Text())
	if href, ok := seller.Attr("href"); ok {
		card.SellerProfileURL = href
	} else if href, ok := seller.Find("a").Attr("href"); ok {
		card.SellerProfileURL = href
	}

	card.LocationAddress = text(doc, `[data-marker="item-view/item-address"] [itemprop="address"], [data-marker="item-view/item-address"]`)
	card.LocationMetro = text(doc, `[data-marker="item-view/item-metro"]`)
	card.LocationRegion = text(doc, `[data-marker="item-view/item-region"]`)

	return card, nil
}

func characteristics(doc *goquery.Document) map[string]string {
	params := make(map[string]string)
	doc.Find(`[data-marker="item-view/item-params"] li`).Each(func(_ int, li *goquery.Selection) {
		entry := strings.TrimSpace(li.Text())
		key, value, found := strings.Cut(entry, ":")
		if !found {
			return
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key != "" && value != "" {
			params[key] = value
		}
	})
	if len(params) == 0 {
		return nil
	}
	return params
}

func text(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func attrOr(doc *goquery.Document, selector, attr, fallback string) string {
	if value, ok := doc.Find(selector).First().Attr(attr); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}
