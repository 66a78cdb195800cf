// Package parser turns catalog markup into records.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-books-dataset/models"
)

// ratingKeywords are scanned in this order; the first hit wins.
var ratingKeywords = [...]string{"One", "Two", "Three", "Four", "Five"}

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Parse builds a goquery document from a response body.
func Parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// ValidateBook ensures a record carries the required fields.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("book missing title")
	}
	if b.Price < 0 {
		return fmt.Errorf("book %q has negative price", b.Title)
	}
	if b.Rating < 0 || b.Rating > 5 {
		return fmt.Errorf("book %q has rating %d outside 0-5", b.Title, b.Rating)
	}
	return nil
}

// ParsePrice removes the currency symbol and surrounding whitespace and
// parses what is left as a plain decimal.
func ParsePrice(text string) (float64, error) {
	cleaned := strings.TrimFunc(text, func(r rune) bool {
		// Â shows up when a UTF-8 £ is decoded as Latin-1.
		return unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) || r == 'Â'
	})
	if cleaned == "" {
		return 0, fmt.Errorf("empty price text %q", text)
	}
	if !decimalPattern.MatchString(cleaned) {
		return 0, fmt.Errorf("non-numeric price %q", cleaned)
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", cleaned, err)
	}
	return price, nil
}

// RatingFromClass returns the ordinal of the first rating keyword found in
// the class list, or 0 when none is present.
func RatingFromClass(class string) int {
	tokens := strings.Fields(class)
	for i, keyword := range ratingKeywords {
		for _, token := range tokens {
			if strings.Contains(token, keyword) {
				return i + 1
			}
		}
	}
	return 0
}

// ParseAvailability maps the stock text to an Availability.
func ParseAvailability(text string) models.Availability {
	if strings.Contains(strings.ToLower(text), "in stock") {
		return models.InStock
	}
	return models.OutOfStock
}

// ResolveImageURL anchors a relative image path at the site root.
func ResolveImageURL(baseURL, src string) string {
	src = strings.TrimSpace(src)
	if src == "" || isAbsolute(src) {
		return src
	}
	return joinBase(baseURL, stripParents(src))
}

// ResolveBookURL anchors a relative detail link under the catalogue path.
func ResolveBookURL(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || isAbsolute(href) {
		return href
	}
	rel := stripParents(href)
	if !strings.HasPrefix(rel, "catalogue/") {
		rel = "catalogue/" + rel
	}
	return joinBase(baseURL, rel)
}

// ResolveURL resolves href against the site root the way a browser would.
func ResolveURL(baseURL, href string) (string, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func stripParents(p string) string {
	for {
		switch {
		case strings.HasPrefix(p, "../"):
			p = p[3:]
		case strings.HasPrefix(p, "./"):
			p = p[2:]
		default:
			return strings.TrimLeft(p, "/")
		}
	}
}

func joinBase(baseURL, rel string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + rel
}

func isAbsolute(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.IsAbs()
}
