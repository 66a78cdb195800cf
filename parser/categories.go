package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-books-dataset/models"
)

// ErrNavigationNotFound means the root page has no category navigation block.
var ErrNavigationNotFound = errors.New("category navigation not found")

// DiscoverCategories reads the side navigation of the site root and returns
// its categories in on-page order.
func DiscoverCategories(doc *goquery.Document, baseURL string) ([]models.Category, error) {
	nav := doc.Find("ul.nav.nav-list").First()
	if nav.Length() == 0 {
		return nil, ErrNavigationNotFound
	}
	list := nav.Find("ul").First()
	if list.Length() == 0 {
		return nil, fmt.Errorf("%w: nested category list missing", ErrNavigationNotFound)
	}

	var (
		categories []models.Category
		firstErr   error
	)
	list.Find("a").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		name := strings.Join(strings.Fields(link.Text()), " ")
		href := strings.TrimSpace(link.AttrOr("href", ""))
		if name == "" || href == "" {
			slog.Debug("skipping category link without name or href",
				slog.String("name", name),
				slog.String("href", href),
			)
			return true
		}
		abs, err := ResolveURL(baseURL, href)
		if err != nil {
			firstErr = fmt.Errorf("category %q: %w", name, err)
			return false
		}
		categories = append(categories, models.Category{Name: name, URL: abs})
		return true
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return categories, nil
}
