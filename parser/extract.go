package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-books-dataset/models"
)

// ItemSelector marks one catalog entry on a listing page.
const ItemSelector = "article.product_pod"

var (
	// ErrMissingElement means a required child element is absent.
	ErrMissingElement = errors.New("element not found")
	// ErrMissingAttr means a required attribute is absent or blank.
	ErrMissingAttr = errors.New("attribute not found")
)

// ExtractError is the skip outcome for one item node.
type ExtractError struct {
	Field string
	Err   error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Field, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// Skip records an item node that produced no record.
type Skip struct {
	Index int
	Err   error
}

// Reason returns a short label for metrics and summaries.
func (s Skip) Reason() string {
	var extractErr *ExtractError
	if !errors.As(s.Err, &extractErr) {
		return "invalid_record"
	}
	if errors.Is(extractErr.Err, ErrMissingElement) || errors.Is(extractErr.Err, ErrMissingAttr) {
		return "missing_" + extractErr.Field
	}
	return "invalid_" + extractErr.Field
}

// Page holds the outcome of extracting every item node on one listing page.
type Page struct {
	Nodes   int
	Books   []*models.Book
	Skipped []Skip
}

// ExtractPage extracts all item nodes of a listing page in document order.
func ExtractPage(doc *goquery.Document, baseURL, category string) Page {
	items := doc.Find(ItemSelector)
	page := Page{Nodes: items.Length()}
	items.Each(func(i int, item *goquery.Selection) {
		book, err := ExtractBook(item, baseURL, category)
		if err != nil {
			page.Skipped = append(page.Skipped, Skip{Index: i, Err: err})
			return
		}
		page.Books = append(page.Books, book)
	})
	return page
}

// ExtractBook parses one item node. Title, price and rating are required;
// any failure among them skips the whole item.
func ExtractBook(item *goquery.Selection, baseURL, category string) (*models.Book, error) {
	anchor := item.Find("h3 a").First()
	if anchor.Length() == 0 {
		return nil, &ExtractError{Field: "title", Err: ErrMissingElement}
	}
	title, ok := anchor.Attr("title")
	if !ok || strings.TrimSpace(title) == "" {
		return nil, &ExtractError{Field: "title", Err: ErrMissingAttr}
	}

	priceEl := item.Find("p.price_color").First()
	if priceEl.Length() == 0 {
		return nil, &ExtractError{Field: "price", Err: ErrMissingElement}
	}
	price, err := ParsePrice(priceEl.Text())
	if err != nil {
		return nil, &ExtractError{Field: "price", Err: err}
	}

	ratingEl := item.Find("p.star-rating").First()
	if ratingEl.Length() == 0 {
		return nil, &ExtractError{Field: "rating", Err: ErrMissingElement}
	}
	rating := RatingFromClass(ratingEl.AttrOr("class", ""))

	availability := ParseAvailability(item.Find("p.availability").First().Text())
	imageURL := ResolveImageURL(baseURL, item.Find("img").First().AttrOr("src", ""))
	bookURL := ResolveBookURL(baseURL, anchor.AttrOr("href", ""))

	book, err := models.NewBook(title, price, rating, availability, category, imageURL, bookURL)
	if err != nil {
		return nil, &ExtractError{Field: "record", Err: err}
	}
	return book, nil
}
