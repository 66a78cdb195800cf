// Package models defines data structures for the crawler.
package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Availability is the stock status of a book.
type Availability int

const (
	OutOfStock Availability = iota
	InStock
)

// String returns the literal written to the dataset.
func (a Availability) String() string {
	if a == InStock {
		return "In Stock"
	}
	return "Out of Stock"
}

// MarshalText lets JSON encoders emit the dataset literal.
func (a Availability) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Category is a catalog category discovered on the site root.
type Category struct {
	Name string
	URL  string
}

// Book is one extracted catalog record.
type Book struct {
	ID           int          `csv:"id" json:"id"`
	Title        string       `csv:"title" json:"title"`
	Price        float64      `csv:"price" json:"price"`
	Rating       int          `csv:"rating" json:"rating"`
	Availability Availability `csv:"availability" json:"availability"`
	Category     string       `csv:"category" json:"category"`
	ImageURL     string       `csv:"image_url" json:"image_url"`
	BookURL      string       `csv:"book_url" json:"book_url"`
}

// NewBook builds a record and enforces its invariants. The ID is assigned
// later by the aggregator.
func NewBook(title string, price float64, rating int, availability Availability, category, imageURL, bookURL string) (*Book, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("book missing title")
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return nil, fmt.Errorf("invalid price %v for %q", price, title)
	}
	if rating < 0 || rating > 5 {
		return nil, fmt.Errorf("rating %d out of range for %q", rating, title)
	}
	return &Book{
		Title:        title,
		Price:        price,
		Rating:       rating,
		Availability: availability,
		Category:     category,
		ImageURL:     imageURL,
		BookURL:      bookURL,
	}, nil
}

// RunResult summarises one crawl run.
type RunResult struct {
	RunID        string
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	Categories   int
	PageCount    int
	RequestCount int
	SkippedItems map[string]int
	ErrorsByType map[string]int
	OutputFile   string
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	if r == nil || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
