// Package pipeline orders extracted records and persists the dataset.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/aluiziolira/go-books-dataset/models"
	"github.com/aluiziolira/go-books-dataset/parser"
)

// Aggregator buffers per-category results and merges them in category
// discovery order. Add may be called from several goroutines; IDs are only
// assigned by Finalize, so arrival order never affects them.
type Aggregator struct {
	mu     sync.Mutex
	slots  [][]*models.Book
	filled []bool

	metrics metrics
}

// NewAggregator prepares one slot per discovered category.
func NewAggregator(categories int) *Aggregator {
	if categories < 0 {
		categories = 0
	}
	return &Aggregator{
		slots:   make([][]*models.Book, categories),
		filled:  make([]bool, categories),
		metrics: newMetrics(),
	}
}

// Add stores the records of the category at index, keeping their order.
func (a *Aggregator) Add(index int, books []*models.Book) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if index < 0 || index >= len(a.slots) {
		return fmt.Errorf("category index %d out of range [0,%d)", index, len(a.slots))
	}
	if a.filled[index] {
		return fmt.Errorf("category index %d already aggregated", index)
	}

	// Records from the crawler are already valid; this guards direct callers,
	// nil entries included.
	kept := make([]*models.Book, 0, len(books))
	for _, book := range books {
		if err := parser.ValidateBook(book); err != nil {
			a.metrics.addValidation("invalid_record")
			continue
		}
		kept = append(kept, book)
	}
	a.slots[index] = kept
	a.filled[index] = true
	a.metrics.addProcessed(len(kept))
	return nil
}

// Finalize concatenates all slots in index order and assigns IDs 1..N.
// The returned records are copies; the inputs are left untouched.
func (a *Aggregator) Finalize() []*models.Book {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for _, slot := range a.slots {
		total += len(slot)
	}

	out := make([]*models.Book, 0, total)
	for _, slot := range a.slots {
		for _, book := range slot {
			record := *book
			record.ID = len(out) + 1
			out = append(out, &record)
		}
	}
	return out
}

// GetMetrics returns a snapshot of the internal counters.
func (a *Aggregator) GetMetrics() map[string]interface{} {
	return a.metrics.snapshot()
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) addProcessed(n int) {
	m.mu.Lock()
	m.processed += int64(n)
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_books":   m.processed,
		"validation_errors": copyValidation,
	}
}
