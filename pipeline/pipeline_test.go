package pipeline

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-books-dataset/models"
)

func book(title string) *models.Book {
	return &models.Book{Title: title, Price: 10, Rating: 3, Availability: models.InStock}
}

func titles(books []*models.Book) []string {
	out := make([]string, 0, len(books))
	for _, b := range books {
		out = append(out, b.Title)
	}
	return out
}

func TestAggregatorAssignsIDsInDiscoveryOrder(t *testing.T) {
	agg := NewAggregator(2)

	// Category B finishes first; IDs must still follow discovery order.
	require.NoError(t, agg.Add(1, []*models.Book{book("B1")}))
	require.NoError(t, agg.Add(0, []*models.Book{book("A1"), book("A2")}))

	books := agg.Finalize()
	require.Len(t, books, 3)
	assert.Equal(t, []string{"A1", "A2", "B1"}, titles(books))
	for i, b := range books {
		assert.Equal(t, i+1, b.ID)
	}
}

func TestAggregatorDoesNotMutateInputs(t *testing.T) {
	agg := NewAggregator(1)
	input := book("A1")
	require.NoError(t, agg.Add(0, []*models.Book{input}))

	books := agg.Finalize()
	require.Len(t, books, 1)
	assert.Equal(t, 1, books[0].ID)
	assert.Equal(t, 0, input.ID)
}

func TestAggregatorValidationAndBounds(t *testing.T) {
	agg := NewAggregator(2)

	invalid := &models.Book{Title: "", Price: 1}
	require.NoError(t, agg.Add(0, []*models.Book{book("ok"), invalid, nil}))
	assert.Error(t, agg.Add(0, nil), "duplicate slot")
	assert.Error(t, agg.Add(2, nil), "index out of range")
	assert.Error(t, agg.Add(-1, nil), "negative index")

	books := agg.Finalize()
	assert.Equal(t, []string{"ok"}, titles(books))

	metrics := agg.GetMetrics()
	assert.Equal(t, int64(1), metrics["processed_books"])
	validation, ok := metrics["validation_errors"].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 2, validation["invalid_record"])
}

func TestAggregatorMissingSlotsAreEmpty(t *testing.T) {
	agg := NewAggregator(3)
	require.NoError(t, agg.Add(2, []*models.Book{book("C1")}))

	books := agg.Finalize()
	require.Len(t, books, 1)
	assert.Equal(t, 1, books[0].ID)
}

func TestAggregatorConcurrentAdd(t *testing.T) {
	const categories = 16
	agg := NewAggregator(categories)

	var wg sync.WaitGroup
	for i := categories - 1; i >= 0; i-- {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_ = agg.Add(idx, []*models.Book{book(fmt.Sprintf("c%02d-1", idx)), book(fmt.Sprintf("c%02d-2", idx))})
		}(i)
	}
	wg.Wait()

	books := agg.Finalize()
	require.Len(t, books, categories*2)
	for i, b := range books {
		assert.Equal(t, i+1, b.ID)
		assert.Equal(t, fmt.Sprintf("c%02d-%d", i/2, i%2+1), b.Title)
	}
}
