package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-books-dataset/models"
)

// ErrPersistence wraps every failure to write the dataset.
var ErrPersistence = errors.New("pipeline: persist dataset")

// Header is the fixed column order of the dataset.
var Header = []string{"id", "title", "price", "rating", "availability", "category", "image_url", "book_url"}

// OutputWriter replaces a destination with a full snapshot of records.
type OutputWriter interface {
	Write(books []*models.Book) error
}

// CSVWriter writes the dataset as CSV.
type CSVWriter struct {
	path string
}

// NewCSVWriter returns a writer targeting filename.
func NewCSVWriter(filename string) *CSVWriter {
	return &CSVWriter{path: filename}
}

// Path returns the destination file.
func (cw *CSVWriter) Path() string {
	return cw.path
}

// Write replaces the destination with a header row plus one row per book.
func (cw *CSVWriter) Write(books []*models.Book) error {
	return writeAtomic(cw.path, cw.fill(books))
}

func (cw *CSVWriter) fill(books []*models.Book) func(*bufio.Writer) error {
	return func(w *bufio.Writer) error {
		writer := csv.NewWriter(w)
		if err := writer.Write(Header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		for _, book := range books {
			if err := writer.Write(csvRecord(book)); err != nil {
				return fmt.Errorf("write csv record %d: %w", book.ID, err)
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return fmt.Errorf("flush csv records: %w", err)
		}
		return nil
	}
}

func csvRecord(book *models.Book) []string {
	return []string{
		strconv.Itoa(book.ID),
		book.Title,
		formatPrice(book.Price),
		strconv.Itoa(book.Rating),
		book.Availability.String(),
		book.Category,
		book.ImageURL,
		book.BookURL,
	}
}

// formatPrice renders at least two decimals without rounding away any
// precision the source carried: 12.5 is "12.50", 0.999 stays "0.999".
func formatPrice(price float64) string {
	text := strconv.FormatFloat(price, 'f', -1, 64)
	dot := strings.IndexByte(text, '.')
	switch {
	case math.IsNaN(price) || math.IsInf(price, 0):
		return text
	case dot < 0:
		return text + ".00"
	case len(text)-dot-1 < 2:
		return text + strings.Repeat("0", 2-(len(text)-dot-1))
	default:
		return text
	}
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	path string
}

// NewJSONWriter returns a writer targeting filename.
func NewJSONWriter(filename string) *JSONWriter {
	return &JSONWriter{path: filename}
}

// Path returns the destination file.
func (jw *JSONWriter) Path() string {
	return jw.path
}

// Write replaces the destination with one JSON object per line.
func (jw *JSONWriter) Write(books []*models.Book) error {
	return writeAtomic(jw.path, jw.fill(books))
}

func (jw *JSONWriter) fill(books []*models.Book) func(*bufio.Writer) error {
	return func(w *bufio.Writer) error {
		encoder := json.NewEncoder(w)
		for _, book := range books {
			if err := encoder.Encode(book); err != nil {
				return fmt.Errorf("encode json record %d: %w", book.ID, err)
			}
		}
		return nil
	}
}

// writeAtomic fills a temp file next to filename and renames it into place,
// so readers never observe a truncated dataset.
func writeAtomic(filename string, fill func(*bufio.Writer) error) error {
	tmpName, err := stageFile(filename, fill)
	if err != nil {
		return err
	}
	return commitFile(tmpName, filename)
}

// stageFile writes a complete, synced copy of the destination to a temp file
// in the same directory and returns its name. Nothing is left behind on error.
func stageFile(filename string, fill func(*bufio.Writer) error) (tmpName string, err error) {
	if err := ensureDir(filename); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %w", ErrPersistence, err)
	}
	tmpName = tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	buffer := bufio.NewWriter(tmp)
	if err := fill(buffer); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := buffer.Flush(); err != nil {
		return "", fmt.Errorf("%w: flush %s: %w", ErrPersistence, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("%w: sync %s: %w", ErrPersistence, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close %s: %w", ErrPersistence, tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("%w: chmod %s: %w", ErrPersistence, tmpName, err)
	}
	return tmpName, nil
}

// commitFile renames a staged temp file over filename. The temp file is
// removed if the rename fails.
func commitFile(tmpName, filename string) error {
	if err := os.Rename(tmpName, filename); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace %s: %w", ErrPersistence, filename, err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
