package pipeline

import (
	"fmt"
	"os"
	"strings"

	"github.com/aluiziolira/go-books-dataset/models"
)

// DualWriter writes the CSV dataset and a JSON Lines sidecar.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
}

// NewDualWriter creates a writer for both formats.
func NewDualWriter(csvFilename, jsonFilename string) *DualWriter {
	return &DualWriter{
		csvWriter:  NewCSVWriter(csvFilename),
		jsonWriter: NewJSONWriter(jsonFilename),
	}
}

// SidecarPath derives the JSON Lines path from the CSV path.
func SidecarPath(csvFilename string) string {
	return strings.TrimSuffix(csvFilename, ".csv") + ".jsonl"
}

// Path returns the primary CSV destination.
func (dw *DualWriter) Path() string {
	return dw.csvWriter.Path()
}

// Write stages both files completely before replacing either, so an encode
// or disk failure leaves the previous pair untouched. The CSV rename is the
// commit point: if the sidecar rename fails after it, the CSV is current
// and the error reports the stale sidecar.
func (dw *DualWriter) Write(books []*models.Book) error {
	csvTmp, err := stageFile(dw.csvWriter.Path(), dw.csvWriter.fill(books))
	if err != nil {
		return fmt.Errorf("CSV write failed: %w", err)
	}
	jsonTmp, err := stageFile(dw.jsonWriter.Path(), dw.jsonWriter.fill(books))
	if err != nil {
		os.Remove(csvTmp)
		return fmt.Errorf("JSON write failed: %w", err)
	}

	if err := commitFile(csvTmp, dw.csvWriter.Path()); err != nil {
		os.Remove(jsonTmp)
		return fmt.Errorf("CSV write failed: %w", err)
	}
	if err := commitFile(jsonTmp, dw.jsonWriter.Path()); err != nil {
		return fmt.Errorf("JSON write failed: %w", err)
	}
	return nil
}

// NewWriter builds the writer for an output format.
func NewWriter(format, filename string) (OutputWriter, error) {
	switch format {
	case "csv":
		return NewCSVWriter(filename), nil
	case "dual":
		return NewDualWriter(filename, SidecarPath(filename)), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
