package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractPDFText returns the plain text of a PDF, whitespace collapsed.
// It is used to take a product description from a spec sheet.
func ExtractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading text from %s: %w", path, err)
	}
	text := strings.Join(strings.Fields(buf.String()), " ")
	if text == "" {
		return "", fmt.Errorf("pdf %s has no extractable text", path)
	}
	return text, nil
}
