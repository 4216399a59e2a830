package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF returns the plain text of the document, pages separated by a
// blank line. Pages whose content stream cannot be decoded are skipped; the
// document fails only when no page yields text and at least one page errored.
func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}

	var pages []string
	var pageErrs []error
	for n := range r.NumPage() {
		p := r.Page(n + 1)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			pageErrs = append(pageErrs, fmt.Errorf("page %d: %w", n+1, err))
			continue
		}
		if text = strings.TrimSpace(strings.ReplaceAll(text, "\f", "\n")); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 && len(pageErrs) > 0 {
		return "", fmt.Errorf("extract PDF: %w", errors.Join(pageErrs...))
	}
	return strings.Join(pages, "\n\n"), nil
}
