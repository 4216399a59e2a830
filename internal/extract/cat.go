package extract

import (
	"fmt"
	"os"

	"github.com/lu4p/cat"
)

// extractWithCat reads ODT and RTF documents. cat works on files, so the
// content is staged in a temporary file with the right extension.
func extractWithCat(content []byte, ext string) (string, error) {
	tmp, err := os.CreateTemp("", "paper-*"+ext)
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", ext, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("stage %s: %w", ext, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("stage %s: %w", ext, err)
	}
	text, err := cat.File(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", ext, err)
	}
	return text, nil
}
