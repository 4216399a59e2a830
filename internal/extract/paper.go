package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/academiaos/academiaos/internal/models"
	"github.com/academiaos/academiaos/pkg/utils"
)

const (
	idPrefix       = "sha256:"
	maxTitleLength = 200
)

// PaperID returns a stable ID derived from the paper text, so importing
// the same paper twice yields the same ID.
func PaperID(text string) string {
	hash := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return idPrefix + hex.EncodeToString(hash[:8])
}

// NewPaper builds a paper from extracted text. The title is the first
// non-empty line, or fallbackTitle when the text has none; the abstract is
// the paragraph following an "Abstract" heading, if present.
func NewPaper(text, fallbackTitle string) models.Paper {
	title := fallbackTitle
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			title = utils.Truncate(line, maxTitleLength)
			break
		}
	}
	return models.Paper{
		ID:       PaperID(text),
		Title:    title,
		FullText: text,
		Abstract: findAbstract(text),
	}
}

func findAbstract(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		head := strings.TrimSpace(line)
		lower := strings.ToLower(head)
		if !strings.HasPrefix(lower, "abstract") {
			continue
		}
		rest := head[len("abstract"):]
		if rest != "" && unicode.IsLetter(rune(rest[0])) {
			continue
		}
		rest = strings.TrimLeft(rest, " :.-")
		var para []string
		if rest != "" {
			para = append(para, rest)
		}
		for _, next := range lines[i+1:] {
			next = strings.TrimSpace(next)
			if next == "" {
				if len(para) > 0 {
					break
				}
				continue
			}
			para = append(para, next)
		}
		return strings.Join(para, " ")
	}
	return ""
}

// Importer reads paper files into papers.
type Importer struct {
	extractor *Extractor
	logger    *zap.Logger
}

// NewImporter returns an Importer. A nil logger discards output.
func NewImporter(logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{extractor: NewExtractor(), logger: logger}
}

// ImportFile extracts one file. A file without any text is an error.
func (im *Importer) ImportFile(path string) (models.Paper, error) {
	text, err := im.extractor.Extract(path)
	if err != nil {
		return models.Paper{}, fmt.Errorf("%s: %w", path, err)
	}
	if text == "" {
		return models.Paper{}, fmt.Errorf("%s: no text extracted", path)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return NewPaper(text, name), nil
}

// ImportBytes extracts an uploaded file named name.
func (im *Importer) ImportBytes(name string, content []byte) (models.Paper, error) {
	text, err := im.extractor.ExtractBytes(content, filepath.Ext(name))
	if err != nil {
		return models.Paper{}, fmt.Errorf("%s: %w", name, err)
	}
	if text == "" {
		return models.Paper{}, fmt.Errorf("%s: no text extracted", name)
	}
	return NewPaper(text, strings.TrimSuffix(name, filepath.Ext(name))), nil
}

// Import extracts every path. Directories are walked recursively and files
// with unsupported extensions inside them are skipped. Files that fail are
// logged and reported in the joined error; the other papers are returned.
func (im *Importer) Import(ctx context.Context, paths ...string) ([]models.Paper, error) {
	var papers []models.Paper
	var errs []error
	seen := make(map[string]bool)

	add := func(path string) {
		p, err := im.ImportFile(path)
		if err != nil {
			im.logger.Warn("paper import failed", zap.String("path", path), zap.Error(err))
			errs = append(errs, err)
			return
		}
		if seen[p.ID] {
			im.logger.Debug("duplicate paper skipped", zap.String("path", path), zap.String("id", p.ID))
			return
		}
		seen[p.ID] = true
		papers = append(papers, p)
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !Supported(filepath.Ext(path)) {
				return nil
			}
			add(path)
			return nil
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			errs = append(errs, err)
		}
	}

	im.logger.Info("papers imported", zap.Int("papers", len(papers)), zap.Int("failed", len(errs)))
	return papers, errors.Join(errs...)
}
