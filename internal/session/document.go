// Package session persists and guards the pipeline aggregate. A session
// document is versioned JSON; older documents are migrated on load.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/academiaos/academiaos/internal/models"
)

// SchemaVersion is the document version written by Encode.
const SchemaVersion = 1

var (
	// ErrUnsupportedVersion means the document was written by a newer release.
	ErrUnsupportedVersion = errors.New("unsupported session schema version")
	// ErrInvalidDocument means the document is not a session.
	ErrInvalidDocument = errors.New("invalid session document")
)

// Decode parses a session document, migrating it to SchemaVersion.
func Decode(data []byte) (*models.ModelData, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if probe == nil {
		return nil, fmt.Errorf("%w: expected object", ErrInvalidDocument)
	}

	version := 0
	if raw, ok := probe["schemaVersion"]; ok {
		if err := json.Unmarshal(raw, &version); err != nil {
			return nil, fmt.Errorf("%w: schemaVersion: %v", ErrInvalidDocument, err)
		}
	}
	if version < 0 || version > SchemaVersion {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrUnsupportedVersion, version, SchemaVersion)
	}

	var m models.ModelData
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if version == 0 {
		if err := migrateV0(&m, probe["papers"]); err != nil {
			return nil, err
		}
	}
	m.SchemaVersion = SchemaVersion
	m.Normalize()
	return &m, nil
}

// paperFields are the keys a Paper decodes itself. Anything else on a
// version 0 paper is a detail field stored inline.
var paperFields = map[string]bool{"id": true, "title": true, "fullText": true, "abstract": true, "details": true}

// migrateV0 upgrades documents written before versioning. Their papers may
// lack IDs and carry detail fields such as "Initial Codes" at the top level.
func migrateV0(m *models.ModelData, rawPapers json.RawMessage) error {
	var raws []map[string]json.RawMessage
	if len(rawPapers) > 0 {
		if err := json.Unmarshal(rawPapers, &raws); err != nil {
			return fmt.Errorf("%w: papers: %v", ErrInvalidDocument, err)
		}
	}
	for i := range m.Papers {
		if i >= len(raws) {
			break
		}
		for key, raw := range raws[i] {
			if paperFields[key] {
				continue
			}
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("%w: paper %d field %q: %v", ErrInvalidDocument, i, key, err)
			}
			if m.Papers[i].Details == nil {
				m.Papers[i].Details = make(map[string]any)
			}
			if _, nested := m.Papers[i].Details[key]; !nested {
				m.Papers[i].Details[key] = v
			}
		}
	}

	seen := make(map[string]bool, len(m.Papers))
	for i := range m.Papers {
		if id := strings.TrimSpace(m.Papers[i].ID); id != "" {
			seen[id] = true
		}
	}
	taken := make(map[string]bool, len(m.Papers))
	for i := range m.Papers {
		id := strings.TrimSpace(m.Papers[i].ID)
		if id == "" || taken[id] {
			id = fmt.Sprintf("paper-%d", i+1)
			for n := i + 1; seen[id] || taken[id]; n++ {
				id = fmt.Sprintf("paper-%d-%d", i+1, n)
			}
		}
		taken[id] = true
		m.Papers[i].ID = id
	}
	return nil
}

// Encode serializes m as an indented document at SchemaVersion.
func Encode(m *models.ModelData) ([]byte, error) {
	out := m.Clone()
	out.Normalize()
	out.SchemaVersion = SchemaVersion
	return json.MarshalIndent(out, "", "  ")
}

// LoadFile reads and decodes the document at path.
func LoadFile(path string) (*models.ModelData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// SaveFile writes m to path atomically: the document goes to a temporary
// file in the same directory which then replaces path.
func SaveFile(path string, m *models.ModelData) error {
	data, err := Encode(m)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace session: %w", err)
	}
	return nil
}
