// Package export writes a session's Gioia data structure as a spreadsheet.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/academiaos/academiaos/internal/models"
)

// Sheet names, in workbook order.
const (
	SheetStructure     = "Data Structure"
	SheetPapers        = "Papers"
	SheetRelationships = "Relationships"
	SheetModel         = "Model"
)

// StructureRow is one line of the data structure: a code with its theme and dimension.
type StructureRow struct {
	Code      string
	Theme     string
	Dimension string
}

// Structure flattens codes, themes and dimensions into rows ordered by
// dimension and theme name. Themes outside every dimension and codes outside
// every theme get rows with the missing levels empty.
func Structure(m *models.ModelData) []StructureRow {
	var rows []StructureRow
	placedThemes := make(map[string]bool)
	placedCodes := make(map[string]bool)

	themeRows := func(theme, dimension string) {
		codes := m.SecondOrderCodes[theme]
		if len(codes) == 0 {
			rows = append(rows, StructureRow{Theme: theme, Dimension: dimension})
			return
		}
		for _, code := range codes {
			placedCodes[code] = true
			rows = append(rows, StructureRow{Code: code, Theme: theme, Dimension: dimension})
		}
	}

	for _, dim := range m.AggregateDimensions.Keys() {
		for _, theme := range m.AggregateDimensions[dim] {
			placedThemes[theme] = true
			themeRows(theme, dim)
		}
	}
	for _, theme := range m.SecondOrderCodes.Keys() {
		if !placedThemes[theme] {
			themeRows(theme, "")
		}
	}
	for _, code := range m.FirstOrderCodes {
		if !placedCodes[code] {
			placedCodes[code] = true
			rows = append(rows, StructureRow{Code: code})
		}
	}
	return rows
}

// Write renders m as an XLSX workbook to w.
func Write(w io.Writer, m *models.ModelData) error {
	f, err := build(m)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WriteFile renders m as an XLSX workbook at path.
func WriteFile(path string, m *models.ModelData) error {
	f, err := build(m)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func build(m *models.ModelData) (*excelize.File, error) {
	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create style: %w", err)
	}
	s := &sheetWriter{f: f, header: bold}

	if err := f.SetSheetName("Sheet1", SheetStructure); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	s.table(SheetStructure, []string{"1st-order concept", "2nd-order theme", "Aggregate dimension"}, []float64{50, 40, 40})
	for _, r := range Structure(m) {
		s.row(SheetStructure, r.Code, r.Theme, r.Dimension)
	}

	s.sheet(SheetPapers)
	s.table(SheetPapers, []string{"ID", "Title", "Codes", "Initial codes"}, []float64{26, 60, 8, 80})
	for _, p := range m.Papers {
		codes := p.InitialCodes()
		s.row(SheetPapers, p.ID, p.Title, len(codes), strings.Join(codes, "; "))
	}

	s.sheet(SheetRelationships)
	s.table(SheetRelationships, []string{"Concept A", "Concept B", "Relationship", "Evidence"}, []float64{30, 30, 80, 80})
	for _, r := range m.Interrelationships {
		s.row(SheetRelationships, r.Concepts[0], r.Concepts[1], r.Interrelationship, r.Evidence)
	}

	s.sheet(SheetModel)
	s.table(SheetModel, []string{"Field", "Value"}, []float64{20, 120})
	s.row(SheetModel, "Query", m.Query)
	s.row(SheetModel, "Name", m.ModelName)
	s.row(SheetModel, "Description", m.ModelDescription)
	s.row(SheetModel, "Diagram", m.ModelVisualization)
	s.row(SheetModel, "Critique", m.Critique)
	s.row(SheetModel, "Remarks", m.Remarks)

	if s.err != nil {
		_ = f.Close()
		return nil, s.err
	}
	return f, nil
}

// sheetWriter appends rows and keeps the first error.
type sheetWriter struct {
	f      *excelize.File
	header int
	next   map[string]int
	err    error
}

func (s *sheetWriter) sheet(name string) {
	if s.err != nil {
		return
	}
	if _, err := s.f.NewSheet(name); err != nil {
		s.err = fmt.Errorf("create sheet %s: %w", name, err)
	}
}

func (s *sheetWriter) table(sheet string, headers []string, widths []float64) {
	if s.err != nil {
		return
	}
	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			s.err = err
			return
		}
		if err := s.f.SetColWidth(sheet, col, col, w); err != nil {
			s.err = fmt.Errorf("set width on %s: %w", sheet, err)
			return
		}
	}
	values := make([]any, len(headers))
	for i, h := range headers {
		values[i] = h
	}
	s.row(sheet, values...)
	if s.err == nil {
		if err := s.f.SetRowStyle(sheet, 1, 1, s.header); err != nil {
			s.err = fmt.Errorf("style header on %s: %w", sheet, err)
		}
	}
}

func (s *sheetWriter) row(sheet string, values ...any) {
	if s.err != nil {
		return
	}
	if s.next == nil {
		s.next = make(map[string]int)
	}
	s.next[sheet]++
	cell, err := excelize.CoordinatesToCellName(1, s.next[sheet])
	if err != nil {
		s.err = err
		return
	}
	if err := s.f.SetSheetRow(sheet, cell, &values); err != nil {
		s.err = fmt.Errorf("write row on %s: %w", sheet, err)
	}
}
