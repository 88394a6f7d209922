package core

import (
	"fmt"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	templateHeaderFill = "4F81BD"
	maxTemplateWidth   = 40
)

// GenerateTemplate writes an xlsx workbook with one sheet holding the
// canonical header row of def, in vocabulary order, optionally followed by
// the kind's sample rows.
func GenerateTemplate(def EntityDef, vocab *Vocabulary, includeSample bool) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := templateSheetName(def)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("name template sheet: %w", err)
	}
	if err := writeTemplateSheet(f, sheet, def, vocab, includeSample); err != nil {
		return nil, err
	}
	return writeTemplate(f)
}

// GenerateCombinedTemplate writes one workbook with a template sheet per
// def, in order. Sheet names carry each kind's sheet keywords, so the same
// file can be ingested once per kind without naming the sheet.
func GenerateCombinedTemplate(defs []EntityDef, catalog *Catalog, includeSample bool) ([]byte, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no kinds for combined template", ErrUnknownKind)
	}
	f := excelize.NewFile()
	defer f.Close()

	for i, def := range defs {
		vocab, err := catalog.Vocabulary(def.Kind)
		if err != nil {
			return nil, err
		}
		sheet := templateSheetName(def)
		if i == 0 {
			err = f.SetSheetName("Sheet1", sheet)
		} else {
			_, err = f.NewSheet(sheet)
		}
		if err != nil {
			return nil, fmt.Errorf("add template sheet %s: %w", sheet, err)
		}
		if err := writeTemplateSheet(f, sheet, def, vocab, includeSample); err != nil {
			return nil, fmt.Errorf("%s: %w", def.Kind, err)
		}
	}
	f.SetActiveSheet(0)
	return writeTemplate(f)
}

func templateSheetName(def EntityDef) string {
	if def.TemplateSheet == "" {
		return string(def.Kind)
	}
	return def.TemplateSheet
}

func writeTemplateSheet(f *excelize.File, sheet string, def EntityDef, vocab *Vocabulary, includeSample bool) error {
	headers := vocab.Headers()
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("write template header: %w", err)
	}

	style, err := f.NewStyle(templateHeaderStyle())
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("style template header: %w", err)
	}

	for i, h := range headers {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col, col, headerWidth(h)); err != nil {
			return fmt.Errorf("size column %s: %w", col, err)
		}
	}

	if includeSample {
		fields := vocab.FieldNames()
		for i, sample := range def.Samples {
			row := make([]any, len(fields))
			for j, field := range fields {
				row[j] = sample[field]
			}
			cell, err := excelize.CoordinatesToCellName(1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				return fmt.Errorf("write sample row %d: %w", i+1, err)
			}
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze template header: %w", err)
	}
	return nil
}

func writeTemplate(f *excelize.File) ([]byte, error) {
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write template: %w", err)
	}
	return buf.Bytes(), nil
}

func templateHeaderStyle() *excelize.Style {
	border := func(side string) excelize.Border {
		return excelize.Border{Type: side, Color: "000000", Style: 1}
	}
	return &excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{templateHeaderFill}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
		Border:    []excelize.Border{border("left"), border("top"), border("right"), border("bottom")},
	}
}

// headerWidth sizes a column to its header, counting wide runes twice.
func headerWidth(h string) float64 {
	w := 0
	for _, r := range h {
		if utf8.RuneLen(r) > 1 {
			w += 2
		} else {
			w++
		}
	}
	return float64(min(w+4, maxTemplateWidth))
}
