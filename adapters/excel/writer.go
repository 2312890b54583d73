package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gocdr/internal/cdr"

	"github.com/xuri/excelize/v2"
)

// Sheet names of a summary workbook.
const (
	SettingsSheet   = "settings"
	ParametersSheet = "parameters"
	DensitySheet    = "error_density"
	QuantilesSheet  = "error_quantiles"
	TrackersSheet   = "trackers"
)

// Summary is everything exported for one model.
type Summary struct {
	Settings   map[string]interface{}
	Parameters []cdr.ParameterRow
	// Trackers is skipped when empty.
	Trackers []cdr.TrackerRow
	// Errors is optional.
	Errors *cdr.ErrorReport
}

// WriteSummary writes s as an xlsx workbook with one sheet per table.
func WriteSummary(path string, s Summary) error {
	f := excelize.NewFile()
	defer f.Close()

	keys := make([]string, 0, len(s.Settings))
	for k := range s.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	settings := make([][]interface{}, len(keys))
	for i, k := range keys {
		settings[i] = []interface{}{k, fmt.Sprint(s.Settings[k])}
	}
	if err := writeSheet(f, SettingsSheet, []string{"key", "value"}, settings); err != nil {
		return err
	}

	params := make([][]interface{}, len(s.Parameters))
	for i, p := range s.Parameters {
		params[i] = []interface{}{p.Name, p.Effect, p.Row, p.Col, p.Mean, p.Lower, p.Upper}
	}
	if err := writeSheet(f, ParametersSheet, []string{"name", "effect", "row", "col", "mean", "lower", "upper"}, params); err != nil {
		return err
	}

	if len(s.Trackers) > 0 {
		trackers := make([][]interface{}, len(s.Trackers))
		for i, t := range s.Trackers {
			trackers[i] = []interface{}{t.Name, t.Index, t.Value, t.Steps}
		}
		if err := writeSheet(f, TrackersSheet, []string{"name", "index", "value", "steps"}, trackers); err != nil {
			return err
		}
	}

	if s.Errors != nil {
		d := s.Errors.Diagnostics
		density := make([][]interface{}, len(d.Support))
		for i := range d.Support {
			density[i] = []interface{}{d.Support[i], d.PDF[i], d.PDFSummary[i]}
		}
		if err := writeSheet(f, DensitySheet, []string{"support", "pdf", "pdf_summary"}, density); err != nil {
			return err
		}
		quantiles := make([][]interface{}, len(d.Fractions))
		for i := range d.Fractions {
			quantiles[i] = []interface{}{d.Fractions[i], d.EmpiricalQuantiles[i], d.TheoreticalQuantiles[i], d.TheoreticalQuantilesSummary[i]}
		}
		if err := writeSheet(f, QuantilesSheet, []string{"fraction", "empirical", "theoretical", "theoretical_summary"}, quantiles); err != nil {
			return err
		}
	}

	// NewFile starts with an empty Sheet1.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}
	if idx, err := f.GetSheetIndex(SettingsSheet); err == nil && idx != -1 {
		f.SetActiveSheet(idx)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]interface{}) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

// TableFromBatch lays b out in the long format BuildDataset reads: one row
// per observation and history step. levelNames maps level indices back to
// values; unseen levels (-1) are written empty.
func TableFromBatch(b cdr.Batch, cfg ExcelConfig, levelNames map[string][]string) *ExcelData {
	headers := []string{cfg.ObservationColumn, cfg.TimeDeltaColumn}
	headers = append(headers, cfg.ImpulseColumns...)
	if len(b.Y) > 0 {
		headers = append(headers, cfg.ResponseColumn)
	}
	headers = append(headers, cfg.FactorColumns...)

	data := &ExcelData{Headers: headers}
	for i := 0; i < b.Len(); i++ {
		for t := 0; t < b.Steps(); t++ {
			row := RawRowData{
				cfg.ObservationColumn: strconv.Itoa(i),
				cfg.TimeDeltaColumn:   formatFloat(b.TimeDeltas[t][i]),
			}
			for k, col := range cfg.ImpulseColumns {
				row[col] = formatFloat(b.Impulses[t][i][k])
			}
			if len(b.Y) > 0 {
				row[cfg.ResponseColumn] = formatFloat(b.Y[i])
			}
			for _, col := range cfg.FactorColumns {
				l := b.Levels[col][i]
				if names := levelNames[col]; l >= 0 && l < len(names) {
					row[col] = names[l]
				}
			}
			data.Rows = append(data.Rows, row)
		}
	}
	return data
}

// WriteTable writes data as CSV or as Sheet1 of an xlsx workbook, chosen by
// the file extension.
func WriteTable(path string, data *ExcelData) error {
	if strings.ToLower(filepath.Ext(path)) == ".csv" {
		return writeCSV(path, data)
	}
	f := excelize.NewFile()
	defer f.Close()
	rows := make([][]interface{}, len(data.Rows))
	for r, row := range data.Rows {
		rows[r] = make([]interface{}, len(data.Headers))
		for c, h := range data.Headers {
			rows[r][c] = row[h]
		}
	}
	// NewSheet returns the existing Sheet1.
	if err := writeSheet(f, "Sheet1", data.Headers, rows); err != nil {
		return err
	}
	return f.SaveAs(path)
}

func writeCSV(path string, data *ExcelData) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(data.Headers); err != nil {
		return err
	}
	for _, row := range data.Rows {
		rec := make([]string, len(data.Headers))
		for i, h := range data.Headers {
			rec[i] = row[h]
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'g', -1, 64)
}
