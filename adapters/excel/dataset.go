package excel

import (
	"fmt"
	"sort"
	"strconv"

	"gocdr/domain/core"
	"gocdr/internal/bayes"
	"gocdr/internal/cdr"
)

// Dataset is a batch built from a long-format table.
type Dataset struct {
	Batch cdr.Batch
	// Observations holds the observation keys in batch order.
	Observations []string
	// Factors lists one grouping factor per configured factor column.
	Factors []bayes.GroupingFactor
	// LevelNames maps a factor to its level values; index i is level i and
	// the last value is the reference level.
	LevelNames map[string][]string
}

// BuildDataset groups the rows of data into observations. Every observation
// must have the same number of impulse rows; they are ordered oldest first
// by descending time delta. With levels nil, factor levels are collected
// from the table in sorted order. Otherwise values are mapped onto levels
// and values missing from it become -1. A table without the response
// column yields a batch without responses.
func BuildDataset(data *ExcelData, cfg ExcelConfig, levels map[string][]string) (*Dataset, error) {
	required := append([]string{cfg.ObservationColumn, cfg.TimeDeltaColumn}, cfg.ImpulseColumns...)
	required = append(required, cfg.FactorColumns...)
	for _, col := range required {
		if !data.HasColumn(col) {
			return nil, fmt.Errorf("%w: column %q not found", core.ErrConfiguration, col)
		}
	}
	if len(cfg.ImpulseColumns) == 0 {
		return nil, fmt.Errorf("%w: at least one impulse column is required", core.ErrConfiguration)
	}
	withY := cfg.ResponseColumn != "" && data.HasColumn(cfg.ResponseColumn)

	var keys []string
	groups := make(map[string][]RawRowData)
	for _, row := range data.Rows {
		key := row[cfg.ObservationColumn]
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], row)
	}
	if len(keys) == 0 {
		return nil, core.ErrEmptyBatch
	}

	history := len(groups[keys[0]])
	ds := &Dataset{
		Observations: keys,
		Batch: cdr.Batch{
			Impulses:   make([][][]float64, history),
			TimeDeltas: make([][]float64, history),
		},
	}
	for t := 0; t < history; t++ {
		ds.Batch.Impulses[t] = make([][]float64, len(keys))
		ds.Batch.TimeDeltas[t] = make([]float64, len(keys))
	}
	if withY {
		ds.Batch.Y = make([]float64, len(keys))
	}

	for i, key := range keys {
		rows := groups[key]
		if len(rows) != history {
			return nil, core.NewShapeError("history of observation "+key, history, len(rows))
		}
		deltas := make([]float64, len(rows))
		for j, row := range rows {
			d, err := parseCell(row, cfg.TimeDeltaColumn)
			if err != nil {
				return nil, err
			}
			deltas[j] = d
		}
		order := make([]int, len(rows))
		for j := range order {
			order[j] = j
		}
		sort.SliceStable(order, func(a, b int) bool { return deltas[order[a]] > deltas[order[b]] })

		for t, j := range order {
			x := make([]float64, len(cfg.ImpulseColumns))
			for k, col := range cfg.ImpulseColumns {
				v, err := parseCell(rows[j], col)
				if err != nil {
					return nil, err
				}
				x[k] = v
			}
			ds.Batch.Impulses[t][i] = x
			ds.Batch.TimeDeltas[t][i] = deltas[j]
		}
		if withY {
			y, err := parseCell(rows[0], cfg.ResponseColumn)
			if err != nil {
				return nil, err
			}
			ds.Batch.Y[i] = y
		}
	}

	if len(cfg.FactorColumns) > 0 {
		ds.Batch.Levels = make(map[string][]int, len(cfg.FactorColumns))
		ds.LevelNames = make(map[string][]string, len(cfg.FactorColumns))
	}
	for _, col := range cfg.FactorColumns {
		names := levels[col]
		if levels == nil {
			names = distinct(keys, groups, col)
		}
		index := make(map[string]int, len(names))
		for l, name := range names {
			index[name] = l
		}
		idx := make([]int, len(keys))
		for i, key := range keys {
			l, ok := index[groups[key][0][col]]
			if !ok {
				l = -1
			}
			idx[i] = l
		}
		ds.Batch.Levels[col] = idx
		ds.LevelNames[col] = names
		ds.Factors = append(ds.Factors, bayes.GroupingFactor{Name: col, Levels: len(names)})
	}
	return ds, nil
}

func distinct(keys []string, groups map[string][]RawRowData, col string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, key := range keys {
		v := groups[key][0][col]
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func parseCell(row RawRowData, col string) (float64, error) {
	v, err := strconv.ParseFloat(row[col], 64)
	if err != nil {
		return 0, fmt.Errorf("column %q: %w", col, err)
	}
	return v, nil
}
