package cdr

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gocdr/domain/core"
	"gocdr/internal"
	"gocdr/internal/config"
	"gocdr/internal/errors"
	"gocdr/internal/objective"
)

// Files written by Save.
const (
	MetadataFile = "metadata.json"
	ParamsFile   = "params.json"
	StateFile    = "state.json"
)

type metadata struct {
	ModelID     core.ModelID   `json:"model_id"`
	Hyperparams map[string]any `json:"hyperparams"`
	Data        DataSummary    `json:"data"`
}

type paramRecord struct {
	Rows     int       `json:"rows"`
	Cols     int       `json:"cols"`
	Loc      []float64 `json:"loc"`
	RawScale []float64 `json:"raw_scale"`
}

type trainState struct {
	Step       int64                         `json:"step"`
	LossFilter objective.FilterState         `json:"loss_filter"`
	Trackers   map[string]objective.EMAState `json:"trackers"`
}

// Save writes the metadata, the posterior parameters and the running
// training state into dir. Optimizer moments are not saved.
func (m *Model) Save(dir string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create model directory %s", dir)
	}

	md := metadata{ModelID: m.id, Hyperparams: m.hp.Pack(), Data: m.data}
	params := make(map[string]paramRecord)
	for _, p := range m.suite.Parameters() {
		params[p.Name] = paramRecord{
			Rows:     p.Rows(),
			Cols:     p.Cols(),
			Loc:      append([]float64(nil), p.Loc.Value.Data...),
			RawScale: append([]float64(nil), p.RawScale.Value.Data...),
		}
	}
	st := trainState{Step: m.step, LossFilter: m.assembler.Filter().State(), Trackers: m.trackers.Snapshot()}

	for name, v := range map[string]any{MetadataFile: md, ParamsFile: params, StateFile: st} {
		if err := writeJSON(filepath.Join(dir, name), v); err != nil {
			return err
		}
	}
	m.logger.Info("saved model %s at step %d to %s", m.id, m.step, dir)
	return nil
}

// Load rebuilds a saved model. Unrecognized hyperparameters are logged and
// ignored; missing ones take their defaults. A missing state file starts
// the running statistics afresh.
func Load(dir string, logger *internal.Logger) (*Model, error) {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	var md metadata
	if err := readJSON(filepath.Join(dir, MetadataFile), &md); err != nil {
		return nil, err
	}
	hp, unrecognized, err := config.UnpackHyperparams(md.Hyperparams)
	if err != nil {
		return nil, err
	}
	for _, k := range unrecognized {
		logger.Warn("ignoring unrecognized saved hyperparameter %q", k)
	}
	m, err := New(hp, md.Data, logger)
	if err != nil {
		return nil, err
	}
	if md.ModelID != "" {
		m.id = md.ModelID
	}

	var params map[string]paramRecord
	if err := readJSON(filepath.Join(dir, ParamsFile), &params); err != nil {
		return nil, err
	}
	if err := m.restoreParams(params); err != nil {
		return nil, err
	}

	var st trainState
	err = readJSON(filepath.Join(dir, StateFile), &st)
	switch {
	case err == nil:
		m.step = st.Step
		m.assembler.Filter().Restore(st.LossFilter)
		m.trackers.Restore(st.Trackers)
	case stderrors.Is(err, fs.ErrNotExist):
		logger.Warn("no training state in %s; running statistics start from zero", dir)
	default:
		return nil, err
	}
	return m, nil
}

func (m *Model) restoreParams(params map[string]paramRecord) error {
	used := make(map[string]bool, len(params))
	for _, p := range m.suite.Parameters() {
		rec, ok := params[p.Name]
		if !ok {
			return fmt.Errorf("%w: %s", core.ErrParameterMissing, p.Name)
		}
		n := p.Rows() * p.Cols()
		if rec.Rows != p.Rows() || rec.Cols != p.Cols() || len(rec.Loc) != n || len(rec.RawScale) != n {
			return core.NewShapeError("saved "+p.Name, fmt.Sprintf("%dx%d", p.Rows(), p.Cols()), fmt.Sprintf("%dx%d", rec.Rows, rec.Cols))
		}
		copy(p.Loc.Value.Data, rec.Loc)
		copy(p.RawScale.Value.Data, rec.RawScale)
		used[p.Name] = true
	}
	var extra []string
	for name := range params {
		if !used[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		m.logger.Warn("ignoring unrecognized saved parameter %q", name)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.SerializationError("failed to encode "+filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	if err := config.DecodeJSON(data, v); err != nil {
		return errors.SerializationError("failed to decode "+filepath.Base(path), err)
	}
	return nil
}
