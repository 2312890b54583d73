package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JSONBMap is a custom type for JSONB columns that maps to map[string]interface{}
type JSONBMap map[string]interface{}

// Value implements driver.Valuer interface
func (j JSONBMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner interface
func (j *JSONBMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONBMap)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		*j = make(JSONBMap)
		return nil
	}

	if len(bytes) == 0 {
		*j = make(JSONBMap)
		return nil
	}

	result := make(JSONBMap)
	dec := json.NewDecoder(strings.NewReader(string(bytes)))
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return err
	}
	*j = result
	return nil
}

// RunState is the lifecycle state of a training run
type RunState string

const (
	RunStatePending   RunState = "pending"
	RunStateRunning   RunState = "running"
	RunStateComplete  RunState = "complete"
	RunStateCancelled RunState = "cancelled"
	RunStateError     RunState = "error"
)

// IsTerminal reports whether no further progress will be recorded
func (s RunState) IsTerminal() bool {
	return s == RunStateComplete || s == RunStateCancelled || s == RunStateError
}

// TrainingRun is one fit of a model, recorded in the run registry
type TrainingRun struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	ModelID     string         `json:"model_id" db:"model_id"`
	State       RunState       `json:"state" db:"state"`
	Step        int64          `json:"step" db:"step"`
	Iterations  int            `json:"iterations" db:"iterations"`
	LastLoss    float64        `json:"last_loss" db:"last_loss"`
	ModelDir    string         `json:"model_dir" db:"model_dir"`
	Hyperparams JSONBMap       `json:"hyperparams" db:"hyperparams"`
	StartedAt   time.Time      `json:"started_at" db:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	Error       sql.NullString `json:"error,omitempty" db:"error_message"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
	mu          sync.RWMutex
}

// NewTrainingRun creates a pending run
func NewTrainingRun(id uuid.UUID, modelID string, iterations int, hyperparams map[string]interface{}) *TrainingRun {
	now := time.Now().UTC()
	hp := JSONBMap(hyperparams)
	if hp == nil {
		hp = make(JSONBMap)
	}
	return &TrainingRun{
		ID:          id,
		ModelID:     modelID,
		State:       RunStatePending,
		Iterations:  iterations,
		Hyperparams: hp,
		StartedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// UpdateProgress records the latest step and loss
func (r *TrainingRun) UpdateProgress(step int64, loss float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Step = step
	r.LastLoss = loss
	r.UpdatedAt = time.Now().UTC()
}

// SetState updates the run state
func (r *TrainingRun) SetState(state RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.State = state
	now := time.Now().UTC()
	r.UpdatedAt = now
	if state.IsTerminal() {
		r.CompletedAt = &now
	}
}

// SetError sets an error state with message
func (r *TrainingRun) SetError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.State = RunStateError
	r.Error = sql.NullString{String: err, Valid: err != ""}
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// GetStatus returns a snapshot of the current run status
func (r *TrainingRun) GetStatus() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	errorMsg := ""
	if r.Error.Valid {
		errorMsg = r.Error.String
	}
	return map[string]interface{}{
		"id":           r.ID,
		"model_id":     r.ModelID,
		"state":        r.State,
		"step":         r.Step,
		"iterations":   r.Iterations,
		"last_loss":    r.LastLoss,
		"started_at":   r.StartedAt,
		"completed_at": r.CompletedAt,
		"error":        errorMsg,
	}
}
