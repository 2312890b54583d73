package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gocdr/internal/cdr"
	"gocdr/internal/testkit"
	"gocdr/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *cdr.Model, cdr.Batch, *testkit.InMemoryRunRepository) {
	t.Helper()
	m, b, err := testkit.NewFixtureModel(testkit.SmallHyperparams(), testkit.DefaultImpulseConfig())
	require.NoError(t, err)
	repo := testkit.NewInMemoryRunRepository()
	return NewServer(Config{Port: "0"}, m, repo, testkit.QuietLogger()), m, b, repo
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSettings(t *testing.T) {
	s, m, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/model/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SettingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, m.ID(), resp.ModelID)
	assert.False(t, resp.Fingerprint.IsEmpty())
	assert.Equal(t, "Adam", resp.Hyperparams["optim_name"])
	assert.Equal(t, m.Data().ImpulseNames, resp.Data.ImpulseNames)
}

func TestParameters(t *testing.T) {
	s, m, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/model/parameters", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Parameters []cdr.ParameterRow `json:"parameters"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Parameters, len(m.ParameterSummary()))
}

func TestTrackers(t *testing.T) {
	s, m, b, _ := newTestServer(t)
	_, err := m.TrainStep(b)
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/model/trackers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Trackers []cdr.TrackerRow `json:"trackers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, m.TrackerSummary(), resp.Trackers)
}

func TestPredict(t *testing.T) {
	s, m, b, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/model/predict", QueryRequest{Batch: b})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Predictions []float64 `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	want, err := m.Predict(b, false)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, resp.Predictions, 1e-9)
}

func TestPredict_BadRequests(t *testing.T) {
	s, _, b, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/model/predict", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	b.Impulses[0][0] = []float64{1}
	rec = do(t, s, http.MethodPost, "/model/predict", QueryRequest{Batch: b})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogLikLossAndDiagnostics(t *testing.T) {
	s, _, b, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/model/loglik", QueryRequest{Batch: b, Standardized: true})
	require.Equal(t, http.StatusOK, rec.Code)
	var ll struct {
		LogLik []float64 `json:"loglik"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ll))
	assert.Len(t, ll.LogLik, b.Len())

	rec = do(t, s, http.MethodPost, "/model/loss", QueryRequest{Batch: b})
	require.Equal(t, http.StatusOK, rec.Code)
	var loss cdr.LossReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loss))
	assert.InDelta(t, loss.Loss, loss.LikelihoodLoss+loss.RegLoss, 1e-6)

	rec = do(t, s, http.MethodPost, "/model/diagnostics", QueryRequest{Batch: b})
	require.Equal(t, http.StatusOK, rec.Code)
	var rep cdr.ErrorReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Len(t, rep.Diagnostics.Fractions, b.Len())
}

func TestRuns(t *testing.T) {
	s, m, _, repo := newTestServer(t)
	run := models.NewTrainingRun(uuid.New(), m.ID().String(), 5, nil)
	require.NoError(t, repo.CreateRun(context.Background(), run))

	rec := do(t, s, http.MethodGet, "/runs/"+run.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, run.ID.String(), got["id"])
	assert.Equal(t, "pending", got["state"])

	rec = do(t, s, http.MethodGet, "/runs?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []map[string]interface{} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Runs, 1)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/runs/"+uuid.NewString(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/runs/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/runs?limit=-1", nil).Code)
}

func TestRuns_WithoutRegistry(t *testing.T) {
	m, _, err := testkit.NewFixtureModel(testkit.SmallHyperparams(), testkit.DefaultImpulseConfig())
	require.NoError(t, err)
	s := NewServer(Config{}, m, nil, testkit.QuietLogger())
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/runs", nil).Code)
}

func TestErrors_CarryCodes(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	cases := []struct {
		path   string
		status int
		code   string
	}{
		{"/runs/not-a-uuid", http.StatusBadRequest, "INVALID_INPUT"},
		{"/runs?limit=x", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"/runs/" + uuid.NewString(), http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		rec := do(t, s, http.MethodGet, tc.path, nil)
		require.Equal(t, tc.status, rec.Code, tc.path)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.code, body.Code, tc.path)
		assert.NotEmpty(t, body.Error)
	}

	req := httptest.NewRequest(http.MethodPost, "/model/predict", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_INPUT", body.Code)
}
