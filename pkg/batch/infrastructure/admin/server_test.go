package admin_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	usecase "github.com/tigerroll/chunkflow/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/admin"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/inmemory"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/serialization"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

type stubRunning struct {
	ids     []string
	stopped []string
}

func (s *stubRunning) RunningExecutionIDs() []string { return append([]string(nil), s.ids...) }

func (s *stubRunning) Stop(ctx context.Context, id string) error {
	for _, running := range s.ids {
		if running == id {
			s.stopped = append(s.stopped, id)
			return nil
		}
	}
	return exception.NewBatchErrorf("test", repository.ErrJobExecutionNotFound, "JobExecution (ID: %s) is not running", id)
}

type fixture struct {
	handler http.Handler
	running *stubRunning
	je      *model.JobExecution
}

func newFixture(t *testing.T, prom *metrics.PrometheusRecorder) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()

	params := test.NewTestJobParameters(map[string]interface{}{"input": "people.csv", "password": "hunter2"})
	ji := test.NewTestJobInstance(t, "importUserJob", params)
	require.NoError(t, repo.SaveJobInstance(ctx, ji))
	je := model.NewJobExecution(ji.ID, ji.JobName, params)
	require.NoError(t, je.MarkAsStarted())
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	se := model.NewStepExecution(je, "importUserStep")
	require.NoError(t, se.MarkAsStarted())
	se.ReadCount, se.WriteCount, se.CommitCount = 10, 9, 1
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	running := &stubRunning{ids: []string{je.ID}}
	s := admin.NewServer(usecase.NewSimpleJobExplorer(repo), running, prom, []string{"password"})
	return &fixture{handler: s.Handler(), running: running, je: je}
}

func (f *fixture) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	body := map[string]interface{}{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthAndJobs(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 1.0, body["running"])

	rec, body = f.do(t, http.MethodGet, "/jobs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"importUserJob"}, body["jobs"])
}

func TestGetExecution(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(t, http.MethodGet, "/executions/"+f.je.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "STARTED", body["status"])
	params := body["parameters"].(map[string]interface{})
	assert.Equal(t, "people.csv", params["input"])
	assert.Equal(t, serialization.Mask, params["password"])

	steps := body["steps"].([]interface{})
	require.Len(t, steps, 1)
	step := steps[0].(map[string]interface{})
	assert.Equal(t, "importUserStep", step["step_name"])
	assert.Equal(t, 9.0, step["write_count"])

	rec, _ = f.do(t, http.MethodGet, "/executions/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunningAndStop(t *testing.T) {
	f := newFixture(t, nil)

	rec, body := f.do(t, http.MethodGet, "/executions/running")
	require.Equal(t, http.StatusOK, rec.Code)
	executions := body["executions"].([]interface{})
	require.Len(t, executions, 1)
	assert.Equal(t, f.je.ID, executions[0].(map[string]interface{})["id"])

	rec, _ = f.do(t, http.MethodPost, "/executions/"+f.je.ID+"/stop")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{f.je.ID}, f.running.stopped)

	rec, _ = f.do(t, http.MethodPost, "/executions/other/stop")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec, _ := newFixture(t, nil).do(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	prom := metrics.NewPrometheusRecorder()
	prom.RecordChunkRollback(context.Background(), "importUserStep", "RETRYABLE")
	rec, _ = newFixture(t, prom).do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "batch_step_rollback_total")
}
