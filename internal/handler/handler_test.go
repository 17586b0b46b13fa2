package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/birdsearch/internal/config"
	"github.com/xxxsen/birdsearch/internal/filestore"
	"github.com/xxxsen/birdsearch/internal/job"
	"github.com/xxxsen/birdsearch/internal/model"
	"github.com/xxxsen/birdsearch/internal/modelcache"
	"github.com/xxxsen/birdsearch/internal/pkg/errcode"
	"github.com/xxxsen/birdsearch/internal/pkg/jwt"
	"github.com/xxxsen/birdsearch/internal/ranker"
	"github.com/xxxsen/birdsearch/internal/sampler"
	"github.com/xxxsen/birdsearch/internal/service"
	"github.com/xxxsen/birdsearch/internal/store/memstore"
	"github.com/xxxsen/birdsearch/internal/training"
)

var testSecret = []byte("test-secret")

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"message"`
	Data json.RawMessage `json:"data"`
}

type testServer struct {
	router *gin.Engine
	token  string
}

func setupRouter(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := memstore.New()
	for i := 0; i < 20; i++ {
		jitter := float32(i) / 200
		st.PutEmbedding(model.ClipEmbedding{ClipID: fmt.Sprintf("p%02d", i), ModelRunID: "run", DatasetID: "ds", Vector: []float32{1, jitter, 0}})
		st.PutEmbedding(model.ClipEmbedding{ClipID: fmt.Sprintf("n%02d", i), ModelRunID: "run", DatasetID: "ds", Vector: []float32{0, 1, jitter}})
	}
	files, err := filestore.New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)
	cache := modelcache.NewInterimCache(8, time.Hour)
	locker := service.NewSessionLocker()
	smp := sampler.New(ranker.New(st), st, sampler.DefaultOptions())
	trainer := training.NewTrainer(st, st, cache, training.DefaultOptions())
	sessOpts := service.DefaultSessionOptions()
	sessOpts.DefaultParams = model.SamplingParams{EasyPositiveK: 2, BoundaryN: 4, BoundaryM: 2, OthersP: 2}
	models, err := service.NewCustomModelService(st, files, 4)
	require.NoError(t, err)

	queue := job.NewTaskQueue(1, 8)
	queue.Start()
	t.Cleanup(queue.Stop)

	router := gin.New()
	RegisterRoutes(router.Group("/api/v1"), RouterDeps{
		Sessions: NewSessionHandler(
			service.NewSessionService(st, smp, trainer, locker, sessOpts),
			service.NewFinalizeService(st, trainer, files, nil, cache, locker),
			queue,
		),
		Labels:    NewLabelHandler(service.NewLabelService(st, locker)),
		Tasks:     NewTaskHandler(queue),
		Models:    NewModelHandler(models),
		JWTSecret: testSecret,
	})
	token, err := jwt.GenerateToken("annotator-1", testSecret, time.Hour)
	require.NoError(t, err)
	return &testServer{router: router, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) envelope {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp := httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var out envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func createRequest() service.CreateSessionRequest {
	return service.CreateSessionRequest{
		Name:       "wren",
		Tags:       []model.TargetTag{{TagID: "wren", Name: "Wren", Shortcut: 1}},
		References: []service.ReferenceInput{{TagID: "wren", ClipID: "p00"}},
		ModelRunID: "run",
	}
}

func TestRoutes_RequireToken(t *testing.T) {
	srv := setupRouter(t)
	srv.token = ""
	out := srv.do(t, http.MethodGet, "/api/v1/sessions/missing", nil)
	require.Equal(t, errcode.ErrUnauthorized, out.Code)
}

func TestSessionLifecycle(t *testing.T) {
	srv := setupRouter(t)

	out := srv.do(t, http.MethodPost, "/api/v1/sessions", createRequest())
	var sess model.SearchSession
	require.NoError(t, json.Unmarshal(out.Data, &sess))
	require.NotEmpty(t, sess.ID)

	missing := srv.do(t, http.MethodGet, "/api/v1/sessions/nope", nil)
	require.Equal(t, errcode.ErrNotFound, missing.Code)

	out = srv.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/sample", nil)
	var sampled service.SampleOutcome
	require.NoError(t, json.Unmarshal(out.Data, &sampled))
	require.NotEmpty(t, sampled.Results)

	out = srv.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/results?labeled=false", nil)
	var results []model.SearchResult
	require.NoError(t, json.Unmarshal(out.Data, &results))
	require.Len(t, results, len(sampled.Results))

	first := results[0]
	tagPath := fmt.Sprintf("/api/v1/sessions/%s/results/%s/tags", sess.ID, first.ID)
	out = srv.do(t, http.MethodPost, tagPath, map[string]string{"tag_id": "wren"})
	var labeled model.SearchResult
	require.NoError(t, json.Unmarshal(out.Data, &labeled))
	require.Equal(t, []string{"wren"}, labeled.TagIDs)
	require.Equal(t, "annotator-1", labeled.LabeledBy)

	dup := srv.do(t, http.MethodPost, tagPath, map[string]string{"tag_id": "wren"})
	require.Equal(t, errcode.ErrDuplicateLabel, dup.Code)

	bad := srv.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/results?iteration=x", nil)
	require.Equal(t, errcode.ErrInvalid, bad.Code)

	out = srv.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/progress", nil)
	var progress service.Progress
	require.NoError(t, json.Unmarshal(out.Data, &progress))
	require.Equal(t, 1, progress.Labeled)
	require.False(t, progress.CanTrain)
}

func TestAdvance_RejectsInsufficientDataBeforeQueueing(t *testing.T) {
	srv := setupRouter(t)
	out := srv.do(t, http.MethodPost, "/api/v1/sessions", createRequest())
	var sess model.SearchSession
	require.NoError(t, json.Unmarshal(out.Data, &sess))
	srv.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/sample", nil)

	out = srv.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/advance", nil)
	require.Equal(t, errcode.ErrInsufficientTrainingData, out.Code)
	require.Contains(t, out.Msg, "3 more positive")
	var detail insufficientDetail
	require.NoError(t, json.Unmarshal(out.Data, &detail))
	require.Equal(t, "wren", detail.TagID)
	require.Equal(t, 3, detail.MorePositives)
	require.Equal(t, 3, detail.MoreNegatives)

	out = srv.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/finalize", nil)
	require.Equal(t, errcode.ErrInsufficientTrainingData, out.Code)

	out = srv.do(t, http.MethodPost, "/api/v1/sessions/missing/advance", nil)
	require.Equal(t, errcode.ErrNotFound, out.Code)
}

func (s *testServer) waitTask(t *testing.T, data json.RawMessage) taskView {
	t.Helper()
	var task job.Task
	require.NoError(t, json.Unmarshal(data, &task))
	require.NotEmpty(t, task.ID)
	var view taskView
	require.Eventually(t, func() bool {
		res := s.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID, nil)
		if err := json.Unmarshal(res.Data, &view); err != nil {
			return false
		}
		return view.Finished()
	}, 5*time.Second, 10*time.Millisecond)
	return view
}

func TestAdvanceAndFinalize_Tasks(t *testing.T) {
	srv := setupRouter(t)
	req := createRequest()
	req.Seeds = []service.SeedLabel{
		{ClipID: "p01", TagID: "wren"},
		{ClipID: "p02", TagID: "wren"},
		{ClipID: "p03", TagID: "wren"},
		{ClipID: "n00", IsNegative: true},
		{ClipID: "n01", IsNegative: true},
		{ClipID: "n02", IsNegative: true},
	}
	out := srv.do(t, http.MethodPost, "/api/v1/sessions", req)
	require.Equal(t, 0, out.Code)
	var sess model.SearchSession
	require.NoError(t, json.Unmarshal(out.Data, &sess))

	out = srv.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/advance", nil)
	require.Equal(t, 0, out.Code)
	view := srv.waitTask(t, out.Data)
	require.Equal(t, TaskKindAdvance, view.Kind)
	require.Equal(t, job.TaskSucceeded, view.Status)

	out = srv.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/finalize", nil)
	require.Equal(t, 0, out.Code)
	view = srv.waitTask(t, out.Data)
	require.Equal(t, TaskKindFinalize, view.Kind)
	require.Equal(t, job.TaskSucceeded, view.Status)

	out = srv.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/advance", nil)
	require.Equal(t, errcode.ErrInvalidSessionState, out.Code)
	out = srv.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/finalize", nil)
	require.Equal(t, errcode.ErrInvalidSessionState, out.Code)
}

func TestModelRoutes_Validation(t *testing.T) {
	srv := setupRouter(t)
	out := srv.do(t, http.MethodPost, "/api/v1/models/m1/score", map[string]interface{}{"clip_ids": []string{}})
	require.Equal(t, errcode.ErrInvalid, out.Code)
	out = srv.do(t, http.MethodGet, "/api/v1/models/m1", nil)
	require.Equal(t, errcode.ErrNotFound, out.Code)
	out = srv.do(t, http.MethodGet, "/api/v1/tasks/none", nil)
	require.Equal(t, errcode.ErrNotFound, out.Code)
}
