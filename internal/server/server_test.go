package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kolcenter/import-transfer-service/internal/config"
	"github.com/kolcenter/import-transfer-service/internal/models"
	"github.com/kolcenter/import-transfer-service/internal/storage"
	"github.com/kolcenter/import-transfer-service/internal/transfer"
)

// MockStorage is a mock implementation of the Storage interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) FetchStagingComments(ctx context.Context, q storage.StagingQuery) ([]models.StagingComment, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.StagingComment), args.Error(1)
}

func (m *MockStorage) FetchStagingMetrics(ctx context.Context, q storage.StagingQuery) ([]models.StagingMetric, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.StagingMetric), args.Error(1)
}

func (m *MockStorage) FetchStagingPosts(ctx context.Context, q storage.StagingQuery) ([]models.StagingPost, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.StagingPost), args.Error(1)
}

func (m *MockStorage) MarkStagingRow(ctx context.Context, entity string, id string, update storage.StagingUpdate) error {
	args := m.Called(ctx, entity, id, update)
	return args.Error(0)
}

func (m *MockStorage) PendingFileNames(ctx context.Context, entity string) ([]string, error) {
	args := m.Called(ctx, entity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) FindPostByLink(ctx context.Context, link string) (*models.Post, error) {
	args := m.Called(ctx, link)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Post), args.Error(1)
}

func (m *MockStorage) InsertComment(ctx context.Context, comment *models.Comment) (string, error) {
	args := m.Called(ctx, comment)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) InsertMetric(ctx context.Context, metric *models.PostMetric) (string, error) {
	args := m.Called(ctx, metric)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) UpsertPost(ctx context.Context, post *models.Post) (string, bool, error) {
	args := m.Called(ctx, post)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockStorage) GetPosts(ctx context.Context, limit int, offset int) ([]models.Post, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Post), args.Error(1)
}

func (m *MockStorage) GetPostByID(ctx context.Context, id string) (*models.Post, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Post), args.Error(1)
}

func (m *MockStorage) RecordTransferRun(ctx context.Context, run models.TransferRunLog) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockStorage) LatestTransferRuns(ctx context.Context) ([]models.TransferRunLog, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TransferRunLog), args.Error(1)
}

func (m *MockStorage) Close() error {
	args := m.Called()
	return args.Error(0)
}

func newTestServer(store storage.Storage) *Server {
	svc := transfer.NewService(config.TransferConfig{BatchLimit: 1000}, store)
	return NewServer(config.ServerConfig{Port: 8080}, store, svc)
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(new(MockStorage))

	w := doRequest(t, srv, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestTransferEndpoint_MissingSelection(t *testing.T) {
	srv := newTestServer(new(MockStorage))

	w := doRequest(t, srv, "POST", "/import-post-comments/transfer", map[string]interface{}{})

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "fileName or ids")
}

func TestTransferEndpoint_MalformedBody(t *testing.T) {
	srv := newTestServer(new(MockStorage))

	req := httptest.NewRequest("POST", "/import-posts/transfer", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid request body", resp["error"])
}

func TestTransferEndpoint_ReturnsSummary(t *testing.T) {
	row := models.StagingComment{
		ID:          "row-1",
		FileName:    "batch.csv",
		PostLink:    "https://fb.com/a/posts/1",
		PostMessage: "hi",
		UpdatePost:  "2024-01-15",
		ImportDate:  time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Status:      models.StatusQueued,
	}

	mockStorage := new(MockStorage)
	mockStorage.On("FetchStagingComments", mock.Anything, mock.Anything).
		Return([]models.StagingComment{row}, nil)
	mockStorage.On("FindPostByLink", mock.Anything, mock.Anything).
		Return(&models.Post{ID: "post-1"}, nil)
	mockStorage.On("InsertComment", mock.Anything, mock.Anything).
		Return("comment-1", nil)
	mockStorage.On("MarkStagingRow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil)
	mockStorage.On("RecordTransferRun", mock.Anything, mock.Anything).
		Return(nil)

	srv := newTestServer(mockStorage)
	w := doRequest(t, srv, "POST", "/import-post-comments/transfer",
		map[string]interface{}{"fileName": "batch.csv"})

	assert.Equal(t, http.StatusOK, w.Code)

	var summary models.TransferSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, "batch.csv", summary.FileName)
	assert.Equal(t, 1, summary.Attempts)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "comment-1", summary.Results[0].CommentID)
}

func TestTransferEndpoint_RowFailuresStillOK(t *testing.T) {
	row := models.StagingComment{
		ID:       "row-1",
		FileName: "batch.csv",
		Status:   models.StatusQueued,
	}

	mockStorage := new(MockStorage)
	mockStorage.On("FetchStagingComments", mock.Anything, mock.Anything).
		Return([]models.StagingComment{row}, nil)
	mockStorage.On("MarkStagingRow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil)
	mockStorage.On("RecordTransferRun", mock.Anything, mock.Anything).
		Return(nil)

	srv := newTestServer(mockStorage)
	w := doRequest(t, srv, "POST", "/import-post-comments/transfer",
		map[string]interface{}{"fileName": "batch.csv"})

	// row failures are part of the summary, never an HTTP error
	assert.Equal(t, http.StatusOK, w.Code)

	var summary models.TransferSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, models.ResultFailed, summary.Results[0].Status)
}

func TestStatusEndpoint(t *testing.T) {
	runs := []models.TransferRunLog{
		{
			ID:       "run-1",
			Entity:   models.EntityComments,
			FileName: "batch.csv",
			Attempts: 3,
			Inserted: 2,
			Failed:   1,
			Status:   "partial",
		},
	}

	mockStorage := new(MockStorage)
	mockStorage.On("LatestTransferRuns", mock.Anything).Return(runs, nil)

	srv := newTestServer(mockStorage)
	w := doRequest(t, srv, "GET", "/status", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Runs []models.TransferRunLog `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, "run-1", resp.Runs[0].ID)
}

func TestPostsEndpoint(t *testing.T) {
	posts := []models.Post{
		{ID: "post-1", PostLink: "https://fb.com/a/posts/1"},
		{ID: "post-2", PostLink: "https://fb.com/a/posts/2"},
	}

	mockStorage := new(MockStorage)
	mockStorage.On("GetPosts", mock.Anything, 5, 10).Return(posts, nil)

	srv := newTestServer(mockStorage)
	w := doRequest(t, srv, "GET", "/posts?limit=5&offset=10", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Posts  []models.Post `json:"posts"`
		Count  int           `json:"count"`
		Limit  int           `json:"limit"`
		Offset int           `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 5, resp.Limit)
	assert.Equal(t, 10, resp.Offset)
	mockStorage.AssertExpectations(t)
}

func TestPostByIDEndpoint(t *testing.T) {
	mockStorage := new(MockStorage)
	mockStorage.On("GetPostByID", mock.Anything, "post-1").
		Return(&models.Post{ID: "post-1", PostLink: "https://fb.com/a/posts/1"}, nil)
	mockStorage.On("GetPostByID", mock.Anything, "missing").
		Return(nil, nil)

	srv := newTestServer(mockStorage)

	w := doRequest(t, srv, "GET", "/posts/post-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var post models.Post
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &post))
	assert.Equal(t, "post-1", post.ID)

	w = doRequest(t, srv, "GET", "/posts/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(new(MockStorage))

	req := httptest.NewRequest("OPTIONS", "/import-posts/transfer", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
