package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kolcenter/import-transfer-service/internal/config"
	"github.com/kolcenter/import-transfer-service/internal/models"
	"github.com/kolcenter/import-transfer-service/internal/storage"
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

func newTestService(store storage.Storage) *Service {
	return NewService(config.TransferConfig{BatchLimit: 1000}, store)
}

func stagedComment(id, link, message, updatePost string) models.StagingComment {
	return models.StagingComment{
		ID:          id,
		FileName:    "batch.csv",
		PostLink:    link,
		PostMessage: message,
		UpdatePost:  updatePost,
		ImportDate:  time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Status:      models.StatusQueued,
	}
}

func TestTransferComments_RequiresFileNameOrIDs(t *testing.T) {
	mockStorage := new(MockStorage)
	service := newTestService(mockStorage)

	_, err := service.TransferComments(context.Background(), models.TransferRequest{})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = service.TransferComments(context.Background(), models.TransferRequest{
		FileName: "batch.csv",
		IDs:      []string{"row-1"},
	})
	assert.ErrorIs(t, err, ErrBadRequest)

	mockStorage.AssertNotCalled(t, "FetchStagingComments", mock.Anything, mock.Anything)
}

func TestTransferComments_EndToEnd(t *testing.T) {
	row := stagedComment("row-1", "https://fb.com/a/posts/1", "hi", "2024-01-15")

	mockStorage := new(MockStorage)
	mockStorage.On("FetchStagingComments", mock.Anything, mock.Anything).
		Return([]models.StagingComment{row}, nil)
	mockStorage.On("FindPostByLink", mock.Anything, "https://fb.com/a/posts/1").
		Return(&models.Post{ID: "post-1", PostLink: "https://fb.com/a/posts/1"}, nil)
	var inserted *models.Comment
	mockStorage.On("InsertComment", mock.Anything, mock.AnythingOfType("*models.Comment")).
		Run(func(args mock.Arguments) {
			inserted = args.Get(1).(*models.Comment)
		}).
		Return("comment-1", nil)
	mockStorage.On("MarkStagingRow", mock.Anything, models.EntityComments, "row-1", storage.StagingUpdate{
		Status:       models.StatusProcessed,
		ErrorMessage: successMessage,
		FlagUse:      true,
	}).Return(nil)
	mockStorage.On("RecordTransferRun", mock.Anything, mock.AnythingOfType("models.TransferRunLog")).
		Return(nil)

	service := newTestService(mockStorage)
	summary, err := service.TransferComments(context.Background(), models.TransferRequest{FileName: "batch.csv"})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Attempts)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, models.ResultInserted, summary.Results[0].Status)
	assert.Equal(t, "comment-1", summary.Results[0].CommentID)
	assert.Equal(t, "row-1", summary.Results[0].ImportID)

	require.NotNil(t, inserted)
	assert.Equal(t, "hi", inserted.Text)
	assert.Equal(t, "post-1", inserted.PostID)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), inserted.Timestamp)

	mockStorage.AssertExpectations(t)
}

func TestTransferComments_PostNotFound(t *testing.T) {
	row := stagedComment("row-1", "https://fb.com/a/posts/404", "hi", "2024-01-15")

	mockStorage := new(MockStorage)
	mockStorage.On("FetchStagingComments", mock.Anything, mock.Anything).
		Return([]models.StagingComment{row}, nil)
	mockStorage.On("FindPostByLink", mock.Anything, "https://fb.com/a/posts/404").
		Return(nil, nil)
	mockStorage.On("MarkStagingRow", mock.Anything, models.EntityComments, "row-1",
		mock.MatchedBy(func(u storage.StagingUpdate) bool {
			return u.Status == models.StatusFailed && u.ErrorMessage != ""
		})).Return(nil)
	mockStorage.On("RecordTransferRun", mock.Anything, mock.AnythingOfType("models.TransferRunLog")).
		Return(nil)

	service := newTestService(mockStorage)
	summary, err := service.TransferComments(context.Background(), models.TransferRequest{FileName: "batch.csv"})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Attempts)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, models.ResultFailed, summary.Results[0].Status)
	assert.Contains(t, summary.Results[0].Message, reasonPostNotFound)

	mockStorage.AssertNotCalled(t, "InsertComment", mock.Anything, mock.Anything)
	mockStorage.AssertExpectations(t)
}

func TestTransferComments_EmptyLinkReason(t *testing.T) {
	row := stagedComment("row-1", "   ", "", "2024-01-15")

	mockStorage := new(MockStorage)
	mockStorage.On("FetchStagingComments", mock.Anything, mock.Anything).
		Return([]models.StagingComment{row}, nil)
	mockStorage.On("MarkStagingRow", mock.Anything, models.EntityComments, "row-1", mock.Anything).
		Return(nil)
	mockStorage.On("RecordTransferRun", mock.Anything, mock.AnythingOfType("models.TransferRunLog")).
		Return(nil)

	service := newTestService(mockStorage)
	summary, err := service.TransferComments(context.Background(), models.TransferRequest{FileName: "batch.csv"})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	// both problems reported at once
	assert.Contains(t, summary.Results[0].Message, reasonLinkInvalid)
	assert.Contains(t, summary.Results[0].Message, reasonMessageEmpty)

	mockStorage.AssertNotCalled(t, "FindPostByLink", mock.Anything, mock.Anything)
}

func TestTransferComments_DryRunNeverMutates(t *testing.T) {
	valid := stagedComment("row-1", "https://fb.com/a/posts/1", "hi", "2024-01-15")
	invalid := stagedComment("row-2", "", "", "")

	mockStorage := new(MockStorage)
	mockStorage.On("FetchStagingComments", mock.Anything, mock.Anything).
		Return([]models.StagingComment{valid, invalid}, nil)
	mockStorage.On("FindPostByLink", mock.Anything, "https://fb.com/a/posts/1").
		Return(&models.Post{ID: "post-1"}, nil)

	service := newTestService(mockStorage)
	summary, err := service.TransferComments(context.Background(), models.TransferRequest{
		FileName: "batch.csv",
		DryRun:   true,
	})

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Attempts)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, models.ResultSkipped, summary.Results[0].Status)
	assert.Equal(t, models.ResultFailed, summary.Results[1].Status)

	mockStorage.AssertNotCalled(t, "InsertComment", mock.Anything, mock.Anything)
	mockStorage.AssertNotCalled(t, "MarkStagingRow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockStorage.AssertNotCalled(t, "RecordTransferRun", mock.Anything, mock.Anything)
}

func TestTransferComments_DuplicateGetsFriendlyMessage(t *testing.T) {
	row := stagedComment("row-1", "https://fb.com/a/posts/1", "hi", "2024-01-15")

	mockStorage := new(MockStorage)
	mockStorage.On("FetchStagingComments", mock.Anything, mock.Anything).
		Return([]models.StagingComment{row}, nil)
	mockStorage.On("FindPostByLink", mock.Anything, mock.Anything).
		Return(&models.Post{ID: "post-1"}, nil)
	mockStorage.On("InsertComment", mock.Anything, mock.Anything).
		Return("", storage.ErrDuplicate)
	mockStorage.On("MarkStagingRow", mock.Anything, models.EntityComments, "row-1", storage.StagingUpdate{
		Status:       models.StatusFailed,
		ErrorMessage: duplicateMessage,
	}).Return(nil)
	mockStorage.On("RecordTransferRun", mock.Anything, mock.AnythingOfType("models.TransferRunLog")).
		Return(nil)

	service := newTestService(mockStorage)
	summary, err := service.TransferComments(context.Background(), models.TransferRequest{FileName: "batch.csv"})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, duplicateMessage, summary.Results[0].Message)
	mockStorage.AssertExpectations(t)
}

func TestTransferComments_ResolverCacheSharedAcrossRows(t *testing.T) {
	rows := []models.StagingComment{
		stagedComment("row-1", "https://fb.com/a/posts/1", "first", "2024-01-15"),
		stagedComment("row-2", "https://fb.com/a/posts/1/", "second", "2024-01-15"),
		stagedComment("row-3", "https://fb.com/a/posts/1#frag", "third", "2024-01-15"),
	}

	mockStorage := new(MockStorage)
	mockStorage.On("FetchStagingComments", mock.Anything, mock.Anything).
		Return(rows, nil)
	// all three rows normalize to the same link: exactly one lookup
	mockStorage.On("FindPostByLink", mock.Anything, "https://fb.com/a/posts/1").
		Return(&models.Post{ID: "post-1"}, nil).Once()
	mockStorage.On("InsertComment", mock.Anything, mock.Anything).
		Return("comment-x", nil)
	mockStorage.On("MarkStagingRow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil)
	mockStorage.On("RecordTransferRun", mock.Anything, mock.Anything).
		Return(nil)

	service := newTestService(mockStorage)
	summary, err := service.TransferComments(context.Background(), models.TransferRequest{FileName: "batch.csv"})

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Inserted)
	mockStorage.AssertExpectations(t)
}

func TestTransferMetrics_DerivedAggregates(t *testing.T) {
	row := models.StagingMetric{
		ID:                  "row-1",
		FileName:            "metrics.csv",
		PostLink:            "https://fb.com/a/posts/1",
		UpdatePost:          "2024-01-15",
		ImportDate:          time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		ImpressionOrganic:   "1,000",
		ImpressionBoostPost: "250",
		ReachOrganic:        "800",
		ReachBoostPost:      "200",
		EngageLikes:         "42",
		EngangeComments:     "7",
		VdoView:             "9,999",
	}

	mockStorage := new(MockStorage)
	mockStorage.On("FetchStagingMetrics", mock.Anything, mock.Anything).
		Return([]models.StagingMetric{row}, nil)
	mockStorage.On("FindPostByLink", mock.Anything, "https://fb.com/a/posts/1").
		Return(&models.Post{ID: "post-1"}, nil)
	mockStorage.On("InsertMetric", mock.Anything, mock.MatchedBy(func(m *models.PostMetric) bool {
		return m.Impressions == 1250 && m.Reach == 1000 &&
			m.Likes == 42 && m.Comments == 7 && m.Views == 9999 &&
			m.CapturedAt.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	})).Return("metric-1", nil)
	mockStorage.On("MarkStagingRow", mock.Anything, models.EntityMetrics, "row-1", mock.Anything).
		Return(nil)
	mockStorage.On("RecordTransferRun", mock.Anything, mock.Anything).
		Return(nil)

	service := newTestService(mockStorage)
	summary, err := service.TransferMetrics(context.Background(), models.TransferRequest{FileName: "metrics.csv"})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
	require.NotNil(t, summary.Updated)
	assert.Equal(t, 0, *summary.Updated)
	assert.Equal(t, "metric-1", summary.Results[0].MetricID)
	mockStorage.AssertExpectations(t)
}

func TestTransferMetrics_MalformedTimestampIsRowError(t *testing.T) {
	row := models.StagingMetric{
		ID:         "row-1",
		FileName:   "metrics.csv",
		PostLink:   "https://fb.com/a/posts/1",
		UpdatePost: "not-a-date",
		ImportDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}

	mockStorage := new(MockStorage)
	mockStorage.On("FetchStagingMetrics", mock.Anything, mock.Anything).
		Return([]models.StagingMetric{row}, nil)
	mockStorage.On("FindPostByLink", mock.Anything, mock.Anything).
		Return(&models.Post{ID: "post-1"}, nil)
	mockStorage.On("MarkStagingRow", mock.Anything, models.EntityMetrics, "row-1", mock.Anything).
		Return(nil)
	mockStorage.On("RecordTransferRun", mock.Anything, mock.Anything).
		Return(nil)

	service := newTestService(mockStorage)
	summary, err := service.TransferMetrics(context.Background(), models.TransferRequest{FileName: "metrics.csv"})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Results[0].Message, reasonBadTimestamp)
	mockStorage.AssertNotCalled(t, "InsertMetric", mock.Anything, mock.Anything)
}

func TestTransferMetrics_MissingTimestampFallsBackToImportDate(t *testing.T) {
	importDate := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	row := models.StagingMetric{
		ID:         "row-1",
		FileName:   "metrics.csv",
		PostLink:   "https://fb.com/a/posts/1",
		ImportDate: importDate,
	}

	mockStorage := new(MockStorage)
	mockStorage.On("FetchStagingMetrics", mock.Anything, mock.Anything).
		Return([]models.StagingMetric{row}, nil)
	mockStorage.On("FindPostByLink", mock.Anything, mock.Anything).
		Return(&models.Post{ID: "post-1"}, nil)
	mockStorage.On("InsertMetric", mock.Anything, mock.MatchedBy(func(m *models.PostMetric) bool {
		return m.CapturedAt.Equal(importDate)
	})).Return("metric-1", nil)
	mockStorage.On("MarkStagingRow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil)
	mockStorage.On("RecordTransferRun", mock.Anything, mock.Anything).
		Return(nil)

	service := newTestService(mockStorage)
	summary, err := service.TransferMetrics(context.Background(), models.TransferRequest{FileName: "metrics.csv"})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
	mockStorage.AssertExpectations(t)
}

func TestTransferPosts_UpsertReportsUpdated(t *testing.T) {
	rows := []models.StagingPost{
		{
			ID:         "row-1",
			FileName:   "posts.csv",
			PostLink:   "https://fb.com/a/posts/new",
			PostName:   "launch teaser",
			UpdatePost: "2024-01-15",
			ImportDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:         "row-2",
			FileName:   "posts.csv",
			PostLink:   "https://fb.com/a/posts/existing",
			PostName:   "refreshed title",
			UpdatePost: "2024-01-16",
			ImportDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		},
	}

	mockStorage := new(MockStorage)
	mockStorage.On("FetchStagingPosts", mock.Anything, mock.Anything).
		Return(rows, nil)
	mockStorage.On("UpsertPost", mock.Anything, mock.MatchedBy(func(p *models.Post) bool {
		return p.PostLink == "https://fb.com/a/posts/new"
	})).Return("post-new", false, nil)
	mockStorage.On("UpsertPost", mock.Anything, mock.MatchedBy(func(p *models.Post) bool {
		return p.PostLink == "https://fb.com/a/posts/existing"
	})).Return("post-old", true, nil)
	mockStorage.On("MarkStagingRow", mock.Anything, models.EntityPosts, mock.Anything, mock.Anything).
		Return(nil)
	mockStorage.On("RecordTransferRun", mock.Anything, mock.Anything).
		Return(nil)

	service := newTestService(mockStorage)
	summary, err := service.TransferPosts(context.Background(), models.TransferRequest{FileName: "posts.csv"})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
	require.NotNil(t, summary.Updated)
	assert.Equal(t, 1, *summary.Updated)
	assert.Equal(t, models.ResultUpdated, summary.Results[1].Status)
	assert.Equal(t, "post-old", summary.Results[1].PostID)
	mockStorage.AssertExpectations(t)
}

func TestTransfer_FetchFailureIsBadRequest(t *testing.T) {
	mockStorage := new(MockStorage)
	mockStorage.On("FetchStagingComments", mock.Anything, mock.Anything).
		Return(nil, assert.AnError)

	service := newTestService(mockStorage)
	_, err := service.TransferComments(context.Background(), models.TransferRequest{FileName: "batch.csv"})

	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestTransfer_SelectionByIDs(t *testing.T) {
	mockStorage := new(MockStorage)
	mockStorage.On("FetchStagingComments", mock.Anything, storage.StagingQuery{
		IDs:   []string{"row-7"},
		Limit: 1000,
	}).Return([]models.StagingComment{}, nil)
	mockStorage.On("RecordTransferRun", mock.Anything, mock.Anything).
		Return(nil)

	service := newTestService(mockStorage)
	summary, err := service.TransferComments(context.Background(), models.TransferRequest{IDs: []string{"row-7"}})

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Attempts)
	mockStorage.AssertExpectations(t)
}
