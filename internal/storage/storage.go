package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/kolcenter/import-transfer-service/internal/config"
	"github.com/kolcenter/import-transfer-service/internal/models"
)

// Sentinel errors every backend maps its driver-specific failures onto.
var (
	// ErrDuplicate reports a unique-constraint violation on insert.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound reports a missing record on a point lookup.
	ErrNotFound = errors.New("record not found")
)

// StagingQuery selects a batch of staging rows. Exactly one of FileName or
// IDs is set; Limit caps the batch size. Rows come back ordered by
// import_date ascending.
type StagingQuery struct {
	FileName string
	IDs      []string
	Limit    int
}

// StagingUpdate is the write-back applied to a staging row after a transfer
// attempt.
type StagingUpdate struct {
	Status       string
	ErrorMessage string
	FlagUse      bool
}

// Storage interface defines the contract for the staging and production stores
type Storage interface {
	// Staging tables
	FetchStagingComments(ctx context.Context, q StagingQuery) ([]models.StagingComment, error)
	FetchStagingMetrics(ctx context.Context, q StagingQuery) ([]models.StagingMetric, error)
	FetchStagingPosts(ctx context.Context, q StagingQuery) ([]models.StagingPost, error)
	MarkStagingRow(ctx context.Context, entity string, id string, update StagingUpdate) error
	PendingFileNames(ctx context.Context, entity string) ([]string, error)

	// Production tables
	FindPostByLink(ctx context.Context, link string) (*models.Post, error) // nil, nil when absent
	InsertComment(ctx context.Context, comment *models.Comment) (string, error)
	InsertMetric(ctx context.Context, metric *models.PostMetric) (string, error)
	UpsertPost(ctx context.Context, post *models.Post) (id string, updated bool, err error)
	GetPosts(ctx context.Context, limit int, offset int) ([]models.Post, error)
	GetPostByID(ctx context.Context, id string) (*models.Post, error)

	// Transfer run log
	RecordTransferRun(ctx context.Context, run models.TransferRunLog) error
	LatestTransferRuns(ctx context.Context) ([]models.TransferRunLog, error)

	Close() error
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "postgresql":
		return NewPostgresStorage(cfg)
	case "mongodb":
		return NewMongoStorage(cfg)
	case "dynamodb":
		return NewDynamoDBStorage(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
