package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kolcenter/import-transfer-service/internal/config"
	"github.com/kolcenter/import-transfer-service/internal/models"
)

// MongoStorage implements Storage using MongoDB collections mirroring the
// relational tables. Uniqueness is enforced with unique indexes so duplicate
// inserts surface the same way they do on PostgreSQL.
type MongoStorage struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStorage creates a new MongoDB storage instance
func NewMongoStorage(cfg config.StorageConfig) (*MongoStorage, error) {
	if cfg.MongoDBURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required for mongodb storage")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	storage := &MongoStorage{
		client: client,
		db:     client.Database(cfg.MongoDBName),
	}
	if err := storage.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}
	return storage, nil
}

// ensureIndexes creates the unique indexes the transfer pipeline relies on
// for duplicate detection.
func (m *MongoStorage) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	indexes := map[string]mongo.IndexModel{
		tableComments: {
			Keys:    bson.D{{Key: "external_comment_id", Value: 1}, {Key: "post_id", Value: 1}},
			Options: unique,
		},
		tablePostMetrics: {
			Keys:    bson.D{{Key: "post_id", Value: 1}, {Key: "captured_at", Value: 1}},
			Options: unique,
		},
		tablePosts: {
			Keys:    bson.D{{Key: "post_link", Value: 1}},
			Options: unique,
		},
	}

	for collection, model := range indexes {
		if _, err := m.db.Collection(collection).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("collection %s: %w", collection, err)
		}
	}
	return nil
}

func (m *MongoStorage) stagingFilter(q StagingQuery) (bson.M, *options.FindOptions) {
	filter := bson.M{"file_name": q.FileName}
	if len(q.IDs) > 0 {
		filter = bson.M{"_id": bson.M{"$in": q.IDs}}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "import_date", Value: 1}}).
		SetLimit(int64(q.Limit))
	return filter, opts
}

// FetchStagingComments retrieves a batch of staged comment rows
func (m *MongoStorage) FetchStagingComments(ctx context.Context, q StagingQuery) ([]models.StagingComment, error) {
	filter, opts := m.stagingFilter(q)
	cursor, err := m.db.Collection(tableImportComments).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch staging comments: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []models.StagingComment
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode staging comments: %w", err)
	}
	return rows, nil
}

// FetchStagingMetrics retrieves a batch of staged metric rows
func (m *MongoStorage) FetchStagingMetrics(ctx context.Context, q StagingQuery) ([]models.StagingMetric, error) {
	filter, opts := m.stagingFilter(q)
	cursor, err := m.db.Collection(tableImportMetrics).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch staging metrics: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []models.StagingMetric
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode staging metrics: %w", err)
	}
	return rows, nil
}

// FetchStagingPosts retrieves a batch of staged post rows
func (m *MongoStorage) FetchStagingPosts(ctx context.Context, q StagingQuery) ([]models.StagingPost, error) {
	filter, opts := m.stagingFilter(q)
	cursor, err := m.db.Collection(tableImportPosts).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch staging posts: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []models.StagingPost
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode staging posts: %w", err)
	}
	return rows, nil
}

// MarkStagingRow writes the outcome of a transfer attempt back onto a staging row
func (m *MongoStorage) MarkStagingRow(ctx context.Context, entity string, id string, update StagingUpdate) error {
	collection, err := stagingTableFor(entity)
	if err != nil {
		return err
	}
	result, err := m.db.Collection(collection).UpdateByID(ctx, id, bson.M{
		"$set": bson.M{
			"status":        update.Status,
			"error_message": update.ErrorMessage,
			"flag_use":      update.FlagUse,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update staging row %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("staging row %s: %w", id, ErrNotFound)
	}
	return nil
}

// PendingFileNames lists batches that still have queued staging rows
func (m *MongoStorage) PendingFileNames(ctx context.Context, entity string) ([]string, error) {
	collection, err := stagingTableFor(entity)
	if err != nil {
		return nil, err
	}
	values, err := m.db.Collection(collection).Distinct(ctx, "file_name", bson.M{
		"status":    models.StatusQueued,
		"file_name": bson.M{"$ne": ""},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending file names: %w", err)
	}

	var names []string
	for _, v := range values {
		if s, ok := v.(string); ok {
			names = append(names, s)
		}
	}
	return names, nil
}

// FindPostByLink looks up a production post by its normalized link
func (m *MongoStorage) FindPostByLink(ctx context.Context, link string) (*models.Post, error) {
	var post models.Post
	err := m.db.Collection(tablePosts).FindOne(ctx, bson.M{"post_link": link}).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post by link: %w", err)
	}
	return &post, nil
}

// InsertComment inserts a production comment
func (m *MongoStorage) InsertComment(ctx context.Context, comment *models.Comment) (string, error) {
	_, err := m.db.Collection(tableComments).InsertOne(ctx, comment)
	if mongo.IsDuplicateKeyError(err) {
		return "", fmt.Errorf("comment %s/%s: %w", comment.ExternalCommentID, comment.PostID, ErrDuplicate)
	}
	if err != nil {
		return "", fmt.Errorf("failed to insert comment: %w", err)
	}
	return comment.ID, nil
}

// InsertMetric inserts a production metrics snapshot
func (m *MongoStorage) InsertMetric(ctx context.Context, metric *models.PostMetric) (string, error) {
	_, err := m.db.Collection(tablePostMetrics).InsertOne(ctx, metric)
	if mongo.IsDuplicateKeyError(err) {
		return "", fmt.Errorf("metric %s@%s: %w", metric.PostID,
			metric.CapturedAt.Format(time.RFC3339), ErrDuplicate)
	}
	if err != nil {
		return "", fmt.Errorf("failed to insert metric: %w", err)
	}
	return metric.ID, nil
}

// UpsertPost inserts or refreshes a production post keyed by normalized link
func (m *MongoStorage) UpsertPost(ctx context.Context, post *models.Post) (string, bool, error) {
	result, err := m.db.Collection(tablePosts).UpdateOne(ctx,
		bson.M{"post_link": post.PostLink},
		bson.M{
			"$set": bson.M{
				"title":     post.Title,
				"platform":  post.Platform,
				"kol_name":  post.KolName,
				"posted_at": post.PostedAt,
			},
			"$setOnInsert": bson.M{
				"_id":        post.ID,
				"post_link":  post.PostLink,
				"created_at": post.CreatedAt,
			},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return "", false, fmt.Errorf("failed to upsert post: %w", err)
	}

	if result.MatchedCount == 0 {
		return post.ID, false, nil
	}
	existing, err := m.FindPostByLink(ctx, post.PostLink)
	if err != nil {
		return "", true, fmt.Errorf("failed to read back upserted post: %w", err)
	}
	if existing == nil {
		return "", true, fmt.Errorf("upserted post %s disappeared", post.PostLink)
	}
	return existing.ID, true, nil
}

// GetPosts retrieves production posts with pagination
func (m *MongoStorage) GetPosts(ctx context.Context, limit int, offset int) ([]models.Post, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	cursor, err := m.db.Collection(tablePosts).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch posts: %w", err)
	}
	defer cursor.Close(ctx)

	var posts []models.Post
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("failed to decode posts: %w", err)
	}
	return posts, nil
}

// GetPostByID retrieves a specific production post
func (m *MongoStorage) GetPostByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	err := m.db.Collection(tablePosts).FindOne(ctx, bson.M{"_id": id}).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}
	return &post, nil
}

// RecordTransferRun appends one entry to the transfer run log
func (m *MongoStorage) RecordTransferRun(ctx context.Context, run models.TransferRunLog) error {
	if _, err := m.db.Collection(tableTransferRuns).InsertOne(ctx, run); err != nil {
		return fmt.Errorf("failed to record transfer run: %w", err)
	}
	return nil
}

// LatestTransferRuns returns the most recent run per entity
func (m *MongoStorage) LatestTransferRuns(ctx context.Context) ([]models.TransferRunLog, error) {
	entities := []string{models.EntityComments, models.EntityMetrics, models.EntityPosts}
	opts := options.FindOne().SetSort(bson.D{{Key: "finished_at", Value: -1}})

	var runs []models.TransferRunLog
	for _, entity := range entities {
		var run models.TransferRunLog
		err := m.db.Collection(tableTransferRuns).
			FindOne(ctx, bson.M{"entity": entity}, opts).Decode(&run)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch latest %s run: %w", entity, err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Close closes the MongoDB connection
func (m *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
