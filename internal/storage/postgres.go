package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kolcenter/import-transfer-service/internal/config"
	"github.com/kolcenter/import-transfer-service/internal/models"
)

// Postgres error codes the backend translates into sentinel errors.
const pgErrUniqueViolation = "23505"

// Staging and production table names. Schema is managed by the dashboard's
// migration scripts; this service only reads and writes the tables.
const (
	tableImportComments = "import_post_comments"
	tableImportMetrics  = "import_post_metrics"
	tableImportPosts    = "import_posts"
	tablePosts          = "posts"
	tablePostMetrics    = "post_metrics"
	tableComments       = "comments"
	tableTransferRuns   = "transfer_runs"
)

// PostgresStorage implements Storage against the dashboard's PostgreSQL
// database using lib/pq.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(cfg config.StorageConfig) (*PostgresStorage, error) {
	if cfg.PostgresURI == "" {
		return nil, fmt.Errorf("POSTGRES_URI is required for postgresql storage")
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresStorage{db: db}, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgErrUniqueViolation
}

// stagingWhere builds the filter clause shared by the three staging fetches.
func stagingWhere(q StagingQuery) (string, []interface{}) {
	if len(q.IDs) > 0 {
		return "WHERE id = ANY($1) ORDER BY import_date ASC LIMIT $2",
			[]interface{}{pq.Array(q.IDs), q.Limit}
	}
	return "WHERE file_name = $1 ORDER BY import_date ASC LIMIT $2",
		[]interface{}{q.FileName, q.Limit}
}

func scanPayload(raw []byte) models.RawPayload {
	if len(raw) == 0 {
		return nil
	}
	var payload models.RawPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	return payload
}

// FetchStagingComments retrieves a batch of staged comment rows
func (p *PostgresStorage) FetchStagingComments(ctx context.Context, q StagingQuery) ([]models.StagingComment, error) {
	clause, args := stagingWhere(q)
	query := fmt.Sprintf(`
		SELECT id, file_name, post_link, post_message, kol_post_detail,
		       post_intention, update_post, import_date, status,
		       error_message, flag_use, raw_payload
		FROM %s %s`, tableImportComments, clause)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch staging comments: %w", err)
	}
	defer rows.Close()

	var result []models.StagingComment
	for rows.Next() {
		var (
			row                                                  models.StagingComment
			link, message, detail, intention, update, errMessage sql.NullString
			payload                                              []byte
		)
		if err := rows.Scan(&row.ID, &row.FileName, &link, &message, &detail,
			&intention, &update, &row.ImportDate, &row.Status,
			&errMessage, &row.FlagUse, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan staging comment: %w", err)
		}
		row.PostLink = link.String
		row.PostMessage = message.String
		row.KolPostDetail = detail.String
		row.PostIntention = intention.String
		row.UpdatePost = update.String
		row.ErrorMessage = errMessage.String
		row.RawPayload = scanPayload(payload)
		result = append(result, row)
	}
	return result, rows.Err()
}

// FetchStagingMetrics retrieves a batch of staged metric rows
func (p *PostgresStorage) FetchStagingMetrics(ctx context.Context, q StagingQuery) ([]models.StagingMetric, error) {
	clause, args := stagingWhere(q)
	query := fmt.Sprintf(`
		SELECT id, file_name, post_link, update_post, import_date,
		       impression_organic, impression_boost_post, reach_organic,
		       reach_boost_post, engage_likes, engange_comments,
		       engage_shares, engage_save, post_click, link_click,
		       retweet, vdo_view, status, error_message, flag_use, raw_payload
		FROM %s %s`, tableImportMetrics, clause)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch staging metrics: %w", err)
	}
	defer rows.Close()

	var result []models.StagingMetric
	for rows.Next() {
		var (
			row                      models.StagingMetric
			link, update, errMessage sql.NullString
			counters                 [12]sql.NullString
			payload                  []byte
		)
		if err := rows.Scan(&row.ID, &row.FileName, &link, &update, &row.ImportDate,
			&counters[0], &counters[1], &counters[2], &counters[3],
			&counters[4], &counters[5], &counters[6], &counters[7],
			&counters[8], &counters[9], &counters[10], &counters[11],
			&row.Status, &errMessage, &row.FlagUse, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan staging metric: %w", err)
		}
		row.PostLink = link.String
		row.UpdatePost = update.String
		row.ErrorMessage = errMessage.String
		row.RawPayload = scanPayload(payload)

		// Counter columns are text in the staging schema; a NULL stays nil so
		// the coercer can tell "missing" from "unparseable".
		fields := []*interface{}{
			&row.ImpressionOrganic, &row.ImpressionBoostPost, &row.ReachOrganic,
			&row.ReachBoostPost, &row.EngageLikes, &row.EngangeComments,
			&row.EngageShares, &row.EngageSave, &row.PostClick, &row.LinkClick,
			&row.Retweet, &row.VdoView,
		}
		for i, field := range fields {
			if counters[i].Valid {
				*field = counters[i].String
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// FetchStagingPosts retrieves a batch of staged post rows
func (p *PostgresStorage) FetchStagingPosts(ctx context.Context, q StagingQuery) ([]models.StagingPost, error) {
	clause, args := stagingWhere(q)
	query := fmt.Sprintf(`
		SELECT id, file_name, post_link, post_name, platform, kol_name,
		       update_post, import_date, status, error_message, flag_use, raw_payload
		FROM %s %s`, tableImportPosts, clause)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch staging posts: %w", err)
	}
	defer rows.Close()

	var result []models.StagingPost
	for rows.Next() {
		var (
			row                                           models.StagingPost
			link, name, platform, kol, update, errMessage sql.NullString
			payload                                       []byte
		)
		if err := rows.Scan(&row.ID, &row.FileName, &link, &name, &platform,
			&kol, &update, &row.ImportDate, &row.Status,
			&errMessage, &row.FlagUse, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan staging post: %w", err)
		}
		row.PostLink = link.String
		row.PostName = name.String
		row.Platform = platform.String
		row.KolName = kol.String
		row.UpdatePost = update.String
		row.ErrorMessage = errMessage.String
		row.RawPayload = scanPayload(payload)
		result = append(result, row)
	}
	return result, rows.Err()
}

func stagingTableFor(entity string) (string, error) {
	switch entity {
	case models.EntityComments:
		return tableImportComments, nil
	case models.EntityMetrics:
		return tableImportMetrics, nil
	case models.EntityPosts:
		return tableImportPosts, nil
	default:
		return "", fmt.Errorf("unknown staging entity: %s", entity)
	}
}

// MarkStagingRow writes the outcome of a transfer attempt back onto a staging row
func (p *PostgresStorage) MarkStagingRow(ctx context.Context, entity string, id string, update StagingUpdate) error {
	table, err := stagingTableFor(entity)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		"UPDATE %s SET status = $1, error_message = $2, flag_use = $3 WHERE id = $4",
		pq.QuoteIdentifier(table))
	result, err := p.db.ExecContext(ctx, query, update.Status, update.ErrorMessage, update.FlagUse, id)
	if err != nil {
		return fmt.Errorf("failed to update staging row %s: %w", id, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("staging row %s: %w", id, ErrNotFound)
	}
	return nil
}

// PendingFileNames lists batches that still have queued staging rows
func (p *PostgresStorage) PendingFileNames(ctx context.Context, entity string) ([]string, error) {
	table, err := stagingTableFor(entity)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT DISTINCT file_name FROM %s WHERE status = $1 AND file_name <> ''",
		pq.QuoteIdentifier(table))
	rows, err := p.db.QueryContext(ctx, query, models.StatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending file names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan file name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// FindPostByLink looks up a production post by its normalized link. Returns
// nil, nil when no post matches (zero rows is not an error).
func (p *PostgresStorage) FindPostByLink(ctx context.Context, link string) (*models.Post, error) {
	query := fmt.Sprintf(`
		SELECT id, post_link, title, platform, kol_name, posted_at, created_at
		FROM %s WHERE post_link = $1`, tablePosts)

	var post models.Post
	var title, platform, kol sql.NullString
	err := p.db.QueryRowContext(ctx, query, link).Scan(
		&post.ID, &post.PostLink, &title, &platform, &kol, &post.PostedAt, &post.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post by link: %w", err)
	}
	post.Title = title.String
	post.Platform = platform.String
	post.KolName = kol.String
	return &post, nil
}

// InsertComment inserts a production comment. A duplicate
// (external_comment_id, post_id) pair surfaces as ErrDuplicate.
func (p *PostgresStorage) InsertComment(ctx context.Context, comment *models.Comment) (string, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, external_comment_id, post_id, post_link, author,
		                text, timestamp, like_count, post_intention)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, tableComments)

	_, err := p.db.ExecContext(ctx, query, comment.ID, comment.ExternalCommentID,
		comment.PostID, comment.PostLink, comment.Author, comment.Text,
		comment.Timestamp, comment.LikeCount, comment.PostIntention)
	if isUniqueViolation(err) {
		return "", fmt.Errorf("comment %s/%s: %w", comment.ExternalCommentID, comment.PostID, ErrDuplicate)
	}
	if err != nil {
		return "", fmt.Errorf("failed to insert comment: %w", err)
	}
	return comment.ID, nil
}

// InsertMetric inserts a production metrics snapshot. A duplicate
// (post_id, captured_at) pair surfaces as ErrDuplicate.
func (p *PostgresStorage) InsertMetric(ctx context.Context, metric *models.PostMetric) (string, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, post_id, captured_at, post_link,
		                impressions_organic, impressions_boost, impressions,
		                reach_organic, reach_boost, reach,
		                likes, comments, shares, saves, views,
		                post_clicks, link_clicks, retweets)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		tablePostMetrics)

	_, err := p.db.ExecContext(ctx, query, metric.ID, metric.PostID, metric.CapturedAt,
		metric.PostLink, metric.ImpressionsOrganic, metric.ImpressionsBoost,
		metric.Impressions, metric.ReachOrganic, metric.ReachBoost, metric.Reach,
		metric.Likes, metric.Comments, metric.Shares, metric.Saves, metric.Views,
		metric.PostClicks, metric.LinkClicks, metric.Retweets)
	if isUniqueViolation(err) {
		return "", fmt.Errorf("metric %s@%s: %w", metric.PostID,
			metric.CapturedAt.Format(time.RFC3339), ErrDuplicate)
	}
	if err != nil {
		return "", fmt.Errorf("failed to insert metric: %w", err)
	}
	return metric.ID, nil
}

// UpsertPost inserts a production post or refreshes the existing one sharing
// the same normalized link. Reports whether the row was updated rather than
// inserted.
func (p *PostgresStorage) UpsertPost(ctx context.Context, post *models.Post) (string, bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, post_link, title, platform, kol_name, posted_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (post_link) DO UPDATE
		SET title = EXCLUDED.title,
		    platform = EXCLUDED.platform,
		    kol_name = EXCLUDED.kol_name,
		    posted_at = EXCLUDED.posted_at
		RETURNING id, (xmax = 0) AS inserted`, tablePosts)

	var id string
	var inserted bool
	err := p.db.QueryRowContext(ctx, query, post.ID, post.PostLink, post.Title,
		post.Platform, post.KolName, post.PostedAt, post.CreatedAt).Scan(&id, &inserted)
	if err != nil {
		return "", false, fmt.Errorf("failed to upsert post: %w", err)
	}
	return id, !inserted, nil
}

// GetPosts retrieves production posts with pagination
func (p *PostgresStorage) GetPosts(ctx context.Context, limit int, offset int) ([]models.Post, error) {
	query := fmt.Sprintf(`
		SELECT id, post_link, title, platform, kol_name, posted_at, created_at
		FROM %s ORDER BY created_at DESC LIMIT $1 OFFSET $2`, tablePosts)

	rows, err := p.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch posts: %w", err)
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		var post models.Post
		var title, platform, kol sql.NullString
		if err := rows.Scan(&post.ID, &post.PostLink, &title, &platform, &kol,
			&post.PostedAt, &post.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		post.Title = title.String
		post.Platform = platform.String
		post.KolName = kol.String
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// GetPostByID retrieves a specific production post
func (p *PostgresStorage) GetPostByID(ctx context.Context, id string) (*models.Post, error) {
	query := fmt.Sprintf(`
		SELECT id, post_link, title, platform, kol_name, posted_at, created_at
		FROM %s WHERE id = $1`, tablePosts)

	var post models.Post
	var title, platform, kol sql.NullString
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&post.ID, &post.PostLink, &title, &platform, &kol, &post.PostedAt, &post.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}
	post.Title = title.String
	post.Platform = platform.String
	post.KolName = kol.String
	return &post, nil
}

// RecordTransferRun appends one entry to the transfer run log
func (p *PostgresStorage) RecordTransferRun(ctx context.Context, run models.TransferRunLog) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, entity, file_name, started_at, finished_at,
		                attempts, inserted, updated, failed, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, tableTransferRuns)

	_, err := p.db.ExecContext(ctx, query, run.ID, run.Entity, run.FileName,
		run.StartedAt, run.FinishedAt, run.Attempts, run.Inserted, run.Updated,
		run.Failed, run.Status, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to record transfer run: %w", err)
	}
	return nil
}

// LatestTransferRuns returns the most recent run per entity
func (p *PostgresStorage) LatestTransferRuns(ctx context.Context) ([]models.TransferRunLog, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (entity)
		       id, entity, file_name, started_at, finished_at,
		       attempts, inserted, updated, failed, status, error_message
		FROM %s ORDER BY entity, finished_at DESC`, tableTransferRuns)

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transfer runs: %w", err)
	}
	defer rows.Close()

	var runs []models.TransferRunLog
	for rows.Next() {
		var run models.TransferRunLog
		var errMessage sql.NullString
		if err := rows.Scan(&run.ID, &run.Entity, &run.FileName, &run.StartedAt,
			&run.FinishedAt, &run.Attempts, &run.Inserted, &run.Updated,
			&run.Failed, &run.Status, &errMessage); err != nil {
			return nil, fmt.Errorf("failed to scan transfer run: %w", err)
		}
		run.ErrorMessage = errMessage.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database connection
func (p *PostgresStorage) Close() error {
	return p.db.Close()
}
