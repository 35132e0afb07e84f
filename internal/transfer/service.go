// Package transfer implements the staged import pipeline: staging rows are
// validated, mapped into production records, and upserted one at a time, with
// each row's outcome written back onto its staging row. Row failures are
// data, not errors; a run always completes and returns a summary.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kolcenter/import-transfer-service/internal/config"
	"github.com/kolcenter/import-transfer-service/internal/models"
	"github.com/kolcenter/import-transfer-service/internal/normalize"
	"github.com/kolcenter/import-transfer-service/internal/storage"
)

// ErrBadRequest marks pre-flight failures (bad parameters, staging fetch
// errors) the HTTP layer should answer with a 400.
var ErrBadRequest = errors.New("bad request")

// hardBatchLimit bounds one transfer invocation regardless of configuration.
// Callers with larger batches re-invoke.
const hardBatchLimit = 1000

const (
	duplicateMessage = "duplicate record, cannot insert"
	dryRunMessage    = "dry run - no changes were persisted"
	successMessage   = "transferred"
)

const (
	runStatusSuccess = "success"
	runStatusPartial = "partial"
)

// Service runs transfers for all three entities against one storage backend.
type Service struct {
	store      storage.Storage
	batchLimit int
}

// NewService creates a new transfer service
func NewService(cfg config.TransferConfig, store storage.Storage) *Service {
	limit := cfg.BatchLimit
	if limit <= 0 || limit > hardBatchLimit {
		limit = hardBatchLimit
	}
	return &Service{store: store, batchLimit: limit}
}

func validateRequest(req models.TransferRequest) error {
	hasFile := strings.TrimSpace(req.FileName) != ""
	hasIDs := len(req.IDs) > 0
	if hasFile == hasIDs {
		return fmt.Errorf("%w: must specify fileName or ids", ErrBadRequest)
	}
	return nil
}

// TransferComments transfers staged comment rows into the comments table.
func (s *Service) TransferComments(ctx context.Context, req models.TransferRequest) (*models.TransferSummary, error) {
	return runTransfer(ctx, s, models.EntityComments, req, false,
		s.store.FetchStagingComments,
		func(r models.StagingComment) (string, string) { return r.ID, r.FileName },
		s.processComment)
}

// TransferMetrics transfers staged metric rows into the post_metrics table.
func (s *Service) TransferMetrics(ctx context.Context, req models.TransferRequest) (*models.TransferSummary, error) {
	return runTransfer(ctx, s, models.EntityMetrics, req, true,
		s.store.FetchStagingMetrics,
		func(r models.StagingMetric) (string, string) { return r.ID, r.FileName },
		s.processMetric)
}

// TransferPosts transfers staged post rows into the posts table, upserting on
// the normalized link.
func (s *Service) TransferPosts(ctx context.Context, req models.TransferRequest) (*models.TransferSummary, error) {
	return runTransfer(ctx, s, models.EntityPosts, req, true,
		s.store.FetchStagingPosts,
		func(r models.StagingPost) (string, string) { return r.ID, r.FileName },
		s.processPost)
}

// runTransfer is the pipeline shared by all three entities, parameterized by
// the staging fetch and the per-row validate-map-upsert step. Rows run
// strictly sequentially: the resolver cache stays consistent and every
// failure is attributable to exactly one row.
func runTransfer[R any](
	ctx context.Context,
	s *Service,
	entity string,
	req models.TransferRequest,
	includeUpdated bool,
	fetch func(context.Context, storage.StagingQuery) ([]R, error),
	identify func(R) (id string, fileName string),
	process func(ctx context.Context, res *Resolver, row R, dryRun bool) models.TransferResult,
) (*models.TransferSummary, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	startedAt := time.Now().UTC()
	rows, err := fetch(ctx, storage.StagingQuery{
		FileName: req.FileName,
		IDs:      req.IDs,
		Limit:    s.batchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch staging rows: %v", ErrBadRequest, err)
	}

	summary := &models.TransferSummary{
		FileName: req.FileName,
		Attempts: len(rows),
		Results:  []models.TransferResult{},
	}
	var updated int
	if includeUpdated {
		summary.Updated = &updated
	}

	resolver := newResolver(s.store)
	for _, row := range rows {
		result := process(ctx, resolver, row, req.DryRun)
		result.ImportID, result.FileName = identify(row)

		switch result.Status {
		case models.ResultInserted:
			summary.Inserted++
		case models.ResultUpdated:
			updated++
		case models.ResultFailed:
			summary.Failed++
		}

		if !req.DryRun {
			s.writeBack(ctx, entity, result)
		}
		summary.Results = append(summary.Results, result)
	}

	if !req.DryRun {
		s.recordRun(ctx, entity, startedAt, summary, updated)
	}

	log.Printf("%s transfer: attempts=%d inserted=%d updated=%d failed=%d dryRun=%t",
		entity, summary.Attempts, summary.Inserted, updated, summary.Failed, req.DryRun)
	return summary, nil
}

// writeBack mutates the staging row to reflect this attempt's outcome. A
// write-back failure is logged and does not fail the run.
func (s *Service) writeBack(ctx context.Context, entity string, result models.TransferResult) {
	var update storage.StagingUpdate
	switch result.Status {
	case models.ResultInserted, models.ResultUpdated:
		update = storage.StagingUpdate{
			Status:       models.StatusProcessed,
			ErrorMessage: successMessage,
			FlagUse:      true,
		}
	case models.ResultFailed:
		update = storage.StagingUpdate{
			Status:       models.StatusFailed,
			ErrorMessage: result.Message,
		}
	default:
		return
	}

	if err := s.store.MarkStagingRow(ctx, entity, result.ImportID, update); err != nil {
		log.Printf("failed to write back %s staging row %s: %v", entity, result.ImportID, err)
	}
}

func (s *Service) recordRun(ctx context.Context, entity string, startedAt time.Time, summary *models.TransferSummary, updated int) {
	status := runStatusSuccess
	if summary.Failed > 0 {
		status = runStatusPartial
	}
	run := models.TransferRunLog{
		ID:         uuid.NewString(),
		Entity:     entity,
		FileName:   summary.FileName,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Attempts:   summary.Attempts,
		Inserted:   summary.Inserted,
		Updated:    updated,
		Failed:     summary.Failed,
		Status:     status,
	}
	if err := s.store.RecordTransferRun(ctx, run); err != nil {
		log.Printf("failed to record %s transfer run: %v", entity, err)
	}
}

func failedResult(err error) models.TransferResult {
	message := err.Error()
	if errors.Is(err, storage.ErrDuplicate) {
		message = duplicateMessage
	}
	return models.TransferResult{Status: models.ResultFailed, Message: message}
}

// rowTimestamp resolves the effective timestamp for a valid row: update_post
// when present (validation already rejected malformed values), the batch
// import date next, the current time last.
func rowTimestamp(updatePost string, importDate time.Time) time.Time {
	if t, ok := normalize.ToTimestamp(updatePost); ok {
		return t
	}
	if !importDate.IsZero() {
		return importDate.UTC()
	}
	return time.Now().UTC()
}

func coalesce(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (s *Service) processComment(ctx context.Context, res *Resolver, row models.StagingComment, dryRun bool) models.TransferResult {
	link := normalize.URL(row.PostLink)
	var postID string
	var lookupErr error
	if link != "" {
		postID, lookupErr = res.Resolve(ctx, link)
	}

	if reasons := validateComment(row, link, postID, lookupErr); len(reasons) > 0 {
		return models.TransferResult{
			Status:  models.ResultFailed,
			Message: strings.Join(reasons, reasonSeparator),
		}
	}
	if dryRun {
		return models.TransferResult{Status: models.ResultSkipped, Message: dryRunMessage}
	}

	externalID := row.RawPayload.String("comment_id")
	if externalID == "" {
		externalID = uuid.NewString()
	}
	likeCount, _ := normalize.ToNumber(row.RawPayload.Value("like_count"))

	comment := &models.Comment{
		ID:                uuid.NewString(),
		ExternalCommentID: externalID,
		PostID:            postID,
		PostLink:          link,
		Author:            coalesce(row.RawPayload.String("author"), row.KolPostDetail),
		Text:              commentText(row),
		Timestamp:         rowTimestamp(row.UpdatePost, row.ImportDate),
		LikeCount:         likeCount,
		PostIntention:     row.PostIntention,
	}

	id, err := s.store.InsertComment(ctx, comment)
	if err != nil {
		return failedResult(err)
	}
	return models.TransferResult{Status: models.ResultInserted, Message: successMessage, CommentID: id}
}

func (s *Service) processMetric(ctx context.Context, res *Resolver, row models.StagingMetric, dryRun bool) models.TransferResult {
	link := normalize.URL(row.PostLink)
	var postID string
	var lookupErr error
	if link != "" {
		postID, lookupErr = res.Resolve(ctx, link)
	}

	if reasons := validateMetric(row, link, postID, lookupErr); len(reasons) > 0 {
		return models.TransferResult{
			Status:  models.ResultFailed,
			Message: strings.Join(reasons, reasonSeparator),
		}
	}
	if dryRun {
		return models.TransferResult{Status: models.ResultSkipped, Message: dryRunMessage}
	}

	num := func(v interface{}) float64 {
		f, _ := normalize.ToNumber(v)
		return f
	}
	impressionsOrganic := num(row.ImpressionOrganic)
	impressionsBoost := num(row.ImpressionBoostPost)
	reachOrganic := num(row.ReachOrganic)
	reachBoost := num(row.ReachBoostPost)

	metric := &models.PostMetric{
		ID:                 uuid.NewString(),
		PostID:             postID,
		CapturedAt:         rowTimestamp(row.UpdatePost, row.ImportDate),
		PostLink:           link,
		ImpressionsOrganic: impressionsOrganic,
		ImpressionsBoost:   impressionsBoost,
		Impressions:        impressionsOrganic + impressionsBoost,
		ReachOrganic:       reachOrganic,
		ReachBoost:         reachBoost,
		Reach:              reachOrganic + reachBoost,
		Likes:              num(row.EngageLikes),
		Comments:           num(row.EngangeComments),
		Shares:             num(row.EngageShares),
		Saves:              num(row.EngageSave),
		Views:              num(row.VdoView),
		PostClicks:         num(row.PostClick),
		LinkClicks:         num(row.LinkClick),
		Retweets:           num(row.Retweet),
	}

	id, err := s.store.InsertMetric(ctx, metric)
	if err != nil {
		return failedResult(err)
	}
	return models.TransferResult{Status: models.ResultInserted, Message: successMessage, MetricID: id}
}

func (s *Service) processPost(ctx context.Context, _ *Resolver, row models.StagingPost, dryRun bool) models.TransferResult {
	link := normalize.URL(row.PostLink)

	if reasons := validatePost(row, link); len(reasons) > 0 {
		return models.TransferResult{
			Status:  models.ResultFailed,
			Message: strings.Join(reasons, reasonSeparator),
		}
	}
	if dryRun {
		return models.TransferResult{Status: models.ResultSkipped, Message: dryRunMessage}
	}

	post := &models.Post{
		ID:        uuid.NewString(),
		PostLink:  link,
		Title:     coalesce(row.PostName, row.RawPayload.String("title")),
		Platform:  coalesce(row.Platform, row.RawPayload.String("platform")),
		KolName:   coalesce(row.KolName, row.RawPayload.String("kol_name")),
		PostedAt:  rowTimestamp(row.UpdatePost, row.ImportDate),
		CreatedAt: time.Now().UTC(),
	}

	id, wasUpdated, err := s.store.UpsertPost(ctx, post)
	if err != nil {
		return failedResult(err)
	}
	status := models.ResultInserted
	if wasUpdated {
		status = models.ResultUpdated
	}
	return models.TransferResult{Status: status, Message: successMessage, PostID: id}
}
