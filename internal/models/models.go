package models

import "time"

// Staging row statuses
const (
	StatusQueued    = "queued"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
	StatusInvalid   = "invalid"
)

// Per-row transfer result statuses
const (
	ResultInserted = "inserted"
	ResultUpdated  = "updated"
	ResultSkipped  = "skipped"
	ResultFailed   = "failed"
)

// Transfer entities
const (
	EntityComments = "comments"
	EntityMetrics  = "metrics"
	EntityPosts    = "posts"
)

// RawPayload holds the untyped remainder of an imported record. Fields the
// upload step could not map to a staging column end up here and are used as
// fallbacks during transfer.
type RawPayload map[string]interface{}

// String returns the string value under key, or "" when absent or not a string.
func (p RawPayload) String(key string) string {
	if p == nil {
		return ""
	}
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// Value returns the raw value under key, or nil when absent.
func (p RawPayload) Value(key string) interface{} {
	if p == nil {
		return nil
	}
	return p[key]
}

// StagingComment represents a row of the import_post_comments table: one raw
// comment landed by the upload step, awaiting transfer into production.
type StagingComment struct {
	ID            string     `json:"id" bson:"_id"`
	FileName      string     `json:"file_name" bson:"file_name"`
	PostLink      string     `json:"post_link" bson:"post_link"`
	PostMessage   string     `json:"post_message" bson:"post_message"`
	KolPostDetail string     `json:"kol_post_detail" bson:"kol_post_detail"`
	PostIntention string     `json:"post_intention" bson:"post_intention"`
	UpdatePost    string     `json:"update_post" bson:"update_post"`
	ImportDate    time.Time  `json:"import_date" bson:"import_date"`
	Status        string     `json:"status" bson:"status"`
	ErrorMessage  string     `json:"error_message" bson:"error_message"`
	FlagUse       bool       `json:"flag_use" bson:"flag_use"`
	RawPayload    RawPayload `json:"raw_payload" bson:"raw_payload"`
}

// StagingMetric represents a row of the import_post_metrics table. The
// counter fields are loosely typed: the upload step lands whatever the CSV
// or JSON carried (string with thousands separators, bare number, null).
type StagingMetric struct {
	ID                  string      `json:"id" bson:"_id"`
	FileName            string      `json:"file_name" bson:"file_name"`
	PostLink            string      `json:"post_link" bson:"post_link"`
	UpdatePost          string      `json:"update_post" bson:"update_post"`
	ImportDate          time.Time   `json:"import_date" bson:"import_date"`
	ImpressionOrganic   interface{} `json:"impression_organic" bson:"impression_organic"`
	ImpressionBoostPost interface{} `json:"impression_boost_post" bson:"impression_boost_post"`
	ReachOrganic        interface{} `json:"reach_organic" bson:"reach_organic"`
	ReachBoostPost      interface{} `json:"reach_boost_post" bson:"reach_boost_post"`
	EngageLikes         interface{} `json:"engage_likes" bson:"engage_likes"`
	EngangeComments     interface{} `json:"engange_comments" bson:"engange_comments"`
	EngageShares        interface{} `json:"engage_shares" bson:"engage_shares"`
	EngageSave          interface{} `json:"engage_save" bson:"engage_save"`
	PostClick           interface{} `json:"post_click" bson:"post_click"`
	LinkClick           interface{} `json:"link_click" bson:"link_click"`
	Retweet             interface{} `json:"retweet" bson:"retweet"`
	VdoView             interface{} `json:"vdo_view" bson:"vdo_view"`
	Status              string      `json:"status" bson:"status"`
	ErrorMessage        string      `json:"error_message" bson:"error_message"`
	FlagUse             bool        `json:"flag_use" bson:"flag_use"`
	RawPayload          RawPayload  `json:"raw_payload" bson:"raw_payload"`
}

// StagingPost represents a row of the import_posts table.
type StagingPost struct {
	ID           string     `json:"id" bson:"_id"`
	FileName     string     `json:"file_name" bson:"file_name"`
	PostLink     string     `json:"post_link" bson:"post_link"`
	PostName     string     `json:"post_name" bson:"post_name"`
	Platform     string     `json:"platform" bson:"platform"`
	KolName      string     `json:"kol_name" bson:"kol_name"`
	UpdatePost   string     `json:"update_post" bson:"update_post"`
	ImportDate   time.Time  `json:"import_date" bson:"import_date"`
	Status       string     `json:"status" bson:"status"`
	ErrorMessage string     `json:"error_message" bson:"error_message"`
	FlagUse      bool       `json:"flag_use" bson:"flag_use"`
	RawPayload   RawPayload `json:"raw_payload" bson:"raw_payload"`
}

// Post is a production post record. PostLink is stored normalized and is
// unique; it is the join key the staging tables reference.
type Post struct {
	ID        string    `json:"id" bson:"_id"`
	PostLink  string    `json:"post_link" bson:"post_link"`
	Title     string    `json:"title" bson:"title"`
	Platform  string    `json:"platform" bson:"platform"`
	KolName   string    `json:"kol_name" bson:"kol_name"`
	PostedAt  time.Time `json:"posted_at" bson:"posted_at"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Comment is a production comment record. Uniqueness is enforced on
// (external_comment_id, post_id).
type Comment struct {
	ID                string    `json:"id" bson:"_id"`
	ExternalCommentID string    `json:"external_comment_id" bson:"external_comment_id"`
	PostID            string    `json:"post_id" bson:"post_id"`
	PostLink          string    `json:"post_link" bson:"post_link"`
	Author            string    `json:"author" bson:"author"`
	Text              string    `json:"text" bson:"text"`
	Timestamp         time.Time `json:"timestamp" bson:"timestamp"`
	LikeCount         float64   `json:"like_count" bson:"like_count"`
	PostIntention     string    `json:"post_intention" bson:"post_intention"`
}

// PostMetric is a production metrics snapshot. Uniqueness is enforced on
// (post_id, captured_at). Impressions and Reach are derived aggregates of
// their organic/boost components.
type PostMetric struct {
	ID                 string    `json:"id" bson:"_id"`
	PostID             string    `json:"post_id" bson:"post_id"`
	CapturedAt         time.Time `json:"captured_at" bson:"captured_at"`
	PostLink           string    `json:"post_link" bson:"post_link"`
	ImpressionsOrganic float64   `json:"impressions_organic" bson:"impressions_organic"`
	ImpressionsBoost   float64   `json:"impressions_boost" bson:"impressions_boost"`
	Impressions        float64   `json:"impressions" bson:"impressions"`
	ReachOrganic       float64   `json:"reach_organic" bson:"reach_organic"`
	ReachBoost         float64   `json:"reach_boost" bson:"reach_boost"`
	Reach              float64   `json:"reach" bson:"reach"`
	Likes              float64   `json:"likes" bson:"likes"`
	Comments           float64   `json:"comments" bson:"comments"`
	Shares             float64   `json:"shares" bson:"shares"`
	Saves              float64   `json:"saves" bson:"saves"`
	Views              float64   `json:"views" bson:"views"`
	PostClicks         float64   `json:"post_clicks" bson:"post_clicks"`
	LinkClicks         float64   `json:"link_clicks" bson:"link_clicks"`
	Retweets           float64   `json:"retweets" bson:"retweets"`
}

// TransferRequest is the body of a POST /transfer call. Exactly one of
// FileName or IDs selects the batch.
type TransferRequest struct {
	FileName string   `json:"fileName"`
	IDs      []string `json:"ids"`
	DryRun   bool     `json:"dryRun"`
}

// TransferResult reports the outcome for one staging row. At most one of
// CommentID/MetricID/PostID is set, matching the entity transferred.
type TransferResult struct {
	ImportID  string `json:"importId"`
	FileName  string `json:"fileName"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	CommentID string `json:"commentId,omitempty"`
	MetricID  string `json:"metricId,omitempty"`
	PostID    string `json:"postId,omitempty"`
}

// TransferSummary is the aggregate returned for one transfer invocation.
// Updated is reported only by entities with upsert semantics (metrics and
// posts carry it, comments do not).
type TransferSummary struct {
	FileName string           `json:"fileName"`
	Attempts int              `json:"attempts"`
	Inserted int              `json:"inserted"`
	Updated  *int             `json:"updated,omitempty"`
	Failed   int              `json:"failed"`
	Results  []TransferResult `json:"results"`
}

// TransferRunLog records one completed (non dry-run) transfer invocation.
type TransferRunLog struct {
	ID           string    `json:"id" bson:"_id"`
	Entity       string    `json:"entity" bson:"entity"`
	FileName     string    `json:"file_name" bson:"file_name"`
	StartedAt    time.Time `json:"started_at" bson:"started_at"`
	FinishedAt   time.Time `json:"finished_at" bson:"finished_at"`
	Attempts     int       `json:"attempts" bson:"attempts"`
	Inserted     int       `json:"inserted" bson:"inserted"`
	Updated      int       `json:"updated" bson:"updated"`
	Failed       int       `json:"failed" bson:"failed"`
	Status       string    `json:"status" bson:"status"`
	ErrorMessage string    `json:"error_message,omitempty" bson:"error_message,omitempty"`
}
