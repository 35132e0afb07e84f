package transfer

import (
	"strings"

	"github.com/kolcenter/import-transfer-service/internal/models"
	"github.com/kolcenter/import-transfer-service/internal/normalize"
)

// Row validation reasons. These are user-facing: the dashboard that renders
// results[].message is Thai, so the wording is kept from the original UI.
const (
	reasonLinkInvalid  = "post_link ว่างหรือไม่ถูกต้อง"
	reasonPostNotFound = "ไม่พบโพสต์ปลายทางจาก post_link"
	reasonLookupFailed = "ไม่สามารถค้นหาโพสต์ปลายทาง"
	reasonMessageEmpty = "post_message ว่าง"
	reasonBadTimestamp = "update_post ไม่ใช่วันที่ที่ถูกต้อง"
)

// reasonSeparator joins accumulated reasons into one error_message.
const reasonSeparator = "; "

// linkReasons validates the link/resolution part shared by comments and
// metrics: the link must normalize to something and resolve to an existing
// production post.
func linkReasons(link, postID string, lookupErr error) []string {
	if link == "" {
		return []string{reasonLinkInvalid}
	}
	if lookupErr != nil {
		return []string{reasonLookupFailed}
	}
	if postID == "" {
		return []string{reasonPostNotFound}
	}
	return nil
}

// timestampReason rejects an update_post value that is present but does not
// parse. A missing value is fine here; the fallback chain substitutes
// defaults for missing values only, never for malformed ones.
func timestampReason(updatePost string) []string {
	if strings.TrimSpace(updatePost) == "" {
		return nil
	}
	if _, ok := normalize.ToTimestamp(updatePost); !ok {
		return []string{reasonBadTimestamp}
	}
	return nil
}

// commentText picks the comment body: the primary column first, then the
// raw-payload fallbacks the upload step may have landed it under.
func commentText(row models.StagingComment) string {
	for _, candidate := range []string{
		row.PostMessage,
		row.RawPayload.String("post_message"),
		row.RawPayload.String("message"),
		row.RawPayload.String("text"),
	} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// validateComment accumulates every problem with a staged comment row rather
// than stopping at the first, so one failed transfer reports all of them.
func validateComment(row models.StagingComment, link, postID string, lookupErr error) []string {
	reasons := linkReasons(link, postID, lookupErr)
	if commentText(row) == "" {
		reasons = append(reasons, reasonMessageEmpty)
	}
	reasons = append(reasons, timestampReason(row.UpdatePost)...)
	return reasons
}

// validateMetric accumulates every problem with a staged metric row.
func validateMetric(row models.StagingMetric, link, postID string, lookupErr error) []string {
	reasons := linkReasons(link, postID, lookupErr)
	reasons = append(reasons, timestampReason(row.UpdatePost)...)
	return reasons
}

// validatePost accumulates every problem with a staged post row. Posts are
// being created, not joined, so the link only needs to normalize.
func validatePost(row models.StagingPost, link string) []string {
	var reasons []string
	if link == "" {
		reasons = append(reasons, reasonLinkInvalid)
	}
	reasons = append(reasons, timestampReason(row.UpdatePost)...)
	return reasons
}
