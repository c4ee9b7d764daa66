package domain

import (
	"regexp"
	"time"
)

// TrackedRecord is one externally-discovered content URL inside a collection.
type TrackedRecord struct {
	ID              string    `json:"id"`
	SourceURL       string    `json:"source_url"`
	Title           string    `json:"title,omitempty"`
	ThumbnailRef    string    `json:"thumbnail_ref,omitempty"`
	TopicID         string    `json:"topic_id,omitempty"`
	Stage           Stage     `json:"stage"`
	ExtractedLinks  []string  `json:"extracted_links,omitempty"`
	ExtractedImages []string  `json:"extracted_images,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewRecord carries the caller-supplied fields of a record about to be inserted.
type NewRecord struct {
	SourceURL    string
	Title        string
	ThumbnailRef string
	TopicID      string
}

var topicPath = regexp.MustCompile(`/topic/(\d+)-`)

// TopicIDFromURL extracts the forum topic number from a source url such as
// https://forum.example/topic/1234-some-title, or returns "".
func TopicIDFromURL(sourceURL string) string {
	m := topicPath.FindStringSubmatch(sourceURL)
	if m == nil {
		return ""
	}
	return m[1]
}

// Extraction is the payload reported back by the extraction worker.
type Extraction struct {
	Links  []string
	Images []string
}

// Page is one slice of a listing together with its pagination metadata.
type Page struct {
	Items []TrackedRecord `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
	Pages int             `json:"pages"`
}

// PageCount returns ceil(total/limit); zero when limit is not positive.
func PageCount(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	l := int64(limit)
	return int((total + l - 1) / l)
}

// ExtractionRequest is handed to the external extraction worker.
type ExtractionRequest struct {
	Collection  string    `json:"collection"`
	RecordID    string    `json:"record_id"`
	SourceURL   string    `json:"source_url"`
	Principal   string    `json:"principal,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
