package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"DropTracker/internal/domain"
)

// RecordService is the core surface the handlers drive.
type RecordService interface {
	Collections() []string
	List(ctx context.Context, collection, stage string, page, limit int) (domain.Page, error)
	Get(ctx context.Context, collection, id string) (domain.TrackedRecord, error)
	UpdateStage(ctx context.Context, collection, id, stage string) (domain.TrackedRecord, error)
	Delete(ctx context.Context, collection, id string) error
	Insert(ctx context.Context, collection string, rec domain.NewRecord) (string, error)
	RequestExtraction(ctx context.Context, collection, id, principal string) (domain.TrackedRecord, error)
	CompleteExtraction(ctx context.Context, collection, id string, ext domain.Extraction) (domain.TrackedRecord, error)
	SignedAsset(ctx context.Context, key string, ttl time.Duration) (domain.SignedURL, error)
	Health(ctx context.Context) error
}

type handlers struct {
	svc RecordService
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

var kindStatus = map[domain.Kind]int{
	domain.KindUnknownCollection:   http.StatusBadRequest,
	domain.KindInvalidInput:        http.StatusBadRequest,
	domain.KindNotFound:            http.StatusNotFound,
	domain.KindDuplicateURL:        http.StatusConflict,
	domain.KindIllegalTransition:   http.StatusConflict,
	domain.KindUpstreamAuthFailure: http.StatusBadGateway,
	domain.KindStorageUnavailable:  http.StatusServiceUnavailable,
}

// writeError renders the typed failure. The underlying cause is attached to
// the gin context for logging only.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	var de *domain.Error
	if !errors.As(err, &de) {
		c.JSON(http.StatusInternalServerError, errorBody{Error: errorDetail{
			Kind:    "internal",
			Message: "internal server error",
		}})
		return
	}

	status, ok := kindStatus[de.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, errorBody{Error: errorDetail{Kind: string(de.Kind), Message: de.Message}})
}

func invalidInput(msg string) error {
	return domain.NewError(domain.KindInvalidInput, msg, nil)
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidInput(name + " must be an integer")
	}
	return n, nil
}

func (h *handlers) health(c *gin.Context) {
	if err := h.svc.Health(c.Request.Context()); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *handlers) collections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"collections": h.svc.Collections()})
}

func (h *handlers) list(c *gin.Context) {
	page, err := intQuery(c, "page")
	if err != nil {
		writeError(c, err)
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := h.svc.List(c.Request.Context(), c.Query("collection"), c.Query("stage"), page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) get(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), c.Query("collection"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type updateStageRequest struct {
	Stage string `json:"stage" binding:"required"`
}

func (h *handlers) updateStage(c *gin.Context) {
	var req updateStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalidInput("body must be a json object with a stage"))
		return
	}

	rec, err := h.svc.UpdateStage(c.Request.Context(), c.Query("collection"), c.Param("id"), req.Stage)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": rec.ID, "stage": rec.Stage})
}

func (h *handlers) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Query("collection"), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type insertRequest struct {
	SourceURL    string `json:"source_url"`
	Title        string `json:"title"`
	ThumbnailRef string `json:"thumbnail_ref"`
	TopicID      string `json:"topic_id"`
}

func (h *handlers) insert(c *gin.Context) {
	var req insertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalidInput("body must be a json object"))
		return
	}

	id, err := h.svc.Insert(c.Request.Context(), c.Query("collection"), domain.NewRecord{
		SourceURL:    req.SourceURL,
		Title:        req.Title,
		ThumbnailRef: req.ThumbnailRef,
		TopicID:      req.TopicID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// recordID accepts ids sent either as JSON strings or numbers.
type recordID string

func (r *recordID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = recordID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*r = recordID(n.String())
	return nil
}

type extractRequest struct {
	URLID recordID `json:"url_id"`
}

func (h *handlers) requestExtraction(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.URLID == "" {
		writeError(c, invalidInput("body must carry url_id"))
		return
	}

	rec, err := h.svc.RequestExtraction(c.Request.Context(), c.Query("collection"), string(req.URLID), c.GetString(principalKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "id": rec.ID, "stage": rec.Stage})
}

type extractionRequest struct {
	Links  []string `json:"links"`
	Images []string `json:"images"`
}

func (h *handlers) completeExtraction(c *gin.Context) {
	var req extractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalidInput("body must be a json object with links and images"))
		return
	}

	rec, err := h.svc.CompleteExtraction(c.Request.Context(), c.Query("collection"), c.Param("id"),
		domain.Extraction{Links: req.Links, Images: req.Images})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handlers) asset(c *gin.Context) {
	seconds, err := intQuery(c, "ttl")
	if err != nil {
		writeError(c, err)
		return
	}
	if seconds < 0 {
		writeError(c, invalidInput("ttl must not be negative"))
		return
	}

	signed, err := h.svc.SignedAsset(c.Request.Context(), c.Query("file"), time.Duration(seconds)*time.Second)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "private, max-age="+strconv.Itoa(cacheMaxAge(signed, time.Now())))
	c.Redirect(http.StatusFound, signed.URL)
}

// cacheMaxAge is the whole number of seconds the link stays valid after now.
// ExpiresAt may be earlier than now+TTL when the lease behind it runs out first.
func cacheMaxAge(signed domain.SignedURL, now time.Time) int {
	remaining := signed.TTL
	if !signed.ExpiresAt.IsZero() {
		if left := signed.ExpiresAt.Sub(now); left < remaining {
			remaining = left
		}
	}
	if remaining <= 0 {
		return 0
	}
	return int(remaining / time.Second)
}
