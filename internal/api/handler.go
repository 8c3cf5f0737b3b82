package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/eugenenazirov/tvsubscribe/internal/douban"
	"github.com/eugenenazirov/tvsubscribe/internal/model"
	"github.com/eugenenazirov/tvsubscribe/internal/settings"
	"github.com/eugenenazirov/tvsubscribe/internal/storage"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const imageCacheControl = "public, max-age=3600"

// SettingsStore reads and updates the runtime settings.
type SettingsStore interface {
	Map() map[string]any
	Update(updates map[string]any) (settings.Settings, error)
}

// Processor runs subscription processing outside the request.
type Processor interface {
	Kick()
	Trigger(ids []string) (int, error)
	Enqueue(sub model.Subscription) error
}

// Metadata looks up series information on Douban.
type Metadata interface {
	Search(ctx context.Context, name string) ([]model.DoubanResult, error)
	Title(ctx context.Context, doubanID string) (string, error)
	FetchImage(ctx context.Context, rawURL string) (douban.Image, error)
}

// Handler wires the subscription services into HTTP handlers.
type Handler struct {
	store     storage.Storage
	settings  SettingsStore
	processor Processor
	metadata  Metadata
	validate  *validator.Validate
	logger    *zap.Logger

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithHandlerLogger sets the logger used for background failures.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(store storage.Storage, st SettingsStore, processor Processor, metadata Metadata, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:     store,
		settings:  st,
		processor: processor,
		metadata:  metadata,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    zap.NewNop(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeData(w, http.StatusOK, "service is running", healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	})
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeData(w, http.StatusOK, "", h.settings.Map())
}

func (h *Handler) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if _, err := h.settings.Update(updates); err != nil {
		if errors.Is(err, settings.ErrInvalidSettings) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeInternalError(w, err)
		return
	}

	h.processor.Kick()
	writeData(w, http.StatusOK, "settings updated, processing subscriptions now", h.settings.Map())
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	_ = r
	subs, err := h.store.List()
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeData(w, http.StatusOK, "", subs)
}

func (h *Handler) handleAddSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	sub := req.subscription()
	if err := h.validate.Struct(sub); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	if sub.Name == "" {
		title, err := h.metadata.Title(r.Context(), sub.DoubanID)
		if err != nil {
			h.logger.Warn("douban title lookup failed", zap.String("douban_id", sub.DoubanID), zap.Error(err))
		}
		sub.Name = title
	}

	added, err := h.store.Add(sub)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeInternalError(w, err)
		return
	}

	if err := h.processor.Enqueue(added); err != nil {
		h.logger.Warn("could not schedule new subscription", zap.String("id", added.ID), zap.Error(err))
	}
	writeData(w, http.StatusOK, "subscription added, searching for torrents now", added)
}

func (h *Handler) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if raw, ok := body["ids"]; ok {
		ids, err := parseIDs(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		removed, err := h.store.RemoveByIDs(ids)
		if err != nil {
			h.writeStorageError(w, err)
			return
		}
		writeData(w, http.StatusOK, fmt.Sprintf("deleted %d subscriptions", removed), deleteResponse{Deleted: removed})
		return
	}

	// Older clients identify the subscription by Douban ID and resolution.
	var req subscriptionRequest
	if err := decodeRaw(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	sub := req.subscription()
	if err := h.validate.Struct(sub); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if err := h.store.Remove(sub.DoubanID, sub.Resolution); err != nil {
		h.writeStorageError(w, err)
		return
	}
	writeData(w, http.StatusOK, "subscription deleted", sub)
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.IDs == nil {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}
	ids, err := parseIDs(req.IDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	triggered, err := h.processor.Trigger(ids)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if triggered == 0 {
		writeError(w, http.StatusNotFound, "no matching subscriptions")
		return
	}
	writeData(w, http.StatusOK, fmt.Sprintf("triggered %d subscriptions", triggered), triggerResponse{
		Triggered: triggered,
		Requested: len(ids),
	})
}

func (h *Handler) handleSearchDouban(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}

	results, err := h.metadata.Search(r.Context(), name)
	if err != nil {
		if errors.Is(err, douban.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "douban search failed: "+err.Error())
		return
	}
	writeData(w, http.StatusOK, "", results)
}

func (h *Handler) handleProxyImage(w http.ResponseWriter, r *http.Request) {
	imageURL := r.URL.Query().Get("url")
	if imageURL == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}

	img, err := h.metadata.FetchImage(r.Context(), imageURL)
	if err != nil {
		if errors.Is(err, douban.ErrImageNotAllowed) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "image fetch failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", imageCacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

func (h *Handler) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, r.Method+" is not supported on "+r.URL.Path)
}

func (h *Handler) writeStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeInternalError(w, err)
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// subscriptionRequest leaves Resolution nil when the client omits it so the
// default can be told apart from an explicit 2160p.
type subscriptionRequest struct {
	DoubanID   string            `json:"douban_id"`
	Name       string            `json:"name"`
	Resolution *model.Resolution `json:"resolution"`
}

func (r subscriptionRequest) subscription() model.Subscription {
	sub := model.Subscription{
		DoubanID:   r.DoubanID,
		Name:       r.Name,
		Resolution: model.Res1080P,
	}
	if r.Resolution != nil {
		sub.Resolution = *r.Resolution
	}
	return sub
}

type idsRequest struct {
	IDs json.RawMessage `json:"ids"`
}

type deleteResponse struct {
	Deleted int `json:"deleted"`
}

type triggerResponse struct {
	Triggered int `json:"triggered_count"`
	Requested int `json:"total_requested"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// parseIDs accepts a JSON array and keeps its non-empty strings.
func parseIDs(raw json.RawMessage) ([]string, error) {
	var values []any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, errors.New("ids must be an array")
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			ids = append(ids, s)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("ids must not be empty")
	}
	return ids, nil
}

func decodeRaw(body map[string]json.RawMessage, dst any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.StructField() {
	case "DoubanID":
		return "douban_id is required and must be numeric"
	case "Resolution":
		return "resolution must be 0 (2160p) or 1 (1080p)"
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "internal error: "+err.Error())
}
