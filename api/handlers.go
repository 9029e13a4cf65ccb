package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gen_backend/db"
	"gen_backend/generation"
	"gen_backend/logging"
	"gen_backend/metrics"
	"gen_backend/queue"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// generateRequest is the wire form of generation.Request.
type generateRequest struct {
	generation.Request
	// TimeoutMS overrides the queue timeout for this request.
	TimeoutMS int64 `json:"timeoutMs,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var body generateRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req := body.Request
	if body.TimeoutMS > 0 {
		req.Timeout = time.Duration(body.TimeoutMS) * time.Millisecond
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get("X-User-ID")
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("X-Request-ID")
	}

	resp := s.deps.Generator.Generate(r.Context(), req)
	if resp.RetryAfterMS > 0 {
		secs := (resp.RetryAfterMS + 999) / 1000
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	w.Header().Set("X-Request-ID", resp.RequestID)
	writeJSON(w, generation.HTTPStatus(resp.Code), resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.deps.Generator.Cancel(id) {
		writeError(w, http.StatusNotFound, "no in-flight request with that id")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"requestId": id, "cancelled": true})
}

// imageResponse is the public view of a stored image.
type imageResponse struct {
	ID        int64      `json:"id"`
	Prompt    string     `json:"prompt"`
	Original  string     `json:"original"`
	ImageURL  string     `json:"imageUrl"`
	Provider  string     `json:"provider"`
	Model     string     `json:"model,omitempty"`
	Guidance  int        `json:"guidance"`
	Rating    *int       `json:"rating,omitempty"`
	IsPublic  bool       `json:"isPublic"`
	UserID    *string    `json:"userId,omitempty"`
	PromptID  string     `json:"promptId"`
	RequestID string     `json:"requestId,omitempty"`
	Tags      []string   `json:"tags"`
	TaggedAt  *time.Time `json:"taggedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func toImageResponse(img *db.Image) imageResponse {
	tags := img.Tags
	if tags == nil {
		tags = []string{}
	}
	return imageResponse{
		ID:        img.ID,
		Prompt:    img.Prompt,
		Original:  img.Original,
		ImageURL:  img.ImageURL,
		Provider:  img.Provider,
		Model:     img.Model,
		Guidance:  img.Guidance,
		Rating:    img.Rating,
		IsPublic:  img.IsPublic,
		UserID:    img.UserID,
		PromptID:  img.PromptID,
		RequestID: img.RequestID,
		Tags:      tags,
		TaggedAt:  img.TaggedAt,
		CreatedAt: img.CreatedAt,
	}
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "image id must be a positive integer")
		return
	}

	img, err := s.deps.Images.GetImageByID(r.Context(), id)
	if errors.Is(err, db.ErrImageNotFound) {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		s.logger.Error("image lookup failed", logging.ImageID(id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "image lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, toImageResponse(img))
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))
	publicOnly := r.URL.Query().Get("public") == "true"

	images, err := s.deps.Images.ListRecent(r.Context(), limit, publicOnly)
	if err != nil {
		s.logger.Error("image listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "image listing failed")
		return
	}

	out := make([]imageResponse, 0, len(images))
	for _, img := range images {
		out = append(out, toImageResponse(img))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"images": out, "count": len(out)})
}

// queueStatsResponse combines live queue counters with recorded history.
type queueStatsResponse struct {
	Queue     queue.Stats                        `json:"queue"`
	Tasks     metrics.TaskMetrics                `json:"tasks"`
	Providers map[string]metrics.ProviderMetrics `json:"providers"`
	Recent    []metrics.TaskRecord               `json:"recent"`
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	store := s.deps.Recorder.Store()
	writeJSON(w, http.StatusOK, queueStatsResponse{
		Queue:     s.deps.Queue.Stats(),
		Tasks:     store.GetTaskMetrics(),
		Providers: store.GetProviderMetrics(),
		Recent:    store.GetRecentTasks(parseLimit(r.URL.Query().Get("limit"))),
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Database string `json:"database,omitempty"`
	Queue    struct {
		Waiting int  `json:"waiting"`
		Running int  `json:"running"`
		Closed  bool `json:"closed"`
	} `json:"queue"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Recorder.Store().GetSystemStatus()
	stats := s.deps.Queue.Stats()

	resp := healthResponse{
		Status:  status.Health,
		Version: s.cfg.Version,
		Uptime:  status.Uptime.Round(time.Second).String(),
	}
	resp.Queue.Waiting = stats.Waiting
	resp.Queue.Running = stats.Running
	resp.Queue.Closed = stats.Closed

	code := http.StatusOK
	if status.Health != metrics.SystemHealthRunning || stats.Closed {
		code = http.StatusServiceUnavailable
	}
	if s.deps.Database != nil {
		resp.Database = "ok"
		if err := s.deps.Database.Ping(r.Context()); err != nil {
			resp.Database = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

func parseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
