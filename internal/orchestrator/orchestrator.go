package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfweaver/internal/metrics"
	"github.com/local/pdfweaver/internal/queue"
	"github.com/local/pdfweaver/internal/statuscheck"
	"github.com/local/pdfweaver/internal/store"
	"github.com/local/pdfweaver/internal/weaver"
)

type Queue interface {
	Enqueue(ctx context.Context, job *queue.MergeJob) error
	CancelJob(ctx context.Context, jobID string) error
}

type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Get(ctx context.Context, jobID string) (store.Status, bool, error)
}

// Previewer renders a page of a merged document.
type Previewer interface {
	RenderPageToJPEG(path string, pageNum, dpi, quality int, gray bool) ([]byte, int, int, error)
}

// HealthReporter summarizes dependency health for /status.
type HealthReporter interface {
	Summary(ctx context.Context) statuscheck.Summary
}

type Config struct {
	UploadDir      string
	MaxUploadBytes int64
	PreviewDPI     int
}

// Dependencies wires the HTTP layer. Preview and Health are optional.
type Dependencies struct {
	Queue   Queue
	Status  StatusStore
	Preview Previewer
	Health  HealthReporter
}

type Orchestrator struct {
	cfg  Config
	deps Dependencies
}

func New(cfg Config, deps Dependencies) *Orchestrator {
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join("data", "uploads")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 200 << 20
	}
	if cfg.PreviewDPI <= 0 {
		cfg.PreviewDPI = 72
	}
	return &Orchestrator{cfg: cfg, deps: deps}
}

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/merge_upload", o.handleMergeUpload)
	mux.HandleFunc("/merge_job", o.handleMergeJob)
	mux.HandleFunc("/progress/", o.handleProgress)
	mux.HandleFunc("/download_result/", o.handleDownloadResult)
	mux.HandleFunc("/preview/", o.handlePreview)
	mux.HandleFunc("/webhook/cancel_job", o.handleCancelJob)
	mux.HandleFunc("/status", o.handleStatus)
	mux.Handle("/metrics", metrics.Handler())
}

type processResp struct {
	Status   string                 `json:"status"`
	JobID    string                 `json:"job_id"`
	Message  string                 `json:"message"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type jobEntry struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Included *bool  `json:"included"`
}

type mergeJobReq struct {
	Entries    []jobEntry `json:"entries"`
	OutputName string     `json:"output_name"`
}

// handleMergeJob queues a merge of caller-supplied references. Entries
// without an "included" field are included.
func (o *Orchestrator) handleMergeJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req mergeJobReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Entries) == 0 {
		http.Error(w, "missing entries", http.StatusBadRequest)
		return
	}
	entries := make([]weaver.Entry, 0, len(req.Entries))
	for i, e := range req.Entries {
		path := strings.TrimSpace(e.Path)
		if path == "" {
			http.Error(w, fmt.Sprintf("entry %d: missing path", i), http.StatusBadRequest)
			return
		}
		entry := weaver.NewEntry(path)
		if e.Name != "" {
			entry.DisplayName = e.Name
		}
		if e.Included != nil {
			entry.Included = *e.Included
		}
		entries = append(entries, entry)
	}
	if len(weaver.Resolve(entries)) == 0 {
		http.Error(w, weaver.ErrNoSelection.Error(), http.StatusBadRequest)
		return
	}

	job := &queue.MergeJob{JobID: uuid.NewString(), Entries: entries, OutputName: req.OutputName}
	o.enqueue(w, r, job, "api")
}

// enqueue records the queued status, pushes job and writes the 201 response.
func (o *Orchestrator) enqueue(w http.ResponseWriter, r *http.Request, job *queue.MergeJob, source string) {
	start := time.Now()
	st := store.Status{Status: store.StateQueued, Progress: 0, Message: "queued", Start: &start,
		Metadata: map[string]interface{}{"source": source, "entries": len(job.Entries), "output_name": job.OutputFile()}}
	if err := o.deps.Status.Set(r.Context(), job.JobID, st); err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("status init failed")
		http.Error(w, "status store unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := o.deps.Queue.Enqueue(r.Context(), job); err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("enqueue failed")
		end := time.Now()
		st.Status, st.Message, st.End = store.StateFailed, "queue unavailable", &end
		_ = o.deps.Status.Set(r.Context(), job.JobID, st)
		if job.UploadDir != "" {
			_ = os.RemoveAll(job.UploadDir)
		}
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	log.Info().
		Str("job_id", job.JobID).
		Str("source", source).
		Int("entries", len(job.Entries)).
		Int("included", len(weaver.Resolve(job.Entries))).
		Str("output", job.OutputFile()).
		Msg("merge job created")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(processResp{
		Status:   "ok",
		JobID:    job.JobID,
		Message:  "Merge job created",
		Metadata: map[string]interface{}{"timestamp": start.Format(time.RFC3339)},
	})
}

// lookup loads the status for the id after prefix, writing the error response itself.
func (o *Orchestrator) lookup(w http.ResponseWriter, r *http.Request, prefix string) (string, store.Status, bool) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if id == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return "", store.Status{}, false
	}
	st, ok, err := o.deps.Status.Get(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("status lookup failed")
		http.Error(w, "error", http.StatusInternalServerError)
		return id, st, false
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return id, st, false
	}
	return id, st, true
}

func (o *Orchestrator) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, st, ok := o.lookup(w, r, "/progress/")
	if !ok {
		return
	}
	resp := map[string]interface{}{
		"success":    st.Status == store.StateSuccess || st.Status == store.StatePartial,
		"job_id":     id,
		"status":     st.Status,
		"progress":   st.Progress,
		"message":    st.Message,
		"start_time": st.Start,
		"end_time":   st.End,
	}
	for _, k := range []string{"pages", "missing_paths", "unsupported_paths", "failed_paths", "s3_url", "error"} {
		if v, ok := st.Metadata[k]; ok {
			resp[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// resultPath returns the merged document of a finished job, writing the
// error response itself when there is none.
func resultPath(w http.ResponseWriter, st store.Status) (string, bool) {
	switch st.Status {
	case store.StateSuccess, store.StatePartial:
	case store.StateFailed, store.StateCancelled:
		http.Error(w, "job "+st.Status, http.StatusConflict)
		return "", false
	default:
		http.Error(w, "not ready", http.StatusAccepted)
		return "", false
	}
	p, _ := st.Metadata["output_path"].(string)
	if p == "" {
		http.Error(w, "result not available", http.StatusNotFound)
		return "", false
	}
	return p, true
}

// handleDownloadResult serves the merged PDF of a finished job.
func (o *Orchestrator) handleDownloadResult(w http.ResponseWriter, r *http.Request) {
	id, st, ok := o.lookup(w, r, "/download_result/")
	if !ok {
		return
	}
	p, ok := resultPath(w, st)
	if !ok {
		return
	}
	f, err := os.Open(p)
	if err != nil {
		log.Warn().Err(err).Str("job_id", id).Str("path", p).Msg("result file unavailable")
		http.Error(w, "result not available", http.StatusNotFound)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		http.Error(w, "failed to read", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(p)))
	http.ServeContent(w, r, filepath.Base(p), fi.ModTime(), f)
}

// handlePreview renders one page (default 1) of a finished job as JPEG.
func (o *Orchestrator) handlePreview(w http.ResponseWriter, r *http.Request) {
	if o.deps.Preview == nil {
		http.Error(w, "preview unavailable", http.StatusNotImplemented)
		return
	}
	id, st, ok := o.lookup(w, r, "/preview/")
	if !ok {
		return
	}
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return
		}
		page = n
	}
	p, ok := resultPath(w, st)
	if !ok {
		return
	}
	data, width, height, err := o.deps.Preview.RenderPageToJPEG(p, page, o.cfg.PreviewDPI, 80, false)
	if err != nil {
		log.Warn().Err(err).Str("job_id", id).Int("page", page).Msg("preview failed")
		http.Error(w, "cannot render page", http.StatusUnprocessableEntity)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Page-Width", strconv.Itoa(width))
	w.Header().Set("X-Page-Height", strconv.Itoa(height))
	_, _ = w.Write(data)
}

type cancelReq struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason,omitempty"`
}

func (o *Orchestrator) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req cancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.JobID == "" {
		http.Error(w, "missing job_id", http.StatusBadRequest)
		return
	}
	st, ok, _ := o.deps.Status.Get(r.Context(), req.JobID)
	if ok && store.Final(st.Status) {
		http.Error(w, "job already "+st.Status, http.StatusConflict)
		return
	}
	if err := o.deps.Queue.CancelJob(r.Context(), req.JobID); err != nil {
		log.Error().Err(err).Str("job_id", req.JobID).Msg("cancel failed")
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	st.Status = store.StateCancelled
	st.Progress = 0
	if req.Reason != "" {
		st.Message = fmt.Sprintf("Cancelled: %s", req.Reason)
	} else {
		st.Message = "Cancelled"
	}
	now := time.Now()
	st.End = &now
	_ = o.deps.Status.Set(r.Context(), req.JobID, st)
	log.Info().Str("job_id", req.JobID).Str("reason", req.Reason).Msg("job cancelled")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "job_id": req.JobID, "status": store.StateCancelled})
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, r *http.Request) {
	if o.deps.Health == nil {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	sum := o.deps.Health.Summary(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if !sum.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(sum)
}

// errBadExclude is returned for malformed exclude lists.
var errBadExclude = errors.New("invalid exclude list")

// parseIndexes parses a comma-separated list of 0-based indexes.
func parseIndexes(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q", errBadExclude, part)
		}
		out = append(out, n)
	}
	return out, nil
}
