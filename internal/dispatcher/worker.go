package dispatcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/pdfweaver/internal/metrics"
	"github.com/local/pdfweaver/internal/pdfcheck"
	"github.com/local/pdfweaver/internal/queue"
	"github.com/local/pdfweaver/internal/store"
	"github.com/local/pdfweaver/internal/weaver"
)

// Queue is the subset of queue.RedisQueue the worker consumes.
type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, *queue.MergeJob, error)
	Ack(ctx context.Context, msgID string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
	EnqueueDelayed(ctx context.Context, job *queue.MergeJob, executeAt time.Time) error
	AddDLQ(ctx context.Context, job *queue.MergeJob, reason string) error
	IsDone(ctx context.Context, jobID string) (bool, error)
	MarkDone(ctx context.Context, jobID string, ttl time.Duration) error
	Depths(ctx context.Context) (int64, int64, int64, error)
}

// StatusStore persists job status.
type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
}

// Localizer turns entry refs into local files.
type Localizer interface {
	Localize(ctx context.Context, entries []weaver.Entry) ([]weaver.Entry, func(), error)
}

// Uploader stores merged documents remotely.
type Uploader interface {
	VersionedKey(ctx context.Context, prefix, name string) (string, error)
	Upload(ctx context.Context, key string, body io.Reader, meta map[string]string) (string, error)
}

// Verifier re-opens a merged document.
type Verifier interface {
	Verify(path string, wantPages int) (*pdfcheck.Report, error)
}

type Config struct {
	Concurrency    int
	WorkDir        string
	JobTimeout     time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	PollTimeout    time.Duration
	DoneTTL        time.Duration
	S3Prefix       string
	DepthInterval  time.Duration
}

// Dependencies wires the worker. Uploader and Verifier are optional.
type Dependencies struct {
	Queue    Queue
	Status   StatusStore
	Engine   *weaver.Engine
	Fetcher  Localizer
	Uploader Uploader
	Verifier Verifier
}

type Worker struct {
	cfg    Config
	deps   Dependencies
	cancel context.CancelFunc
	group  *errgroup.Group
	now    func() time.Time
}

func New(cfg Config, deps Dependencies) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.DoneTTL <= 0 {
		cfg.DoneTTL = 24 * time.Hour
	}
	if cfg.DepthInterval <= 0 {
		cfg.DepthInterval = 15 * time.Second
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "pdfweaver-jobs")
	}
	return &Worker{cfg: cfg, deps: deps, now: time.Now}
}

// JobOutputPath is where job jobID writes its merged document.
func JobOutputPath(workDir string, job *queue.MergeJob) string {
	return filepath.Join(workDir, job.JobID, job.OutputFile())
}

// Start launches the consumer loops and the queue depth reporter.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.group = &errgroup.Group{}
	for i := 0; i < w.cfg.Concurrency; i++ {
		id := i
		w.group.Go(func() error {
			w.loop(ctx, id)
			return nil
		})
	}
	w.group.Go(func() error {
		w.reportDepths(ctx)
		return nil
	})
}

// Stop signals the loops and waits for in-flight jobs, up to ctx's deadline.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	done := make(chan struct{})
	go func() {
		_ = w.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context, id int) {
	consumer := fmt.Sprintf("worker-%d", id)
	log.Info().Int("worker", id).Msg("dispatcher worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Int("worker", id).Msg("dispatcher worker stopped")
			return
		default:
		}

		msgID, job, err := w.deps.Queue.Dequeue(ctx, consumer, w.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if job == nil {
			if msgID != "" {
				_ = w.deps.Queue.Ack(context.Background(), msgID)
			}
			continue
		}
		// Jobs run to completion once dequeued.
		w.Handle(context.Background(), msgID, job)
	}
}

func (w *Worker) reportDepths(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.DepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stream, delayed, dlq, err := w.deps.Queue.Depths(ctx)
			if err != nil {
				continue
			}
			metrics.SetQueueDepth("stream", stream)
			metrics.SetQueueDepth("delayed", delayed)
			metrics.SetQueueDepth("dlq", dlq)
		}
	}
}

// Handle processes one dequeued job and acks its message.
func (w *Worker) Handle(ctx context.Context, msgID string, job *queue.MergeJob) {
	defer func() {
		if err := w.deps.Queue.Ack(ctx, msgID); err != nil {
			log.Error().Err(err).Str("job_id", job.JobID).Msg("ack failed")
		}
	}()

	logger := log.With().Str("job_id", job.JobID).Int("attempt", job.Attempt).Logger()

	if done, _ := w.deps.Queue.IsDone(ctx, job.JobID); done {
		logger.Info().Msg("job already finished; skipping redelivery")
		return
	}
	if cancelled, _ := w.deps.Queue.IsCancelled(ctx, job.JobID); cancelled {
		logger.Warn().Msg("job cancelled before processing; skipping")
		w.finish(ctx, job, store.Status{Status: store.StateCancelled, Progress: 100, Message: "cancelled"})
		metrics.IncJob("cancelled")
		return
	}

	start := w.now()
	w.setStatus(ctx, job.JobID, store.Status{Status: store.StateProcessing, Progress: 10, Message: "merging", Start: &start})

	res, remoteURL, err := w.process(ctx, job)
	if err != nil {
		w.fail(ctx, job, &start, res, err)
		return
	}

	state := store.StateSuccess
	msg := "merged"
	if res.Status == weaver.StatusPartial {
		state = store.StatePartial
		msg = "merged with unreadable files skipped"
	}
	meta := resultMetadata(res)
	if remoteURL != "" {
		meta["s3_url"] = remoteURL
	}
	end := w.now()
	w.finish(ctx, job, store.Status{Status: state, Progress: 100, Message: msg, Start: &start, End: &end, Metadata: meta})
	metrics.IncJob("done")
	logger.Info().
		Str("status", state).
		Int("pages", res.Pages).
		Int("missing", len(res.MissingPaths)).
		Dur("duration", end.Sub(start)).
		Msg("merge job finished")
}

// process runs fetch, merge, verify and upload for job.
func (w *Worker) process(ctx context.Context, job *queue.MergeJob) (*weaver.MergeResult, string, error) {
	if len(job.Entries) == 0 {
		return nil, "", &ValidationError{JobID: job.JobID, Message: "no entries"}
	}
	ctx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	entries, cleanup, err := w.deps.Fetcher.Localize(ctx, job.Entries)
	if err != nil {
		return nil, "", &StageError{Stage: "fetch", Err: err}
	}
	defer cleanup()

	out := JobOutputPath(w.cfg.WorkDir, job)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, "", &StageError{Stage: "merge", Err: &weaver.WriteError{Path: out, Err: err}}
	}

	mergeStart := w.now()
	res, err := w.deps.Engine.MergeFiles(entries, out)
	metrics.ObserveMerge("job", res, time.Since(mergeStart))
	if err != nil {
		return res, "", &StageError{Stage: "merge", Err: err}
	}
	w.setStatus(ctx, job.JobID, store.Status{Status: store.StateProcessing, Progress: 70, Message: "merged"})

	if w.deps.Verifier != nil {
		if _, err := w.deps.Verifier.Verify(out, res.Pages); err != nil {
			return res, "", &StageError{Stage: "verify", Err: err}
		}
	}

	if w.deps.Uploader == nil {
		return res, "", nil
	}
	url, err := w.upload(ctx, job, out)
	if err != nil {
		return res, "", &StageError{Stage: "upload", Err: err}
	}
	return res, url, nil
}

func (w *Worker) upload(ctx context.Context, job *queue.MergeJob, path string) (string, error) {
	key, err := w.deps.Uploader.VersionedKey(ctx, w.cfg.S3Prefix, job.OutputFile())
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return w.deps.Uploader.Upload(ctx, key, f, map[string]string{"job-id": job.JobID})
}

// fail retries transient errors with exponential backoff and sends
// everything else, or the last attempt, to the DLQ.
func (w *Worker) fail(ctx context.Context, job *queue.MergeJob, start *time.Time, res *weaver.MergeResult, err error) {
	logger := log.With().Str("job_id", job.JobID).Int("attempt", job.Attempt).Logger()

	if isTransientError(err) && job.Attempt+1 < w.cfg.MaxAttempts {
		next := *job
		next.Attempt++
		delay := w.cfg.RetryBaseDelay << job.Attempt
		qerr := w.deps.Queue.EnqueueDelayed(ctx, &next, w.now().Add(delay))
		if qerr == nil {
			logger.Warn().Err(err).Dur("delay", delay).Msg("merge job failed; retry scheduled")
			w.setStatus(ctx, job.JobID, store.Status{Status: store.StateRetrying, Message: err.Error(), Start: start})
			metrics.IncJob("retried")
			return
		}
		logger.Error().Err(qerr).Msg("scheduling retry failed")
	}

	logger.Error().Err(err).Bool("fatal", isFatalError(err)).Msg("merge job failed")
	if derr := w.deps.Queue.AddDLQ(ctx, job, err.Error()); derr != nil {
		logger.Error().Err(derr).Msg("dlq push failed")
	}
	meta := map[string]interface{}{"error": err.Error(), "attempts": job.Attempt + 1}
	if res != nil {
		for k, v := range resultMetadata(res) {
			meta[k] = v
		}
	}
	end := w.now()
	w.finish(ctx, job, store.Status{Status: store.StateFailed, Progress: 100, Message: err.Error(), Start: start, End: &end, Metadata: meta})
	metrics.IncJob("dlq")
	metrics.IncJob("failed")
}

// finish records a final status and removes the job's uploads.
func (w *Worker) finish(ctx context.Context, job *queue.MergeJob, st store.Status) {
	if st.End == nil {
		end := w.now()
		st.End = &end
	}
	w.setStatus(ctx, job.JobID, st)
	if err := w.deps.Queue.MarkDone(ctx, job.JobID, w.cfg.DoneTTL); err != nil {
		log.Warn().Err(err).Str("job_id", job.JobID).Msg("mark done failed")
	}
	if job.UploadDir != "" {
		if err := os.RemoveAll(job.UploadDir); err != nil {
			log.Warn().Err(err).Str("dir", job.UploadDir).Msg("removing upload dir failed")
		}
	}
}

func (w *Worker) setStatus(ctx context.Context, jobID string, st store.Status) {
	if err := w.deps.Status.Set(ctx, jobID, st); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Str("status", st.Status).Msg("status update failed")
	}
}

func resultMetadata(res *weaver.MergeResult) map[string]interface{} {
	return map[string]interface{}{
		"output_path":       res.OutputPath,
		"pages":             res.Pages,
		"merge_status":      string(res.Status),
		"missing_paths":     res.MissingPaths,
		"unsupported_paths": res.UnsupportedPaths,
		"failed_paths":      res.FailedPaths,
	}
}
