package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"intake-bot-backend/internal/i18n"
	"intake-bot-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrQueueFull is returned by Dispatch when no more jobs can be queued
var ErrQueueFull = errors.New("analysis queue is full")

var errNoPhotos = errors.New("no photos to analyze")

const defaultRetryDelay = 2 * time.Second

// AnalysisJob is one queued full analysis
type AnalysisJob struct {
	ID          string
	UserID      int64
	ChatID      int64
	Language    string
	Transcript  string
	SubmittedAt time.Time
}

// AnalysisOutcome is published for every processed job
type AnalysisOutcome struct {
	Job  AnalysisJob
	Kind EventKind
	Err  error
}

// Event converts the outcome to a notification for the bridge
func (o AnalysisOutcome) Event() Event {
	return Event{
		Kind:          o.Kind,
		SubjectUserID: o.Job.UserID,
		ChatID:        o.Job.ChatID,
		Data:          map[string]any{"job_id": o.Job.ID},
	}
}

// DispatcherConfig holds the worker pool settings
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	SupportContact string
}

// Dispatcher runs full analyses in the background. Jobs go through a bounded
// queue; each processed job produces exactly one outcome.
type Dispatcher struct {
	cfg        DispatcherConfig
	store      Store
	analyzer   Analyzer
	messenger  Messenger
	texts      *i18n.Localizer
	queue      chan AnalysisJob
	outcomes   chan AnalysisOutcome
	retryDelay time.Duration
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(cfg DispatcherConfig, store Store, analyzer Analyzer, messenger Messenger, texts *i18n.Localizer) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Dispatcher{
		cfg:        cfg,
		store:      store,
		analyzer:   analyzer,
		messenger:  messenger,
		texts:      texts,
		queue:      make(chan AnalysisJob, cfg.QueueSize),
		outcomes:   make(chan AnalysisOutcome, cfg.QueueSize),
		retryDelay: defaultRetryDelay,
	}
}

// Dispatch queues a job without waiting for it to run
func (d *Dispatcher) Dispatch(job AnalysisJob) error {
	select {
	case d.queue <- job:
		log.Info().Int64("user_id", job.UserID).Str("job_id", job.ID).Msg("Analysis queued")
		return nil
	default:
		return ErrQueueFull
	}
}

// Outcomes returns the completion channel. It is closed when Run returns.
func (d *Dispatcher) Outcomes() <-chan AnalysisOutcome {
	return d.outcomes
}

// Run processes queued jobs until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.outcomes)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			d.work(ctx, worker)
			return nil
		})
	}

	log.Info().Int("workers", d.cfg.Workers).Int("queue_size", d.cfg.QueueSize).Msg("Analysis dispatcher started")
	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			outcome := d.process(ctx, job)
			log.Info().
				Int("worker", worker).
				Int64("user_id", job.UserID).
				Str("job_id", job.ID).
				Str("outcome", string(outcome.Kind)).
				Dur("latency", time.Since(job.SubmittedAt)).
				Msg("Analysis finished")

			select {
			case d.outcomes <- outcome:
			case <-ctx.Done():
				return
			}
		}
	}
}

// process runs one job. Errors and panics never leave it; they become a failed outcome.
func (d *Dispatcher) process(ctx context.Context, job AnalysisJob) (outcome AnalysisOutcome) {
	outcome = AnalysisOutcome{Job: job, Kind: EventAnalysisFailed}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Int64("user_id", job.UserID).
				Str("job_id", job.ID).
				Msg("Analysis panicked")
			outcome = AnalysisOutcome{Job: job, Kind: EventAnalysisFailed, Err: fmt.Errorf("analysis panicked: %v", r)}
		}
	}()

	info, err := d.store.GetLatestUserInfo(ctx, job.UserID)
	if err != nil {
		outcome.Err = fmt.Errorf("failed to load user info: %w", err)
		log.Error().Err(outcome.Err).Int64("user_id", job.UserID).Msg("Analysis aborted")
		return outcome
	}
	if len(info.PhotoURLs) == 0 {
		outcome.Err = errNoPhotos
		log.Error().Err(outcome.Err).Int64("user_id", job.UserID).Msg("Analysis aborted")
		return outcome
	}

	record := &models.Analysis{
		ID:         uuid.New().String(),
		UserID:     job.UserID,
		UserInfoID: info.ID,
		Status:     models.AnalysisPending,
		CreatedAt:  time.Now(),
	}
	if err := d.store.CreateAnalysisRecord(ctx, record); err != nil {
		outcome.Err = fmt.Errorf("failed to create analysis record: %w", err)
		log.Error().Err(outcome.Err).Int64("user_id", job.UserID).Msg("Analysis aborted")
		return outcome
	}

	report, err := d.runWithRetry(ctx, AnalysisRequest{
		UserID:        job.UserID,
		Language:      job.Language,
		PhotoRefs:     info.PhotoURLs,
		SurveyAnswers: info.SurveyAnswers,
		Feelings:      info.Feelings,
		Transcript:    job.Transcript,
	})
	if err != nil {
		outcome.Err = err
		log.Error().Err(err).Int64("user_id", job.UserID).Str("job_id", job.ID).Msg("Analysis transport failure")
		return outcome
	}

	if !report.Success {
		return d.applicationFailure(ctx, job, info, report)
	}

	if err := d.store.UpdateUserInfo(ctx, info.ID, models.UserInfoUpdate{
		BlockHypothesis: &report.BlockHypothesis,
		SummaryText:     &report.ShortSummary,
		Description:     &report.FullAnswer,
	}); err != nil {
		outcome.Err = fmt.Errorf("failed to store analysis result: %w", err)
		log.Error().Err(outcome.Err).Int64("user_id", job.UserID).Msg("Analysis result lost")
		return outcome
	}
	if err := d.store.CompleteAnalysisRecord(ctx, record.ID, models.AnalysisResult{
		FullAnswer:      report.FullAnswer,
		BlockHypothesis: report.BlockHypothesis,
		ShortSummary:    report.ShortSummary,
	}); err != nil {
		outcome.Err = fmt.Errorf("failed to complete analysis record: %w", err)
		log.Error().Err(outcome.Err).Int64("user_id", job.UserID).Msg("Analysis record not completed")
		return outcome
	}

	outcome.Kind = EventAnalysisComplete
	return outcome
}

// runWithRetry calls the analyzer, retrying transport errors up to MaxAttempts times
func (d *Dispatcher) runWithRetry(ctx context.Context, req AnalysisRequest) (*AnalysisReport, error) {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		report, err := d.analyzer.RunFullAnalysis(ctx, req)
		if err == nil {
			return report, nil
		}
		lastErr = err
		log.Warn().Err(err).Int64("user_id", req.UserID).Int("attempt", attempt).Msg("Analysis call failed")

		if attempt < d.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * d.retryDelay):
			}
		}
	}
	return nil, fmt.Errorf("analysis failed after %d attempts: %w", d.cfg.MaxAttempts, lastErr)
}

// applicationFailure flags the user info and points the user to support
func (d *Dispatcher) applicationFailure(ctx context.Context, job AnalysisJob, info *models.UserInfo, report *AnalysisReport) AnalysisOutcome {
	reason := report.ErrorCode
	if reason == "" {
		reason = report.Error
	}
	if reason == "" {
		reason = "unknown"
	}

	log.Warn().
		Int64("user_id", job.UserID).
		Str("error_code", report.ErrorCode).
		Str("error", report.Error).
		Msg("Analysis reported a failure")

	if err := d.store.UpdateUserInfo(ctx, info.ID, models.UserInfoUpdate{AnalysisError: &reason}); err != nil {
		log.Error().Err(err).Int64("user_id", job.UserID).Msg("Failed to flag analysis error")
	}

	if _, err := d.messenger.Send(ctx, OutgoingMessage{
		ChatID: job.ChatID,
		Text:   d.texts.Text(job.Language, i18n.AnalysisSupport, d.cfg.SupportContact),
	}); err != nil {
		log.Error().Err(err).Int64("user_id", job.UserID).Msg("Failed to send support message")
	}

	kind := EventAnalysisFailed
	switch report.ErrorCode {
	case AnalysisErrorFaceNotDetected:
		kind = EventFaceNotDetected
	case AnalysisErrorRefusal:
		kind = EventAIAnalysisRefusal
	}

	return AnalysisOutcome{Job: job, Kind: kind, Err: fmt.Errorf("analysis failed: %s", reason)}
}
