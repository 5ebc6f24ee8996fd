package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"intake-bot-backend/internal/models"
)

type dispatcherHarness struct {
	store      *memStore
	analyzer   *fakeAnalyzer
	messenger  *recordingMessenger
	dispatcher *Dispatcher
}

func newDispatcherHarness(t *testing.T, cfg DispatcherConfig) *dispatcherHarness {
	t.Helper()
	h := &dispatcherHarness{
		store:     newMemStore(),
		analyzer:  &fakeAnalyzer{},
		messenger: &recordingMessenger{},
	}
	h.dispatcher = NewDispatcher(cfg, h.store, h.analyzer, h.messenger, testTexts())
	h.dispatcher.retryDelay = 0
	h.store.putInfo(&models.UserInfo{
		ID:        "info-9",
		UserID:    9,
		PhotoURLs: []string{"face", "palm"},
		Feelings:  "anxious",
	})
	return h
}

func testJob() AnalysisJob {
	return AnalysisJob{ID: "job-1", UserID: 9, ChatID: 900, Language: "en", Transcript: "answers", SubmittedAt: time.Now()}
}

func TestDispatcherSuccess(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{})
	h.analyzer.reports = []*AnalysisReport{{
		Success:         true,
		FullAnswer:      "long text",
		BlockHypothesis: "fear of change",
		ShortSummary:    "short text",
	}}

	outcome := h.dispatcher.process(context.Background(), testJob())

	if outcome.Kind != EventAnalysisComplete || outcome.Err != nil {
		t.Fatalf("outcome = %+v, want analysis_complete", outcome)
	}
	info := h.store.latest(9)
	if info.SummaryText != "short text" || info.BlockHypothesis != "fear of change" || info.Description != "long text" {
		t.Errorf("info = %+v", info)
	}
	analysis, err := h.store.GetLatestAnalysis(context.Background(), 9)
	if err != nil {
		t.Fatalf("GetLatestAnalysis() error = %v", err)
	}
	if analysis.Status != models.AnalysisCompleted || analysis.ShortSummary != "short text" || analysis.UserInfoID != "info-9" {
		t.Errorf("analysis = %+v", analysis)
	}

	req := h.analyzer.requests[0]
	if req.Transcript != "answers" || req.Feelings != "anxious" || len(req.PhotoRefs) != 2 {
		t.Errorf("request = %+v", req)
	}
	if len(h.messenger.messages()) != 0 {
		t.Errorf("sent %v on success", h.messenger.texts())
	}
}

func TestDispatcherApplicationFailure(t *testing.T) {
	tests := []struct {
		code string
		want EventKind
	}{
		{AnalysisErrorFaceNotDetected, EventFaceNotDetected},
		{AnalysisErrorRefusal, EventAIAnalysisRefusal},
		{"quota_exceeded", EventAnalysisFailed},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			h := newDispatcherHarness(t, DispatcherConfig{SupportContact: "@support"})
			h.analyzer.reports = []*AnalysisReport{{Success: false, ErrorCode: tt.code, Error: "details"}}

			outcome := h.dispatcher.process(context.Background(), testJob())

			if outcome.Kind != tt.want || outcome.Err == nil {
				t.Errorf("outcome = %+v, want %s", outcome, tt.want)
			}
			if got := h.store.latest(9).AnalysisError; got != tt.code {
				t.Errorf("analysis_error = %q, want %q", got, tt.code)
			}
			last := h.messenger.last()
			if last.ChatID != 900 || !strings.Contains(last.Text, "@support") {
				t.Errorf("support message = %+v", last)
			}
		})
	}
}

func TestDispatcherWithoutPhotos(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{})
	job := testJob()
	job.UserID = 10
	h.store.putInfo(&models.UserInfo{ID: "info-10", UserID: 10})

	outcome := h.dispatcher.process(context.Background(), job)

	if outcome.Kind != EventAnalysisFailed || !errors.Is(outcome.Err, errNoPhotos) {
		t.Errorf("outcome = %+v, want analysis_failed without photos", outcome)
	}
	if h.analyzer.calls() != 0 {
		t.Errorf("analyzer called %d times, want 0", h.analyzer.calls())
	}
}

func TestDispatcherRetriesTransportErrors(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{MaxAttempts: 3})
	h.analyzer.errs = []error{errors.New("connection reset"), nil}
	h.analyzer.reports = []*AnalysisReport{{Success: true, ShortSummary: "ok"}}

	outcome := h.dispatcher.process(context.Background(), testJob())

	if outcome.Kind != EventAnalysisComplete {
		t.Errorf("outcome = %+v, want analysis_complete", outcome)
	}
	if got := h.analyzer.calls(); got != 2 {
		t.Errorf("analyzer calls = %d, want 2", got)
	}
}

func TestDispatcherTransportFailureExhausted(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{MaxAttempts: 2})
	h.analyzer.errs = []error{errors.New("timeout"), errors.New("timeout")}

	outcome := h.dispatcher.process(context.Background(), testJob())

	if outcome.Kind != EventAnalysisFailed || outcome.Err == nil {
		t.Errorf("outcome = %+v, want analysis_failed", outcome)
	}
	if got := h.analyzer.calls(); got != 2 {
		t.Errorf("analyzer calls = %d, want 2", got)
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{})
	h.analyzer.panicMsg = "boom"

	outcome := h.dispatcher.process(context.Background(), testJob())

	if outcome.Kind != EventAnalysisFailed || outcome.Err == nil {
		t.Errorf("outcome = %+v, want analysis_failed", outcome)
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{QueueSize: 1})

	if err := h.dispatcher.Dispatch(testJob()); err != nil {
		t.Fatalf("first Dispatch() error = %v", err)
	}
	if err := h.dispatcher.Dispatch(testJob()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second Dispatch() error = %v, want ErrQueueFull", err)
	}
}

func TestDispatcherRunPublishesOutcomes(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{Workers: 2, QueueSize: 4})
	h.analyzer.reports = []*AnalysisReport{{Success: true, ShortSummary: "ok"}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.dispatcher.Run(ctx)
	}()

	if err := h.dispatcher.Dispatch(testJob()); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	select {
	case outcome := <-h.dispatcher.Outcomes():
		if outcome.Kind != EventAnalysisComplete || outcome.Job.ID != "job-1" {
			t.Errorf("outcome = %+v", outcome)
		}
		event := outcome.Event()
		if event.SubjectUserID != 9 || event.ChatID != 900 || event.Data["job_id"] != "job-1" {
			t.Errorf("event = %+v", event)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no outcome published")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop")
	}
	if _, ok := <-h.dispatcher.Outcomes(); ok {
		t.Error("outcomes channel still open after Run returned")
	}
}
