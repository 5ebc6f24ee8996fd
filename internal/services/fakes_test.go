package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"intake-bot-backend/internal/i18n"
	"intake-bot-backend/internal/models"
)

// memStore is an in-memory Store
type memStore struct {
	mu       sync.Mutex
	users    map[int64]*models.User
	infos    map[int64][]*models.UserInfo
	analyses map[int64][]*models.Analysis
	failGet  error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[int64]*models.User),
		infos:    make(map[int64][]*models.UserInfo),
		analyses: make(map[int64][]*models.Analysis),
	}
}

func cloneInfo(info *models.UserInfo) *models.UserInfo {
	out := *info
	out.SurveyAnswers = copyAnswers(info.SurveyAnswers)
	out.PhotoURLs = append([]string(nil), info.PhotoURLs...)
	return &out
}

func (s *memStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	user, ok := s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *user
	return &out, nil
}

func (s *memStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *user
	s.users[user.ID] = &out
	return nil
}

func (s *memStore) UpdateUser(ctx context.Context, id int64, upd models.UserUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return models.ErrNotFound
	}
	if upd.PipelineState != nil {
		user.PipelineState = *upd.PipelineState
	}
	if upd.Language != nil {
		user.Language = *upd.Language
	}
	if upd.FunnelMilestone != nil && *upd.FunnelMilestone > user.FunnelMilestone {
		user.FunnelMilestone = *upd.FunnelMilestone
	}
	if upd.MiniAppTokenAt != nil {
		at := *upd.MiniAppTokenAt
		user.MiniAppTokenAt = &at
	}
	return nil
}

func (s *memStore) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.ReferralCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) GetLatestUserInfo(ctx context.Context, userID int64) (*models.UserInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := s.infos[userID]
	if len(infos) == 0 {
		return nil, models.ErrNotFound
	}
	return cloneInfo(infos[len(infos)-1]), nil
}

func (s *memStore) CreateUserInfo(ctx context.Context, info *models.UserInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos[info.UserID] = append(s.infos[info.UserID], cloneInfo(info))
	return nil
}

func (s *memStore) UpdateUserInfo(ctx context.Context, id string, upd models.UserInfoUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, infos := range s.infos {
		for _, info := range infos {
			if info.ID != id {
				continue
			}
			if upd.SurveyAnswers != nil {
				info.SurveyAnswers = copyAnswers(upd.SurveyAnswers)
			}
			if upd.SurveyProgress != nil {
				info.SurveyProgress = *upd.SurveyProgress
			}
			if upd.PhotoURLs != nil {
				info.PhotoURLs = append([]string(nil), upd.PhotoURLs...)
			}
			if upd.Feelings != nil {
				info.Feelings = *upd.Feelings
			}
			if upd.BlockHypothesis != nil {
				info.BlockHypothesis = *upd.BlockHypothesis
			}
			if upd.SummaryText != nil {
				info.SummaryText = *upd.SummaryText
			}
			if upd.Description != nil {
				info.Description = *upd.Description
			}
			if upd.AnalysisError != nil {
				info.AnalysisError = *upd.AnalysisError
			}
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *memStore) CreateAnalysisRecord(ctx context.Context, analysis *models.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *analysis
	s.analyses[analysis.UserID] = append(s.analyses[analysis.UserID], &out)
	return nil
}

func (s *memStore) CompleteAnalysisRecord(ctx context.Context, id string, result models.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, analyses := range s.analyses {
		for _, analysis := range analyses {
			if analysis.ID != id {
				continue
			}
			now := time.Now()
			analysis.Status = models.AnalysisCompleted
			analysis.FullAnswer = result.FullAnswer
			analysis.BlockHypothesis = result.BlockHypothesis
			analysis.ShortSummary = result.ShortSummary
			analysis.CompletedAt = &now
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *memStore) GetLatestAnalysis(ctx context.Context, userID int64) (*models.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	analyses := s.analyses[userID]
	if len(analyses) == 0 {
		return nil, models.ErrNotFound
	}
	out := *analyses[len(analyses)-1]
	return &out, nil
}

func (s *memStore) state(id int64) models.PipelineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[id]; ok {
		return user.PipelineState
	}
	return ""
}

func (s *memStore) milestone(id int64) models.FunnelMilestone {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[id]; ok {
		return user.FunnelMilestone
	}
	return models.FunnelStarted
}

func (s *memStore) latest(userID int64) *models.UserInfo {
	info, err := s.GetLatestUserInfo(context.Background(), userID)
	if err != nil {
		return nil
	}
	return info
}

func (s *memStore) putUser(user *models.User) {
	s.CreateUser(context.Background(), user)
}

func (s *memStore) putInfo(info *models.UserInfo) {
	if info.SurveyAnswers == nil {
		info.SurveyAnswers = map[int]models.SurveyAnswer{}
	}
	s.CreateUserInfo(context.Background(), info)
}

// recordingMessenger keeps every sent message
type recordingMessenger struct {
	mu     sync.Mutex
	sent   []OutgoingMessage
	nextID int
	err    error
}

func (m *recordingMessenger) Send(ctx context.Context, msg OutgoingMessage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.nextID++
	m.sent = append(m.sent, msg)
	return m.nextID, nil
}

func (m *recordingMessenger) Delete(ctx context.Context, chatID int64, messageID int) error {
	return nil
}

func (m *recordingMessenger) messages() []OutgoingMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutgoingMessage(nil), m.sent...)
}

func (m *recordingMessenger) last() OutgoingMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutgoingMessage{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *recordingMessenger) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// texts returns the message texts in order
func (m *recordingMessenger) texts() []string {
	var out []string
	for _, msg := range m.messages() {
		out = append(out, msg.Text)
	}
	return out
}

// fakeScorer returns fixed ratings
type fakeScorer struct {
	mu         sync.Mutex
	faceRating int
	setRating  int
	err        error
	faceCalls  []string
	setCalls   [][]string
}

func (s *fakeScorer) ScoreFacePhoto(ctx context.Context, photoRef string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faceCalls = append(s.faceCalls, photoRef)
	return s.faceRating, s.err
}

func (s *fakeScorer) ScorePhotoSet(ctx context.Context, photoRefs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls = append(s.setCalls, append([]string(nil), photoRefs...))
	return s.setRating, s.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (t *fakeTranscriber) TranscribeVoice(ctx context.Context, audio []byte, mimeType, language string) (string, error) {
	return t.text, t.err
}

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []AnalysisJob
	err  error
}

func (d *fakeDispatcher) Dispatch(job AnalysisJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

// manualScheduler runs delayed calls only when fired
type manualScheduler struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	s.pending = append(s.pending, t)
	return t
}

func (s *manualScheduler) armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// fire runs every armed call
func (s *manualScheduler) fire() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, t := range pending {
		if !t.stopped {
			t.stopped = true
			t.f()
		}
	}
}

// fakeAnalyzer returns queued reports and errors
type fakeAnalyzer struct {
	mu       sync.Mutex
	reports  []*AnalysisReport
	errs     []error
	requests []AnalysisRequest
	panicMsg string
}

func (a *fakeAnalyzer) RunFullAnalysis(ctx context.Context, req AnalysisRequest) (*AnalysisReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.panicMsg != "" {
		panic(a.panicMsg)
	}
	a.requests = append(a.requests, req)
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(a.reports) == 0 {
		return nil, errors.New("no report queued")
	}
	report := a.reports[0]
	a.reports = a.reports[1:]
	return report, nil
}

func (a *fakeAnalyzer) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func testTexts() *i18n.Localizer {
	return i18n.NewLocalizer("en")
}

func sortedKeys(answers map[int]models.SurveyAnswer) []int {
	keys := make([]int, 0, len(answers))
	for q := range answers {
		keys = append(keys, q)
	}
	sort.Ints(keys)
	return keys
}
