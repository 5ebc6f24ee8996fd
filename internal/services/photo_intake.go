package services

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"intake-bot-backend/internal/i18n"

	"github.com/rs/zerolog/log"
)

// maxPalmPhotos is the number of palm photos that completes intake on its own
const maxPalmPhotos = 2

// PhotoStage is the sub-stage of photo collection
type PhotoStage string

const (
	StageWaitingFace  PhotoStage = "waiting_face"
	StageWaitingPalms PhotoStage = "waiting_palms"
	StageCompleted    PhotoStage = "completed"
)

// PhotoSession tracks photo collection for one user. It lives in memory only.
type PhotoSession struct {
	Photos     []string
	Stage      PhotoStage
	FacePhoto  string
	PalmPhotos []string
}

func (s *PhotoSession) clone() PhotoSession {
	return PhotoSession{
		Photos:     append([]string(nil), s.Photos...),
		Stage:      s.Stage,
		FacePhoto:  s.FacePhoto,
		PalmPhotos: append([]string(nil), s.PalmPhotos...),
	}
}

// IntakeListener receives the ordered photos [face, palms...] once intake completes.
// Both methods are called with the user lock held.
type IntakeListener interface {
	PhotosCollected(ctx context.Context, chat Chat, photoRefs []string) error
	// AcceptingPhotos reads the durable state and reports whether the user still collects photos
	AcceptingPhotos(ctx context.Context, userID int64) (bool, error)
}

type mediaGroup struct {
	photos    []string
	userID    int64
	chat      Chat
	arrivedAt time.Time
	timer     Timer
}

// PhotoIntake collects the face and palm photos of users and coalesces
// media group bursts into a single submission.
type PhotoIntake struct {
	mu       sync.Mutex
	sessions map[int64]*PhotoSession
	groups   map[string]*mediaGroup

	scorer    PhotoScorer
	messenger Messenger
	texts     *i18n.Localizer
	scheduler Scheduler
	locks     *UserLocks
	window    time.Duration
	listener  IntakeListener
}

// NewPhotoIntake creates a new photo intake manager
func NewPhotoIntake(
	scorer PhotoScorer,
	messenger Messenger,
	texts *i18n.Localizer,
	scheduler Scheduler,
	locks *UserLocks,
	window time.Duration,
) *PhotoIntake {
	return &PhotoIntake{
		sessions:  make(map[int64]*PhotoSession),
		groups:    make(map[string]*mediaGroup),
		scorer:    scorer,
		messenger: messenger,
		texts:     texts,
		scheduler: scheduler,
		locks:     locks,
		window:    window,
	}
}

// SetListener sets the receiver of completed intakes
func (p *PhotoIntake) SetListener(listener IntakeListener) {
	p.listener = listener
}

// StartSession replaces any session of the user with a fresh one
func (p *PhotoIntake) StartSession(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[userID] = &PhotoSession{Stage: StageWaitingFace}
}

// ClearSession removes the session of the user
func (p *PhotoIntake) ClearSession(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, userID)
}

// Session returns a copy of the user's session
func (p *PhotoIntake) Session(userID int64) (PhotoSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	session, ok := p.sessions[userID]
	if !ok {
		return PhotoSession{}, false
	}
	return session.clone(), true
}

// PendingGroups returns the number of media groups waiting for their flush
func (p *PhotoIntake) PendingGroups() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.groups)
}

func (p *PhotoIntake) session(userID int64) *PhotoSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	session, ok := p.sessions[userID]
	if !ok {
		session = &PhotoSession{Stage: StageWaitingFace}
		p.sessions[userID] = session
	}
	return session
}

func (p *PhotoIntake) stage(session *PhotoSession) PhotoStage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return session.Stage
}

// SubmitSinglePhoto handles a photo sent on its own. The caller holds the user lock.
func (p *PhotoIntake) SubmitSinglePhoto(ctx context.Context, chat Chat, photoRef string) error {
	session := p.session(chat.UserID)

	switch p.stage(session) {
	case StageWaitingFace:
		accepted, err := p.acceptFace(ctx, chat, session, photoRef)
		if err != nil || !accepted {
			return err
		}
		return p.promptPalms(ctx, chat)
	case StageWaitingPalms:
		count := p.appendPalms(session, photoRef)
		if count >= maxPalmPhotos {
			return p.complete(ctx, chat, session)
		}
		return p.promptSecondPalm(ctx, chat)
	default:
		return p.send(ctx, chat, p.texts.Text(chat.Language, i18n.PhotoAlreadyDone), nil)
	}
}

// SubmitGroupedPhotos buffers a photo that belongs to a media group. The first
// photo of a group arms the flush timer; later photos only refresh the reply chat.
func (p *PhotoIntake) SubmitGroupedPhotos(ctx context.Context, chat Chat, groupID string, photoRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	group, ok := p.groups[groupID]
	if !ok {
		group = &mediaGroup{
			userID:    chat.UserID,
			arrivedAt: time.Now(),
		}
		group.timer = p.scheduler.AfterFunc(p.window, func() {
			p.flushGroup(groupID)
		})
		p.groups[groupID] = group

		log.Debug().
			Int64("user_id", chat.UserID).
			Str("media_group_id", groupID).
			Dur("window", p.window).
			Msg("Media group buffered")
	}

	group.photos = append(group.photos, photoRef)
	group.chat = chat

	return nil
}

// flushGroup applies a buffered media group to the owner's session
func (p *PhotoIntake) flushGroup(groupID string) {
	p.mu.Lock()
	group, ok := p.groups[groupID]
	delete(p.groups, groupID)
	p.mu.Unlock()

	if !ok || len(group.photos) == 0 {
		return
	}

	unlock := p.locks.Lock(group.userID)
	defer unlock()

	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Int64("user_id", group.userID).
				Str("media_group_id", groupID).
				Msg("Media group flush panicked")
			p.send(ctx, group.chat, p.texts.Text(group.chat.Language, i18n.GenericError), nil)
		}
	}()

	log.Info().
		Int64("user_id", group.userID).
		Str("media_group_id", groupID).
		Int("photos", len(group.photos)).
		Dur("buffered_for", time.Since(group.arrivedAt)).
		Msg("Flushing media group")

	if p.listener != nil {
		accepting, err := p.listener.AcceptingPhotos(ctx, group.userID)
		if err != nil {
			log.Error().Err(err).Int64("user_id", group.userID).Str("media_group_id", groupID).Msg("Failed to load pipeline state")
			p.send(ctx, group.chat, p.texts.Text(group.chat.Language, i18n.GenericError), nil)
			return
		}
		if !accepting {
			log.Info().Int64("user_id", group.userID).Str("media_group_id", groupID).Msg("Media group arrived after photo collection, dropped")
			return
		}
	}

	if err := p.applyBurst(ctx, group.chat, group.photos); err != nil {
		log.Error().Err(err).Int64("user_id", group.userID).Str("media_group_id", groupID).Msg("Failed to apply media group")
	}
}

func (p *PhotoIntake) applyBurst(ctx context.Context, chat Chat, photos []string) error {
	if len(photos) > maxPalmPhotos {
		rating, err := p.scorer.ScorePhotoSet(ctx, photos)
		if err != nil {
			log.Error().Err(err).Int64("user_id", chat.UserID).Msg("Failed to score photo set")
			return p.send(ctx, chat, p.texts.Text(chat.Language, i18n.PhotoRetry), nil)
		}
		if rating < minPhotoRating {
			log.Info().Int64("user_id", chat.UserID).Int("rating", rating).Msg("Photo set rejected")
			return p.send(ctx, chat, p.texts.Text(chat.Language, i18n.PhotoSetRejected), nil)
		}
	}

	session := p.session(chat.UserID)

	switch p.stage(session) {
	case StageWaitingFace:
		accepted, err := p.acceptFace(ctx, chat, session, photos[0])
		if err != nil || !accepted {
			return err
		}
		if len(photos) == 1 {
			return p.promptPalms(ctx, chat)
		}
		p.appendPalms(session, photos[1:]...)
		return p.complete(ctx, chat, session)
	case StageWaitingPalms:
		if count := p.appendPalms(session, photos...); count >= maxPalmPhotos {
			return p.complete(ctx, chat, session)
		}
		return p.promptSecondPalm(ctx, chat)
	default:
		return p.send(ctx, chat, p.texts.Text(chat.Language, i18n.PhotoAlreadyDone), nil)
	}
}

// acceptFace validates photoRef and stores it as the face photo
func (p *PhotoIntake) acceptFace(ctx context.Context, chat Chat, session *PhotoSession, photoRef string) (bool, error) {
	rating, err := p.scorer.ScoreFacePhoto(ctx, photoRef)
	if err != nil {
		log.Error().Err(err).Int64("user_id", chat.UserID).Msg("Failed to score face photo")
		return false, p.send(ctx, chat, p.texts.Text(chat.Language, i18n.PhotoRetry), nil)
	}
	if rating < minPhotoRating {
		log.Info().Int64("user_id", chat.UserID).Int("rating", rating).Msg("Face photo rejected")
		return false, p.send(ctx, chat, p.texts.Text(chat.Language, i18n.PhotoFaceRejected), nil)
	}

	p.mu.Lock()
	session.FacePhoto = photoRef
	session.Photos = append(session.Photos, photoRef)
	session.Stage = StageWaitingPalms
	p.mu.Unlock()

	log.Info().Int64("user_id", chat.UserID).Int("rating", rating).Msg("Face photo accepted")
	return true, nil
}

// appendPalms adds palm photos up to the limit and returns the palm count
func (p *PhotoIntake) appendPalms(session *PhotoSession, photoRefs ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ref := range photoRefs {
		if len(session.PalmPhotos) >= maxPalmPhotos {
			log.Warn().Str("photo", ref).Msg("Extra palm photo dropped")
			continue
		}
		session.PalmPhotos = append(session.PalmPhotos, ref)
		session.Photos = append(session.Photos, ref)
	}
	return len(session.PalmPhotos)
}

// Finish completes intake with the photos collected so far
func (p *PhotoIntake) Finish(ctx context.Context, chat Chat) error {
	session := p.session(chat.UserID)

	switch p.stage(session) {
	case StageWaitingPalms:
		return p.complete(ctx, chat, session)
	case StageCompleted:
		return p.send(ctx, chat, p.texts.Text(chat.Language, i18n.PhotoAlreadyDone), nil)
	default:
		return p.send(ctx, chat, p.texts.Text(chat.Language, i18n.PhotoFacePrompt), nil)
	}
}

// RequestSecondPalm asks for one more palm photo
func (p *PhotoIntake) RequestSecondPalm(ctx context.Context, chat Chat) error {
	session := p.session(chat.UserID)
	if p.stage(session) != StageWaitingPalms {
		return p.Finish(ctx, chat)
	}
	return p.send(ctx, chat, p.texts.Text(chat.Language, i18n.PalmSendPrompt), nil)
}

// complete hands the collected photos to the listener. The stage only
// advances when the listener accepts them.
func (p *PhotoIntake) complete(ctx context.Context, chat Chat, session *PhotoSession) error {
	p.mu.Lock()
	photos := append([]string(nil), session.Photos...)
	p.mu.Unlock()

	if p.listener != nil {
		if err := p.listener.PhotosCollected(ctx, chat, photos); err != nil {
			log.Error().Err(err).Int64("user_id", chat.UserID).Msg("Failed to hand over collected photos")
			keyboard := [][]Button{row(
				Button{Text: p.texts.Text(chat.Language, i18n.ButtonFinishPhotos), Action: ActionFinishPhotos},
				Button{Text: p.texts.Text(chat.Language, i18n.ButtonRetryPhotos), Action: ActionRetryPhotos},
			)}
			return p.send(ctx, chat, p.texts.Text(chat.Language, i18n.PhotoRetry), keyboard)
		}
	}

	p.mu.Lock()
	session.Stage = StageCompleted
	p.mu.Unlock()

	log.Info().Int64("user_id", chat.UserID).Int("photos", len(photos)).Msg("Photo intake completed")
	return nil
}

func (p *PhotoIntake) promptPalms(ctx context.Context, chat Chat) error {
	keyboard := [][]Button{row(Button{Text: p.texts.Text(chat.Language, i18n.ButtonSkipPalms), Action: ActionSkipPalms})}
	return p.send(ctx, chat, p.texts.Text(chat.Language, i18n.PhotoFaceAccepted), keyboard)
}

func (p *PhotoIntake) promptSecondPalm(ctx context.Context, chat Chat) error {
	text := p.texts.Text(chat.Language, i18n.PhotoPalmAccepted) + "\n" + p.texts.Text(chat.Language, i18n.PalmSecondPrompt)
	keyboard := [][]Button{row(
		Button{Text: p.texts.Text(chat.Language, i18n.ButtonAddPalm), Action: ActionAddPalm},
		Button{Text: p.texts.Text(chat.Language, i18n.ButtonFinishPhotos), Action: ActionFinishPhotos},
	)}
	return p.send(ctx, chat, text, keyboard)
}

func (p *PhotoIntake) send(ctx context.Context, chat Chat, text string, keyboard [][]Button) error {
	_, err := p.messenger.Send(ctx, OutgoingMessage{
		ChatID:   chat.ChatID,
		Text:     text,
		Keyboard: keyboard,
		Mode:     SendNew,
	})
	return err
}
