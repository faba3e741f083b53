package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"triage/internal/domain"
	"triage/internal/prompt"
	"triage/internal/store"
	"triage/internal/triage"
)

var (
	ErrEmptyUtterance  = errors.New("utterance is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session has ended")
	ErrBackend         = errors.New("completion backend failed")
	ErrPersistence     = errors.New("persistence failed")
)

// Options tune per-session defaults; zero values fall back to the
// constants below.
type Options struct {
	QuestionBudget  int
	DefaultLanguage string
	ReplyMaxTokens  int
}

const (
	defaultQuestionBudget = 5
	defaultLanguage       = "English"
	defaultReplyMaxTokens = 150
)

type SessionService struct {
	sessions domain.SessionStore
	messages domain.MessageStore
	engine   *triage.Engine
	llm      domain.CompletionClient
	logger   *zap.Logger
	opts     Options

	// Per-session mutual exclusion: at most one in-flight turn per session,
	// so the symptom union, weight replacement, and budget decrement never
	// race.
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewSessionService(sessions domain.SessionStore, messages domain.MessageStore, engine *triage.Engine, llm domain.CompletionClient, logger *zap.Logger, opts Options) *SessionService {
	if opts.QuestionBudget <= 0 {
		opts.QuestionBudget = defaultQuestionBudget
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = defaultLanguage
	}
	if opts.ReplyMaxTokens <= 0 {
		opts.ReplyMaxTokens = defaultReplyMaxTokens
	}
	return &SessionService{
		sessions: sessions,
		messages: messages,
		engine:   engine,
		llm:      llm,
		logger:   logger,
		opts:     opts,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

type TurnRequest struct {
	Utterance string
	SessionID string
	CallerID  string
	Language  string
}

type TurnResult struct {
	SessionID uuid.UUID
	Created   bool
	Mentions  []domain.SymptomMention
	Snapshot  domain.DiagnosticSnapshot
	Reply     string
}

// Turn runs one triage exchange: extract symptoms, weigh conditions,
// compose the instruction, stream the backend reply to out, then commit the
// session mutation and append the sentinel payloads. The reply text already
// flushed to out is never retracted; on backend failure the stream simply
// ends without sentinels and nothing is persisted.
func (s *SessionService) Turn(ctx context.Context, req TurnRequest, out io.Writer) (*TurnResult, error) {
	if strings.TrimSpace(req.Utterance) == "" {
		return nil, ErrEmptyUtterance
	}
	// The client may be nil when startup could not build a provider; the
	// server still serves reads, but a turn needs the backend.
	if s.llm == nil {
		return nil, fmt.Errorf("%w: no completion client configured", ErrBackend)
	}

	created := req.SessionID == ""
	var id uuid.UUID
	if created {
		id = uuid.New()
	} else {
		var err error
		id, err = uuid.Parse(req.SessionID)
		if err != nil {
			return nil, ErrSessionNotFound
		}
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	var sess *domain.ConversationSession
	if created {
		now := time.Now().UTC()
		sess = &domain.ConversationSession{
			ID:             id,
			CallerID:       req.CallerID,
			Status:         domain.SessionActive,
			Language:       s.opts.DefaultLanguage,
			QuestionBudget: s.opts.QuestionBudget,
			StartedAt:      now,
			LastUpdated:    now,
		}
	} else {
		var err error
		sess, err = s.sessions.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.forget(id)
				return nil, ErrSessionNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if sess.Ended() {
			s.forget(id)
			return nil, ErrSessionEnded
		}
	}
	if req.Language != "" {
		sess.Language = req.Language
	}

	// Bounded CPU-only pipeline; never fails on unmatched text.
	mentions := s.engine.Extract(req.Utterance)
	query := s.engine.Vectorize(req.Utterance)
	weights := s.engine.Weigh(query)
	candidates := s.engine.Rank(weights)
	relevant := s.engine.RelevantSymptoms(candidates)

	system := prompt.Compose(prompt.State{
		TopCandidates:    candidates,
		RelevantSymptoms: relevant,
		QuestionsLeft:    sess.QuestionBudget,
		Language:         sess.Language,
	})

	fragments, err := s.llm.StreamCompletion(ctx, buildMessages(system, sess, req.Utterance), s.opts.ReplyMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	reply, err := relay(ctx, fragments, out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	// Commit the turn.
	sanitizeWeights(weights)
	now := time.Now().UTC()
	sess.Utterances = append(sess.Utterances, req.Utterance)
	sess.Replies = append(sess.Replies, reply)
	sess.AddSymptoms(mentions)
	sess.DiseaseWeights = weights
	sess.TopCandidates = candidates
	if sess.QuestionBudget > 0 {
		sess.QuestionBudget--
	}
	sess.LastUpdated = now

	snapshot := domain.DiagnosticSnapshot{
		TopCandidates:  candidates,
		DiseaseWeights: weights,
		QuestionsLeft:  sess.QuestionBudget,
	}

	if err := s.commit(ctx, sess, created, req.Utterance, reply, query, mentions, snapshot); err != nil {
		// The reply already reached the caller; the durable record diverges.
		s.logger.Error("turn persisted nothing after streamed reply, possible data loss",
			zap.String("session_id", sess.ID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if err := writeSentinel(out, SentinelSessionID, sess.ID.String()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if err := writeSentinel(out, SentinelSnapshot, snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	return &TurnResult{
		SessionID: sess.ID,
		Created:   created,
		Mentions:  mentions,
		Snapshot:  snapshot,
		Reply:     reply,
	}, nil
}

func (s *SessionService) commit(ctx context.Context, sess *domain.ConversationSession, created bool, utterance, reply string, query []float32, mentions []domain.SymptomMention, snapshot domain.DiagnosticSnapshot) error {
	if created {
		if err := s.sessions.Create(ctx, sess); err != nil {
			return err
		}
	} else {
		if err := s.sessions.Update(ctx, sess); err != nil {
			return err
		}
	}

	extracted := make([]string, len(mentions))
	for i, m := range mentions {
		extracted[i] = m.String()
	}
	userMsg := &domain.Message{
		SessionID:         sess.ID,
		Role:              domain.RoleUser,
		Content:           utterance,
		ExtractedSymptoms: extracted,
		QueryVector:       query,
	}
	if err := s.messages.Create(ctx, userMsg); err != nil {
		return err
	}

	assistantMsg := &domain.Message{
		SessionID: sess.ID,
		Role:      domain.RoleAssistant,
		Content:   reply,
		Snapshot:  &snapshot,
	}
	return s.messages.Create(ctx, assistantMsg)
}

// End terminates a session. Ending an already-ended session is idempotent:
// it succeeds and leaves the recorded end timestamp untouched, so client
// retries are safe.
func (s *SessionService) End(ctx context.Context, id uuid.UUID) (*domain.ConversationSession, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.forget(id)
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if sess.Ended() {
		s.forget(id)
		return sess, nil
	}

	now := time.Now().UTC()
	sess.Status = domain.SessionEnded
	sess.EndedAt = &now
	sess.LastUpdated = now

	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.forget(id)
	return sess, nil
}

func (s *SessionService) Get(ctx context.Context, id uuid.UUID) (*domain.ConversationSession, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return sess, nil
}

func (s *SessionService) ListByCaller(ctx context.Context, callerID string, limit int) ([]domain.ConversationSession, error) {
	sessions, err := s.sessions.ListByCaller(ctx, callerID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return sessions, nil
}

// SetLanguage updates the language preference of an active session.
func (s *SessionService) SetLanguage(ctx context.Context, id uuid.UUID, language string) (*domain.ConversationSession, error) {
	if strings.TrimSpace(language) == "" {
		return nil, errors.New("language is required")
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.forget(id)
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if sess.Ended() {
		s.forget(id)
		return nil, ErrSessionEnded
	}

	sess.Language = language
	sess.LastUpdated = time.Now().UTC()
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return sess, nil
}

func (s *SessionService) lockFor(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// forget drops the lock entry for a session no writer can mutate anymore
// (ended, or an id the store does not know). Safe even with a waiter
// still queued on the old mutex: once the session is ended or absent,
// every code path only reads it.
func (s *SessionService) forget(id uuid.UUID) {
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
}

// buildMessages assembles the ordered backend message list: system
// instruction, prior turns, then the current utterance.
func buildMessages(system string, sess *domain.ConversationSession, utterance string) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, 0, len(sess.Utterances)+len(sess.Replies)+2)
	msgs = append(msgs, domain.ChatMessage{Role: "system", Content: system})
	for i, u := range sess.Utterances {
		msgs = append(msgs, domain.ChatMessage{Role: "user", Content: u})
		if i < len(sess.Replies) {
			msgs = append(msgs, domain.ChatMessage{Role: "assistant", Content: sess.Replies[i]})
		}
	}
	return append(msgs, domain.ChatMessage{Role: "user", Content: utterance})
}

// sanitizeWeights zeroes NaN and infinite entries before they reach the
// snapshot or the store.
func sanitizeWeights(weights map[string]float64) {
	for k, v := range weights {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			weights[k] = 0
		}
	}
}
