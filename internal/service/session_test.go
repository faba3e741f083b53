package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"triage/internal/domain"
	"triage/internal/lexicon"
	"triage/internal/llm"
	"triage/internal/store"
	"triage/internal/triage"
)

type mockSessionStore struct {
	sessions  map[uuid.UUID]*domain.ConversationSession
	creates   int
	updates   int
	createErr error
	updateErr error
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{sessions: make(map[uuid.UUID]*domain.ConversationSession)}
}

func cloneSession(s *domain.ConversationSession) *domain.ConversationSession {
	c := *s
	return &c
}

func (m *mockSessionStore) Create(ctx context.Context, s *domain.ConversationSession) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.sessions[s.ID] = cloneSession(s)
	m.creates++
	return nil
}

func (m *mockSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ConversationSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *mockSessionStore) Update(ctx context.Context, s *domain.ConversationSession) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.sessions[s.ID]; !ok {
		return store.ErrNotFound
	}
	m.sessions[s.ID] = cloneSession(s)
	m.updates++
	return nil
}

func (m *mockSessionStore) ListByCaller(ctx context.Context, callerID string, limit int) ([]domain.ConversationSession, error) {
	var out []domain.ConversationSession
	for _, s := range m.sessions {
		if s.CallerID == callerID {
			out = append(out, *s)
		}
	}
	return out, nil
}

type mockMessageStore struct {
	messages  []domain.Message
	createErr error
}

func (m *mockMessageStore) Create(ctx context.Context, msg *domain.Message) error {
	if m.createErr != nil {
		return m.createErr
	}
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *mockMessageStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.Message, error) {
	var out []domain.Message
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func newTestService(t *testing.T, client domain.CompletionClient) (*SessionService, *mockSessionStore, *mockMessageStore) {
	t.Helper()
	lex, err := lexicon.New([]lexicon.Condition{
		{Name: "migraine", Symptoms: []string{"headache", "nausea"}, Vectors: [][]float32{{1, 0}, {0.9, 0.1}}},
		{Name: "flu", Symptoms: []string{"fever", "cough"}, Vectors: [][]float32{{0, 1}, {0.1, 0.9}}},
	})
	if err != nil {
		t.Fatalf("build lexicon: %v", err)
	}

	sessions := newMockSessionStore()
	messages := &mockMessageStore{}
	svc := NewSessionService(sessions, messages, triage.NewEngine(lex), client, zap.NewNop(), Options{})
	return svc, sessions, messages
}

func TestTurn_CreatesSessionAndStreams(t *testing.T) {
	client := llm.NewMockClient()
	client.Fragments = []string{"How long ", "has this lasted?"}
	svc, sessions, messages := newTestService(t, client)

	var out bytes.Buffer
	result, err := svc.Turn(context.Background(), TurnRequest{
		Utterance: "I have a severe headache and mild fever",
		CallerID:  "caller-1",
	}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Created {
		t.Error("expected a new session")
	}

	stored := sessions.sessions[result.SessionID]
	if stored == nil {
		t.Fatal("session was not persisted")
	}
	if stored.QuestionBudget != 4 {
		t.Errorf("expected budget 4 after first turn, got %d", stored.QuestionBudget)
	}
	if len(stored.Utterances) != 1 || len(stored.Replies) != 1 {
		t.Errorf("expected one utterance and one reply, got %d/%d", len(stored.Utterances), len(stored.Replies))
	}
	if len(stored.Symptoms) != 2 || stored.Symptoms[0] != "severe headache" || stored.Symptoms[1] != "mild fever" {
		t.Errorf("unexpected accumulated symptoms: %v", stored.Symptoms)
	}

	if len(messages.messages) != 2 {
		t.Fatalf("expected user and assistant messages persisted, got %d", len(messages.messages))
	}
	if messages.messages[0].Role != domain.RoleUser || len(messages.messages[0].ExtractedSymptoms) != 2 {
		t.Errorf("user message missing extracted symptoms: %+v", messages.messages[0])
	}
	if messages.messages[1].Role != domain.RoleAssistant || messages.messages[1].Snapshot == nil {
		t.Errorf("assistant message missing snapshot: %+v", messages.messages[1])
	}

	text, sessionID, snapshot, err := Demux(out.String())
	if err != nil {
		t.Fatalf("demux: %v", err)
	}
	if text != "How long has this lasted?" {
		t.Errorf("unexpected reply text: %q", text)
	}
	if sessionID != result.SessionID.String() {
		t.Errorf("expected session id %s in stream, got %s", result.SessionID, sessionID)
	}
	if snapshot == nil {
		t.Fatal("expected snapshot in stream")
	}
	if snapshot.QuestionsLeft != 4 {
		t.Errorf("expected 4 questions left in snapshot, got %d", snapshot.QuestionsLeft)
	}
	if snapshot.DiseaseWeights["migraine"] <= 0 || snapshot.DiseaseWeights["flu"] <= 0 {
		t.Errorf("expected positive weights in snapshot, got %v", snapshot.DiseaseWeights)
	}
}

func TestTurn_EmptyUtterance(t *testing.T) {
	svc, sessions, _ := newTestService(t, llm.NewMockClient())

	var out bytes.Buffer
	_, err := svc.Turn(context.Background(), TurnRequest{Utterance: "   "}, &out)
	if !errors.Is(err, ErrEmptyUtterance) {
		t.Fatalf("expected ErrEmptyUtterance, got %v", err)
	}
	if sessions.creates != 0 || out.Len() != 0 {
		t.Error("expected no side effects on validation failure")
	}
}

func TestTurn_UnknownSession(t *testing.T) {
	svc, _, _ := newTestService(t, llm.NewMockClient())

	var out bytes.Buffer
	_, err := svc.Turn(context.Background(), TurnRequest{
		Utterance: "headache",
		SessionID: uuid.NewString(),
	}, &out)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestTurn_NoCompletionClient(t *testing.T) {
	svc, sessions, messages := newTestService(t, nil)

	var out bytes.Buffer
	_, err := svc.Turn(context.Background(), TurnRequest{Utterance: "headache"}, &out)
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}
	if sessions.creates != 0 || len(messages.messages) != 0 || out.Len() != 0 {
		t.Error("expected no side effects without a completion client")
	}
}

func TestTurn_EndedSessionConflict(t *testing.T) {
	svc, sessions, _ := newTestService(t, llm.NewMockClient())

	endedAt := time.Now().Add(-time.Hour)
	sess := &domain.ConversationSession{
		ID:             uuid.New(),
		Status:         domain.SessionEnded,
		Language:       "English",
		QuestionBudget: 3,
		Symptoms:       []string{"headache"},
		EndedAt:        &endedAt,
	}
	sessions.sessions[sess.ID] = sess

	var out bytes.Buffer
	_, err := svc.Turn(context.Background(), TurnRequest{
		Utterance: "fever",
		SessionID: sess.ID.String(),
	}, &out)
	if !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
	if sessions.updates != 0 || out.Len() != 0 {
		t.Error("expected ended session left untouched")
	}
	if got := sessions.sessions[sess.ID]; got.QuestionBudget != 3 || len(got.Symptoms) != 1 {
		t.Errorf("session fields changed: %+v", got)
	}
}

func TestTurn_BudgetFloorsAtZero(t *testing.T) {
	client := llm.NewMockClient()
	svc, sessions, _ := newTestService(t, client)

	var out bytes.Buffer
	result, err := svc.Turn(context.Background(), TurnRequest{Utterance: "headache"}, &out)
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	id := result.SessionID

	wantBudgets := []int{3, 2, 1, 0, 0}
	for i, want := range wantBudgets {
		out.Reset()
		res, err := svc.Turn(context.Background(), TurnRequest{
			Utterance: fmt.Sprintf("still have a headache (%d)", i),
			SessionID: id.String(),
		}, &out)
		if err != nil {
			t.Fatalf("turn %d: %v", i+2, err)
		}
		if res.Snapshot.QuestionsLeft != want {
			t.Errorf("turn %d: expected budget %d, got %d", i+2, want, res.Snapshot.QuestionsLeft)
		}
	}
	if sessions.sessions[id].QuestionBudget != 0 {
		t.Errorf("expected stored budget 0, got %d", sessions.sessions[id].QuestionBudget)
	}

	// The sixth turn composed with an exhausted budget: the backend is told
	// to stop asking questions.
	last := client.Requests[len(client.Requests)-1]
	if !strings.Contains(last[0].Content, "Ask no further questions") {
		t.Errorf("expected exhausted-budget instruction in system message:\n%s", last[0].Content)
	}
}

func TestTurn_BackendErrorPersistsNothing(t *testing.T) {
	client := llm.NewMockClient()
	client.Fragments = []string{"partial "}
	client.Err = errors.New("connection reset")
	svc, sessions, messages := newTestService(t, client)

	var out bytes.Buffer
	_, err := svc.Turn(context.Background(), TurnRequest{Utterance: "headache"}, &out)
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}

	// Partial output already flushed stays with the caller, but carries no
	// success sentinels and nothing is persisted.
	if got := out.String(); got != "partial " {
		t.Errorf("expected partial output preserved, got %q", got)
	}
	if strings.Contains(out.String(), "[[TRIAGE:") {
		t.Error("expected no sentinels after backend failure")
	}
	if sessions.creates != 0 || len(messages.messages) != 0 {
		t.Error("expected nothing persisted after backend failure")
	}
}

func TestTurn_PersistenceError(t *testing.T) {
	client := llm.NewMockClient()
	svc, sessions, messages := newTestService(t, client)
	sessions.createErr = errors.New("disk full")

	var out bytes.Buffer
	_, err := svc.Turn(context.Background(), TurnRequest{Utterance: "headache"}, &out)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if strings.Contains(out.String(), "[[TRIAGE:") {
		t.Error("expected no sentinels after persistence failure")
	}
	if len(messages.messages) != 0 {
		t.Error("expected no messages persisted")
	}
}

func TestTurn_SymptomUnionAcrossTurns(t *testing.T) {
	svc, sessions, _ := newTestService(t, llm.NewMockClient())

	var out bytes.Buffer
	result, err := svc.Turn(context.Background(), TurnRequest{Utterance: "headache and nausea"}, &out)
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}

	out.Reset()
	if _, err := svc.Turn(context.Background(), TurnRequest{
		Utterance: "headache again, now with fever",
		SessionID: result.SessionID.String(),
	}, &out); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	got := sessions.sessions[result.SessionID].Symptoms
	want := []string{"headache", "nausea", "fever"}
	if len(got) != len(want) {
		t.Fatalf("expected union %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("symptom %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestEnd_Idempotent(t *testing.T) {
	svc, sessions, _ := newTestService(t, llm.NewMockClient())

	sess := &domain.ConversationSession{
		ID:     uuid.New(),
		Status: domain.SessionActive,
	}
	sessions.sessions[sess.ID] = sess

	first, err := svc.End(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("first end: %v", err)
	}
	if first.Status != domain.SessionEnded || first.EndedAt == nil {
		t.Fatalf("expected ended session, got %+v", first)
	}

	second, err := svc.End(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("second end should succeed: %v", err)
	}
	if !second.EndedAt.Equal(*first.EndedAt) {
		t.Error("expected end timestamp unchanged on repeated end")
	}
	if sessions.updates != 1 {
		t.Errorf("expected a single update, got %d", sessions.updates)
	}
}

func TestEnd_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t, llm.NewMockClient())

	_, err := svc.End(context.Background(), uuid.New())
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionLocks_ReleasedWhenDone(t *testing.T) {
	svc, sessions, _ := newTestService(t, llm.NewMockClient())

	sess := &domain.ConversationSession{ID: uuid.New(), Status: domain.SessionActive, Language: "English", QuestionBudget: 3}
	sessions.sessions[sess.ID] = sess

	if _, err := svc.End(context.Background(), sess.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := lockCount(svc); n != 0 {
		t.Errorf("expected no lock entries after end, got %d", n)
	}

	var out bytes.Buffer
	_, err := svc.Turn(context.Background(), TurnRequest{
		Utterance: "fever",
		SessionID: uuid.NewString(),
	}, &out)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if n := lockCount(svc); n != 0 {
		t.Errorf("expected no lock entries after unknown session, got %d", n)
	}
}

func lockCount(svc *SessionService) int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return len(svc.locks)
}

func TestSetLanguage(t *testing.T) {
	svc, sessions, _ := newTestService(t, llm.NewMockClient())

	sess := &domain.ConversationSession{ID: uuid.New(), Status: domain.SessionActive, Language: "English"}
	sessions.sessions[sess.ID] = sess

	updated, err := svc.SetLanguage(context.Background(), sess.ID, "French")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Language != "French" {
		t.Errorf("expected French, got %s", updated.Language)
	}

	ended := &domain.ConversationSession{ID: uuid.New(), Status: domain.SessionEnded}
	sessions.sessions[ended.ID] = ended
	if _, err := svc.SetLanguage(context.Background(), ended.ID, "German"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
}
