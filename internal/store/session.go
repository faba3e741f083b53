package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"triage/internal/domain"
)

type SessionStore struct {
	db *pgxpool.Pool
}

func NewSessionStore(db *pgxpool.Pool) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, sess *domain.ConversationSession) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO sessions (id, caller_id, status, language, question_budget, utterances, replies, symptoms, disease_weights, top_candidates, started_at, ended_at, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sess.ID, sess.CallerID, sess.Status, sess.Language, sess.QuestionBudget,
		sess.Utterances, sess.Replies, sess.Symptoms, sess.DiseaseWeights, sess.TopCandidates,
		sess.StartedAt, sess.EndedAt, sess.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ConversationSession, error) {
	sess := &domain.ConversationSession{}
	err := s.db.QueryRow(ctx,
		`SELECT id, caller_id, status, language, question_budget, utterances, replies, symptoms, disease_weights, top_candidates, started_at, ended_at, last_updated
		 FROM sessions WHERE id = $1`,
		id,
	).Scan(&sess.ID, &sess.CallerID, &sess.Status, &sess.Language, &sess.QuestionBudget,
		&sess.Utterances, &sess.Replies, &sess.Symptoms, &sess.DiseaseWeights, &sess.TopCandidates,
		&sess.StartedAt, &sess.EndedAt, &sess.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *SessionStore) Update(ctx context.Context, sess *domain.ConversationSession) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE sessions
		 SET status = $2, language = $3, question_budget = $4, utterances = $5, replies = $6,
		     symptoms = $7, disease_weights = $8, top_candidates = $9, ended_at = $10, last_updated = $11
		 WHERE id = $1`,
		sess.ID, sess.Status, sess.Language, sess.QuestionBudget, sess.Utterances, sess.Replies,
		sess.Symptoms, sess.DiseaseWeights, sess.TopCandidates, sess.EndedAt, sess.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SessionStore) ListByCaller(ctx context.Context, callerID string, limit int) ([]domain.ConversationSession, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, caller_id, status, language, question_budget, utterances, replies, symptoms, disease_weights, top_candidates, started_at, ended_at, last_updated
		 FROM sessions WHERE caller_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		callerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.ConversationSession
	for rows.Next() {
		var sess domain.ConversationSession
		if err := rows.Scan(&sess.ID, &sess.CallerID, &sess.Status, &sess.Language, &sess.QuestionBudget,
			&sess.Utterances, &sess.Replies, &sess.Symptoms, &sess.DiseaseWeights, &sess.TopCandidates,
			&sess.StartedAt, &sess.EndedAt, &sess.LastUpdated); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
