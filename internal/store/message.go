package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"triage/internal/domain"
)

type MessageStore struct {
	db *pgxpool.Pool
}

func NewMessageStore(db *pgxpool.Pool) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Create(ctx context.Context, m *domain.Message) error {
	var embedding *pgvector.Vector
	if len(m.QueryVector) > 0 {
		v := pgvector.NewVector(m.QueryVector)
		embedding = &v
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO messages (session_id, role, content, extracted_symptoms, diagnostic_snapshot, query_embedding)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		m.SessionID, m.Role, m.Content, m.ExtractedSymptoms, m.Snapshot, embedding,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MessageStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, role, content, extracted_symptoms, diagnostic_snapshot, created_at
		 FROM messages WHERE session_id = $1
		 ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.ExtractedSymptoms, &m.Snapshot, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
