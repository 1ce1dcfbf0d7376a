package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vatochito/gateway/internal/models"

	"github.com/jackc/pgx/v5"
)

const callColumns = `id, conversation_id, caller_id, call_type, state, started_at, ended_at, duration`

func scanCall(row pgx.Row) (models.Call, error) {
	var c models.Call
	err := row.Scan(&c.ID, &c.ConversationID, &c.CallerID, &c.Type, &c.State, &c.StartedAt, &c.EndedAt, &c.Duration)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, models.ErrNotFound
	}
	return c, err
}

// CreateCall inserts a call and its participants in one transaction and
// returns the call with its generated ID
func (s *Store) CreateCall(ctx context.Context, call models.Call, participants []models.CallParticipant) (models.Call, error) {
	var created models.Call
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		created, err = scanCall(tx.QueryRow(ctx, `
			INSERT INTO calls (conversation_id, caller_id, call_type, state, started_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+callColumns,
			call.ConversationID, call.CallerID, call.Type, call.State, call.StartedAt))
		if err != nil {
			return fmt.Errorf("failed to insert call: %w", err)
		}

		batch := &pgx.Batch{}
		for _, p := range participants {
			batch.Queue(`
				INSERT INTO call_participants (call_id, user_id, is_answered, joined_at, left_at)
				VALUES ($1, $2, $3, $4, $5)
			`, created.ID, p.UserID, p.IsAnswered, p.JoinedAt, p.LeftAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert call participants: %w", err)
		}
		return nil
	})
	return created, err
}

// GetCall loads a call by ID
func (s *Store) GetCall(ctx context.Context, id string) (models.Call, error) {
	return scanCall(s.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id))
}

// FinishCall moves a call into a terminal state, provided its stored state
// is still one of from. leaverID, when set, gets left_at stamped in the
// same transaction. A call that has moved on returns
// models.ErrInvalidTransition and nothing is written.
func (s *Store) FinishCall(ctx context.Context, call models.Call, leaverID string, from ...models.CallState) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE calls SET state = $2, ended_at = $3, duration = $4
			WHERE id = $1 AND state = ANY($5)
		`, call.ID, call.State, call.EndedAt, call.Duration, stateNames(from))
		if err != nil {
			return fmt.Errorf("failed to finish call: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrInvalidTransition
		}

		if leaverID == "" {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			UPDATE call_participants SET left_at = $3
			WHERE call_id = $1 AND user_id = $2 AND left_at IS NULL
		`, call.ID, leaverID, call.EndedAt); err != nil {
			return fmt.Errorf("failed to record participant leaving: %w", err)
		}
		return nil
	})
}

// AnswerCall marks the participant as answered and the call as active in
// one transaction. It returns models.ErrInvalidTransition when the call is
// no longer ringing or active, or the participant already answered.
func (s *Store) AnswerCall(ctx context.Context, callID, userID string, joinedAt time.Time) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE calls SET state = $2
			WHERE id = $1 AND state = ANY($3)
		`, callID, models.CallActive, stateNames(answerable))
		if err != nil {
			return fmt.Errorf("failed to activate call: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrInvalidTransition
		}

		tag, err = tx.Exec(ctx, `
			UPDATE call_participants SET is_answered = TRUE, joined_at = $3
			WHERE call_id = $1 AND user_id = $2 AND NOT is_answered
		`, callID, userID, joinedAt)
		if err != nil {
			return fmt.Errorf("failed to answer call: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrInvalidTransition
		}
		return nil
	})
}

var answerable = []models.CallState{models.CallInitiated, models.CallRinging, models.CallActive}

func stateNames(states []models.CallState) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = string(st)
	}
	return out
}

// GetParticipant loads one participant of a call
func (s *Store) GetParticipant(ctx context.Context, callID, userID string) (models.CallParticipant, error) {
	var p models.CallParticipant
	err := s.pool.QueryRow(ctx, `
		SELECT call_id, user_id, is_answered, joined_at, left_at
		FROM call_participants WHERE call_id = $1 AND user_id = $2
	`, callID, userID).Scan(&p.CallID, &p.UserID, &p.IsAnswered, &p.JoinedAt, &p.LeftAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, models.ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}
