package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chatrelay/convoengine/internal/domain"
)

// ConversationStateStore implements store.ConversationStateStore.
type ConversationStateStore struct {
	db *sql.DB
}

func NewConversationStateStore(db *sql.DB) *ConversationStateStore {
	return &ConversationStateStore{db: db}
}

func (s *ConversationStateStore) Get(ctx context.Context, contactID string) (*domain.ConversationState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT current_topic, unresolved_questions, action_items, context_continuity, last_message_at
		 FROM conversation_states WHERE contact_id = $1`, contactID)

	var st domain.ConversationState
	st.ContactID = contactID
	var topic *string
	var unresolved, actionItems, continuity []byte

	err := row.Scan(&topic, &unresolved, &actionItems, &continuity, &st.LastMessageAt)
	if err == sql.ErrNoRows {
		return &domain.ConversationState{
			ContactID:           contactID,
			UnresolvedQuestions: []string{},
			ActionItems:         []string{},
			ContextContinuity:   map[string]string{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pg: scan conversation state: %w", err)
	}

	st.CurrentTopic = derefStr(topic)
	st.UnresolvedQuestions, st.ActionItems, st.ContextContinuity = []string{}, []string{}, map[string]string{}
	scanJSON(unresolved, &st.UnresolvedQuestions)
	scanJSON(actionItems, &st.ActionItems)
	scanJSON(continuity, &st.ContextContinuity)
	return &st, nil
}

func (s *ConversationStateStore) upsertEmpty(ctx context.Context, contactID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_states (contact_id, unresolved_questions, action_items, context_continuity, last_message_at)
		 VALUES ($1, '[]'::jsonb, '[]'::jsonb, '{}'::jsonb, $2)
		 ON CONFLICT (contact_id) DO NOTHING`, contactID, time.Now())
	return err
}

func (s *ConversationStateStore) SetTopic(ctx context.Context, contactID, topic string) error {
	if err := s.upsertEmpty(ctx, contactID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversation_states SET current_topic = $1, last_message_at = $2 WHERE contact_id = $3`,
		nilStr(topic), time.Now(), contactID)
	return err
}

func (s *ConversationStateStore) AddQuestion(ctx context.Context, contactID, question string) error {
	if err := s.upsertEmpty(ctx, contactID); err != nil {
		return err
	}
	st, err := s.Get(ctx, contactID)
	if err != nil {
		return err
	}
	st.UnresolvedQuestions = appendUnique(st.UnresolvedQuestions, question)
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversation_states SET unresolved_questions = $1, last_message_at = $2 WHERE contact_id = $3`,
		jsonOrEmpty(st.UnresolvedQuestions), time.Now(), contactID)
	return err
}

func (s *ConversationStateStore) ResolveQuestion(ctx context.Context, contactID, question string) error {
	st, err := s.Get(ctx, contactID)
	if err != nil {
		return err
	}
	st.UnresolvedQuestions = removeString(st.UnresolvedQuestions, question)
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversation_states SET unresolved_questions = $1, last_message_at = $2 WHERE contact_id = $3`,
		jsonOrEmpty(st.UnresolvedQuestions), time.Now(), contactID)
	return err
}

func (s *ConversationStateStore) AddActionItem(ctx context.Context, contactID, item string) error {
	if err := s.upsertEmpty(ctx, contactID); err != nil {
		return err
	}
	st, err := s.Get(ctx, contactID)
	if err != nil {
		return err
	}
	st.ActionItems = appendUnique(st.ActionItems, item)
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversation_states SET action_items = $1, last_message_at = $2 WHERE contact_id = $3`,
		jsonOrEmpty(st.ActionItems), time.Now(), contactID)
	return err
}

func (s *ConversationStateStore) MergeContextContinuity(ctx context.Context, contactID string, kv map[string]string) error {
	if err := s.upsertEmpty(ctx, contactID); err != nil {
		return err
	}
	st, err := s.Get(ctx, contactID)
	if err != nil {
		return err
	}
	if st.ContextContinuity == nil {
		st.ContextContinuity = map[string]string{}
	}
	for k, v := range kv {
		st.ContextContinuity[k] = v
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversation_states SET context_continuity = $1, last_message_at = $2 WHERE contact_id = $3`,
		jsonOrEmpty(st.ContextContinuity), time.Now(), contactID)
	return err
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, existing := range list {
		if existing != v {
			out = append(out, existing)
		}
	}
	return out
}
