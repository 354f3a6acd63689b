package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mindjournal/internal/llm"
	"mindjournal/internal/syncstore"
)

type ConversationReply struct {
	UserTurn          ConversationTurn `json:"user_turn"`
	AssistantTurn     ConversationTurn `json:"assistant_turn"`
	Analysis          *llm.Analysis    `json:"analysis"`
	PersistedRemotely bool             `json:"persisted_remotely"`
}

// Converse answers message with the earlier turns as context and stores both
// sides of the exchange.
func (s *Service) Converse(ctx context.Context, userID, message string) (*ConversationReply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyText
	}

	earlier, err := s.Turns(ctx, userID, s.ConversationWindow, 0)
	if err != nil {
		return nil, err
	}
	history := make([]llm.Turn, 0, len(earlier))
	for i := len(earlier) - 1; i >= 0; i-- {
		history = append(history, llm.Turn{Role: earlier[i].Role, Content: earlier[i].Content})
	}

	userTurn := ConversationTurn{UserID: userID, CreatedAt: s.now().UTC(), Role: llm.RoleUser, Content: message}
	a := llm.Analyze(ctx, s.provider, s.logger, message, history)
	userTurn.PrimaryEmotion = a.PrimaryEmotion

	savedUser, remoteUser, err := s.saveTurn(ctx, userTurn)
	if err != nil {
		return nil, err
	}
	// The reply must sort after the message it answers.
	at := s.now().UTC()
	if !at.After(userTurn.CreatedAt) {
		at = userTurn.CreatedAt.Add(time.Millisecond)
	}
	assistantTurn := ConversationTurn{UserID: userID, CreatedAt: at, Role: llm.RoleAssistant, Content: a.Reply}
	savedAssistant, remoteAssistant, err := s.saveTurn(ctx, assistantTurn)
	if err != nil {
		return nil, err
	}

	return &ConversationReply{
		UserTurn:          savedUser,
		AssistantTurn:     savedAssistant,
		Analysis:          a,
		PersistedRemotely: remoteUser && remoteAssistant,
	}, nil
}

// Turns returns the user's conversation newest first.
func (s *Service) Turns(ctx context.Context, userID string, limit, offset int) ([]ConversationTurn, error) {
	recs, err := s.records.GetRecords(ctx, TableConversations, syncstore.Query{UserID: userID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	out := make([]ConversationTurn, 0, len(recs))
	for _, rec := range recs {
		var t ConversationTurn
		if err := fromRecord(rec, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Service) saveTurn(ctx context.Context, t ConversationTurn) (ConversationTurn, bool, error) {
	rec, err := toRecord(t)
	if err != nil {
		return t, false, err
	}
	res, err := s.records.CreateRecord(ctx, TableConversations, rec)
	if err != nil {
		return t, false, fmt.Errorf("saving conversation turn: %w", err)
	}
	var saved ConversationTurn
	if err := fromRecord(res.Record, &saved); err != nil {
		return t, false, err
	}
	return saved, res.PersistedRemotely, nil
}
