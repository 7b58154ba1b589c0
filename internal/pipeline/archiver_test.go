package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"pai-assistant-go/internal/model"
	"pai-assistant-go/pkg/events"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTurns struct {
	created []*model.ConversationTurn
	err     error
}

func (f *fakeTurns) Create(turn *model.ConversationTurn) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, turn)
	return nil
}

func (f *fakeTurns) FindRecentByUser(string, int) ([]model.ConversationTurn, error) {
	return nil, nil
}

type putCall struct {
	name        string
	data        []byte
	contentType string
}

type fakeObjects struct {
	puts []putCall
	err  error
}

func (f *fakeObjects) PutObject(_ context.Context, name string, data []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.puts = append(f.puts, putCall{name, data, contentType})
	return nil
}

func TestArchiveTurn(t *testing.T) {
	turns := &fakeTurns{}
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	err := NewArchiver(turns, nil).Process(context.Background(), events.ConversationEvent{
		Type:       events.TurnCompleted,
		UserID:     "u1",
		Tier:       "local",
		Intent:     model.IntentLocalLLM,
		Question:   &model.Message{ID: "q1", Role: model.RoleUser, Content: "Hello"},
		Answer:     &model.Message{ID: "a1", Role: model.RoleAssistant, Content: "Hi"},
		OccurredAt: at,
	})
	require.NoError(t, err)
	require.Len(t, turns.created, 1)
	assert.Equal(t, model.ConversationTurn{
		UserID: "u1", QuestionID: "q1", Question: "Hello", AnswerID: "a1", Answer: "Hi",
		Intent: model.IntentLocalLLM, Tier: "local", CompletedAt: at,
	}, *turns.created[0])
}

func TestArchiveTurnErrors(t *testing.T) {
	turns := &fakeTurns{err: errors.New("db down")}
	a := NewArchiver(turns, nil)

	err := a.Process(context.Background(), events.ConversationEvent{
		Type:     events.TurnCompleted,
		Question: &model.Message{ID: "q"},
		Answer:   &model.Message{ID: "a"},
	})
	assert.Error(t, err)

	// 残缺事件不重试
	assert.NoError(t, a.Process(context.Background(), events.ConversationEvent{Type: events.TurnCompleted}))
}

func TestArchiveTranscript(t *testing.T) {
	objects := &fakeObjects{}
	transcript := []model.Message{
		{ID: "1", Role: model.RoleUser, Content: "Hello", Timestamp: "09:00 AM"},
		{ID: "2", Role: model.RoleAssistant, Content: "Hi", Timestamp: "09:00 AM"},
	}
	event := events.ConversationEvent{
		Type:       events.ConversationCleared,
		UserID:     "u1",
		Transcript: transcript,
		OccurredAt: time.Unix(0, 42),
	}
	require.NoError(t, NewArchiver(nil, objects).Process(context.Background(), event))
	require.Len(t, objects.puts, 1)
	assert.Equal(t, "transcripts/u1/42.json", objects.puts[0].name)
	assert.Equal(t, "application/json", objects.puts[0].contentType)

	var got []model.Message
	require.NoError(t, json.Unmarshal(objects.puts[0].data, &got))
	assert.Equal(t, transcript, got)

	objects.err = errors.New("bucket gone")
	assert.Error(t, NewArchiver(nil, objects).Process(context.Background(), event))
}

func TestArchiverSkipsUnknownEvents(t *testing.T) {
	turns, objects := &fakeTurns{}, &fakeObjects{}
	a := NewArchiver(turns, objects)
	assert.NoError(t, a.Process(context.Background(), events.ConversationEvent{Type: "other"}))
	assert.NoError(t, a.Process(context.Background(), events.ConversationEvent{Type: events.ConversationCleared}))
	assert.Empty(t, turns.created)
	assert.Empty(t, objects.puts)
}
