package dialogue

import (
	"context"
	"fmt"

	"github.com/dbincident/diagd/pkg/llmclient"
	"github.com/dbincident/diagd/pkg/store"
)

// RARDialogue is the retrieval-and-reasoning variant's conversational
// surface — a baseline comparison mode rather than a fully engineered
// flow, kept as an interface so a transport can depend on either
// dialogue flavor interchangeably.
type RARDialogue interface {
	StartConversation(ctx context.Context, userProblem string) (*Response, error)
	ContinueConversation(ctx context.Context, sessionID, userMessage string) (*Response, error)
}

// RARStub is a deliberately minimal RARDialogue: it hands the raw
// ticket corpus to llm_chat on every turn with no candidate graph, no
// hypothesis tracking, and no recommender. It exists to satisfy the
// interface, not to compete with the core dialogue manager.
type RARStub struct {
	knowledge *store.KnowledgeStore
	sessions  *store.SessionStore
	chat      llmclient.ChatModel
}

// NewRARStub constructs a RARStub.
func NewRARStub(knowledge *store.KnowledgeStore, sessions *store.SessionStore, chat llmclient.ChatModel) *RARStub {
	return &RARStub{knowledge: knowledge, sessions: sessions, chat: chat}
}

func (s *RARStub) StartConversation(ctx context.Context, userProblem string) (*Response, error) {
	session, err := s.sessions.Create(ctx, userProblem)
	if err != nil {
		return nil, fmt.Errorf("dialogue: rar start conversation: %w", err)
	}
	return s.ask(ctx, session, userProblem)
}

func (s *RARStub) ContinueConversation(ctx context.Context, sessionID, userMessage string) (*Response, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("dialogue: rar continue conversation: %w", err)
	}
	return s.ask(ctx, session, userMessage)
}

func (s *RARStub) ask(ctx context.Context, session *store.SessionState, message string) (*Response, error) {
	tickets, err := s.knowledge.ListTickets(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialogue: rar list tickets: %w", err)
	}

	var corpus string
	for _, t := range tickets {
		corpus += fmt.Sprintf("- %s: %s\n", t.TicketID, t.Description)
	}

	resp, err := s.chat.Chat(ctx, llmclient.ChatRequest{
		Messages: []llmclient.ChatMessage{
			{Role: llmclient.RoleSystem, Content: "You are troubleshooting a database incident using only the raw ticket corpus below, with no structured knowledge graph.\n\n" + corpus},
			{Role: llmclient.RoleUser, Content: message},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dialogue: rar chat: %w", err)
	}

	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("dialogue: rar save session: %w", err)
	}

	return &Response{SessionID: session.SessionID, Kind: KindRecommend, Message: resp.Text}, nil
}
