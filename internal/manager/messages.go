package manager

import (
	"context"
	"strings"

	"inferbridge/pkg/types"
)

// Messages returns the stored history of a conversation, oldest first.
func (m *Manager) Messages(ctx context.Context, conversationID string) (types.MessagesResponse, error) {
	if strings.TrimSpace(conversationID) == "" {
		return types.MessagesResponse{}, badRequestError{msg: "conversation id is required"}
	}
	out := types.MessagesResponse{ConversationID: conversationID, Messages: []types.StoredMessage{}}
	if m.store == nil {
		return out, nil
	}
	msgs, err := m.store.GetMessages(ctx, conversationID)
	if err != nil {
		return types.MessagesResponse{}, err
	}
	for _, sm := range msgs {
		out.Messages = append(out.Messages, types.StoredMessage{
			ID:             sm.ID,
			ConversationID: sm.ConversationID,
			Role:           string(sm.Role),
			Content:        sm.Content,
			CreatedAt:      sm.CreatedAt,
		})
	}
	return out, nil
}
