package server

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pong-arena/server/internal/store"
)

// HandleChatSend routes a direct message. Persistence is best effort;
// delivery to an offline receiver is silently skipped and the message
// waits in the store.
func (h *Hub) HandleChatSend(senderID, receiverID, content string) {
	if content == "" {
		h.sendError(senderID, &Reject{Kind: RejectValidation, Reason: "empty message"})
		return
	}

	sentAt := time.Now()
	msg := store.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		SentAt:     sentAt,
	}
	if err := h.store.SaveMessage(context.Background(), msg); err != nil {
		h.logger.Printf("failed to persist message from %s to %s: %v", senderID, receiverID, err)
	}

	h.registry.SendTo(receiverID, chatEnvelope("message", chatMessagePayload{
		SenderID: senderID,
		Content:  content,
		SentAt:   sentAt.UnixMilli(),
	}))
	h.registry.SendTo(senderID, chatEnvelope("delivered", chatDeliveredPayload{
		ReceiverID: receiverID,
		SentAt:     sentAt.UnixMilli(),
	}))
}

// HandleChatRead marks everything from senderID to readerID as read and
// tells the sender.
func (h *Hub) HandleChatRead(readerID, senderID string) {
	if err := h.store.MarkMessagesRead(context.Background(), senderID, readerID); err != nil {
		h.logger.Printf("failed to mark messages read from %s by %s: %v", senderID, readerID, err)
	}
	h.registry.SendTo(senderID, chatEnvelope("read", chatReadPayload{
		ReaderID: readerID,
	}))
}
