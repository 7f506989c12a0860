package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/tropichat/relay/internal/http/dto"
	"github.com/tropichat/relay/internal/middleware"
	"go.uber.org/zap"
)

type MessageHandler struct {
	room Room
	log  *zap.Logger
}

func NewMessageHandler(room Room, log *zap.Logger) *MessageHandler {
	return &MessageHandler{room: room, log: log}
}

// Recent returns the replay window, oldest first.
// GET /messages/recent
func (h *MessageHandler) Recent(c *fiber.Ctx) error {
	msgs, err := h.room.RecentMessages(c.UserContext())
	if err != nil {
		h.log.Error("failed to load recent messages", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error:     "storage unavailable",
			RequestID: middleware.GetRequestID(c),
		})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.RecentMessagesResponse{
		Count:    len(msgs),
		Messages: msgs,
	}})
}
