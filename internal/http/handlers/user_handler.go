package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/tropichat/relay/internal/http/dto"
	"github.com/tropichat/relay/internal/middleware"
	"github.com/tropichat/relay/internal/models"
	"github.com/tropichat/relay/internal/protocol"
	"github.com/tropichat/relay/internal/repositories"
	"go.uber.org/zap"
)

// Room is the read side of the relay served over HTTP.
type Room interface {
	OnlineUsers() []protocol.UserSummary
	RecentMessages(ctx context.Context) ([]protocol.ChatMessage, error)
	Profile(ctx context.Context, walletAddress string) (*models.UserProfile, error)
}

type UserHandler struct {
	room Room
	log  *zap.Logger
}

func NewUserHandler(room Room, log *zap.Logger) *UserHandler {
	return &UserHandler{room: room, log: log}
}

// Online lists the users currently in the room.
// GET /users/online
func (h *UserHandler) Online(c *fiber.Ctx) error {
	users := h.room.OnlineUsers()
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.OnlineUsersResponse{
		Count: len(users),
		Users: users,
	}})
}

// Profile returns the last known identity of a wallet.
// GET /users/:address
func (h *UserHandler) Profile(c *fiber.Ctx) error {
	address := strings.TrimSpace(c.Params("address"))
	if address == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:     "address is required",
			RequestID: middleware.GetRequestID(c),
		})
	}

	p, err := h.room.Profile(c.UserContext(), address)
	if errors.Is(err, repositories.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error:     "user not found",
			RequestID: middleware.GetRequestID(c),
		})
	}
	if err != nil {
		h.log.Error("failed to load profile", zap.String("wallet", address), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error:     "storage unavailable",
			RequestID: middleware.GetRequestID(c),
		})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ProfileResponse{
		WalletAddress: p.WalletAddress,
		Username:      p.Username,
		WalletType:    p.WalletType,
		Color:         p.Color,
		LastSeen:      p.LastSeen,
		CreatedAt:     p.CreatedAt,
	}})
}
