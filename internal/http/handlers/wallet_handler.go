package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tropichat/relay/internal/auth"
	"github.com/tropichat/relay/internal/http/dto"
	"github.com/tropichat/relay/internal/middleware"
	"go.uber.org/zap"
)

type WalletHandler struct {
	secret  string
	appName string
	ttl     time.Duration
	now     func() time.Time
	log     *zap.Logger
}

func NewWalletHandler(secret, appName string, ttl time.Duration, log *zap.Logger) *WalletHandler {
	return &WalletHandler{secret: secret, appName: appName, ttl: ttl, now: time.Now, log: log}
}

// Challenge issues the text a wallet has to sign before joining, with a token
// that binds it to the address.
// POST /auth/challenge
func (h *WalletHandler) Challenge(c *fiber.Ctx) error {
	var req dto.ChallengeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:     "invalid request body",
			RequestID: middleware.GetRequestID(c),
		})
	}

	address := strings.TrimSpace(req.WalletAddress)
	if address == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:     "walletAddress is required",
			RequestID: middleware.GetRequestID(c),
		})
	}

	ch, err := auth.NewChallenge(h.secret, h.appName, address, h.now(), h.ttl)
	if err != nil {
		h.log.Error("failed to issue challenge", zap.String("wallet", address), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error:     "internal error",
			RequestID: middleware.GetRequestID(c),
		})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.ChallengeResponse{
		Message:   ch.Message,
		Token:     ch.Token,
		ExpiresAt: ch.ExpiresAt,
	}})
}
