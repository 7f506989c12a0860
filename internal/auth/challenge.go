package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tropichat/relay/internal/models"
	"golang.org/x/crypto/sha3"
)

const challengeIssuer = "tropichat-relay"

var ErrChallengeMismatch = errors.New("challenge token does not match join request")

// Challenge is the text a wallet signs to prove address ownership, together with
// a token binding it to the address. Nothing is stored server side.
type Challenge struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ChallengeClaims struct {
	Address string `json:"addr"`
	Digest  string `json:"digest"`
	jwt.RegisteredClaims
}

// NewChallenge builds a challenge for address, valid for ttl (5 minutes if <= 0).
func NewChallenge(secret, appName, address string, now time.Time, ttl time.Duration) (*Challenge, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	nonce, err := rand.Int(rand.Reader, big.NewInt(1_000_000_000))
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	msg := fmt.Sprintf("%s Authentication\nWallet: %s\nTimestamp: %d\nNonce: %s\nAction: Chat Login",
		appName, address, now.UnixMilli(), nonce.String())

	claims := ChallengeClaims{
		Address: models.NormalizeAddress(address),
		Digest:  digest(msg),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    challengeIssuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("sign challenge token: %w", err)
	}

	return &Challenge{Message: msg, Token: token, ExpiresAt: now.Add(ttl)}, nil
}

func ParseChallengeToken(secret, tokenStr string) (*ChallengeClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ChallengeClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(challengeIssuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*ChallengeClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// VerifyChallenge checks that tokenStr was issued by us for this address and
// exactly this challenge text.
func VerifyChallenge(secret, tokenStr, address, message string) error {
	claims, err := ParseChallengeToken(secret, tokenStr)
	if err != nil {
		return err
	}
	if claims.Address != models.NormalizeAddress(address) || claims.Digest != digest(message) {
		return ErrChallengeMismatch
	}
	return nil
}

func digest(msg string) string {
	sum := sha3.Sum256([]byte(msg))
	return hex.EncodeToString(sum[:])
}
