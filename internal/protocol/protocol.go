// Package protocol defines the JSON frames exchanged over the chat websocket.
// Every frame is an envelope {"type": ..., "payload": ...}.
package protocol

import (
	"encoding/json"
	"time"
)

// Client -> server
const (
	TypeJoin        = "join"
	TypeChatMessage = "chat-message"
	TypeTyping      = "typing"
)

// Server -> client. TypeChatMessage is shared with the client direction.
const (
	TypeWelcome        = "welcome"
	TypeMessageHistory = "message-history"
	TypeUserJoined     = "user-joined"
	TypeUserLeft       = "user-left"
	TypeActiveUsers    = "active-users"
	TypeUserTyping     = "user-typing"
	TypeError          = "error"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeValidation     = "validation"
	CodeAuthentication = "authentication"
	CodeStorage        = "storage"
	CodeRateLimited    = "rate_limited"
	CodeBadRequest     = "bad_request"
)

// Envelope is an outbound frame.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Inbound is a frame whose payload is decoded once its type is known.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	Username       string `json:"username"`
	WalletAddress  string `json:"walletAddress"`
	WalletType     string `json:"walletType"`
	Color          string `json:"color"`
	Signature      string `json:"signature,omitempty"`
	Message        string `json:"message,omitempty"`
	Chain          string `json:"chain,omitempty"`
	ChallengeToken string `json:"challengeToken,omitempty"`
}

type ChatPayload struct {
	Content string `json:"content"`
}

type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

type UserInfo struct {
	Username      string `json:"username"`
	WalletAddress string `json:"walletAddress"`
	Color         string `json:"color"`
}

type WelcomePayload struct {
	User    UserInfo `json:"user"`
	Message string   `json:"message"`
}

type ChatMessage struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Username  string    `json:"username"`
	Color     string    `json:"color"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryPayload is replayed to a joiner only. History tells clients not to
// scroll or notify for each entry.
type HistoryPayload struct {
	Messages []ChatMessage `json:"messages"`
	History  bool          `json:"history"`
}

type UserJoinedPayload struct {
	Username  string    `json:"username"`
	Color     string    `json:"color"`
	Timestamp time.Time `json:"timestamp"`
}

type UserLeftPayload struct {
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

type UserSummary struct {
	Username string `json:"username"`
	Color    string `json:"color"`
}

type ActiveUsersPayload struct {
	Users []UserSummary `json:"users"`
}

type UserTypingPayload struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func Error(code, message string) Envelope {
	return Envelope{Type: TypeError, Payload: ErrorPayload{Message: message, Code: code}}
}

// Decode unmarshals the payload of an inbound frame into v.
func (in Inbound) Decode(v any) error {
	if len(in.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(in.Payload, v)
}

// DecodeTyping accepts both {"isTyping": true} and a bare boolean payload.
func (in Inbound) DecodeTyping() (bool, error) {
	var b bool
	if err := json.Unmarshal(in.Payload, &b); err == nil {
		return b, nil
	}
	var p TypingPayload
	if err := in.Decode(&p); err != nil {
		return false, err
	}
	return p.IsTyping, nil
}
