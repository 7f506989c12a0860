package dto

import "time"

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type ChallengeResponse struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type OnlineUsersResponse struct {
	Count int `json:"count"`
	Users any `json:"users"`
}

type RecentMessagesResponse struct {
	Count    int `json:"count"`
	Messages any `json:"messages"`
}

type ProfileResponse struct {
	WalletAddress string    `json:"walletAddress"`
	Username      string    `json:"username"`
	WalletType    string    `json:"walletType,omitempty"`
	Color         string    `json:"color"`
	LastSeen      time.Time `json:"lastSeen"`
	CreatedAt     time.Time `json:"createdAt"`
}
