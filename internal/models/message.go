package models

import "time"

type Message struct {
	ID            int64     `json:"id"`
	Content       string    `json:"content"`
	Username      string    `json:"username"`
	WalletAddress string    `json:"wallet_address"`
	Color         string    `json:"color"`
	CreatedAt     time.Time `json:"timestamp"`
}
