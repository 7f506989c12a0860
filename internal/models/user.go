package models

import (
	"strings"
	"time"
)

// UserProfile is the last-known identity of a wallet address.
type UserProfile struct {
	WalletAddress string    `json:"wallet_address"`
	Username      string    `json:"username"`
	WalletType    string    `json:"wallet_type"`
	Color         string    `json:"color"`
	LastSeen      time.Time `json:"last_seen"`
	CreatedAt     time.Time `json:"created_at"`
}

// ProfileFields are the display fields written on every join.
type ProfileFields struct {
	Username   string
	WalletType string
	Color      string
	SeenAt     time.Time
}

// JoinedUser is the identity bound to a connection after a successful join.
type JoinedUser struct {
	ConnID        string    `json:"-"`
	Username      string    `json:"username"`
	WalletAddress string    `json:"wallet_address"`
	WalletType    string    `json:"wallet_type"`
	Color         string    `json:"color"`
	JoinedAt      time.Time `json:"joined_at"`
}

// AddressKey returns the comparison key of the user's wallet address.
func (u JoinedUser) AddressKey() string {
	return NormalizeAddress(u.WalletAddress)
}

// NormalizeAddress returns the key used to compare and store wallet addresses.
// Hex (0x) addresses are case-insensitive; base58 addresses are not, so they are
// only trimmed.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if len(address) > 2 && (address[:2] == "0x" || address[:2] == "0X") {
		return "0x" + strings.ToLower(address[2:])
	}
	return address
}
