package dto

type ChallengeRequest struct {
	WalletAddress string `json:"walletAddress"`
}
