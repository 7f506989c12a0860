package verify

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// checkSolana verifies a detached ed25519 signature over the raw challenge bytes.
// Phantom hands out hex signatures, most other wallets base58.
func checkSolana(claimed, challenge, signature string) error {
	pubKey, err := base58.Decode(claimed)
	if err != nil {
		return fmt.Errorf("invalid solana address: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size: %d", len(pubKey))
	}

	sig, err := decodeSolanaSignature(signature)
	if err != nil {
		return err
	}

	if !ed25519.Verify(ed25519.PublicKey(pubKey), []byte(challenge), sig) {
		return fmt.Errorf("%w: ed25519 verification failed", ErrAddressMismatch)
	}
	return nil
}

func decodeSolanaSignature(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil && len(b) == ed25519.SignatureSize {
		return b, nil
	}
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(b) != ed25519.SignatureSize {
		return nil, fmt.Errorf("invalid signature size: %d", len(b))
	}
	return b, nil
}
