// Package verify checks that a wallet signature over a challenge was produced by
// the claimed address.
package verify

import (
	"errors"
	"fmt"
	"strings"
)

// ChainFamily is the signature scheme class of a wallet.
type ChainFamily string

const (
	FamilyUnknown  ChainFamily = ""
	FamilyEthereum ChainFamily = "ethereum"
	FamilySolana   ChainFamily = "solana"
)

var (
	ErrMissingInput      = errors.New("missing address, challenge or signature")
	ErrUnsupportedFamily = errors.New("unsupported chain family")
	ErrAddressMismatch   = errors.New("signature does not match claimed address")
)

// Verifier is stateless and safe for concurrent use.
type Verifier struct{}

func New() *Verifier {
	return &Verifier{}
}

// Verify reports whether signature proves control of claimedAddress.
func (v *Verifier) Verify(family ChainFamily, claimedAddress, challenge, signature string) bool {
	return v.Check(family, claimedAddress, challenge, signature) == nil
}

// Check is Verify with the rejection reason. It never panics on malformed input.
func (v *Verifier) Check(family ChainFamily, claimedAddress, challenge, signature string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed signature input: %v", r)
		}
	}()

	claimedAddress = strings.TrimSpace(claimedAddress)
	signature = strings.TrimSpace(signature)
	if claimedAddress == "" || challenge == "" || signature == "" {
		return ErrMissingInput
	}

	switch family {
	case FamilyEthereum:
		return checkEthereum(claimedAddress, challenge, signature)
	case FamilySolana:
		return checkSolana(claimedAddress, challenge, signature)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFamily, family)
	}
}
