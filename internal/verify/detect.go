package verify

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

type familyRule struct {
	name  string
	match func(walletType, address string) bool
	fam   ChainFamily
}

func walletTypeIs(labels ...string) func(string, string) bool {
	return func(walletType, _ string) bool {
		wt := strings.ToLower(strings.TrimSpace(walletType))
		for _, l := range labels {
			if strings.Contains(wt, l) {
				return true
			}
		}
		return false
	}
}

// familyRules is evaluated top to bottom; the first match wins. The address
// shape is checked first: a 0x hex address can never be base58, so only an
// ambiguous address falls through to the wallet label. Phantom, for one, signs
// for both Solana and EVM accounts.
var familyRules = []familyRule{
	{"hex-address", func(_, address string) bool { return common.IsHexAddress(address) }, FamilyEthereum},
	{"base58-address", func(_, address string) bool {
		b, err := base58.Decode(address)
		return err == nil && len(b) == 32
	}, FamilySolana},
	{"solana-wallet", walletTypeIs("phantom", "solflare", "backpack", "glow", "solana"), FamilySolana},
	{"ethereum-wallet", walletTypeIs("metamask", "coinbase", "brave", "trust", "rabby", "walletconnect", "ethereum"), FamilyEthereum},
}

// ParseFamily maps an explicit chain label to a family.
func ParseFamily(s string) ChainFamily {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ethereum", "eth", "evm":
		return FamilyEthereum
	case "solana", "sol":
		return FamilySolana
	}
	return FamilyUnknown
}

// DetectFamily picks the chain family for a join. An explicit chain label wins,
// then the address shape, then the wallet kind.
func DetectFamily(chain, walletType, address string) ChainFamily {
	f, _ := ExplainFamily(chain, walletType, address)
	return f
}

// ExplainFamily is DetectFamily plus the name of the rule that decided it.
func ExplainFamily(chain, walletType, address string) (ChainFamily, string) {
	if f := ParseFamily(chain); f != FamilyUnknown {
		return f, "explicit-chain"
	}
	address = strings.TrimSpace(address)
	for _, r := range familyRules {
		if r.match(walletType, address) {
			return r.fam, r.name
		}
	}
	return FamilyUnknown, "no-match"
}
