// Package identity normalises the account identifiers callers present.
package identity

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sahil75416/crisisCapital/internal/domain"
)

// Normalize returns the canonical form of an account. Hex wallet addresses
// come back EIP-55 checksummed; other identifiers are trimmed and kept as
// given, since the ledger compares accounts case-insensitively.
func Normalize(account string) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return "", domain.Invalid("account must not be empty")
	}
	if strings.HasPrefix(account, "0x") || strings.HasPrefix(account, "0X") {
		if !common.IsHexAddress(account) {
			return "", domain.Invalid("malformed wallet address " + account)
		}
		return common.HexToAddress(account).Hex(), nil
	}
	if len(account) > 128 || strings.ContainsAny(account, " \t\r\n") {
		return "", domain.Invalid("malformed account identifier")
	}
	return account, nil
}

// IsWallet reports whether account is a hex wallet address.
func IsWallet(account string) bool {
	account = strings.TrimSpace(account)
	return (strings.HasPrefix(account, "0x") || strings.HasPrefix(account, "0X")) && common.IsHexAddress(account)
}
