package settlement

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/errs"
)

//nolint:gochecknoglobals // compiled once
var (
	matchIDPattern  = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	txHashPattern   = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	contractPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	zeroAddress     = common.Address{}.Hex()
)

// NormalizeAddress returns the EIP-55 checksummed form of address.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", eris.Wrapf(errs.ErrValidationFailed, "invalid address %q", address)
	}
	return common.HexToAddress(address).Hex(), nil
}

// NormalizeMatchID returns matchID as 0x followed by 64 lowercase hex characters. The prefix is
// optional on input.
func NormalizeMatchID(matchID string) (string, error) {
	cleaned := strings.TrimPrefix(strings.TrimSpace(matchID), "0x")
	if cleaned == "" {
		return "", eris.Wrap(errs.ErrValidationFailed, "match id is required")
	}
	if !matchIDPattern.MatchString(cleaned) {
		return "", eris.Wrapf(errs.ErrValidationFailed, "invalid match id %q: must be 32 bytes hex", matchID)
	}
	return "0x" + strings.ToLower(cleaned), nil
}

// GenerateMatchID derives a match id from both players and the creation time.
func GenerateMatchID(playerA, playerB string, at time.Time) string {
	data := fmt.Sprintf("%s-%s-%d", playerA, playerB, at.UnixMilli())
	return crypto.Keccak256Hash([]byte(data)).Hex()
}

// IsValidContractAddress reports whether address is a configured, well-formed contract address.
func IsValidContractAddress(address string) bool {
	return contractPattern.MatchString(address) && !strings.EqualFold(address, zeroAddress)
}

func validTxHash(hash string) bool {
	return txHashPattern.MatchString(hash)
}
