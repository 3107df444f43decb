package settlement

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/escrow"
)

const primaryType = "MatchResult"

// Domain is the EIP-712 domain name and version signatures are bound to. The chain id and
// verifying contract come from each match record.
type Domain struct {
	Name    string
	Version string
}

// outcome is the part of the signed message taken from a submission.
type outcome struct {
	winnerAddress string
	scoreA        uint64
	scoreB        uint64
}

func matchResultTypes() apitypes.Types {
	return apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		primaryType: {
			{Name: "matchId", Type: "bytes32"},
			{Name: "playerA", Type: "address"},
			{Name: "playerB", Type: "address"},
			{Name: "winner", Type: "address"},
			{Name: "scoreA", Type: "uint256"},
			{Name: "scoreB", Type: "uint256"},
			{Name: "serverNonce", Type: "uint256"},
		},
	}
}

// buildTypedData reconstructs the canonical message for m from stored fields. Only the outcome is
// taken from outside the record.
func buildTypedData(domain Domain, m escrow.Match, o outcome) (apitypes.TypedData, error) {
	playerA, err := NormalizeAddress(m.PlayerAAddress)
	if err != nil {
		return apitypes.TypedData{}, err
	}
	playerB, err := NormalizeAddress(m.PlayerBAddress)
	if err != nil {
		return apitypes.TypedData{}, err
	}
	contract, err := NormalizeAddress(m.ContractAddress)
	if err != nil {
		return apitypes.TypedData{}, err
	}
	winner := zeroAddress
	if o.winnerAddress != "" {
		if winner, err = NormalizeAddress(o.winnerAddress); err != nil {
			return apitypes.TypedData{}, err
		}
	}
	return apitypes.TypedData{
		Types:       matchResultTypes(),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           math.NewHexOrDecimal256(m.ChainID),
			VerifyingContract: contract,
		},
		Message: apitypes.TypedDataMessage{
			"matchId":     m.MatchID,
			"playerA":     playerA,
			"playerB":     playerB,
			"winner":      winner,
			"scoreA":      strconv.FormatUint(o.scoreA, 10),
			"scoreB":      strconv.FormatUint(o.scoreB, 10),
			"serverNonce": strconv.FormatUint(m.ServerNonce, 10),
		},
	}, nil
}

// hashTypedData returns the EIP-712 digest that wallets sign.
func hashTypedData(td apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, eris.Wrap(err, "failed to hash typed data")
	}
	return digest, nil
}

// recoverSigner returns the address that produced sig over digest. The recovery id may be 0/1 or
// 27/28.
func recoverSigner(digest []byte, sig string) (common.Address, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil {
		return common.Address{}, eris.Wrapf(errs.ErrSignatureInvalid, "malformed signature: %v", err)
	}
	if len(raw) != crypto.SignatureLength {
		return common.Address{}, eris.Wrapf(errs.ErrSignatureInvalid, "signature must be %d bytes, got %d",
			crypto.SignatureLength, len(raw))
	}
	if raw[crypto.RecoveryIDOffset] >= 27 {
		raw[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, eris.Wrapf(errs.ErrSignatureInvalid, "failed to recover signer: %v", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// verifySignature checks that sig over digest was produced by expected.
func verifySignature(digest []byte, sig, expected, who string) error {
	signer, err := recoverSigner(digest, sig)
	if err != nil {
		return eris.Wrapf(err, "signature from %s", who)
	}
	if signer != common.HexToAddress(expected) {
		return eris.Wrapf(errs.ErrSignatureInvalid, "signature from %s was made by %s", who, signer.Hex())
	}
	return nil
}
