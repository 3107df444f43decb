package settlement

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/errs"
)

// TxVerifier checks that a transaction exists on chain and was sent to contract.
type TxVerifier interface {
	VerifyTx(ctx context.Context, hash, contract string) error
}

// TxLookup is the part of ethclient.Client the verifier uses.
type TxLookup interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

type ChainVerifier struct {
	client TxLookup
	closer func()
}

// DialChainVerifier connects to the JSON-RPC endpoint at rpcURL.
func DialChainVerifier(ctx context.Context, rpcURL string) (*ChainVerifier, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, eris.Wrap(err, "failed to dial chain rpc")
	}
	return &ChainVerifier{client: client, closer: client.Close}, nil
}

func NewChainVerifier(client TxLookup) *ChainVerifier {
	return &ChainVerifier{client: client}
}

func (v *ChainVerifier) VerifyTx(ctx context.Context, hash, contract string) error {
	tx, _, err := v.client.TransactionByHash(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return eris.Wrapf(errs.ErrValidationFailed, "transaction %s not found on chain", hash)
	}
	if err != nil {
		return eris.Wrap(err, "failed to look up transaction")
	}
	if tx.To() == nil || *tx.To() != common.HexToAddress(contract) {
		return eris.Wrapf(errs.ErrValidationFailed, "transaction %s was not sent to the escrow contract", hash)
	}
	return nil
}

func (v *ChainVerifier) Close() {
	if v.closer != nil {
		v.closer()
	}
}
