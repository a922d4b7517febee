package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Custodian moves a tokenized asset between identities. TransferCustody
// returns only after the transfer is confirmed. An error usually means the
// asset did not move, but a transfer that was sent and not confirmed in time
// may still land, so callers settle doubt with OwnerOf.
type Custodian interface {
	TransferCustody(ctx context.Context, assetContract common.Address, assetID *big.Int, from, to common.Address) error
	OwnerOf(ctx context.Context, assetContract common.Address, assetID *big.Int) (common.Address, error)
}
