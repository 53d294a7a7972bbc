package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/domain"
)

// usdcDecimals is the token scale used when the indexer omits one.
const usdcDecimals = 6

// rpcCaller is the slice of *rpc.Client the adapter needs; tests substitute
// a fake.
type rpcCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// assetTransfersParams is the request body for an
// alchemy_getAssetTransfers-style indexer query.
type assetTransfersParams struct {
	FromBlock         string   `json:"fromBlock"`
	ToBlock           string   `json:"toBlock"`
	ToAddress         string   `json:"toAddress"`
	ContractAddresses []string `json:"contractAddresses"`
	Category          []string `json:"category"`
	WithMetadata      bool     `json:"withMetadata"`
	ExcludeZeroValue  bool     `json:"excludeZeroValue"`
	MaxCount          string   `json:"maxCount"`
	Order             string   `json:"order"`
}

// assetTransfersResult models the indexer response explicitly so nothing
// loosely-shaped crosses the adapter boundary.
type assetTransfersResult struct {
	Transfers []assetTransfer `json:"transfers"`
}

type assetTransfer struct {
	Hash        string           `json:"hash"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	Value       *float64         `json:"value"`
	BlockNum    string           `json:"blockNum"`
	RawContract rawContract      `json:"rawContract"`
	Metadata    transferMetadata `json:"metadata"`
}

type rawContract struct {
	Value   string `json:"value"`
	Address string `json:"address"`
	Decimal string `json:"decimal"`
}

type transferMetadata struct {
	BlockTimestamp string `json:"blockTimestamp"`
}

// PolygonAdapter queries an indexing API for ERC-20 transfers to a wallet,
// restricted to the USDC contract.
type PolygonAdapter struct {
	client   rpcCaller
	usdc     string
	maxCount uint64
}

func NewPolygonAdapter(rpcURL, usdcContract string) (*PolygonAdapter, error) {
	client, err := rpc.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial polygon rpc: %w", err)
	}
	if !common.IsHexAddress(usdcContract) {
		return nil, fmt.Errorf("invalid USDC contract address %q", usdcContract)
	}
	return &PolygonAdapter{client: client, usdc: usdcContract, maxCount: 100}, nil
}

func (a *PolygonAdapter) Network() domain.Network {
	return domain.NetworkPolygon
}

func (a *PolygonAdapter) FetchTransfers(ctx context.Context, walletAddress string, since time.Time) ([]domain.TransferCandidate, error) {
	if !common.IsHexAddress(walletAddress) {
		return nil, fmt.Errorf("invalid polygon wallet address %q", walletAddress)
	}

	params := assetTransfersParams{
		FromBlock:         "0x0",
		ToBlock:           "latest",
		ToAddress:         walletAddress,
		ContractAddresses: []string{a.usdc},
		Category:          []string{"erc20"},
		WithMetadata:      true,
		ExcludeZeroValue:  true,
		MaxCount:          hexutil.EncodeUint64(a.maxCount),
		Order:             "desc",
	}

	var result assetTransfersResult
	if err := a.client.CallContext(ctx, &result, "alchemy_getAssetTransfers", params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	candidates := make([]domain.TransferCandidate, 0, len(result.Transfers))
	for _, t := range result.Transfers {
		cand, err := a.normalize(t)
		if err != nil {
			// One malformed transfer must not abort the batch.
			log.Printf("polygon: skipping transfer %s: %v", t.Hash, err)
			continue
		}
		if !since.IsZero() && cand.Timestamp.Before(since) {
			continue
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

func (a *PolygonAdapter) normalize(t assetTransfer) (domain.TransferCandidate, error) {
	if t.Hash == "" {
		return domain.TransferCandidate{}, fmt.Errorf("missing transaction hash")
	}

	micro, err := microAmount(t)
	if err != nil {
		return domain.TransferCandidate{}, err
	}
	if micro <= 0 {
		return domain.TransferCandidate{}, fmt.Errorf("zero-value transfer")
	}

	ts, err := time.Parse(time.RFC3339, t.Metadata.BlockTimestamp)
	if err != nil {
		return domain.TransferCandidate{}, fmt.Errorf("bad block timestamp %q: %v", t.Metadata.BlockTimestamp, err)
	}

	var blockNum uint64
	if t.BlockNum != "" {
		if blockNum, err = hexutil.DecodeUint64(t.BlockNum); err != nil {
			return domain.TransferCandidate{}, fmt.Errorf("bad block number %q: %v", t.BlockNum, err)
		}
	}

	return domain.TransferCandidate{
		Hash:        t.Hash,
		AmountMicro: micro,
		From:        t.From,
		To:          t.To,
		Timestamp:   ts.UTC(),
		Network:     domain.NetworkPolygon,
		BlockRef:    blockNum,
	}, nil
}

// microAmount normalizes the raw integer amount by the token's decimal
// scale, falling back to the indexer's decimal-adjusted value.
func microAmount(t assetTransfer) (int64, error) {
	if t.RawContract.Value != "" {
		raw, err := hexutil.DecodeBig(t.RawContract.Value)
		if err != nil {
			return 0, fmt.Errorf("bad raw value %q: %v", t.RawContract.Value, err)
		}
		decimals := uint64(usdcDecimals)
		if t.RawContract.Decimal != "" {
			if decimals, err = hexutil.DecodeUint64(t.RawContract.Decimal); err != nil {
				return 0, fmt.Errorf("bad decimal %q: %v", t.RawContract.Decimal, err)
			}
		}
		micro := new(big.Int).Mul(raw, big.NewInt(domain.MicroPerUSDC))
		micro.Div(micro, new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(decimals), nil))
		if !micro.IsInt64() {
			return 0, fmt.Errorf("amount out of range")
		}
		return micro.Int64(), nil
	}
	if t.Value != nil {
		return domain.MicroFromUSDC(*t.Value), nil
	}
	return 0, fmt.Errorf("transfer carries no amount")
}
