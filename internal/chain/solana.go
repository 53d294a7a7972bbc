package chain

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/domain"
)

// solanaRPC is the slice of *rpc.Client the adapter needs; tests substitute
// a fake.
type solanaRPC interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// SolanaAdapter lists recent signatures for a wallet, then fetches each
// remaining transaction and extracts USDC transfers of the configured mint.
type SolanaAdapter struct {
	client         solanaRPC
	mint           solana.PublicKey
	signatureLimit int
	detailWorkers  int
}

func NewSolanaAdapter(rpcURL, usdcMint string, signatureLimit, detailWorkers int) (*SolanaAdapter, error) {
	mint, err := solana.PublicKeyFromBase58(usdcMint)
	if err != nil {
		return nil, fmt.Errorf("invalid USDC mint %q: %w", usdcMint, err)
	}
	if signatureLimit <= 0 {
		signatureLimit = 100
	}
	if detailWorkers <= 0 {
		detailWorkers = 8
	}
	return &SolanaAdapter{
		client:         rpc.New(rpcURL),
		mint:           mint,
		signatureLimit: signatureLimit,
		detailWorkers:  detailWorkers,
	}, nil
}

func (a *SolanaAdapter) Network() domain.Network {
	return domain.NetworkSolana
}

func (a *SolanaAdapter) FetchTransfers(ctx context.Context, walletAddress string, since time.Time) ([]domain.TransferCandidate, error) {
	wallet, err := solana.PublicKeyFromBase58(walletAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid solana wallet address %q: %w", walletAddress, err)
	}

	limit := a.signatureLimit
	signatures, err := a.client.GetSignaturesForAddressWithOpts(ctx, wallet, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	// Cheap prefilter before the expensive per-transaction fetches: drop
	// failed transactions and anything older than the window.
	recent := make([]*rpc.TransactionSignature, 0, len(signatures))
	for _, sig := range signatures {
		if sig.Err != nil {
			continue
		}
		if sig.BlockTime == nil || *sig.BlockTime == 0 {
			continue
		}
		if blockTime(sig.BlockTime).Before(since) {
			continue
		}
		recent = append(recent, sig)
	}

	// Bounded fan-out for detail fetches; one bad transaction never aborts
	// the batch.
	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		sem        = make(chan struct{}, a.detailWorkers)
		candidates []domain.TransferCandidate
	)
	for _, sig := range recent {
		wg.Add(1)
		sem <- struct{}{}
		go func(sig *rpc.TransactionSignature) {
			defer wg.Done()
			defer func() { <-sem }()

			cand, err := a.fetchCandidate(ctx, sig, wallet)
			if err != nil {
				log.Printf("solana: skipping transaction %s: %v", sig.Signature, err)
				return
			}
			if cand == nil {
				return
			}
			mu.Lock()
			candidates = append(candidates, *cand)
			mu.Unlock()
		}(sig)
	}
	wg.Wait()

	// Goroutine completion order is arbitrary; keep output deterministic.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Timestamp.After(candidates[j].Timestamp)
	})
	return candidates, nil
}

// fetchCandidate pulls one transaction and derives the USDC amount received
// by the wallet from its token balance deltas. Returns (nil, nil) when the
// transaction carries no USDC transfer to the wallet.
func (a *SolanaAdapter) fetchCandidate(ctx context.Context, sig *rpc.TransactionSignature, wallet solana.PublicKey) (*domain.TransferCandidate, error) {
	tx, err := a.client.GetTransaction(ctx, sig.Signature, &rpc.GetTransactionOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch transaction: %w", err)
	}
	if tx == nil || tx.Meta == nil || len(tx.Meta.PostTokenBalances) == 0 {
		return nil, nil
	}

	received, from := a.usdcDelta(tx.Meta, wallet)
	if received <= 0 {
		return nil, nil
	}

	return &domain.TransferCandidate{
		Hash:        sig.Signature.String(),
		AmountMicro: received,
		From:        from,
		To:          wallet.String(),
		Timestamp:   blockTime(sig.BlockTime).UTC(),
		Network:     domain.NetworkSolana,
		BlockRef:    uint64(sig.Slot),
	}, nil
}

// usdcDelta returns the net USDC received by the wallet and the owner whose
// balance funded it, both derived from pre/post token balances.
func (a *SolanaAdapter) usdcDelta(meta *rpc.TransactionMeta, wallet solana.PublicKey) (int64, string) {
	var received int64
	var from string

	for _, post := range meta.PostTokenBalances {
		if post.Mint != a.mint || post.UiTokenAmount == nil {
			continue
		}
		postMicro := tokenAmountMicro(post.UiTokenAmount)

		var preMicro int64
		for _, pre := range meta.PreTokenBalances {
			if pre.AccountIndex == post.AccountIndex && pre.Mint == a.mint && pre.UiTokenAmount != nil {
				preMicro = tokenAmountMicro(pre.UiTokenAmount)
				break
			}
		}

		delta := postMicro - preMicro
		if post.Owner != nil && *post.Owner == wallet {
			if delta > received {
				received = delta
			}
		} else if delta < 0 && post.Owner != nil {
			from = post.Owner.String()
		}
	}
	return received, from
}

// tokenAmountMicro normalizes a token amount to micro-USDC, preferring the
// raw integer amount over the reported UI amount.
func tokenAmountMicro(ta *rpc.UiTokenAmount) int64 {
	if ta.Amount != "" {
		raw, err := strconv.ParseInt(ta.Amount, 10, 64)
		if err == nil {
			decimals := int64(ta.Decimals)
			if decimals == 0 {
				decimals = 6
			}
			micro := new(big.Int).Mul(big.NewInt(raw), big.NewInt(domain.MicroPerUSDC))
			micro.Div(micro, new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil))
			if micro.IsInt64() {
				return micro.Int64()
			}
		}
	}
	if ta.UiAmount != nil {
		return domain.MicroFromUSDC(*ta.UiAmount)
	}
	return 0
}

func blockTime(bt *solana.UnixTimeSeconds) time.Time {
	if bt == nil {
		return time.Time{}
	}
	return time.Unix(int64(*bt), 0)
}
