package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HalaxaPay/Halaxa-Backend-sub000/internal/domain"
)

const (
	testUSDCContract = "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"
	testWallet       = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
)

type fakeCaller struct {
	result assetTransfersResult
	err    error
	params assetTransfersParams
}

func (f *fakeCaller) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if f.err != nil {
		return f.err
	}
	if len(args) == 1 {
		if p, ok := args[0].(assetTransfersParams); ok {
			f.params = p
		}
	}
	*(result.(*assetTransfersResult)) = f.result
	return nil
}

func newTestPolygonAdapter(caller rpcCaller) *PolygonAdapter {
	return &PolygonAdapter{client: caller, usdc: testUSDCContract, maxCount: 100}
}

func rawTransfer(hash string, rawHex string, ts time.Time) assetTransfer {
	return assetTransfer{
		Hash:     hash,
		From:     "0x1111111111111111111111111111111111111111",
		To:       testWallet,
		BlockNum: "0x1b4",
		RawContract: rawContract{
			Value:   rawHex,
			Address: testUSDCContract,
			Decimal: "0x6",
		},
		Metadata: transferMetadata{BlockTimestamp: ts.UTC().Format(time.RFC3339)},
	}
}

func TestPolygonFetchNormalizesRawAmount(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	caller := &fakeCaller{result: assetTransfersResult{Transfers: []assetTransfer{
		rawTransfer("0xA", "0x2faf080", now), // 50_000_000 micro = 50 USDC
	}}}
	a := newTestPolygonAdapter(caller)

	got, err := a.FetchTransfers(context.Background(), testWallet, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "0xA", got[0].Hash)
	assert.Equal(t, int64(50_000_000), got[0].AmountMicro)
	assert.Equal(t, domain.NetworkPolygon, got[0].Network)
	assert.Equal(t, uint64(0x1b4), got[0].BlockRef)
	assert.True(t, got[0].Timestamp.Equal(now))
}

func TestPolygonFetchRequestsUSDCOnly(t *testing.T) {
	caller := &fakeCaller{}
	a := newTestPolygonAdapter(caller)

	_, err := a.FetchTransfers(context.Background(), testWallet, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, []string{testUSDCContract}, caller.params.ContractAddresses)
	assert.Equal(t, []string{"erc20"}, caller.params.Category)
	assert.True(t, caller.params.ExcludeZeroValue)
	assert.True(t, caller.params.WithMetadata)
	assert.Equal(t, testWallet, caller.params.ToAddress)
}

func TestPolygonFetchSkipsMalformedTransfers(t *testing.T) {
	now := time.Now()
	bad := rawTransfer("0xBAD", "not-hex", now)
	noHash := rawTransfer("", "0x1", now)
	zero := rawTransfer("0xZERO", "0x0", now)
	good := rawTransfer("0xGOOD", "0xbebc200", now) // 200 USDC

	caller := &fakeCaller{result: assetTransfersResult{Transfers: []assetTransfer{bad, noHash, zero, good}}}
	a := newTestPolygonAdapter(caller)

	got, err := a.FetchTransfers(context.Background(), testWallet, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0xGOOD", got[0].Hash)
	assert.Equal(t, int64(200_000_000), got[0].AmountMicro)
}

func TestPolygonFetchFallsBackToDecimalValue(t *testing.T) {
	now := time.Now()
	value := 12.5
	tr := assetTransfer{
		Hash:     "0xF",
		To:       testWallet,
		Value:    &value,
		Metadata: transferMetadata{BlockTimestamp: now.UTC().Format(time.RFC3339)},
	}

	caller := &fakeCaller{result: assetTransfersResult{Transfers: []assetTransfer{tr}}}
	a := newTestPolygonAdapter(caller)

	got, err := a.FetchTransfers(context.Background(), testWallet, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(12_500_000), got[0].AmountMicro)
}

func TestPolygonFetchDropsTransfersBeforeSince(t *testing.T) {
	now := time.Now()
	old := rawTransfer("0xOLD", "0x2faf080", now.Add(-2*time.Hour))
	fresh := rawTransfer("0xNEW", "0x2faf080", now)

	caller := &fakeCaller{result: assetTransfersResult{Transfers: []assetTransfer{old, fresh}}}
	a := newTestPolygonAdapter(caller)

	got, err := a.FetchTransfers(context.Background(), testWallet, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0xNEW", got[0].Hash)
}

func TestPolygonFetchUpstreamError(t *testing.T) {
	caller := &fakeCaller{err: errors.New("connection refused")}
	a := newTestPolygonAdapter(caller)

	_, err := a.FetchTransfers(context.Background(), testWallet, time.Time{})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestPolygonFetchRejectsBadWallet(t *testing.T) {
	a := newTestPolygonAdapter(&fakeCaller{})

	_, err := a.FetchTransfers(context.Background(), "not-an-address", time.Time{})
	assert.Error(t, err)
}
