package app

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dou-wallet/dou-gateway/internal/eth"
	"github.com/dou-wallet/dou-gateway/internal/storage"
	apperrors "github.com/dou-wallet/dou-gateway/pkg/errors"
	"github.com/dou-wallet/dou-gateway/pkg/types"
)

type mockProvider struct {
	GetBalanceFunc         func(ctx context.Context, address string) (*big.Int, error)
	GetNonceFunc           func(ctx context.Context, address string) (uint64, error)
	SuggestGasPriceFunc    func(ctx context.Context) (*big.Int, error)
	EstimateGasFunc        func(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error)
	TransactionByHashFunc  func(ctx context.Context, hash string) (*eth.PendingTx, error)
	SendRawTransactionFunc func(ctx context.Context, signedTx *ethtypes.Transaction) (string, error)
	WaitMinedFunc          func(ctx context.Context, hash string) (*ethtypes.Receipt, error)
}

func (m *mockProvider) ChainIDBig() *big.Int { return big.NewInt(1337) }

func (m *mockProvider) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if m.GetBalanceFunc != nil {
		return m.GetBalanceFunc(ctx, address)
	}
	return big.NewInt(0), nil
}

func (m *mockProvider) GetNonce(ctx context.Context, address string) (uint64, error) {
	if m.GetNonceFunc != nil {
		return m.GetNonceFunc(ctx, address)
	}
	return 7, nil
}

func (m *mockProvider) EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error) {
	if m.EstimateGasFunc != nil {
		return m.EstimateGasFunc(ctx, from, to, value, data)
	}
	return 21000, nil
}

func (m *mockProvider) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if m.SuggestGasPriceFunc != nil {
		return m.SuggestGasPriceFunc(ctx)
	}
	return big.NewInt(1000), nil
}

func (m *mockProvider) TransactionByHash(ctx context.Context, hash string) (*eth.PendingTx, error) {
	if m.TransactionByHashFunc != nil {
		return m.TransactionByHashFunc(ctx, hash)
	}
	return nil, nil
}

func (m *mockProvider) SendRawTransaction(ctx context.Context, signedTx *ethtypes.Transaction) (string, error) {
	if m.SendRawTransactionFunc != nil {
		return m.SendRawTransactionFunc(ctx, signedTx)
	}
	return signedTx.Hash().Hex(), nil
}

func (m *mockProvider) WaitMined(ctx context.Context, hash string) (*ethtypes.Receipt, error) {
	if m.WaitMinedFunc != nil {
		return m.WaitMinedFunc(ctx, hash)
	}
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful}, nil
}

type mockRecorder struct {
	mu      sync.Mutex
	rows    []*storage.Transaction
	updates []types.TxStatus
	marked  map[string]types.TxStatus
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{marked: make(map[string]types.TxStatus)}
}

func (m *mockRecorder) Create(ctx context.Context, tx *storage.Transaction) (*storage.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *tx
	stored.ID = uuid.New()
	m.rows = append(m.rows, &stored)
	return &stored, nil
}

func (m *mockRecorder) UpdateStatus(ctx context.Context, id uuid.UUID, status types.TxStatus, txHash, errorMessage *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, status)
	for _, row := range m.rows {
		if row.ID == id {
			row.Status = status
			row.ErrorMessage = errorMessage
		}
	}
	return nil
}

func (m *mockRecorder) MarkSuperseded(ctx context.Context, txHash string, status types.TxStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked[txHash] = status
	return nil
}

func TestBumpGasPrice(t *testing.T) {
	tests := []struct {
		original int64
		want     int64
	}{
		{100, 110},
		{101, 112},
		{1000, 1100},
		{1, 2},
		{999, 1099},
	}
	for _, tt := range tests {
		got := bumpGasPrice(big.NewInt(tt.original))
		assert.Equal(t, tt.want, got.Int64(), "bump of %d", tt.original)
	}
}

func TestSubmitConfirmed(t *testing.T) {
	key, address := newTestKey(t)
	defer key.Close()
	recorder := newMockRecorder()

	var sent *ethtypes.Transaction
	provider := &mockProvider{
		SendRawTransactionFunc: func(ctx context.Context, signedTx *ethtypes.Transaction) (string, error) {
			sent = signedTx
			return signedTx.Hash().Hex(), nil
		},
	}

	svc := NewTxService(provider, recorder, time.Second, testLogger())
	hash, err := svc.Submit(context.Background(), uuid.New(), key, &SubmitRequest{
		To:    "0x000000000000000000000000000000000000dEaD",
		Value: big.NewInt(42),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	require.NotNil(t, sent)
	assert.Equal(t, uint64(7), sent.Nonce())
	assert.Equal(t, big.NewInt(1000), sent.GasPrice())
	assert.Equal(t, big.NewInt(42), sent.Value())

	require.Len(t, recorder.rows, 1)
	assert.Equal(t, address, recorder.rows[0].FromAddress)
	assert.Equal(t, types.TxStatusConfirmed, recorder.rows[0].Status)
}

func TestSubmitChainRejected(t *testing.T) {
	key, _ := newTestKey(t)
	defer key.Close()
	recorder := newMockRecorder()

	provider := &mockProvider{
		SendRawTransactionFunc: func(ctx context.Context, signedTx *ethtypes.Transaction) (string, error) {
			return "", errors.New("insufficient funds")
		},
	}

	svc := NewTxService(provider, recorder, time.Second, testLogger())
	_, err := svc.Submit(context.Background(), uuid.New(), key, &SubmitRequest{
		To: "0x000000000000000000000000000000000000dEaD",
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeChainRejected))

	require.Len(t, recorder.rows, 1)
	assert.Equal(t, types.TxStatusFailed, recorder.rows[0].Status)
}

func TestSubmitChainTimeout(t *testing.T) {
	key, _ := newTestKey(t)
	defer key.Close()
	recorder := newMockRecorder()

	provider := &mockProvider{
		WaitMinedFunc: func(ctx context.Context, hash string) (*ethtypes.Receipt, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	svc := NewTxService(provider, recorder, 10*time.Millisecond, testLogger())
	_, err := svc.Submit(context.Background(), uuid.New(), key, &SubmitRequest{
		To: "0x000000000000000000000000000000000000dEaD",
	})
	require.Error(t, err)

	// A timeout is not a rejection: the broadcast was accepted
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeChainTimeout))
	assert.False(t, apperrors.HasCode(err, apperrors.ErrCodeChainRejected))

	// The record stays submitted; the transaction may still confirm
	require.Len(t, recorder.rows, 1)
	assert.Equal(t, types.TxStatusSubmitted, recorder.rows[0].Status)
}

func TestSubmitRevertedReceipt(t *testing.T) {
	key, _ := newTestKey(t)
	defer key.Close()
	recorder := newMockRecorder()

	provider := &mockProvider{
		WaitMinedFunc: func(ctx context.Context, hash string) (*ethtypes.Receipt, error) {
			return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed}, nil
		},
	}

	svc := NewTxService(provider, recorder, time.Second, testLogger())
	hash, err := svc.Submit(context.Background(), uuid.New(), key, &SubmitRequest{
		To: "0x000000000000000000000000000000000000dEaD",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	require.Len(t, recorder.rows, 1)
	assert.Equal(t, types.TxStatusFailed, recorder.rows[0].Status)
}

func TestSpeedUpBumpsAndSupersedes(t *testing.T) {
	key, _ := newTestKey(t)
	defer key.Close()
	recorder := newMockRecorder()

	origTo := "0x000000000000000000000000000000000000dEaD"
	var sent *ethtypes.Transaction
	provider := &mockProvider{
		TransactionByHashFunc: func(ctx context.Context, hash string) (*eth.PendingTx, error) {
			return &eth.PendingTx{
				Hash:     hash,
				Nonce:    9,
				To:       &origTo,
				Value:    big.NewInt(5),
				GasPrice: big.NewInt(100),
				Gas:      30000,
				Data:     []byte{0x01, 0x02},
				Pending:  true,
			}, nil
		},
		SendRawTransactionFunc: func(ctx context.Context, signedTx *ethtypes.Transaction) (string, error) {
			sent = signedTx
			return signedTx.Hash().Hex(), nil
		},
	}

	svc := NewTxService(provider, recorder, time.Second, testLogger())
	_, err := svc.SpeedUp(context.Background(), uuid.New(), key, "0xorig")
	require.NoError(t, err)

	// The replacement keeps nonce, recipient, value, and payload but pays 10% more
	require.NotNil(t, sent)
	assert.Equal(t, uint64(9), sent.Nonce())
	assert.Equal(t, big.NewInt(110), sent.GasPrice())
	assert.Equal(t, big.NewInt(5), sent.Value())
	assert.Equal(t, []byte{0x01, 0x02}, sent.Data())

	assert.Equal(t, types.TxStatusReplaced, recorder.marked["0xorig"])
}

func TestSpeedUpContractCreationKeepsNilRecipient(t *testing.T) {
	key, _ := newTestKey(t)
	defer key.Close()
	recorder := newMockRecorder()

	var sent *ethtypes.Transaction
	provider := &mockProvider{
		TransactionByHashFunc: func(ctx context.Context, hash string) (*eth.PendingTx, error) {
			return &eth.PendingTx{
				Hash:     hash,
				Nonce:    4,
				To:       nil,
				Value:    big.NewInt(0),
				GasPrice: big.NewInt(100),
				Gas:      500000,
				Data:     []byte{0x60, 0x80},
				Pending:  true,
			}, nil
		},
		SendRawTransactionFunc: func(ctx context.Context, signedTx *ethtypes.Transaction) (string, error) {
			sent = signedTx
			return signedTx.Hash().Hex(), nil
		},
	}

	svc := NewTxService(provider, recorder, time.Second, testLogger())
	_, err := svc.SpeedUp(context.Background(), uuid.New(), key, "0xorig")
	require.NoError(t, err)

	// The replacement is still a creation, not a send to the zero address
	require.NotNil(t, sent)
	assert.Nil(t, sent.To())
	assert.Equal(t, uint64(4), sent.Nonce())
	assert.Equal(t, big.NewInt(110), sent.GasPrice())
}

func TestSpeedUpUnknownTransaction(t *testing.T) {
	key, _ := newTestKey(t)
	defer key.Close()
	recorder := newMockRecorder()

	var sends int32
	provider := &mockProvider{
		TransactionByHashFunc: func(ctx context.Context, hash string) (*eth.PendingTx, error) {
			return nil, nil
		},
		SendRawTransactionFunc: func(ctx context.Context, signedTx *ethtypes.Transaction) (string, error) {
			atomic.AddInt32(&sends, 1)
			return signedTx.Hash().Hex(), nil
		},
	}

	svc := NewTxService(provider, recorder, time.Second, testLogger())
	_, err := svc.SpeedUp(context.Background(), uuid.New(), key, "0xgone")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnknownTransaction))

	// Nothing reaches the chain or the records when the original is unknown
	assert.Zero(t, atomic.LoadInt32(&sends))
	assert.Empty(t, recorder.rows)
	assert.Empty(t, recorder.marked)
}

func TestCancelSendsZeroValueReplacement(t *testing.T) {
	key, _ := newTestKey(t)
	defer key.Close()
	recorder := newMockRecorder()

	origTo := "0x000000000000000000000000000000000000dEaD"
	refund := "0x00000000000000000000000000000000000000A1"
	var sent *ethtypes.Transaction
	provider := &mockProvider{
		TransactionByHashFunc: func(ctx context.Context, hash string) (*eth.PendingTx, error) {
			return &eth.PendingTx{
				Hash:     hash,
				Nonce:    3,
				To:       &origTo,
				Value:    big.NewInt(1000),
				GasPrice: big.NewInt(200),
				Gas:      50000,
				Pending:  true,
			}, nil
		},
		SendRawTransactionFunc: func(ctx context.Context, signedTx *ethtypes.Transaction) (string, error) {
			sent = signedTx
			return signedTx.Hash().Hex(), nil
		},
	}

	svc := NewTxService(provider, recorder, time.Second, testLogger())
	_, err := svc.Cancel(context.Background(), uuid.New(), key, "0xorig", refund)
	require.NoError(t, err)

	require.NotNil(t, sent)
	assert.Equal(t, uint64(3), sent.Nonce())
	assert.Equal(t, big.NewInt(0), sent.Value())
	assert.Equal(t, big.NewInt(220), sent.GasPrice())
	assert.Equal(t, common.HexToAddress(refund), *sent.To())
	assert.Empty(t, sent.Data())

	assert.Equal(t, types.TxStatusCancelled, recorder.marked["0xorig"])
}

func TestSubmitSerializesPerAddress(t *testing.T) {
	key, _ := newTestKey(t)
	defer key.Close()
	recorder := newMockRecorder()

	var inFlight, maxInFlight int32
	provider := &mockProvider{
		WaitMinedFunc: func(ctx context.Context, hash string) (*ethtypes.Receipt, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxInFlight)
				if n <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful}, nil
		},
	}

	svc := NewTxService(provider, recorder, time.Second, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), uuid.New(), key, &SubmitRequest{
				To: "0x000000000000000000000000000000000000dEaD",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Operations on the same signing address never overlap
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestEstimate(t *testing.T) {
	key, _ := newTestKey(t)
	defer key.Close()

	provider := &mockProvider{
		EstimateGasFunc: func(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error) {
			return 30000, nil
		},
		SuggestGasPriceFunc: func(ctx context.Context) (*big.Int, error) {
			return big.NewInt(2000), nil
		},
	}

	svc := NewTxService(provider, newMockRecorder(), time.Second, testLogger())
	quote, err := svc.Estimate(context.Background(), key, "0x000000000000000000000000000000000000dEaD", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(30000), quote.GasLimit)
	assert.Equal(t, "2000", quote.GasPrice)
	assert.Equal(t, "60000000", quote.Fee)
}
