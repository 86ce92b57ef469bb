package app

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/dou-wallet/dou-gateway/internal/custody"
	"github.com/dou-wallet/dou-gateway/internal/eth"
	"github.com/dou-wallet/dou-gateway/internal/metrics"
	"github.com/dou-wallet/dou-gateway/internal/storage"
	apperrors "github.com/dou-wallet/dou-gateway/pkg/errors"
	"github.com/dou-wallet/dou-gateway/pkg/types"
)

// cancelGasLimit covers a plain value transfer
const cancelGasLimit = 21000

// TransactionRecorder persists transaction lifecycle records.
// *storage.TransactionRepository satisfies it.
type TransactionRecorder interface {
	Create(ctx context.Context, tx *storage.Transaction) (*storage.Transaction, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status types.TxStatus, txHash, errorMessage *string) error
	MarkSuperseded(ctx context.Context, txHash string, status types.TxStatus) error
}

// TxService submits, replaces, and cancels transactions with custodial
// keys. Operations on one signing address are serialized: concurrent
// submissions would race for the same nonce.
type TxService struct {
	chain          eth.Provider
	records        TransactionRecorder
	confirmTimeout time.Duration
	log            *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTxService creates a new transaction service
func NewTxService(chain eth.Provider, records TransactionRecorder, confirmTimeout time.Duration, log *slog.Logger) *TxService {
	return &TxService{
		chain:          chain,
		records:        records,
		confirmTimeout: confirmTimeout,
		log:            log,
		locks:          make(map[string]*sync.Mutex),
	}
}

// lockAddress serializes chain writes per signing address
func (s *TxService) lockAddress(address string) func() {
	s.mu.Lock()
	l, ok := s.locks[address]
	if !ok {
		l = &sync.Mutex{}
		s.locks[address] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// SubmitRequest describes a transaction to build and sign.
// Nonce, GasPrice, and GasLimit are filled from the chain when absent.
// An empty To deploys a contract.
type SubmitRequest struct {
	To       string
	Data     []byte
	Value    *big.Int
	Nonce    *uint64
	GasPrice *big.Int
	GasLimit uint64
}

// Submit signs and broadcasts a transaction with the given custodial key
// and waits for confirmation within the configured policy. ChainRejected
// means the node refused the broadcast; ChainTimeout means confirmation did
// not arrive in time and the transaction may still confirm later. Neither
// is retried here: retrying a broadcast signed transaction risks duplicate
// spends, so retry policy belongs to the caller.
func (s *TxService) Submit(ctx context.Context, userID uuid.UUID, key *custody.InnerKey, req *SubmitRequest) (string, error) {
	unlock := s.lockAddress(key.Address)
	defer unlock()

	hash, err := s.submitLocked(ctx, userID, key, req, nil)
	s.count("submit", err)
	return hash, err
}

// SpeedUp replaces a pending transaction with an identical one at a 10%
// higher gas price, the minimum bump nodes typically accept for a
// replacement. The original is looked up fresh on chain; a hash with no
// pending view fails with UnknownTransaction before any chain write.
func (s *TxService) SpeedUp(ctx context.Context, userID uuid.UUID, key *custody.InnerKey, origHash string) (string, error) {
	unlock := s.lockAddress(key.Address)
	defer unlock()

	orig, err := s.chain.TransactionByHash(ctx, origHash)
	if err != nil {
		return "", err
	}
	if orig == nil {
		s.count("speedup", apperrors.UnknownTransaction(origHash))
		return "", apperrors.UnknownTransaction(origHash)
	}

	nonce := orig.Nonce
	req := &SubmitRequest{
		Data:     orig.Data,
		Value:    orig.Value,
		Nonce:    &nonce,
		GasPrice: bumpGasPrice(orig.GasPrice),
		GasLimit: orig.Gas,
	}
	if orig.To != nil {
		req.To = *orig.To
	}

	hash, err := s.submitLocked(ctx, userID, key, req, &origHash)
	s.count("speedup", err)
	if err != nil {
		return "", err
	}

	if err := s.records.MarkSuperseded(ctx, origHash, types.TxStatusReplaced); err != nil {
		s.log.Warn("failed to mark original transaction replaced", "tx_hash", origHash, "error", err)
	}
	return hash, nil
}

// Cancel races a pending transaction with a zero-value self-transfer to
// refundAddress reusing the original nonce at a 10% higher gas price.
// Replace-by-fee is a network convention, not a guarantee: the original may
// still win inclusion.
func (s *TxService) Cancel(ctx context.Context, userID uuid.UUID, key *custody.InnerKey, origHash, refundAddress string) (string, error) {
	unlock := s.lockAddress(key.Address)
	defer unlock()

	orig, err := s.chain.TransactionByHash(ctx, origHash)
	if err != nil {
		return "", err
	}
	if orig == nil {
		s.count("cancel", apperrors.UnknownTransaction(origHash))
		return "", apperrors.UnknownTransaction(origHash)
	}

	nonce := orig.Nonce
	req := &SubmitRequest{
		To:       refundAddress,
		Value:    big.NewInt(0),
		Nonce:    &nonce,
		GasPrice: bumpGasPrice(orig.GasPrice),
		GasLimit: cancelGasLimit,
	}

	hash, err := s.submitLocked(ctx, userID, key, req, &origHash)
	s.count("cancel", err)
	if err != nil {
		return "", err
	}

	if err := s.records.MarkSuperseded(ctx, origHash, types.TxStatusCancelled); err != nil {
		s.log.Warn("failed to mark original transaction cancelled", "tx_hash", origHash, "error", err)
	}
	return hash, nil
}

// EstimateResult is a pre-flight gas quote
type EstimateResult struct {
	GasLimit uint64 `json:"gas_limit"`
	GasPrice string `json:"gas_price"`
	Fee      string `json:"fee"`
}

// Estimate quotes gas for a call from the user's custodial address without
// touching chain state
func (s *TxService) Estimate(ctx context.Context, key *custody.InnerKey, to string, data []byte) (*EstimateResult, error) {
	gasLimit, err := s.chain.EstimateGas(ctx, key.Address, to, nil, data)
	if err != nil {
		return nil, apperrors.ChainRejected(err.Error())
	}

	gasPrice, err := s.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, apperrors.ChainRejected(err.Error())
	}

	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	return &EstimateResult{
		GasLimit: gasLimit,
		GasPrice: gasPrice.String(),
		Fee:      fee.String(),
	}, nil
}

// submitLocked builds, signs, broadcasts, and awaits one transaction.
// Callers hold the address lock.
func (s *TxService) submitLocked(ctx context.Context, userID uuid.UUID, key *custody.InnerKey, req *SubmitRequest, replaces *string) (string, error) {
	nonce := uint64(0)
	if req.Nonce != nil {
		nonce = *req.Nonce
	} else {
		n, err := s.chain.GetNonce(ctx, key.Address)
		if err != nil {
			return "", apperrors.ChainRejected(err.Error())
		}
		nonce = n
	}

	gasPrice := req.GasPrice
	if gasPrice == nil {
		p, err := s.chain.SuggestGasPrice(ctx)
		if err != nil {
			return "", apperrors.ChainRejected(err.Error())
		}
		gasPrice = p
	}

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		g, err := s.chain.EstimateGas(ctx, key.Address, req.To, value, req.Data)
		if err != nil {
			return "", apperrors.ChainRejected(err.Error())
		}
		gasLimit = g
	}

	// A nil To is a contract creation and must stay one in a replacement
	var toAddr *common.Address
	if req.To != "" {
		a := common.HexToAddress(req.To)
		toAddr = &a
	}
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       toAddr,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     req.Data,
	})

	pk, err := key.PrivateKey()
	if err != nil {
		return "", err
	}
	signer := ethtypes.LatestSignerForChainID(s.chain.ChainIDBig())
	signedTx, err := ethtypes.SignTx(tx, signer, pk)
	if err != nil {
		return "", apperrors.NewWithDetail(apperrors.ErrCodeInternalError, "Failed to sign transaction", err.Error(), 500)
	}

	record := s.createRecord(ctx, userID, key.Address, req, signedTx.Hash().Hex(), int64(nonce), gasPrice, gasLimit, replaces)

	hash, err := s.chain.SendRawTransaction(ctx, signedTx)
	if err != nil {
		s.markRecord(ctx, record, types.TxStatusFailed, nil, err)
		return "", apperrors.ChainRejected(err.Error())
	}
	s.markRecord(ctx, record, types.TxStatusSubmitted, &hash, nil)

	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	receipt, err := s.chain.WaitMined(waitCtx, hash)
	if err != nil {
		// Not a rejection: the transaction was accepted and may still
		// confirm after the deadline.
		return "", apperrors.ChainTimeout(hash)
	}

	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		s.markRecord(ctx, record, types.TxStatusConfirmed, &hash, nil)
	} else {
		s.markRecord(ctx, record, types.TxStatusFailed, &hash, errReverted)
	}
	return hash, nil
}

// errReverted tags records of included-but-reverted transactions
var errReverted = revertedError{}

type revertedError struct{}

func (revertedError) Error() string { return "execution reverted" }

func (s *TxService) createRecord(ctx context.Context, userID uuid.UUID, from string, req *SubmitRequest, hash string, nonce int64, gasPrice *big.Int, gasLimit uint64, replaces *string) *storage.Transaction {
	gasPriceStr := gasPrice.String()
	gasLimitI64 := int64(gasLimit)
	valueStr := "0"
	if req.Value != nil {
		valueStr = req.Value.String()
	}
	var dataStr *string
	if len(req.Data) > 0 {
		d := "0x" + common.Bytes2Hex(req.Data)
		dataStr = &d
	}

	var toStr *string
	if req.To != "" {
		toStr = &req.To
	}

	record := &storage.Transaction{
		UserID:       userID,
		FromAddress:  from,
		ToAddress:    toStr,
		TxHash:       &hash,
		Status:       types.TxStatusCreated,
		Nonce:        &nonce,
		GasPrice:     &gasPriceStr,
		GasLimit:     &gasLimitI64,
		Value:        &valueStr,
		Data:         dataStr,
		ReplacesHash: replaces,
	}

	created, err := s.records.Create(ctx, record)
	if err != nil {
		s.log.Warn("failed to record transaction", "tx_hash", hash, "error", err)
		return nil
	}
	return created
}

func (s *TxService) markRecord(ctx context.Context, record *storage.Transaction, status types.TxStatus, hash *string, cause error) {
	if record == nil {
		return
	}
	var msg *string
	if cause != nil {
		m := cause.Error()
		msg = &m
	}
	if err := s.records.UpdateStatus(ctx, record.ID, status, hash, msg); err != nil {
		s.log.Warn("failed to update transaction record", "id", record.ID, "error", err)
	}
}

func (s *TxService) count(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if appErr, ok := apperrors.IsAppError(err); ok {
			metrics.ChainErrors.WithLabelValues(appErr.Code).Inc()
		}
	}
	metrics.Transactions.WithLabelValues(operation, outcome).Inc()
}

// bumpGasPrice computes the replacement gas price, the ceiling of a 10%
// increase over the original
func bumpGasPrice(original *big.Int) *big.Int {
	n := new(big.Int).Mul(original, big.NewInt(110))
	n.Add(n, big.NewInt(99))
	return n.Div(n, big.NewInt(100))
}
