package api

import (
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/dou-wallet/dou-gateway/internal/app"
	"github.com/dou-wallet/dou-gateway/internal/custody"
	apperrors "github.com/dou-wallet/dou-gateway/pkg/errors"
)

// SubmitTransactionRequest is a transaction to sign and broadcast with the
// caller's custodial key. Value is a decimal wei string; Data is 0x-hex.
// The requesting application must hold a registered redirect URL.
type SubmitTransactionRequest struct {
	AppID       string `json:"app_id"`
	RedirectURL string `json:"redirect_url"`
	To          string `json:"to"`
	Value       string `json:"value,omitempty"`
	Data        string `json:"data,omitempty"`
}

// TransactionResponse carries a broadcast hash
type TransactionResponse struct {
	TxHash string `json:"tx_hash"`
}

// handleSubmitTransaction signs and broadcasts a transaction. The requesting
// application is checked before the custodial key is touched.
func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req SubmitTransactionRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	appID, err := uuid.Parse(req.AppID)
	if err != nil {
		s.writeError(w, apperrors.BadRequest("Invalid application id"))
		return
	}
	if _, err := s.signService.CheckAppPermission(r.Context(), appID, req.RedirectURL, ""); err != nil {
		s.writeError(w, err)
		return
	}
	if !common.IsHexAddress(req.To) {
		s.writeError(w, apperrors.BadRequest("Invalid recipient address"))
		return
	}

	key, ok := s.resolveKey(w, r)
	if !ok {
		return
	}
	defer key.Close()

	value, err := parseWei(req.Value)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := parseHexData(req.Data)
	if err != nil {
		s.writeError(w, err)
		return
	}

	p, _ := s.principal(r)
	hash, err := s.txService.Submit(r.Context(), p.UserID, key, &app.SubmitRequest{
		To:    req.To,
		Value: value,
		Data:  data,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TransactionResponse{TxHash: hash})
}

// handleSpeedUp replaces a pending transaction at a higher gas price
func (s *Server) handleSpeedUp(w http.ResponseWriter, r *http.Request) {
	key, ok := s.resolveKey(w, r)
	if !ok {
		return
	}
	defer key.Close()

	origHash := r.PathValue("txHash")
	if origHash == "" {
		s.writeError(w, apperrors.BadRequest("Missing transaction hash"))
		return
	}

	p, _ := s.principal(r)
	hash, err := s.txService.SpeedUp(r.Context(), p.UserID, key, origHash)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TransactionResponse{TxHash: hash})
}

// CancelTransactionRequest names where the displaced funds return to; the
// caller's own custodial address when empty
type CancelTransactionRequest struct {
	RefundAddress string `json:"refund_address,omitempty"`
}

// handleCancel races a pending transaction with a zero-value replacement
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	key, ok := s.resolveKey(w, r)
	if !ok {
		return
	}
	defer key.Close()

	origHash := r.PathValue("txHash")
	if origHash == "" {
		s.writeError(w, apperrors.BadRequest("Missing transaction hash"))
		return
	}

	var req CancelTransactionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := s.decodeJSON(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
	}
	refund := req.RefundAddress
	if refund == "" {
		refund = key.Address
	} else if !common.IsHexAddress(refund) {
		s.writeError(w, apperrors.BadRequest("Invalid refund address"))
		return
	}

	p, _ := s.principal(r)
	hash, err := s.txService.Cancel(r.Context(), p.UserID, key, origHash, refund)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TransactionResponse{TxHash: hash})
}

// EstimateRequest is a pre-flight gas quote request
type EstimateRequest struct {
	To   string `json:"to"`
	Data string `json:"data,omitempty"`
}

// handleEstimate quotes gas for a call from the caller's custodial address
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	key, ok := s.resolveKey(w, r)
	if !ok {
		return
	}
	defer key.Close()

	var req EstimateRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if !common.IsHexAddress(req.To) {
		s.writeError(w, apperrors.BadRequest("Invalid recipient address"))
		return
	}
	data, err := parseHexData(req.Data)
	if err != nil {
		s.writeError(w, err)
		return
	}

	quote, err := s.txService.Estimate(r.Context(), key, req.To, data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

// resolveKey loads the caller's custodial key, writing the error response
// itself on failure
func (s *Server) resolveKey(w http.ResponseWriter, r *http.Request) (*custody.InnerKey, bool) {
	p, err := s.principal(r)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}

	key, err := s.keys.ResolveInnerKey(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return key, true
}

func parseWei(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	wei, ok := new(big.Int).SetString(value, 10)
	if !ok || wei.Sign() < 0 {
		return nil, apperrors.BadRequest("Value must be a non-negative decimal wei amount")
	}
	return wei, nil
}

func parseHexData(data string) ([]byte, error) {
	if data == "" {
		return nil, nil
	}
	if !strings.HasPrefix(data, "0x") {
		return nil, apperrors.BadRequest("Data must be 0x-prefixed hex")
	}
	decoded := common.FromHex(data)
	if len(decoded) == 0 && len(data) > 2 {
		return nil, apperrors.BadRequest("Data is not valid hex")
	}
	return decoded, nil
}
