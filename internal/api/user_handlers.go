package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/dou-wallet/dou-gateway/internal/app"
	apperrors "github.com/dou-wallet/dou-gateway/pkg/errors"
	"github.com/dou-wallet/dou-gateway/pkg/types"
)

// SendCodeRequest asks for a login code
type SendCodeRequest struct {
	Phone string `json:"phone"`
}

// handleSendCode sends a login verification code
func (s *Server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var req SendCodeRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.userService.SendCode(r.Context(), req.Phone); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// LoginRequest exchanges a phone code for a session token
type LoginRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// handleLogin verifies the code and opens a session, registering the user
// on first login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.userService.Login(r.Context(), req.Phone, req.Code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleProfile returns the caller's profile with addresses
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.principal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	profile, err := s.userService.Profile(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

// handleUpdateProfile applies a partial profile update
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.principal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req app.ProfileUpdate
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	user, err := s.userService.UpdateProfile(r.Context(), p.UserID, &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

// handleBalances returns the chain balance of each of the caller's addresses
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	p, err := s.principal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	balances, err := s.userService.Balances(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"balances": balances})
}

// handleUserTransactions returns the caller's transaction history
func (s *Server) handleUserTransactions(w http.ResponseWriter, r *http.Request) {
	p, err := s.principal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	records, err := s.userService.Transactions(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": records})
}

// IssueSignatureRequest is a third-party signing request relayed by the
// client after the user chose a disposition
type IssueSignatureRequest struct {
	AppID       uuid.UUID `json:"app_id"`
	RedirectURL string    `json:"redirect_url"`
	Message     string    `json:"message"`
	Disposition string    `json:"disposition"`
}

// handleIssueSignature signs or rejects an application's message with the
// caller's custodial key
func (s *Server) handleIssueSignature(w http.ResponseWriter, r *http.Request) {
	p, err := s.principal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req IssueSignatureRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.signService.Issue(r.Context(), &app.IssueRequest{
		UserID:      p.UserID,
		AppID:       req.AppID,
		RedirectURL: req.RedirectURL,
		Message:     req.Message,
		Disposition: types.Disposition(req.Disposition),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleUserDetail resolves an issued signature into the attributes its
// scopes grant. The signature is the only credential.
func (s *Server) handleUserDetail(w http.ResponseWriter, r *http.Request) {
	signature := r.URL.Query().Get("sign")
	if signature == "" {
		s.writeError(w, apperrors.BadRequest("Missing sign parameter"))
		return
	}

	info, err := s.signService.ResolveUserInfo(r.Context(), signature)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// handleBindMessage returns the fixed challenge to sign when binding an
// external address
func (s *Server) handleBindMessage(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"message": app.BindChallengeMessage})
}

// BindAddressRequest proves control of an external address
type BindAddressRequest struct {
	Address   string `json:"address"`
	Signature string `json:"sign"`
}

// handleBindAddress binds an externally-owned address to the caller
func (s *Server) handleBindAddress(w http.ResponseWriter, r *http.Request) {
	p, err := s.principal(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req BindAddressRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.signService.BindOuterAddress(r.Context(), p.UserID, req.Address, req.Signature); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "bound"})
}
