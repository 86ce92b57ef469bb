package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	apperrors "github.com/dou-wallet/dou-gateway/pkg/errors"
)

// handleListApplications lists the application catalog
func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.applications.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"applications": apps})
}

// handleGetApplication returns one application by ID
func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	appID, err := uuid.Parse(r.PathValue("appID"))
	if err != nil {
		s.writeError(w, apperrors.BadRequest("Invalid application ID"))
		return
	}

	app, err := s.applications.GetByID(r.Context(), appID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if app == nil {
		s.writeError(w, apperrors.AppNotFound(appID.String()))
		return
	}
	s.writeJSON(w, http.StatusOK, app)
}

// handleGetContract returns a registered contract by address
func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if !common.IsHexAddress(address) {
		s.writeError(w, apperrors.BadRequest("Invalid contract address"))
		return
	}

	contract, err := s.contracts.GetByAddress(r.Context(), address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if contract == nil {
		s.writeError(w, apperrors.NotFound("Contract"))
		return
	}
	s.writeJSON(w, http.StatusOK, contract)
}
