package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dou-wallet/dou-gateway/internal/custody"
	"github.com/dou-wallet/dou-gateway/internal/metrics"
	"github.com/dou-wallet/dou-gateway/internal/scope"
	"github.com/dou-wallet/dou-gateway/internal/storage"
	apperrors "github.com/dou-wallet/dou-gateway/pkg/errors"
	"github.com/dou-wallet/dou-gateway/pkg/types"
)

// BindChallengeMessage is the fixed message a user signs with an external
// wallet to prove control of an outer address
const BindChallengeMessage = "dou nb!"

// TxRunner runs a function inside a database transaction.
// *storage.Store satisfies it; tests substitute a pass-through.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// ApplicationDirectory looks up relying-party applications
type ApplicationDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.Application, error)
}

// UserDirectory looks up user records
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.User, error)
}

// ConsentLedger is the append-only signature record store
type ConsentLedger interface {
	Create(ctx context.Context, tx storage.DBTX, rec *types.SignatureRecord) (*types.SignatureRecord, error)
	GetBySignature(ctx context.Context, signature string) (*types.SignatureRecord, error)
}

// CustodyStore resolves custodial keys and manages address bindings
type CustodyStore interface {
	CreateInnerAddress(ctx context.Context, tx storage.DBTX, userID uuid.UUID) (*types.ManagedAddress, error)
	ResolveInnerKey(ctx context.Context, userID uuid.UUID) (*custody.InnerKey, error)
	BindOuter(ctx context.Context, tx storage.DBTX, userID uuid.UUID, address string, signID uuid.UUID) (*types.ManagedAddress, error)
	Addresses(ctx context.Context, userID uuid.UUID) ([]types.ManagedAddress, error)
}

// SignService guards application permissions, issues signatures with
// custodial keys, and resolves issued signatures into user attributes
type SignService struct {
	runner  TxRunner
	apps    ApplicationDirectory
	users   UserDirectory
	custody CustodyStore
	ledger  ConsentLedger
	log     *slog.Logger
}

// NewSignService creates a new sign service
func NewSignService(
	runner TxRunner,
	apps ApplicationDirectory,
	users UserDirectory,
	custodyStore CustodyStore,
	ledger ConsentLedger,
	log *slog.Logger,
) *SignService {
	return &SignService{
		runner:  runner,
		apps:    apps,
		users:   users,
		custody: custodyStore,
		ledger:  ledger,
		log:     log,
	}
}

// CheckAppPermission validates that appID names a known application, that
// redirectURL is registered for it, and, when operator is non-empty, that
// the operator is one of its developers. It is the sole authorization gate
// for third-party signature and transaction flows. Read-only.
func (s *SignService) CheckAppPermission(ctx context.Context, appID uuid.UUID, redirectURL, operator string) (*types.Application, error) {
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up application: %w", err)
	}
	if app == nil {
		return nil, apperrors.AppNotFound(appID.String())
	}

	registered := false
	for _, u := range app.RedirectURLs {
		if u == redirectURL {
			registered = true
			break
		}
	}
	if !registered {
		return nil, apperrors.ErrInvalidRedirect
	}

	if operator != "" {
		authorized := false
		for _, d := range app.Developers {
			if d == operator {
				authorized = true
				break
			}
		}
		if !authorized {
			return nil, apperrors.ErrForbidden
		}
	}

	return app, nil
}

// IssueRequest is a third-party application's signing request
type IssueRequest struct {
	UserID      uuid.UUID
	AppID       uuid.UUID
	RedirectURL string
	Message     string
	Disposition types.Disposition
}

// IssueResult is returned to the requesting application. All fields are
// empty when the user rejected the request.
type IssueResult struct {
	Signature string `json:"sign,omitempty"`
	Message   string `json:"message,omitempty"`
	Address   string `json:"address,omitempty"`
}

// Issue produces a personal-message signature over the request's message
// with the user's custodial key and records the consent event. A rejection
// is also recorded, with an empty signature, and returns an empty result:
// the ledger captures both outcomes.
func (s *SignService) Issue(ctx context.Context, req *IssueRequest) (*IssueResult, error) {
	if req.Disposition != types.DispositionSigned && req.Disposition != types.DispositionRejected {
		return nil, apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid disposition",
			string(req.Disposition),
			400,
		)
	}

	if _, err := s.CheckAppPermission(ctx, req.AppID, req.RedirectURL, ""); err != nil {
		return nil, err
	}

	// A rejection is only recorded; the custodial key stays encrypted
	signature := ""
	address := ""
	if req.Disposition == types.DispositionSigned {
		key, err := s.custody.ResolveInnerKey(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		defer key.Close()
		address = key.Address

		signature, err = signPersonalMessage(req.Message, key)
		if err != nil {
			return nil, err
		}
	} else {
		addr, err := s.innerAddress(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		address = addr
	}

	rec := &types.SignatureRecord{
		Creator:     req.UserID,
		Address:     address,
		Message:     req.Message,
		Signature:   signature,
		AppID:       &req.AppID,
		RedirectURL: &req.RedirectURL,
		Disposition: req.Disposition,
	}
	err := s.runner.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := s.ledger.Create(ctx, tx, rec)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.SignaturesIssued.WithLabelValues(string(req.Disposition)).Inc()
	s.log.Info("signature request recorded",
		"user_id", req.UserID,
		"app_id", req.AppID,
		"disposition", req.Disposition,
	)

	if req.Disposition == types.DispositionRejected {
		return &IssueResult{}, nil
	}
	return &IssueResult{
		Signature: signature,
		Message:   req.Message,
		Address:   address,
	}, nil
}

// innerAddress returns the user's custodial address without touching the
// encrypted key material
func (s *SignService) innerAddress(ctx context.Context, userID uuid.UUID) (string, error) {
	addresses, err := s.custody.Addresses(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, a := range addresses {
		if a.Kind == types.AddressKindInner {
			return a.Address, nil
		}
	}
	return "", apperrors.NewWithDetail(
		apperrors.ErrCodeInternalError,
		"User has no custodial address",
		userID.String(),
		500,
	)
}

// BindOuterAddress binds an externally-owned address to the user after
// verifying a signature over the fixed challenge message recovers to the
// claimed address. The proof is recorded in the consent ledger and the
// binding references it.
func (s *SignService) BindOuterAddress(ctx context.Context, userID uuid.UUID, address, signature string) error {
	recovered, err := recoverPersonalSigner(BindChallengeMessage, signature)
	if err != nil {
		return apperrors.NewWithDetail(
			apperrors.ErrCodeSignatureMismatch,
			"Signature could not be verified",
			err.Error(),
			400,
		)
	}
	if !custody.SameAddress(recovered, address) {
		return apperrors.ErrSignatureMismatch
	}

	return s.runner.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := s.ledger.Create(ctx, tx, &types.SignatureRecord{
			Creator:     userID,
			Address:     address,
			Message:     BindChallengeMessage,
			Signature:   signature,
			Disposition: types.DispositionSigned,
		})
		if err != nil {
			return err
		}

		_, err = s.custody.BindOuter(ctx, tx, userID, address, rec.ID)
		return err
	})
}

// ResolveUserInfo resolves a previously issued signature into the user
// attributes its scopes grant. The signature value is the bearer
// credential; no further authentication applies. Resolution is idempotent.
func (s *SignService) ResolveUserInfo(ctx context.Context, signature string) (map[string]interface{}, error) {
	rec, err := s.ledger.GetBySignature(ctx, signature)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperrors.ErrUnknownSignature
	}

	scopes, err := scope.Parse(rec.Message, time.Now())
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, rec.Creator)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.ErrUnknownSignature
	}

	info := make(map[string]interface{})
	for _, token := range scopes {
		switch token {
		case scope.ScopePhone:
			info["phone"] = user.Phone
		case scope.ScopeEmail:
			info["email"] = user.Email
		case scope.ScopeIdentity:
			info["card"] = user.Card
		case scope.ScopeRegion:
			info["region"] = user.Region
		case scope.ScopeAddresses:
			addresses, err := s.custody.Addresses(ctx, user.ID)
			if err != nil {
				return nil, err
			}
			list := make([]string, 0, len(addresses))
			for _, a := range addresses {
				list = append(list, a.Address)
			}
			info["addresses"] = list
		}
	}

	metrics.ScopeResolutions.Inc()
	return info, nil
}

// signPersonalMessage signs message per EIP-191 and returns the 65-byte
// signature hex-encoded with the conventional V offset of 27
func signPersonalMessage(message string, key *custody.InnerKey) (string, error) {
	pk, err := key.PrivateKey()
	if err != nil {
		return "", err
	}

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), pk)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[64] += 27

	return "0x" + hex.EncodeToString(sig), nil
}

// recoverPersonalSigner recovers the address that produced an EIP-191
// signature over message
func recoverPersonalSigner(message, signature string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return "", fmt.Errorf("signature is not valid hex: %w", err)
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	// Accept both 0/1 and 27/28 recovery ids
	if sig[64] >= 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
