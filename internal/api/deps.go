package api

import (
	"context"

	"github.com/google/uuid"

	"github.com/dou-wallet/dou-gateway/internal/app"
	"github.com/dou-wallet/dou-gateway/internal/custody"
	"github.com/dou-wallet/dou-gateway/internal/storage"
	"github.com/dou-wallet/dou-gateway/pkg/types"
)

// UserService is the subset of app.UserService used by the API layer.
// It is an interface to allow handler-level unit tests without a database.
type UserService interface {
	SendCode(ctx context.Context, phone string) error
	Login(ctx context.Context, phone, code string) (*app.LoginResult, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, upd *app.ProfileUpdate) (*types.User, error)
	Profile(ctx context.Context, userID uuid.UUID) (*app.Profile, error)
	Balances(ctx context.Context, userID uuid.UUID) ([]app.Balance, error)
	Transactions(ctx context.Context, userID uuid.UUID) ([]storage.Transaction, error)
}

// SignService is the subset of app.SignService used by the API layer
type SignService interface {
	CheckAppPermission(ctx context.Context, appID uuid.UUID, redirectURL, operator string) (*types.Application, error)
	Issue(ctx context.Context, req *app.IssueRequest) (*app.IssueResult, error)
	BindOuterAddress(ctx context.Context, userID uuid.UUID, address, signature string) error
	ResolveUserInfo(ctx context.Context, signature string) (map[string]interface{}, error)
}

// TransactionService is the subset of app.TxService used by the API layer
type TransactionService interface {
	Submit(ctx context.Context, userID uuid.UUID, key *custody.InnerKey, req *app.SubmitRequest) (string, error)
	SpeedUp(ctx context.Context, userID uuid.UUID, key *custody.InnerKey, origHash string) (string, error)
	Cancel(ctx context.Context, userID uuid.UUID, key *custody.InnerKey, origHash, refundAddress string) (string, error)
	Estimate(ctx context.Context, key *custody.InnerKey, to string, data []byte) (*app.EstimateResult, error)
}

// KeyResolver loads the caller's custodial signing key
type KeyResolver interface {
	ResolveInnerKey(ctx context.Context, userID uuid.UUID) (*custody.InnerKey, error)
}

// ApplicationDirectory serves the application catalog
type ApplicationDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.Application, error)
	List(ctx context.Context) ([]types.Application, error)
}

// ContractDirectory looks up registered contracts
type ContractDirectory interface {
	GetByAddress(ctx context.Context, address string) (*types.Contract, error)
}
