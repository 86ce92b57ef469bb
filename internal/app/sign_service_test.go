package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dou-wallet/dou-gateway/internal/custody"
	"github.com/dou-wallet/dou-gateway/internal/storage"
	apperrors "github.com/dou-wallet/dou-gateway/pkg/errors"
	"github.com/dou-wallet/dou-gateway/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// passthroughRunner runs the callback without a real database transaction
type passthroughRunner struct{}

func (passthroughRunner) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type mockApps struct {
	GetByIDFunc func(ctx context.Context, id uuid.UUID) (*types.Application, error)
}

func (m *mockApps) GetByID(ctx context.Context, id uuid.UUID) (*types.Application, error) {
	return m.GetByIDFunc(ctx, id)
}

type mockUsers struct {
	GetByIDFunc func(ctx context.Context, id uuid.UUID) (*types.User, error)
}

func (m *mockUsers) GetByID(ctx context.Context, id uuid.UUID) (*types.User, error) {
	return m.GetByIDFunc(ctx, id)
}

type mockLedger struct {
	records   []*types.SignatureRecord
	createErr error
}

func (m *mockLedger) Create(ctx context.Context, tx storage.DBTX, rec *types.SignatureRecord) (*types.SignatureRecord, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	stored := *rec
	stored.ID = uuid.New()
	stored.CreatedAt = time.Now()
	m.records = append(m.records, &stored)
	return &stored, nil
}

func (m *mockLedger) GetBySignature(ctx context.Context, signature string) (*types.SignatureRecord, error) {
	for _, rec := range m.records {
		if rec.Signature == signature {
			return rec, nil
		}
	}
	return nil, nil
}

type mockCustody struct {
	CreateInnerAddressFunc func(ctx context.Context, tx storage.DBTX, userID uuid.UUID) (*types.ManagedAddress, error)
	ResolveInnerKeyFunc    func(ctx context.Context, userID uuid.UUID) (*custody.InnerKey, error)
	BindOuterFunc          func(ctx context.Context, tx storage.DBTX, userID uuid.UUID, address string, signID uuid.UUID) (*types.ManagedAddress, error)
	AddressesFunc          func(ctx context.Context, userID uuid.UUID) ([]types.ManagedAddress, error)
}

func (m *mockCustody) CreateInnerAddress(ctx context.Context, tx storage.DBTX, userID uuid.UUID) (*types.ManagedAddress, error) {
	return m.CreateInnerAddressFunc(ctx, tx, userID)
}

func (m *mockCustody) ResolveInnerKey(ctx context.Context, userID uuid.UUID) (*custody.InnerKey, error) {
	return m.ResolveInnerKeyFunc(ctx, userID)
}

func (m *mockCustody) BindOuter(ctx context.Context, tx storage.DBTX, userID uuid.UUID, address string, signID uuid.UUID) (*types.ManagedAddress, error) {
	return m.BindOuterFunc(ctx, tx, userID, address, signID)
}

func (m *mockCustody) Addresses(ctx context.Context, userID uuid.UUID) ([]types.ManagedAddress, error) {
	return m.AddressesFunc(ctx, userID)
}

func newTestKey(t *testing.T) (*custody.InnerKey, string) {
	t.Helper()
	pk, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(pk.PublicKey).Hex()
	return custody.NewInnerKey(address, crypto.FromECDSA(pk)), address
}

func TestCheckAppPermission(t *testing.T) {
	appID := uuid.New()
	app := &types.Application{
		ID:           appID,
		Name:         "demo",
		RedirectURLs: []string{"https://demo.example/callback"},
		Developers:   []string{"dev@demo.example"},
	}

	tests := []struct {
		name        string
		app         *types.Application
		redirectURL string
		operator    string
		wantCode    string
	}{
		{
			name:        "valid",
			app:         app,
			redirectURL: "https://demo.example/callback",
		},
		{
			name:        "unknown app",
			app:         nil,
			redirectURL: "https://demo.example/callback",
			wantCode:    apperrors.ErrCodeNotFound,
		},
		{
			name:        "unregistered redirect",
			app:         app,
			redirectURL: "https://evil.example/callback",
			wantCode:    apperrors.ErrCodeInvalidRedirect,
		},
		{
			name:        "operator is a developer",
			app:         app,
			redirectURL: "https://demo.example/callback",
			operator:    "dev@demo.example",
		},
		{
			name:        "operator is not a developer",
			app:         app,
			redirectURL: "https://demo.example/callback",
			operator:    "stranger@example.com",
			wantCode:    apperrors.ErrCodeForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewSignService(
				passthroughRunner{},
				&mockApps{GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*types.Application, error) {
					return tt.app, nil
				}},
				nil, nil, &mockLedger{}, testLogger(),
			)

			got, err := svc.CheckAppPermission(context.Background(), appID, tt.redirectURL, tt.operator)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, tt.wantCode))
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, appID, got.ID)
		})
	}
}

func TestIssueSigned(t *testing.T) {
	key, address := newTestKey(t)
	userID := uuid.New()
	appID := uuid.New()
	ledger := &mockLedger{}

	svc := NewSignService(
		passthroughRunner{},
		&mockApps{GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*types.Application, error) {
			return &types.Application{ID: appID, RedirectURLs: []string{"https://demo.example/cb"}}, nil
		}},
		nil,
		&mockCustody{ResolveInnerKeyFunc: func(ctx context.Context, id uuid.UUID) (*custody.InnerKey, error) {
			return key, nil
		}},
		ledger,
		testLogger(),
	)

	result, err := svc.Issue(context.Background(), &IssueRequest{
		UserID:      userID,
		AppID:       appID,
		RedirectURL: "https://demo.example/cb",
		Message:     "authorize me",
		Disposition: types.DispositionSigned,
	})
	require.NoError(t, err)
	assert.Equal(t, address, result.Address)
	assert.Equal(t, "authorize me", result.Message)
	assert.NotEmpty(t, result.Signature)

	// The signature recovers to the custodial address
	recovered, err := recoverPersonalSigner("authorize me", result.Signature)
	require.NoError(t, err)
	assert.Equal(t, address, recovered)

	require.Len(t, ledger.records, 1)
	assert.Equal(t, types.DispositionSigned, ledger.records[0].Disposition)
	assert.Equal(t, result.Signature, ledger.records[0].Signature)
}

func TestIssueRejected(t *testing.T) {
	address := "0x1111111111111111111111111111111111111111"
	userID := uuid.New()
	appID := uuid.New()
	ledger := &mockLedger{}

	// ResolveInnerKeyFunc stays nil: a rejection must never decrypt the key
	svc := NewSignService(
		passthroughRunner{},
		&mockApps{GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*types.Application, error) {
			return &types.Application{ID: appID, RedirectURLs: []string{"https://demo.example/cb"}}, nil
		}},
		nil,
		&mockCustody{AddressesFunc: func(ctx context.Context, id uuid.UUID) ([]types.ManagedAddress, error) {
			return []types.ManagedAddress{{Address: address, Kind: types.AddressKindInner}}, nil
		}},
		ledger,
		testLogger(),
	)

	result, err := svc.Issue(context.Background(), &IssueRequest{
		UserID:      userID,
		AppID:       appID,
		RedirectURL: "https://demo.example/cb",
		Message:     "authorize me",
		Disposition: types.DispositionRejected,
	})
	require.NoError(t, err)

	// A rejection returns an empty result but still leaves a ledger entry
	assert.Empty(t, result.Signature)
	assert.Empty(t, result.Message)
	assert.Empty(t, result.Address)

	require.Len(t, ledger.records, 1)
	rec := ledger.records[0]
	assert.Equal(t, types.DispositionRejected, rec.Disposition)
	assert.Empty(t, rec.Signature)
	assert.Equal(t, address, rec.Address)
	assert.Equal(t, "authorize me", rec.Message)
}

func TestIssueLedgerWriteFailure(t *testing.T) {
	appID := uuid.New()
	key, _ := newTestKey(t)
	ledger := &mockLedger{createErr: errors.New("connection reset")}

	svc := NewSignService(
		passthroughRunner{},
		&mockApps{GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*types.Application, error) {
			return &types.Application{ID: appID, RedirectURLs: []string{"https://demo.example/cb"}}, nil
		}},
		nil,
		&mockCustody{ResolveInnerKeyFunc: func(ctx context.Context, id uuid.UUID) (*custody.InnerKey, error) {
			return key, nil
		}},
		ledger,
		testLogger(),
	)

	// No signature leaves the service when the ledger write fails
	result, err := svc.Issue(context.Background(), &IssueRequest{
		UserID:      uuid.New(),
		AppID:       appID,
		RedirectURL: "https://demo.example/cb",
		Message:     "authorize me",
		Disposition: types.DispositionSigned,
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Empty(t, ledger.records)
}

func TestIssueInvalidDisposition(t *testing.T) {
	ledger := &mockLedger{}
	svc := NewSignService(passthroughRunner{}, nil, nil, nil, ledger, testLogger())

	_, err := svc.Issue(context.Background(), &IssueRequest{
		UserID:      uuid.New(),
		AppID:       uuid.New(),
		Disposition: types.Disposition("maybe"),
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))
	assert.Empty(t, ledger.records)
}

func TestBindOuterAddress(t *testing.T) {
	pk, err := crypto.GenerateKey()
	require.NoError(t, err)
	outer := crypto.PubkeyToAddress(pk.PublicKey).Hex()

	outerKey := custody.NewInnerKey(outer, crypto.FromECDSA(pk))
	proof, err := signPersonalMessage(BindChallengeMessage, outerKey)
	require.NoError(t, err)

	t.Run("valid proof binds", func(t *testing.T) {
		userID := uuid.New()
		ledger := &mockLedger{}
		var boundAddress string
		var boundSignID uuid.UUID
		svc := NewSignService(
			passthroughRunner{}, nil, nil,
			&mockCustody{BindOuterFunc: func(ctx context.Context, tx storage.DBTX, id uuid.UUID, address string, signID uuid.UUID) (*types.ManagedAddress, error) {
				boundAddress = address
				boundSignID = signID
				return &types.ManagedAddress{UserID: id, Address: address, Kind: types.AddressKindOuter}, nil
			}},
			ledger, testLogger(),
		)

		require.NoError(t, svc.BindOuterAddress(context.Background(), userID, outer, proof))
		assert.Equal(t, outer, boundAddress)

		// The binding references the ledger entry for the proof
		require.Len(t, ledger.records, 1)
		assert.Equal(t, ledger.records[0].ID, boundSignID)
		assert.Equal(t, BindChallengeMessage, ledger.records[0].Message)
	})

	t.Run("claimed address does not match signer", func(t *testing.T) {
		ledger := &mockLedger{}
		svc := NewSignService(passthroughRunner{}, nil, nil, nil, ledger, testLogger())

		err := svc.BindOuterAddress(context.Background(), uuid.New(), "0x000000000000000000000000000000000000dEaD", proof)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSignatureMismatch))
		assert.Empty(t, ledger.records)
	})

	t.Run("garbage signature", func(t *testing.T) {
		svc := NewSignService(passthroughRunner{}, nil, nil, nil, &mockLedger{}, testLogger())

		err := svc.BindOuterAddress(context.Background(), uuid.New(), outer, "0xnothex")
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSignatureMismatch))
	})

	t.Run("address already bound", func(t *testing.T) {
		svc := NewSignService(
			passthroughRunner{}, nil, nil,
			&mockCustody{BindOuterFunc: func(ctx context.Context, tx storage.DBTX, id uuid.UUID, address string, signID uuid.UUID) (*types.ManagedAddress, error) {
				return nil, apperrors.AlreadyBound(address)
			}},
			&mockLedger{}, testLogger(),
		)

		err := svc.BindOuterAddress(context.Background(), uuid.New(), outer, proof)
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyBound))
	})
}

func TestResolveUserInfo(t *testing.T) {
	userID := uuid.New()
	user := &types.User{
		ID:     userID,
		Phone:  "13800138000",
		Email:  "u@example.com",
		Card:   "110101199001011234",
		Region: "Beijing",
	}
	users := &mockUsers{GetByIDFunc: func(ctx context.Context, id uuid.UUID) (*types.User, error) {
		if id == userID {
			return user, nil
		}
		return nil, nil
	}}
	custodyStore := &mockCustody{AddressesFunc: func(ctx context.Context, id uuid.UUID) ([]types.ManagedAddress, error) {
		return []types.ManagedAddress{
			{Address: "0xaaa", Kind: types.AddressKindInner},
			{Address: "0xbbb", Kind: types.AddressKindOuter},
		}, nil
	}}

	newsvc := func(ledger *mockLedger) *SignService {
		return NewSignService(passthroughRunner{}, nil, users, custodyStore, ledger, testLogger())
	}

	t.Run("resolves granted scopes", func(t *testing.T) {
		ledger := &mockLedger{records: []*types.SignatureRecord{{
			Creator:   userID,
			Signature: "0xsig",
			Message:   "Authorize demo\n\nResources:\n- user.phone\n- user.addresses",
		}}}

		info, err := newsvc(ledger).ResolveUserInfo(context.Background(), "0xsig")
		require.NoError(t, err)
		assert.Equal(t, "13800138000", info["phone"])
		assert.Equal(t, []string{"0xaaa", "0xbbb"}, info["addresses"])
		assert.NotContains(t, info, "email")
		assert.NotContains(t, info, "card")
	})

	t.Run("idempotent", func(t *testing.T) {
		ledger := &mockLedger{records: []*types.SignatureRecord{{
			Creator:   userID,
			Signature: "0xsig",
			Message:   "Resources:\n- user.email",
		}}}
		svc := newsvc(ledger)

		first, err := svc.ResolveUserInfo(context.Background(), "0xsig")
		require.NoError(t, err)
		second, err := svc.ResolveUserInfo(context.Background(), "0xsig")
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("unknown signature", func(t *testing.T) {
		_, err := newsvc(&mockLedger{}).ResolveUserInfo(context.Background(), "0xmissing")
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnknownSignature))
	})

	t.Run("expired message", func(t *testing.T) {
		ledger := &mockLedger{records: []*types.SignatureRecord{{
			Creator:   userID,
			Signature: "0xsig",
			Message:   "Expiration Time: 2020-01-01T00:00:00Z\nResources:\n- user.phone",
		}}}

		_, err := newsvc(ledger).ResolveUserInfo(context.Background(), "0xsig")
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeExpired))
	})

	t.Run("no resources grants nothing", func(t *testing.T) {
		ledger := &mockLedger{records: []*types.SignatureRecord{{
			Creator:   userID,
			Signature: "0xsig",
			Message:   "just a plain message",
		}}}

		info, err := newsvc(ledger).ResolveUserInfo(context.Background(), "0xsig")
		require.NoError(t, err)
		assert.Empty(t, info)
	})
}
