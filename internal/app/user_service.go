package app

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dou-wallet/dou-gateway/internal/eth"
	"github.com/dou-wallet/dou-gateway/internal/middleware"
	"github.com/dou-wallet/dou-gateway/internal/sms"
	"github.com/dou-wallet/dou-gateway/internal/storage"
	apperrors "github.com/dou-wallet/dou-gateway/pkg/errors"
	"github.com/dou-wallet/dou-gateway/pkg/types"
)

var (
	phoneRegexp = regexp.MustCompile(`^1[3456789]\d{9}$`)
	cardRegexp  = regexp.MustCompile(`^(\d{15}$|^\d{18}$|^\d{17}(\d|X|x))$`)
)

// UserStore is the persistence surface consumed by UserService.
// *storage.UserRepository satisfies it.
type UserStore interface {
	Create(ctx context.Context, tx storage.DBTX, phone string) (*types.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.User, error)
	GetByPhone(ctx context.Context, phone string) (*types.User, error)
	UpdateProfile(ctx context.Context, u *types.User) error
}

// TransactionLister reads transaction history per address
type TransactionLister interface {
	ListByAddress(ctx context.Context, address string) ([]storage.Transaction, error)
}

// UserService handles phone-based registration, login, and profile
// management. Registration is implicit: a login with an unseen phone
// creates the user together with their custodial address in one
// transaction.
type UserService struct {
	db      TxRunner
	users   UserStore
	custody CustodyStore
	sms     *sms.Manager
	auth    *middleware.AuthMiddleware
	chain   eth.Provider
	txs     TransactionLister
	log     *slog.Logger
}

// NewUserService creates a new user service
func NewUserService(db TxRunner, users UserStore, custodyStore CustodyStore, smsManager *sms.Manager, auth *middleware.AuthMiddleware, chain eth.Provider, txs TransactionLister, log *slog.Logger) *UserService {
	return &UserService{
		db:      db,
		users:   users,
		custody: custodyStore,
		sms:     smsManager,
		auth:    auth,
		chain:   chain,
		txs:     txs,
		log:     log,
	}
}

// SendCode sends a login verification code to a phone number
func (s *UserService) SendCode(ctx context.Context, phone string) error {
	if !phoneRegexp.MatchString(phone) {
		return apperrors.BadRequest("Invalid phone number")
	}
	return s.sms.SendCode(ctx, phone)
}

// LoginResult carries the session token and the authenticated user.
// Registered is true when this login created the account.
type LoginResult struct {
	Token      string      `json:"token"`
	User       *types.User `json:"user"`
	Registered bool        `json:"registered"`
}

// Login verifies a phone code and returns a session token, registering the
// user on first login. Registration creates the user's custodial address in
// the same database transaction, so no user exists without one.
func (s *UserService) Login(ctx context.Context, phone, code string) (*LoginResult, error) {
	if !phoneRegexp.MatchString(phone) {
		return nil, apperrors.BadRequest("Invalid phone number")
	}
	if err := s.sms.CheckCode(phone, code, false); err != nil {
		return nil, err
	}

	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	registered := false
	if user == nil {
		user, err = s.register(ctx, phone)
		if err != nil {
			return nil, err
		}
		registered = true
	}

	token, err := s.auth.IssueToken(user.ID, user.Phone)
	if err != nil {
		return nil, apperrors.NewWithDetail(apperrors.ErrCodeInternalError, "Failed to issue token", err.Error(), 500)
	}

	s.log.Info("user logged in", "user_id", user.ID, "registered", registered)
	return &LoginResult{Token: token, User: user, Registered: registered}, nil
}

func (s *UserService) register(ctx context.Context, phone string) (*types.User, error) {
	var user *types.User
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		u, err := s.users.Create(ctx, tx, phone)
		if err != nil {
			return err
		}
		if _, err := s.custody.CreateInnerAddress(ctx, tx, u.ID); err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, apperrors.New(apperrors.ErrCodeConflict, "Phone already registered", 409)
		}
		return nil, err
	}
	s.log.Info("registered new user", "user_id", user.ID)
	return user, nil
}

// ProfileUpdate carries optional profile fields; nil means unchanged
type ProfileUpdate struct {
	UserName *string `json:"user_name"`
	Email    *string `json:"email"`
	Card     *string `json:"card"`
	Region   *string `json:"region"`
}

// UpdateProfile validates and applies a partial profile update
func (s *UserService) UpdateProfile(ctx context.Context, userID uuid.UUID, upd *ProfileUpdate) (*types.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NotFound("User")
	}

	if upd.Email != nil {
		if *upd.Email != "" && !govalidator.IsEmail(*upd.Email) {
			return nil, apperrors.BadRequest("Invalid email address")
		}
		user.Email = *upd.Email
	}
	if upd.Card != nil {
		if *upd.Card != "" && !cardRegexp.MatchString(*upd.Card) {
			return nil, apperrors.BadRequest("Invalid identity card number")
		}
		user.Card = *upd.Card
	}
	if upd.UserName != nil {
		user.UserName = *upd.UserName
	}
	if upd.Region != nil {
		user.Region = *upd.Region
	}

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Profile is a user with their managed addresses
type Profile struct {
	User      *types.User           `json:"user"`
	Addresses []types.ManagedAddress `json:"addresses"`
}

// Profile returns the user's profile together with their addresses
func (s *UserService) Profile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NotFound("User")
	}

	addresses, err := s.custody.Addresses(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Profile{User: user, Addresses: addresses}, nil
}

// Balance is one address balance in both wei and ether denominations
type Balance struct {
	Address string `json:"address"`
	Kind    string `json:"kind"`
	Wei     string `json:"wei"`
	Ether   string `json:"ether"`
}

// Balances returns the chain balance of each of the user's addresses
func (s *UserService) Balances(ctx context.Context, userID uuid.UUID) ([]Balance, error) {
	addresses, err := s.custody.Addresses(ctx, userID)
	if err != nil {
		return nil, err
	}

	balances := make([]Balance, 0, len(addresses))
	for _, addr := range addresses {
		wei, err := s.chain.GetBalance(ctx, addr.Address)
		if err != nil {
			return nil, apperrors.ChainRejected(err.Error())
		}
		ether := decimal.NewFromBigInt(wei, -18)
		balances = append(balances, Balance{
			Address: addr.Address,
			Kind:    string(addr.Kind),
			Wei:     wei.String(),
			Ether:   ether.String(),
		})
	}
	return balances, nil
}

// Transactions returns records where any of the user's addresses is the
// sender or the recipient, newest first per address
func (s *UserService) Transactions(ctx context.Context, userID uuid.UUID) ([]storage.Transaction, error) {
	addresses, err := s.custody.Addresses(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool)
	var all []storage.Transaction
	for _, addr := range addresses {
		records, err := s.txs.ListByAddress(ctx, addr.Address)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if seen[rec.ID] {
				continue
			}
			seen[rec.ID] = true
			all = append(all, rec)
		}
	}
	return all, nil
}
