package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AddressKind distinguishes custodial from user-proved addresses
type AddressKind string

const (
	// AddressKindInner is a custodial address whose private key is held by the system
	AddressKindInner AddressKind = "inner"

	// AddressKindOuter is an externally-owned address bound by proof-of-signature
	AddressKindOuter AddressKind = "outer"
)

// Disposition is the recorded outcome of a signing request
type Disposition string

const (
	DispositionSigned   Disposition = "signed"
	DispositionRejected Disposition = "rejected"
)

// TxStatus is the lifecycle state of a custodial transaction.
// Only submitted transactions may move to replaced or cancelled;
// confirmed and failed are terminal.
type TxStatus string

const (
	TxStatusCreated   TxStatus = "created"
	TxStatusSubmitted TxStatus = "submitted"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusReplaced  TxStatus = "replaced"
	TxStatusCancelled TxStatus = "cancelled"
	TxStatusFailed    TxStatus = "failed"
)

// User is a registered custody account, keyed by phone number
type User struct {
	ID        uuid.UUID `json:"id"`
	Phone     string    `json:"phone"`
	UserName  string    `json:"user_name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Card      string    `json:"card,omitempty"`
	Region    string    `json:"region,omitempty"`
	Level     int       `json:"level"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ManagedAddress is one blockchain address under the system's awareness for a user.
// EncryptedKey is present only for inner addresses and never serialized.
// SignID back-references the consent record that proved ownership (outer only).
type ManagedAddress struct {
	ID           uuid.UUID   `json:"id"`
	UserID       uuid.UUID   `json:"user_id"`
	Address      string      `json:"address"`
	Kind         AddressKind `json:"kind"`
	EncryptedKey []byte      `json:"-"`
	SignID       *uuid.UUID  `json:"sign_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// SignatureRecord is an immutable audit entry for one issued or rejected signature
type SignatureRecord struct {
	ID          uuid.UUID   `json:"id"`
	Creator     uuid.UUID   `json:"creator"`
	Address     string      `json:"address"`
	Message     string      `json:"message"`
	Signature   string      `json:"sign"`
	AppID       *uuid.UUID  `json:"app_id,omitempty"`
	RedirectURL *string     `json:"redirect_url,omitempty"`
	Disposition Disposition `json:"disposition"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Application is the identity of a relying party. Read-only to this service;
// redirect URLs and developers change only through administrative updates.
type Application struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Domain       string    `json:"domain,omitempty"`
	Logo         string    `json:"logo,omitempty"`
	RedirectURLs []string  `json:"redirect_urls"`
	Developers   []string  `json:"developers"`
}

// Contract is a registered contract an application exposes to its users
type Contract struct {
	ID        uuid.UUID       `json:"id"`
	AppID     *uuid.UUID      `json:"app_id,omitempty"`
	Name      string          `json:"name"`
	Address   string          `json:"address"`
	ABI       json.RawMessage `json:"abi,omitempty"`
	Code      string          `json:"code,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
