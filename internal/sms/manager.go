// Package sms issues and verifies one-time login codes. Delivery is an
// external collaborator behind the Sender interface; codes live in an
// in-process TTL cache.
package sms

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/bluele/gcache"

	apperrors "github.com/dou-wallet/dou-gateway/pkg/errors"
)

const codeLength = 4

// Sender delivers a one-time code to a phone number
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log instead of delivering them.
// Development use only.
type LogSender struct {
	log *slog.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send logs the code
func (s *LogSender) Send(ctx context.Context, phone, code string) error {
	s.log.Info("sms code issued", "phone", phone, "code", code)
	return nil
}

// Manager issues, caches, and verifies login codes
type Manager struct {
	codes  gcache.Cache
	ttl    time.Duration
	sender Sender
}

// NewManager creates a code manager with the given code lifetime
func NewManager(sender Sender, ttl time.Duration) *Manager {
	return &Manager{
		codes:  gcache.New(100000).LRU().Build(),
		ttl:    ttl,
		sender: sender,
	}
}

// SendCode issues a fresh code for phone and dispatches it
func (m *Manager) SendCode(ctx context.Context, phone string) error {
	code, err := randomDigits(codeLength)
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	if err := m.codes.SetWithExpire(phone, code, m.ttl); err != nil {
		return fmt.Errorf("failed to cache code: %w", err)
	}

	return m.sender.Send(ctx, phone, code)
}

// CheckCode verifies the code for phone. A valid code is consumed unless
// keep is set (multi-step flows verify without burning the code).
func (m *Manager) CheckCode(phone, code string, keep bool) error {
	cached, err := m.codes.Get(phone)
	if err != nil || cached != code {
		return apperrors.NewWithDetail(
			apperrors.ErrCodeUnauthorized,
			"Invalid or expired code",
			fmt.Sprintf("phone: %s", phone),
			http.StatusUnauthorized,
		)
	}

	if !keep {
		m.codes.Remove(phone)
	}
	return nil
}

var ten = big.NewInt(10)

func randomDigits(n int) (string, error) {
	buf := make([]byte, n)
	for i := range buf {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + d.Int64())
	}
	return string(buf), nil
}
