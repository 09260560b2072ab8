// Package identity issues the statements that change the effective identity
// of a checked-out connection and restore the login identity afterwards.
package identity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/rolepool/pkg/backend"
	"github.com/ajitpratap0/rolepool/pkg/errors"
)

// Switcher assumes and resets session identities
type Switcher struct {
	logger *zap.Logger
}

// NewSwitcher creates a switcher logging through logger
func NewSwitcher(logger *zap.Logger) *Switcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Switcher{logger: logger}
}

// Assume switches conn to identity. An identity the backend does not know
// yields identity_not_found.
func (s *Switcher) Assume(ctx context.Context, conn backend.Conn, identity string) error {
	d := conn.Dialect()
	if err := conn.Exec(ctx, d.AssumeIdentity(identity)); err != nil {
		if d.IsUnknownIdentity(err) {
			return errors.Wrap(err, errors.ErrorTypeIdentityNotFound, fmt.Sprintf("identity %q does not exist", identity)).
				WithDetail("identity", identity)
		}
		return errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to assume identity %q", identity))
	}
	s.logger.Debug("identity assumed", zap.String("identity", identity))
	return nil
}

// Reset restores the login identity on conn
func (s *Switcher) Reset(ctx context.Context, conn backend.Conn) error {
	if err := conn.Exec(ctx, conn.Dialect().ResetIdentity()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to reset identity")
	}
	return nil
}

// Current reads the effective identity of conn from the backend. When no
// identity is assumed it is the login identity.
func Current(ctx context.Context, conn backend.Conn) (string, error) {
	d := conn.Dialect()
	var raw string
	if err := conn.QueryRow(ctx, d.CurrentIdentity()).Scan(&raw); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConnection, "failed to read current identity")
	}
	if name := d.ParseIdentity(raw); name != "" {
		return name, nil
	}
	return Login(ctx, conn)
}

// Login reads the identity conn authenticated as
func Login(ctx context.Context, conn backend.Conn) (string, error) {
	var name string
	if err := conn.QueryRow(ctx, conn.Dialect().LoginIdentity()).Scan(&name); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConnection, "failed to read login identity")
	}
	return name, nil
}
