// Package security provides the login and identity-switch policies that
// guard every pool. A Policy is consulted once per pool creation with the
// login identity, and on every checkout that requests an explicit identity.
//
// Three variants are provided and selected by configuration name:
//
//	disabled  both checks approve (administrative access paths)
//	default   login check only
//	strict    login check, and switch targets must be neither privileged nor loginable
//
// Rejections are *errors.Error values typed security_violation, or
// identity_not_found when the backend does not know the identity.
package security

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/rolepool/pkg/backend"
	"github.com/ajitpratap0/rolepool/pkg/config"
	"github.com/ajitpratap0/rolepool/pkg/errors"
)

// Policy validates logins and identity switches on an open connection.
type Policy interface {
	// Name returns the configuration name of the policy
	Name() string
	// CheckLogin validates the identity used to authenticate the pool
	CheckLogin(ctx context.Context, conn backend.Conn, identity string) error
	// CheckSwitch validates a switch of conn to identity
	CheckSwitch(ctx context.Context, conn backend.Conn, identity string) error
}

// ForName returns the policy registered under name. An empty name selects Default.
func ForName(name string) (Policy, error) {
	switch name {
	case config.PolicyDisabled:
		return Disabled{}, nil
	case "", config.PolicyDefault:
		return Default{}, nil
	case config.PolicyStrict:
		return Strict{}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown security policy %q", name)
	}
}

// Disabled approves everything.
type Disabled struct{}

// Name implements Policy
func (Disabled) Name() string { return config.PolicyDisabled }

// CheckLogin implements Policy
func (Disabled) CheckLogin(context.Context, backend.Conn, string) error { return nil }

// CheckSwitch implements Policy
func (Disabled) CheckSwitch(context.Context, backend.Conn, string) error { return nil }

// Default validates the login identity and permits any switch.
type Default struct{}

// Name implements Policy
func (Default) Name() string { return config.PolicyDefault }

// CheckLogin implements Policy. The login identity must exist, be allowed to
// log in, and must not be privileged.
func (Default) CheckLogin(ctx context.Context, conn backend.Conn, identity string) error {
	return checkLogin(ctx, conn, identity)
}

// CheckSwitch implements Policy
func (Default) CheckSwitch(context.Context, backend.Conn, string) error { return nil }

// Strict validates the login like Default and rejects switches to
// privileged or directly loginable identities.
type Strict struct{}

// Name implements Policy
func (Strict) Name() string { return config.PolicyStrict }

// CheckLogin implements Policy
func (Strict) CheckLogin(ctx context.Context, conn backend.Conn, identity string) error {
	return checkLogin(ctx, conn, identity)
}

// CheckSwitch implements Policy
func (Strict) CheckSwitch(ctx context.Context, conn backend.Conn, identity string) error {
	info, err := Lookup(ctx, conn, identity)
	if err != nil {
		return err
	}
	if info.Privileged {
		return violation(identity, "is privileged and cannot be assumed")
	}
	if info.CanLogin {
		return violation(identity, "can log in directly and cannot be assumed")
	}
	return nil
}

func checkLogin(ctx context.Context, conn backend.Conn, identity string) error {
	if identity == "" {
		return errors.New(errors.ErrorTypeInvalidArgument, "login identity is required")
	}
	info, err := Lookup(ctx, conn, identity)
	if err != nil {
		return err
	}
	if !info.CanLogin {
		return violation(identity, "is not permitted to log in")
	}
	if info.Privileged {
		return violation(identity, "is privileged and cannot be used as a pool login")
	}
	return nil
}

func violation(identity, reason string) error {
	return errors.New(errors.ErrorTypeSecurityViolation, fmt.Sprintf("identity %q %s", identity, reason)).
		WithDetail("identity", identity)
}
