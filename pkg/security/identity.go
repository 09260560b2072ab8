package security

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/rolepool/pkg/backend"
	"github.com/ajitpratap0/rolepool/pkg/errors"
)

// Identity is the backend metadata for one principal
type Identity struct {
	Name       string
	Privileged bool
	CanLogin   bool
}

// Lookup reads identity metadata through the connection's dialect.
func Lookup(ctx context.Context, conn backend.Conn, name string) (Identity, error) {
	d := conn.Dialect()
	info := Identity{Name: name}

	err := conn.QueryRow(ctx, d.IdentityQuery(), name).Scan(&info.Privileged, &info.CanLogin)
	switch {
	case err == nil:
		return info, nil
	case d.IsNoRows(err):
		return info, errors.New(errors.ErrorTypeIdentityNotFound, fmt.Sprintf("identity %q does not exist", name)).
			WithDetail("identity", name)
	default:
		return info, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to look up identity %q", name))
	}
}
