package registry

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/rolepool/pkg/backend/postgres"
	"github.com/ajitpratap0/rolepool/pkg/config"
	poolerrors "github.com/ajitpratap0/rolepool/pkg/errors"
	"github.com/ajitpratap0/rolepool/pkg/testutil"
)

type PostgresRegistrySuite struct {
	testutil.PostgresSuite
}

func TestPostgresRegistrySuite(t *testing.T) {
	suite.Run(t, new(PostgresRegistrySuite))
}

func (s *PostgresRegistrySuite) newRegistry(policy string) *Registry {
	src := config.NewStaticSource()
	src.Defaults = s.PoolConfig(policy)
	r := New(Options{
		Driver: postgres.NewDriver(s.DSN()),
		Source: src,
		Logger: testutil.TestLogger(s.T()),
	})
	s.T().Cleanup(func() { _ = r.Shutdown(s.Context()) })
	return r
}

func (s *PostgresRegistrySuite) TestCheckoutAssumesAndResets() {
	r := s.newRegistry(config.PolicyDefault)

	conn, err := r.Checkout(s.Context(), s.Database(), s.Role("viewer"))
	s.Require().NoError(err)
	current, err := conn.CurrentIdentity(s.Context())
	s.Require().NoError(err)
	s.Equal(s.Role("viewer"), current)
	conn.Release()

	conn, err = r.CheckoutDefault(s.Context(), s.Database())
	s.Require().NoError(err)
	defer conn.Release()
	current, err = conn.CurrentIdentity(s.Context())
	s.Require().NoError(err)
	s.Equal(s.Role("reporter"), current)
}

func (s *PostgresRegistrySuite) TestStrictRejectsPrivilegedIdentity() {
	r := s.newRegistry(config.PolicyStrict)

	_, err := r.Checkout(s.Context(), s.Database(), s.Role("admin"))
	s.Require().Error(err)
	s.True(poolerrors.IsType(err, poolerrors.ErrorTypeSecurityViolation))

	conn, err := r.Checkout(s.Context(), s.Database(), s.Role("viewer"))
	s.Require().NoError(err)
	conn.Release()

	stats, err := r.Stats(s.Database())
	s.Require().NoError(err)
	s.Equal(0, stats.ActiveConnections)
}

func (s *PostgresRegistrySuite) TestUnknownIdentity() {
	r := s.newRegistry(config.PolicyDefault)

	_, err := r.Checkout(s.Context(), s.Database(), s.Role("missing"))
	s.Require().Error(err)
	s.True(poolerrors.IsType(err, poolerrors.ErrorTypeIdentityNotFound))
}
