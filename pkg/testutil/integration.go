package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/rolepool/pkg/config"
)

// PostgresDSNEnv names the environment variable holding a superuser DSN for
// the live PostgreSQL suite
const PostgresDSNEnv = "ROLEPOOL_TEST_POSTGRES_DSN"

const fixturePassword = "rolepool-it"

// PostgresSuite provides base functionality for tests against a live
// PostgreSQL server. It creates a login role, a privileged login role and a
// non-login role, and drops them afterwards. Without PostgresDSNEnv the suite
// is skipped.
type PostgresSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time

	dsn      string
	database string
	admin    *pgxpool.Pool
	suffix   string
	roles    []string
}

// SetupSuite runs before all tests in the suite
func (s *PostgresSuite) SetupSuite() {
	IntegrationTest(s.T())

	s.dsn = os.Getenv(PostgresDSNEnv)
	if s.dsn == "" {
		s.T().Skipf("%s not set", PostgresDSNEnv)
	}

	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()
	s.suffix = fmt.Sprintf("%d", time.Now().UnixNano()%1_000_000)

	admin, err := pgxpool.New(s.ctx, s.dsn)
	require.NoError(s.T(), err)
	s.admin = admin
	s.database = admin.Config().ConnConfig.Database

	statements := []string{
		fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD '%s'", s.quoted("reporter"), fixturePassword),
		fmt.Sprintf("CREATE ROLE %s SUPERUSER LOGIN", s.quoted("admin")),
		fmt.Sprintf("CREATE ROLE %s NOLOGIN", s.quoted("viewer")),
		fmt.Sprintf("GRANT %s TO %s", s.quoted("viewer"), s.quoted("reporter")),
		fmt.Sprintf("GRANT %s TO %s", s.quoted("admin"), s.quoted("reporter")),
	}
	s.roles = []string{s.Role("reporter"), s.Role("admin"), s.Role("viewer")}
	for _, stmt := range statements {
		_, err := s.admin.Exec(s.ctx, stmt)
		require.NoError(s.T(), err, stmt)
	}

	s.T().Logf("PostgreSQL suite started against database %q", s.database)
}

// TearDownSuite runs after all tests in the suite
func (s *PostgresSuite) TearDownSuite() {
	if s.admin == nil {
		return
	}
	for i := len(s.roles) - 1; i >= 0; i-- {
		if _, err := s.admin.Exec(s.ctx, "DROP ROLE IF EXISTS "+pgx.Identifier{s.roles[i]}.Sanitize()); err != nil {
			s.T().Logf("failed to drop role %s: %v", s.roles[i], err)
		}
	}
	s.admin.Close()
	s.cancel()

	s.T().Logf("PostgreSQL suite completed in %v", time.Since(s.startTime))
}

// Context returns the suite context
func (s *PostgresSuite) Context() context.Context {
	return s.ctx
}

// DSN returns the superuser DSN the suite connects with
func (s *PostgresSuite) DSN() string {
	return s.dsn
}

// Database returns the database named by the DSN
func (s *PostgresSuite) Database() string {
	return s.database
}

// Role returns the server-side name of a fixture role: reporter, admin or viewer
func (s *PostgresSuite) Role(name string) string {
	return fmt.Sprintf("rolepool_it_%s_%s", name, s.suffix)
}

// PoolConfig returns a configuration logging in as the reporter role
func (s *PostgresSuite) PoolConfig(policy string) config.PoolConfig {
	cfg := config.DefaultPoolConfig()
	cfg.Username = s.Role("reporter")
	cfg.Password = fixturePassword
	cfg.MaxPoolSize = 4
	cfg.MinIdle = 0
	cfg.ConnectionTimeout = 10 * time.Second
	cfg.SecurityPolicy = policy
	return cfg
}

func (s *PostgresSuite) quoted(name string) string {
	return pgx.Identifier{s.Role(name)}.Sanitize()
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}
