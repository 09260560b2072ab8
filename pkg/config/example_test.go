package config_test

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ajitpratap0/rolepool/pkg/config"
)

// ExampleDefaultPoolConfig demonstrates the defaults applied to a new pool.
func ExampleDefaultPoolConfig() {
	cfg := config.DefaultPoolConfig()

	fmt.Printf("Max Pool Size: %d\n", cfg.MaxPoolSize)
	fmt.Printf("Connection Timeout: %s\n", cfg.ConnectionTimeout)
	fmt.Printf("Security Policy: %s\n", cfg.Policy())

	// Output:
	// Max Pool Size: 10
	// Connection Timeout: 30s
	// Security Policy: default
}

// ExampleConfig_Validate shows how to validate a configuration
// before handing it to a registry.
func ExampleConfig_Validate() {
	cfg := config.NewConfig("postgres", "postgres://app@localhost:5432/postgres")

	sales := cfg.Defaults
	sales.Username = "reporter"
	sales.SecurityPolicy = config.PolicyStrict
	sales.ConnectionTimeout = 5 * time.Second
	cfg.Databases["sales"] = sales

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("Configuration is valid!")

	// Output:
	// Configuration is valid!
}

// ExampleLoad demonstrates loading configuration from a YAML file
// with environment variable substitution.
func ExampleLoad() {
	dir, err := os.MkdirTemp("", "rolepool-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	os.Setenv("EXAMPLE_SALES_PASSWORD", "s3cret")
	defer os.Unsetenv("EXAMPLE_SALES_PASSWORD")

	path := filepath.Join(dir, "rolepool.yaml")
	content := `
driver: postgres
dsn: postgres://localhost:5432/postgres
defaults:
  max_pool_size: 8
databases:
  sales:
    username: reporter
    password: ${EXAMPLE_SALES_PASSWORD}
    security_policy: strict
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		log.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal(err)
	}

	sales, _ := cfg.PoolConfig("sales")
	fmt.Println(sales.Username, sales.SecurityPolicy, sales.MaxPoolSize, sales.Password == "s3cret")

	// Output:
	// reporter strict 8 true
}
