// Package config provides configuration management for rolepool.
//
// A single Config describes the backend endpoint (driver and DSN), the pool
// defaults shared by every database, per-database overrides, and the logging,
// metrics and tracing sections.
//
// # Key Features
//
// - PoolConfig: sizing, timeouts, login identity and security policy for one pool
// - Per-database sections overlaid on a shared defaults section
// - Environment variable substitution with ${VAR_NAME} syntax
// - ROLEPOOL_* environment overrides for top-level keys
// - Validation of sizing, timeouts and policy names
//
// # Usage
//
// ## Loading from YAML
//
//	cfg, err := config.Load("rolepool.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// ## Environment Variable Substitution
//
//	# rolepool.yaml
//	driver: postgres
//	dsn: postgres://${PGHOST}:5432/postgres
//	defaults:
//	  username: reporter
//	  password: ${REPORTER_PASSWORD}
//	  security_policy: default
//	databases:
//	  sales:
//	    max_pool_size: 20
//	    security_policy: strict
//
// ## Programmatic Configuration
//
//	src := config.NewStaticSource()
//	src.Defaults.Username = "reporter"
//	src.Databases["sales"] = pc
//
// Both *Config and *StaticSource implement Source, which the registry asks
// for the configuration of a database the first time it is used.
//
// # Security Policies
//
// - disabled: no checks
// - default: the login identity must be able to log in and must not be privileged
// - strict: additionally, an assumed identity must be neither privileged nor loginable
package config
