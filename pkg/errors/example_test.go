// Package errors provides examples of structured error handling in rolepool.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/rolepool/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	err := errors.New(errors.ErrorTypeSecurityViolation, "identity \"admin\" is privileged")

	err = err.WithDetail("database", "sales").
		WithDetail("identity", "admin")

	fmt.Println(err.Error())

	// Output:
	// security_violation: identity "admin" is privileged
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	originalErr := io.EOF

	err := errors.Wrap(originalErr, errors.ErrorTypeConnection, "failed to acquire connection").
		WithDetail("database", "sales")

	if errors.IsType(err, errors.ErrorTypeConnection) {
		fmt.Println("This is a connection error")
	}

	if errors.Is(err, io.EOF) {
		fmt.Println("Original error was EOF")
	}

	// Output:
	// This is a connection error
	// Original error was EOF
}

// ExampleIsRetryable shows how to check if an error is retryable.
func ExampleIsRetryable() {
	timeoutErr := errors.New(errors.ErrorTypeConnectionTimeout, "no connection available within 30s")
	securityErr := errors.New(errors.ErrorTypeSecurityViolation, "identity is privileged")

	if errors.IsRetryable(timeoutErr) {
		fmt.Println("Timeout error is retryable")
	}

	if !errors.IsRetryable(securityErr) {
		fmt.Println("Security error is not retryable")
	}

	// Output:
	// Timeout error is retryable
	// Security error is not retryable
}

// ExampleHasType demonstrates finding a classified cause behind a wrapper.
func ExampleHasType() {
	loginErr := errors.New(errors.ErrorTypeSecurityViolation, "identity \"root\" is privileged")
	creationErr := errors.Wrap(loginErr, errors.ErrorTypePoolCreationFailed, "failed to create pool \"sales\"")

	fmt.Printf("Outer is creation failure: %v\n", errors.IsType(creationErr, errors.ErrorTypePoolCreationFailed))
	fmt.Printf("Outer is security violation: %v\n", errors.IsType(creationErr, errors.ErrorTypeSecurityViolation))
	fmt.Printf("Chain has security violation: %v\n", errors.HasType(creationErr, errors.ErrorTypeSecurityViolation))
	fmt.Println(creationErr)

	// Output:
	// Outer is creation failure: true
	// Outer is security violation: false
	// Chain has security violation: true
	// pool_creation_failed: failed to create pool "sales": security_violation: identity "root" is privileged
}

// ExampleTypeOf shows classification of plain errors.
func ExampleTypeOf() {
	fmt.Println(errors.TypeOf(errors.New(errors.ErrorTypeInvalidState, "handle is closed")))
	fmt.Println(errors.TypeOf(io.ErrUnexpectedEOF))

	// Output:
	// invalid_state
	// internal
}
