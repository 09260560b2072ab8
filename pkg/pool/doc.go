// Package pool implements the Handle that wraps one physical backend pool
// and enforces the security policy on every checkout.
//
// # Lifecycle
//
// A Handle moves through four states and never goes back:
//
//	Uninitialized → Creating → Active → Closed
//
// Open constructs the backend pool (Creating). Validate checks out one
// connection, runs the login check and activates the Handle. Close is
// terminal and idempotent. The registry drives these transitions; code that
// holds a Handle only sees it Creating (inside an after-create hook) or
// Active.
//
// # Checkout
//
// Checkout acquires a physical connection bounded by ConnectionTimeout, then
// within ValidationTimeout either assumes the requested identity and runs the
// policy's switch check, or resets the connection to the login identity:
//
//	conn, err := handle.Checkout(ctx, "viewer")
//	if err != nil {
//		return err
//	}
//	defer conn.Release()
//
//	err = conn.Exec(ctx, "UPDATE orders SET status = $1 WHERE id = $2", "shipped", id)
//
// A connection that fails the switch or the policy is reset and returned to
// the pool, or destroyed when the reset fails. It is never handed out.
//
// # Release
//
// Conn.Release restores the login identity when one was assumed and returns
// the connection to the pool. A failed restore destroys the physical
// connection. Release is idempotent.
//
// # Leak Detection
//
// With LeakDetectionThreshold set, a connection held longer than the
// threshold logs a warning naming the database, identity and hold time.
//
// # Statistics and Reconfiguration
//
// Stats, the connection counters and the Set* methods are available once the
// backend pool exists and until the Handle is closed; otherwise they fail with
// invalid_state. Sizing and lifetime changes are pushed to the backend pool
// through backend.Pool.Apply; timeouts take effect on the next checkout.
package pool
