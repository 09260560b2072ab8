package pool

import (
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"

	"github.com/ajitpratap0/rolepool/pkg/config"
	"github.com/ajitpratap0/rolepool/pkg/errors"
)

// Stats represents pool statistics for monitoring.
type Stats struct {
	Database          string `json:"database"`
	State             string `json:"state"`
	Policy            string `json:"policy"`
	ActiveConnections int    `json:"active_connections"`
	IdleConnections   int    `json:"idle_connections"`
	TotalConnections  int    `json:"total_connections"`
	MaxPoolSize       int    `json:"max_pool_size"`
}

// Stats returns a snapshot of the pool counters. Statistics, Config and the
// setters are available from Open until Close, including while the Handle is
// still Creating, so after-create hooks can inspect and tune the pool before
// its validation checkout. Before Open and after Close they fail with
// invalid_state.
func (h *Handle) Stats() (Stats, error) {
	_, p, err := h.backendPool()
	if err != nil {
		return Stats{}, err
	}
	s := p.Stat()
	return Stats{
		Database:          h.name,
		State:             h.State().String(),
		Policy:            h.policy.Name(),
		ActiveConnections: s.Acquired,
		IdleConnections:   s.Idle,
		TotalConnections:  s.Total,
		MaxPoolSize:       s.Max,
	}, nil
}

// ActiveConnections returns the number of checked-out connections
func (h *Handle) ActiveConnections() (int, error) {
	s, err := h.Stats()
	return s.ActiveConnections, err
}

// IdleConnections returns the number of idle connections
func (h *Handle) IdleConnections() (int, error) {
	s, err := h.Stats()
	return s.IdleConnections, err
}

// TotalConnections returns the number of open physical connections
func (h *Handle) TotalConnections() (int, error) {
	s, err := h.Stats()
	return s.TotalConnections, err
}

// AvailableProcessors returns the number of logical CPUs on this host
func (h *Handle) AvailableProcessors() (int, error) {
	if _, _, err := h.backendPool(); err != nil {
		return 0, err
	}
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU(), nil
	}
	return n, nil
}

// SetMaxPoolSize changes the maximum number of physical connections
func (h *Handle) SetMaxPoolSize(n int) error {
	return h.update("max_pool_size", n, func(c *config.PoolConfig) { c.MaxPoolSize = n })
}

// SetMinIdle changes the number of idle connections kept open
func (h *Handle) SetMinIdle(n int) error {
	return h.update("min_idle", n, func(c *config.PoolConfig) { c.MinIdle = n })
}

// SetConnectionTimeout changes how long checkouts wait for a connection
func (h *Handle) SetConnectionTimeout(d time.Duration) error {
	return h.update("connection_timeout", d, func(c *config.PoolConfig) { c.ConnectionTimeout = d })
}

// SetValidationTimeout changes the bound on switch and policy statements
func (h *Handle) SetValidationTimeout(d time.Duration) error {
	return h.update("validation_timeout", d, func(c *config.PoolConfig) { c.ValidationTimeout = d })
}

// SetIdleTimeout changes how long idle connections are kept
func (h *Handle) SetIdleTimeout(d time.Duration) error {
	return h.update("idle_timeout", d, func(c *config.PoolConfig) { c.IdleTimeout = d })
}

// SetMaxLifetime changes the maximum age of a physical connection
func (h *Handle) SetMaxLifetime(d time.Duration) error {
	return h.update("max_lifetime", d, func(c *config.PoolConfig) { c.MaxLifetime = d })
}

// SetLeakDetectionThreshold changes the leak warning threshold; 0 disables it
func (h *Handle) SetLeakDetectionThreshold(d time.Duration) error {
	return h.update("leak_detection_threshold", d, func(c *config.PoolConfig) { c.LeakDetectionThreshold = d })
}

func (h *Handle) update(key string, value any, mutate func(*config.PoolConfig)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.pool == nil || h.State() == StateClosed {
		return errors.Newf(errors.ErrorTypeInvalidState, "cannot reconfigure pool %q in state %s", h.name, h.State())
	}

	next := h.cfg
	mutate(&next)
	if err := next.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInvalidArgument, fmt.Sprintf("invalid %s for pool %q", key, h.name))
	}

	if err := h.pool.Apply(next); err != nil {
		h.logger.Warn("pool reconfiguration rejected", zap.String("key", key), zap.Any("value", value), zap.Error(err))
		return asError(err, errors.ErrorTypeInvalidState, fmt.Sprintf("cannot change %s of pool %q", key, h.name))
	}
	h.cfg = next
	h.logger.Info("pool reconfigured", zap.String("key", key), zap.Any("value", value))
	return nil
}
