package broker

import "time"

// Config configures a Broker instance, per the defaults table in spec
// section 6.
type Config struct {
	// Name is this broker's own service identity — the `target` a
	// Message must match to avoid a not_for_us dead-letter.
	Name string `env:"BROKER_NAME" validate:"required"`

	WorkerPoolSize     int           `env:"WORKER_POOL_SIZE" env-default:"10"`
	HealthInterval     time.Duration `env:"HEALTH_INTERVAL" env-default:"30s"`
	FailureThreshold   int64         `env:"FAILURE_THRESHOLD" env-default:"5"`
	RecoveryTimeout    time.Duration `env:"RECOVERY_TIMEOUT" env-default:"60s"`
	DefaultMaxAttempts int           `env:"MAX_ATTEMPTS" env-default:"3"`
	BackoffBase        time.Duration `env:"BACKOFF_BASE" env-default:"2s"`
	BackoffCap         time.Duration `env:"BACKOFF_CAP" env-default:"60s"`
	DefaultTTL         time.Duration `env:"MESSAGE_TTL" env-default:"300s"`

	// PopTimeout bounds each queue-pop suspension point (spec section
	// 5: "(a) queue pop, short bounded timeout").
	PopTimeout time.Duration `env:"QUEUE_POP_TIMEOUT" env-default:"1s"`

	// HandlerTimeout bounds a single handler invocation; exceeding it
	// counts as a failed attempt, same as a returned error.
	HandlerTimeout time.Duration `env:"HANDLER_TIMEOUT" env-default:"30s"`

	// ShutdownGrace bounds how long stop() waits for in-flight
	// dispatches before forcibly abandoning them (spec section 4.1).
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" env-default:"5s"`
}

func (c *Config) applyDefaults() {
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 10
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 300 * time.Second
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = time.Second
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
}
