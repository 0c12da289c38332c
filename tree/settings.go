package tree

import "time"

// Default run settings, used when neither the options nor any node override them
const (
	DefaultTimeout = 2 * time.Second
	DefaultSlow    = 75 * time.Millisecond
	DefaultRetries = 0
)

// Settings is the effective configuration of a node
type Settings struct {
	Timeout time.Duration // 0 disables the timeout
	Slow    time.Duration
	Retries int
}

// DefaultSettings returns the settings a run starts from
func DefaultSettings() Settings {
	return Settings{
		Timeout: DefaultTimeout,
		Slow:    DefaultSlow,
		Retries: DefaultRetries,
	}
}

// Overrides holds the settings a node declares itself. Nil fields inherit from the parent.
type Overrides struct {
	Timeout *time.Duration
	Slow    *time.Duration
	Retries *int
}

// Merge applies the overrides on top of base
func (o Overrides) Merge(base Settings) Settings {
	if o.Timeout != nil {
		base.Timeout = *o.Timeout
	}
	if o.Slow != nil {
		base.Slow = *o.Slow
	}
	if o.Retries != nil {
		base.Retries = *o.Retries
	}
	return base
}

// IsZero reports whether no setting is overridden
func (o Overrides) IsZero() bool {
	return o.Timeout == nil && o.Slow == nil && o.Retries == nil
}
