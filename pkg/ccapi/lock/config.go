package lock

// Config contains lock manager limits.
type Config struct {
	// MaxWaitersPerObject bounds the queue of a single object. A request that
	// would have to queue beyond it fails with NoMem. 0 disables the limit.
	// Default: 100
	MaxWaitersPerObject int `mapstructure:"max_waiters_per_object" validate:"gte=0" yaml:"max_waiters_per_object"`

	// MaxTotalLocks bounds held plus waiting locks across all objects.
	// 0 disables the limit.
	// Default: 100000
	MaxTotalLocks int `mapstructure:"max_total_locks" validate:"gte=0" yaml:"max_total_locks"`
}

// DefaultConfig returns a Config with the default limits.
func DefaultConfig() Config {
	return Config{
		MaxWaitersPerObject: 100,
		MaxTotalLocks:       100000,
	}
}
