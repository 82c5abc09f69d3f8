package download

import "time"

// Config contains configuration options for the session manager
type Config struct {
	// PollInterval is how often a running transfer is sampled for progress
	PollInterval time.Duration

	// ProgressMinInterval forces a progress event after this much time even
	// when the percentage barely moved
	ProgressMinInterval time.Duration

	// ProgressMinPercentStep is the percentage change that triggers an event
	ProgressMinPercentStep float64

	// SubscriberBuffer is the channel size of each event subscription
	SubscriberBuffer int

	// DeliveryTimeout is how long a pause or terminal event waits for room
	// in a subscriber's buffer before the subscriber is dropped
	DeliveryTimeout time.Duration
}

// GetDefaultConfig returns a Config with reasonable default values
func GetDefaultConfig() *Config {
	return &Config{
		PollInterval:           250 * time.Millisecond, // Sample transfers four times a second
		ProgressMinInterval:    time.Second,            // At least one progress event per second
		ProgressMinPercentStep: 1.0,                    // Or every whole percent
		SubscriberBuffer:       64,
		DeliveryTimeout:        5 * time.Second,
	}
}

func (c *Config) withDefaults() *Config {
	def := GetDefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.PollInterval <= 0 {
		out.PollInterval = def.PollInterval
	}
	if out.ProgressMinInterval <= 0 {
		out.ProgressMinInterval = def.ProgressMinInterval
	}
	if out.ProgressMinPercentStep <= 0 {
		out.ProgressMinPercentStep = def.ProgressMinPercentStep
	}
	if out.SubscriberBuffer <= 0 {
		out.SubscriberBuffer = def.SubscriberBuffer
	}
	if out.DeliveryTimeout <= 0 {
		out.DeliveryTimeout = def.DeliveryTimeout
	}
	return &out
}
