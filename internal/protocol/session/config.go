package session

import (
	"fmt"
	"time"
)

// Config defines transmission reliability and pacing.
type Config struct {
	// AckTimeout bounds the wait for one write completion.
	AckTimeout time.Duration
	// InterChunkDelay separates acknowledged chunks on the radio medium.
	InterChunkDelay time.Duration
	Retry           BackoffConfig
	// MaxAttempts counts the first attempt; 2 allows one retry.
	MaxAttempts  int
	MaxChunkSize int
	// MaxPacketBytes caps one encoded write before any capacity event
	// arrives. Zero means no static cap.
	MaxPacketBytes int
}

// DefaultConfig returns the radio link defaults.
func DefaultConfig() Config {
	return Config{
		AckTimeout:      8 * time.Second,
		InterChunkDelay: 2500 * time.Millisecond,
		Retry:           FixedBackoff(time.Second),
		MaxAttempts:     2,
		MaxChunkSize:    190,
	}
}

func (c Config) Validate() error {
	if c.AckTimeout <= 0 {
		return fmt.Errorf("session config: ack_timeout must be positive")
	}
	if c.InterChunkDelay < 0 || c.Retry.InitialDelay < 0 {
		return fmt.Errorf("session config: delays must not be negative")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("session config: max_attempts must be at least 1")
	}
	if c.MaxChunkSize < 1 {
		return fmt.Errorf("session config: max_chunk_size must be at least 1")
	}
	if c.MaxPacketBytes < 0 {
		return fmt.Errorf("session config: max_packet_bytes must not be negative")
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	return nil
}
