package crawler

import (
	"fmt"
	"time"
)

// Config captures the knobs that shape a crawl run. It is decoupled from
// Viper so the engine can be configured and tested independently.
type Config struct {
	// MaxBSSIDs is the hard cap on records processed in one run.
	MaxBSSIDs int64
	// Concurrency bounds the worker pool. 1 reproduces sequential crawling.
	Concurrency int
	// BatchSize limits each frontier snapshot; 0 reads the whole snapshot.
	BatchSize int
	// MaxDepth stops dispatch beyond this hop count; 0 means unlimited.
	MaxDepth int
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.MaxBSSIDs <= 0 {
		return fmt.Errorf("crawler.max_bssids must be > 0")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("crawler.batch_size must be >= 0")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	return nil
}

// RetryConfig tunes ExponentialRetryPolicy.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}
