package kdtree

import (
	"fmt"
	"runtime"
)

// Config controls tree construction and batch query behavior.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// LeafSize is the maximum number of points stored in a leaf bucket.
	// Larger values mean shallower trees and more brute-force scanning per
	// leaf; smaller values mean deeper trees and more pruning decisions.
	// 0 means the default of 16. Must be >= 0.
	LeafSize int

	// Metric is the distance function. It must decompose along coordinate
	// axes so per-node lower bounds stay valid: EuclideanMetric,
	// ManhattanMetric, ChebyshevMetric, or MinkowskiMetric.
	// Default: EuclideanMetric.
	Metric Metric

	// Workers is the number of goroutines used by QueryBatch and
	// QueryBatchContext. 0 means runtime.NumCPU(). Must be >= 0.
	Workers int
}

// DefaultConfig returns the recommended configuration.
func DefaultConfig() Config {
	return Config{
		LeafSize: defaultLeafSize,
		Metric:   EuclideanMetric{},
		Workers:  0,
	}
}

const defaultLeafSize = 16

// withDefaults validates cfg and fills in zero-value fields.
func (cfg Config) withDefaults() (Config, error) {
	if cfg.LeafSize < 0 {
		return cfg, fmt.Errorf("%w: LeafSize must be >= 0 (0 means default), got %d",
			ErrInvalidParameter, cfg.LeafSize)
	}
	if cfg.LeafSize == 0 {
		cfg.LeafSize = defaultLeafSize
	}
	if cfg.Workers < 0 {
		return cfg, fmt.Errorf("%w: Workers must be >= 0 (0 means NumCPU), got %d",
			ErrInvalidParameter, cfg.Workers)
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Metric == nil {
		cfg.Metric = EuclideanMetric{}
	}
	if !TreeValidMetric(cfg.Metric) {
		return cfg, fmt.Errorf("%w: metric %T does not decompose along coordinate axes and cannot drive KD-tree pruning",
			ErrInvalidParameter, cfg.Metric)
	}
	return cfg, nil
}
