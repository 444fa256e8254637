package training

import (
	"fmt"

	"github.com/Jean-Baptiste-Camps/boudams/internal/score"
)

// Metric names a Score field the plateau scheduler can monitor.
type Metric string

// Monitorable metrics. Loss and the edit-distance metrics are
// minimized; accuracy is maximized.
const (
	MetricLoss         Metric = "loss"
	MetricAccuracy     Metric = "accuracy"
	MetricLeven        Metric = "leven"
	MetricLevenPerChar Metric = "leven_per_char"
)

// ParseMetric validates a metric name.
func ParseMetric(name string) (Metric, error) {
	switch m := Metric(name); m {
	case MetricLoss, MetricAccuracy, MetricLeven, MetricLevenPerChar:
		return m, nil
	default:
		return "", fmt.Errorf("training: unknown metric %q", name)
	}
}

// Maximize reports the improvement direction.
func (m Metric) Maximize() bool {
	return m == MetricAccuracy
}

// Extract reads the monitored field from a Score.
func (m Metric) Extract(s score.Score) float64 {
	switch m {
	case MetricAccuracy:
		return s.Accuracy
	case MetricLeven:
		return s.Leven
	case MetricLevenPerChar:
		return s.LevenPerChar
	default:
		return s.Loss
	}
}
