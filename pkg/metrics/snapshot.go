package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Value sums every sample of the named metric family in g. Counters and
// gauges are supported; histograms report their sample count.
func Value(g prometheus.Gatherer, name string) (float64, error) {
	families, err := g.Gather()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrObserveFailed, err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		return total, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrMetricMissing, name)
}
