package metrics

import (
	"sort"
	"strings"

	"github.com/prometheus/prometheus/prompb"

	"github.com/mjasion/phenostation/pkg/types"
)

// BuildTimeSeries converts data points into remote-write series.
// The metric name is the sanitized measurement and the point field becomes the "field" label.
// Points sharing a measurement and field are merged into one series, samples in input order.
func BuildTimeSeries(points []*types.DataPoint, labels map[string]string) []prompb.TimeSeries {
	type seriesKey struct{ name, field string }

	index := make(map[seriesKey]int)
	var series []prompb.TimeSeries

	for _, p := range points {
		key := seriesKey{name: SanitizeMetricName(p.Measurement), field: p.Field}
		i, ok := index[key]
		if !ok {
			i = len(series)
			index[key] = i
			series = append(series, prompb.TimeSeries{Labels: seriesLabels(key.name, key.field, labels)})
		}
		series[i].Samples = append(series[i].Samples, prompb.Sample{
			Value:     float64(p.Value),
			Timestamp: p.Time.UnixMilli(),
		})
	}

	return series
}

// seriesLabels returns the label set sorted by name, as remote write requires
func seriesLabels(name, field string, extra map[string]string) []prompb.Label {
	out := []prompb.Label{
		{Name: "__name__", Value: name},
		{Name: "field", Value: field},
	}
	for k, v := range extra {
		if k == "__name__" || k == "field" {
			continue
		}
		out = append(out, prompb.Label{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SanitizeMetricName maps s onto [a-zA-Z_:][a-zA-Z0-9_:]*, lowercasing it
func SanitizeMetricName(s string) string {
	var b strings.Builder
	for i, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
