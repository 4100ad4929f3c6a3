package cmd

import (
	"context"
	"sort"
	"strconv"

	"github.com/creativeprojects/mailstore/term"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// metricsReader collects the store metrics in memory, to display them at the end of a command.
type metricsReader struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func newMetricsReader() *metricsReader {
	reader := sdkmetric.NewManualReader()
	return &metricsReader{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

func (m *metricsReader) meterProvider() metric.MeterProvider {
	if m == nil {
		return nil
	}
	return m.provider
}

// totals sums the data points of each counter, and counts the samples of each histogram.
func (m *metricsReader) totals(ctx context.Context) (map[string]int64, error) {
	var data metricdata.ResourceMetrics
	err := m.reader.Collect(ctx, &data)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64)
	for _, scope := range data.ScopeMetrics {
		for _, item := range scope.Metrics {
			switch values := item.Data.(type) {
			case metricdata.Sum[int64]:
				for _, point := range values.DataPoints {
					totals[item.Name] += point.Value
				}
			case metricdata.Histogram[float64]:
				for _, point := range values.DataPoints {
					totals[item.Name] += int64(point.Count)
				}
			}
		}
	}
	return totals, nil
}

func (m *metricsReader) render(ctx context.Context) error {
	if m == nil {
		return nil
	}
	defer m.provider.Shutdown(ctx)

	totals, err := m.totals(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)
	table := term.NewTable("Metric", "Total")
	for _, name := range names {
		table.Append(name, strconv.FormatInt(totals[name], 10))
	}
	return table.Render()
}
