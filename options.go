// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package grid

import (
	"log/slog"
	"time"

	metrics "github.com/hashicorp/go-metrics"
)

// Option configures a Runtime at construction time.
type Option func(*runtimeConfig)

type runtimeConfig struct {
	logger *slog.Logger
	sink   metrics.MetricSink
}

func defaultConfig() *runtimeConfig {
	return &runtimeConfig{
		logger: slog.Default(),
		sink:   metrics.NewInmemSink(10*time.Second, time.Minute),
	}
}

// WithLogger overrides the Runtime's logger, which otherwise defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *runtimeConfig) { c.logger = logger }
}

// WithMetricSink injects a go-metrics sink, overriding the default in-
// memory sink. Use metrics.NewStatsiteSink, a Prometheus sink, or similar
// for export to an external system.
func WithMetricSink(sink metrics.MetricSink) Option {
	return func(c *runtimeConfig) { c.sink = sink }
}
