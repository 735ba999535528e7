package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ctingest/internal/config"
	"ctingest/internal/metrics"
	"ctingest/internal/metrics/datadog"
	"ctingest/internal/metrics/prompush"
)

const defaultPushgatewayURL = "http://localhost:9091"

type closingBackend interface {
	metrics.Backend
	Close() error
}

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (closingBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url, nil)
	}
	setMetricsBackend = metrics.SetBackend
)

// initMetrics installs the backend named by METRICS_BACKEND. The returned
// cleanup is never nil and flushes or closes the backend.
func initMetrics(ctx context.Context, s config.Settings, log zerolog.Logger) (func(), error) {
	switch s.MetricsBackend {
	case "", "none":
		log.Debug().Msg("metrics disabled")
		return func() {}, nil

	case "pushgateway":
		url := s.PushgatewayURL
		if url == "" {
			url = defaultPushgatewayURL
		}
		b, err := newPushBackend(s.JobName, url)
		if err != nil {
			return func() {}, err
		}
		setMetricsBackend(b)
		log.Info().Str("backend", "pushgateway").Str("url", url).Str("job", s.JobName).Msg("metrics enabled")
		return func() {
			if err := b.Flush(); err != nil {
				log.Warn().Err(err).Msg("metrics flush failed")
			}
			setMetricsBackend(nil)
		}, nil

	case "datadog":
		tags := datadog.ParseTagsCSV(s.MetricsTags)
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    s.JobName,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return func() {}, err
		}
		setMetricsBackend(b)
		log.Info().Str("backend", "datadog").Str("job", s.JobName).Strs("tags", tags).Msg("metrics enabled")
		return func() {
			if err := b.Close(); err != nil {
				log.Warn().Err(err).Msg("metrics close failed")
			}
			setMetricsBackend(nil)
		}, nil
	}
	return func() {}, fmt.Errorf("unknown METRICS_BACKEND %q (want none, datadog or pushgateway)", s.MetricsBackend)
}
