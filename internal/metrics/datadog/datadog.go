// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Metrics are buffered in memory and submitted on Flush. A background loop
// flushes on a ticker (default once per minute) and Close performs a final
// flush, so a short run still produces one point per series and a long run
// produces a time series.
//
// Flush snapshots and resets the buffers under the mutex, then submits
// outside it. A failed submission drops that window.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"northwind/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "northwind".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "team:bi"}).
	Tags []string

	// FlushEvery controls the periodic flush. Defaults to 60 seconds.
	FlushEvery time.Duration

	// Test seams.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi used by Flush.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags  []string
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu  sync.Mutex
	buf buffers
}

// buffers holds one collection window. Step and drop keys pack two labels
// with a NUL separator.
type buffers struct {
	steps     map[string]float64
	durations map[string][]float64
	records   map[string]float64
	dropped   map[string]float64
}

func newBuffers() buffers {
	return buffers{
		steps:     make(map[string]float64),
		durations: make(map[string][]float64),
		records:   make(map[string]float64),
		dropped:   make(map[string]float64),
	}
}

func (b buffers) empty() bool {
	return len(b.steps) == 0 && len(b.durations) == 0 && len(b.records) == 0 && len(b.dropped) == 0
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop. Credentials and site come from the DD_API_KEY and
// DD_SITE environment variables read by the client.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "northwind"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		buf:        newBuffers(),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Later calls only
// flush.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StepTotal:
		b.buf.steps[pairKey(labels["step"], labels["status"])] += delta
	case metrics.RecordsTotal:
		if kind := labels["kind"]; kind != "" {
			b.buf.records[kind] += delta
		}
	case metrics.RowsDroppedTotal:
		b.buf.dropped[pairKey(labels["table"], labels["reason"])] += delta
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDuration {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := pairKey(labels["step"], labels["status"])
	b.buf.durations[k] = append(b.buf.durations[k], value)
}

func (b *Backend) snapshotAndReset() buffers {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.buf
	b.buf = newBuffers()
	return s
}

// Flush submits buffered metrics and resets the buffers. It returns nil when
// there is nothing to submit.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.empty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("datadog: submit: %w", err)
	}
	return nil
}

// buildSeries converts a snapshot to Datadog series. Keys are visited in
// sorted order so payloads are deterministic.
func (b *Backend) buildSeries(s buffers, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.steps)+len(s.records)+len(s.dropped)+6*len(s.durations))

	for _, k := range sortedKeys(s.steps) {
		step, status := splitPairKey(k)
		series = append(series, countSeries("northwind.step.total", s.steps[k], withTags(b.baseTags, "step:"+step, "status:"+status), nowUnix))
	}
	for _, k := range sortedKeys(s.durations) {
		step, status := splitPairKey(k)
		tags := withTags(b.baseTags, "step:"+step, "status:"+status)
		series = appendPercentiles(series, "northwind.step.duration_seconds", s.durations[k], tags, nowUnix)
	}
	for _, kind := range sortedKeys(s.records) {
		series = append(series, countSeries("northwind.records.total", s.records[kind], withTags(b.baseTags, "kind:"+kind), nowUnix))
	}
	for _, k := range sortedKeys(s.dropped) {
		table, reason := splitPairKey(k)
		series = append(series, countSeries("northwind.rows_dropped.total", s.dropped[k], withTags(b.baseTags, "table:"+table, "reason:"+reason), nowUnix))
	}
	return series
}

// appendPercentiles appends p50/p90/p95/p99/max/samples gauges for samples.
// samples is not modified.
func appendPercentiles(series []datadogV2.MetricSeries, prefix string, samples []float64, tags []string, nowUnix int64) []datadogV2.MetricSeries {
	if len(samples) == 0 {
		return series
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	return append(series,
		gaugeSeries(prefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		gaugeSeries(prefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		gaugeSeries(prefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
		gaugeSeries(prefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		gaugeSeries(prefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(prefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)}},
		Tags:   tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)}},
		Tags:   tags,
	}
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func splitPairKey(k string) (string, string) {
	a, b, ok := strings.Cut(k, "\x00")
	if !ok {
		return k, "unknown"
	}
	return a, b
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	return append(out, extras...)
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:bi".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
