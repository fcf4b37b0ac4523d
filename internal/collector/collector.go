// Package collector runs every configured source for one day and gathers the
// per-source records, persisting raw evidence as it goes.
package collector

import (
	"bytes"
	"context"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/trizel-monitor/internal/daykey"
	"github.com/JakeFAU/trizel-monitor/internal/metrics"
	"github.com/JakeFAU/trizel-monitor/internal/monitor"
	"github.com/JakeFAU/trizel-monitor/internal/resolver"
)

// Config toggles optional collector behavior.
type Config struct {
	// DefaultTimeout applies to sources without a timeout of their own.
	DefaultTimeout time.Duration
	// Resolver walks every designation candidate. When false only the first is tried.
	Resolver bool
	// RawEvidence persists captured bytes to the store.
	RawEvidence bool
	// RawPrefix is the store key prefix for raw evidence.
	RawPrefix string
}

// Collector fetches sources sequentially in configuration order.
type Collector struct {
	cfg      Config
	fetcher  monitor.Fetcher
	resolver *resolver.Resolver
	store    monitor.BlobStore
	clock    monitor.Clock
	logger   *zap.Logger
}

// New wires a Collector. store may be nil when raw evidence is disabled.
func New(cfg Config, fetcher monitor.Fetcher, store monitor.BlobStore, clock monitor.Clock, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RawPrefix == "" {
		cfg.RawPrefix = "raw"
	}
	return &Collector{
		cfg:      cfg,
		fetcher:  fetcher,
		resolver: resolver.New(fetcher, logger),
		store:    store,
		clock:    clock,
		logger:   logger,
	}
}

// Collect returns exactly one record per source, in input order. A failing
// source is recorded inline and never stops the others.
func (c *Collector) Collect(ctx context.Context, sources []monitor.Source, day daykey.Day) []monitor.SourceRecord {
	records := make([]monitor.SourceRecord, 0, len(sources))
	for _, src := range sources {
		record := c.collectOne(ctx, src, day)
		c.observe(record)
		records = append(records, record)
	}
	return records
}

func (c *Collector) collectOne(ctx context.Context, src monitor.Source, day daykey.Day) monitor.SourceRecord {
	record := monitor.SourceRecord{Kind: src.Kind}
	if strings.TrimSpace(src.URL) == "" {
		record.FetchOutcome = monitor.FetchOutcome{
			SourceID:     src.ID,
			RetrievedUTC: monitor.Timestamp(c.clock.Now()),
			Error: &monitor.FetchError{
				Kind:    monitor.ErrorKindMissingURL,
				Message: "no url configured",
			},
		}
		c.logger.Warn("source has no url", zap.String("source_id", src.ID))
		return record
	}

	endpoint := day.Expand(src.URL)
	params := make(map[string]string, len(src.Params))
	for k, v := range src.Params {
		params[k] = day.Expand(v)
	}
	timeout := c.cfg.DefaultTimeout
	if src.TimeoutSeconds > 0 {
		timeout = time.Duration(src.TimeoutSeconds) * time.Second
	}

	if src.UsesResolver() {
		record.FetchOutcome, record.Resolution = c.resolve(ctx, src, endpoint, params, timeout)
	} else {
		record.FetchOutcome = c.fetchPlain(ctx, src.ID, endpoint, params, timeout)
	}

	if c.cfg.RawEvidence && c.store != nil && record.Captured() {
		record.RawPath = c.persistRaw(ctx, src, day, record.FetchOutcome)
	}
	return record
}

func (c *Collector) fetchPlain(ctx context.Context, sourceID, endpoint string, params map[string]string, timeout time.Duration) monitor.FetchOutcome {
	target, err := resolver.EncodeURL(endpoint, params)
	if err != nil {
		return monitor.FetchOutcome{
			SourceID:     sourceID,
			URL:          endpoint,
			RetrievedUTC: monitor.Timestamp(c.clock.Now()),
			Error: &monitor.FetchError{
				Kind:    monitor.ErrorKindTransport,
				Message: err.Error(),
				URL:     endpoint,
			},
		}
	}
	return c.fetcher.Fetch(ctx, sourceID, target, timeout)
}

func (c *Collector) resolve(
	ctx context.Context,
	src monitor.Source,
	endpoint string,
	params map[string]string,
	timeout time.Duration,
) (monitor.FetchOutcome, *monitor.Resolution) {
	candidates := src.Designations
	if !c.cfg.Resolver {
		candidates = candidates[:1]
	}
	param := src.DesignationParam
	if param == "" {
		param = monitor.DefaultDesignationParam
	}

	res := c.resolver.Resolve(ctx, resolver.Request{
		SourceID:         src.ID,
		Endpoint:         endpoint,
		Params:           params,
		DesignationParam: param,
		Candidates:       candidates,
		Timeout:          timeout,
	})
	for _, attempt := range res.Attempts {
		metrics.ObserveAttempt(src.ID, attempt.OK)
	}
	resolution := &monitor.Resolution{QueryUsed: res.QueryUsed, Attempts: res.Attempts}
	if res.Succeeded {
		return res.Outcome, resolution
	}

	outcome := res.Outcome
	if outcome.SourceID == "" {
		outcome.SourceID = src.ID
		outcome.URL = endpoint
		outcome.RetrievedUTC = monitor.Timestamp(c.clock.Now())
	}
	outcome.OK = false
	outcome.JSON = nil
	outcome.Preview = nil
	outcome.Error = res.LastError
	if res.LastError == nil || res.LastError.Kind != monitor.ErrorKindOversize {
		outcome.SHA256 = ""
		outcome.Body = nil
	}
	return outcome, resolution
}

// persistRaw writes the captured bytes and returns the store key, or "" when
// the write failed.
func (c *Collector) persistRaw(ctx context.Context, src monitor.Source, day daykey.Day, outcome monitor.FetchOutcome) string {
	ext := InferExt(outcome.ContentType, src.Ext, outcome.Body)
	key := path.Join(c.cfg.RawPrefix, day.String(), src.ID+"."+ext)
	contentType := outcome.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := c.store.PutObject(ctx, key, contentType, bytes.NewReader(outcome.Body)); err != nil {
		metrics.ObserveRawEvidence(false)
		c.logger.Error("raw evidence write failed",
			zap.String("source_id", src.ID),
			zap.String("path", key),
			zap.Error(err),
		)
		return ""
	}
	metrics.ObserveRawEvidence(true)
	return key
}

func (c *Collector) observe(record monitor.SourceRecord) {
	outcome := "ok"
	if record.Error != nil {
		outcome = string(record.Error.Kind)
	}
	metrics.ObserveFetch(record.SourceID, outcome, record.Bytes)
	c.logger.Info("source collected",
		zap.String("source_id", record.SourceID),
		zap.String("url", record.URL),
		zap.Bool("ok", record.OK),
		zap.String("outcome", outcome),
		zap.Int64("bytes", record.Bytes),
		zap.String("raw_path", record.RawPath),
	)
}
