// Package pipeline drives the per-day run: collect, assemble, write, then
// record and announce the decision.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/JakeFAU/trizel-monitor/internal/daykey"
	"github.com/JakeFAU/trizel-monitor/internal/metrics"
	"github.com/JakeFAU/trizel-monitor/internal/monitor"
	"github.com/JakeFAU/trizel-monitor/internal/snapshot"
	"github.com/JakeFAU/trizel-monitor/internal/writepolicy"
)

// ErrDayPanicked marks a day whose processing panicked.
var ErrDayPanicked = errors.New("day processing panicked")

// Collector gathers the source records for a day.
type Collector interface {
	Collect(ctx context.Context, sources []monitor.Source, day daykey.Day) []monitor.SourceRecord
}

// Writer applies the write policy.
type Writer interface {
	Write(ctx context.Context, day daykey.Day, snapshotBytes []byte, build writepolicy.ManifestFunc) (writepolicy.Result, error)
}

// Config controls Pipeline behavior.
type Config struct {
	Object     string
	Sources    []monitor.Source
	RunContext map[string]any
	// Topic receives one notification per written day. Empty disables publishing.
	Topic string
	// MaxDays caps backfill ranges when the caller passes no limit.
	MaxDays int
}

// Pipeline processes days sequentially.
type Pipeline struct {
	collector Collector
	assembler *snapshot.Assembler
	writer    Writer
	ledger    monitor.Ledger
	publisher monitor.Publisher
	clock     monitor.Clock
	cfg       Config
	runID     string
	logger    *zap.Logger
}

// New constructs a Pipeline. ledger and publisher are optional.
func New(
	collector Collector,
	writer Writer,
	ledger monitor.Ledger,
	publisher monitor.Publisher,
	clock monitor.Clock,
	ids monitor.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) (*Pipeline, error) {
	if collector == nil || writer == nil || clock == nil || ids == nil {
		return nil, fmt.Errorf("pipeline requires collector, writer, clock and id generator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runID, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	return &Pipeline{
		collector: collector,
		assembler: snapshot.NewAssembler(clock),
		writer:    writer,
		ledger:    ledger,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		runID:     runID,
		logger:    logger.With(zap.String("run_id", runID)),
	}, nil
}

// RunID identifies this process's run in manifests and the ledger.
func (p *Pipeline) RunID() string {
	return p.runID
}

// DayResult summarizes one processed day.
type DayResult struct {
	Day          string
	Outcome      monitor.WriteOutcome
	SnapshotPath string
	ManifestPath string
	SHA256       string
	SourcesOK    int
	SourcesTotal int
}

// RunDay processes a single day. Per-source failures are inside the
// snapshot; only write-side faults are returned.
func (p *Pipeline) RunDay(ctx context.Context, day daykey.Day) (DayResult, error) {
	logger := p.logger.With(zap.String("day", day.String()))
	logger.Info("collecting day", zap.Int("sources", len(p.cfg.Sources)))

	records := p.collector.Collect(ctx, p.cfg.Sources, day)
	snap := p.assembler.Assemble(records, p.cfg.Object, day, p.cfg.RunContext)
	data, err := snapshot.Encode(snap)
	if err != nil {
		return DayResult{}, fmt.Errorf("encode snapshot %s: %w", day, err)
	}

	res, err := p.writer.Write(ctx, day, data, func(file snapshot.FileInfo) monitor.Manifest {
		return snapshot.BuildManifest(snap, file, p.runID, p.clock.Now())
	})
	if err != nil {
		return DayResult{}, fmt.Errorf("write day %s: %w", day, err)
	}

	result := DayResult{
		Day:          day.String(),
		Outcome:      res.Outcome,
		SnapshotPath: res.SnapshotPath,
		ManifestPath: res.ManifestPath,
		SHA256:       res.File.SHA256,
		SourcesTotal: len(records),
	}
	for _, rec := range records {
		if rec.OK {
			result.SourcesOK++
		}
	}

	metrics.ObserveDay(string(res.Outcome))
	p.recordLedger(ctx, result)
	if res.Outcome == monitor.OutcomeWritten {
		p.announce(ctx, result)
	}
	logger.Info("day complete",
		zap.String("outcome", string(result.Outcome)),
		zap.Int("sources_ok", result.SourcesOK),
		zap.Int("sources_total", result.SourcesTotal),
	)
	return result, nil
}

func (p *Pipeline) recordLedger(ctx context.Context, result DayResult) {
	if p.ledger == nil {
		return
	}
	entry := monitor.LedgerEntry{
		RunID:          p.runID,
		Day:            result.Day,
		Outcome:        string(result.Outcome),
		SnapshotFile:   result.SnapshotPath,
		SnapshotSHA256: result.SHA256,
		SourcesOK:      result.SourcesOK,
		SourcesTotal:   result.SourcesTotal,
		RecordedUTC:    monitor.Timestamp(p.clock.Now()),
	}
	if err := p.ledger.Record(ctx, entry); err != nil {
		p.logger.Warn("ledger record failed", zap.String("day", result.Day), zap.Error(err))
	}
}

func (p *Pipeline) announce(ctx context.Context, result DayResult) {
	if p.cfg.Topic == "" || p.publisher == nil {
		return
	}
	note := monitor.Notification{
		Day:            result.Day,
		Outcome:        string(result.Outcome),
		RunID:          p.runID,
		SnapshotFile:   result.SnapshotPath,
		SnapshotSHA256: result.SHA256,
		ManifestFile:   result.ManifestPath,
		GeneratedUTC:   monitor.Timestamp(p.clock.Now()),
	}
	id, err := p.publisher.Publish(ctx, p.cfg.Topic, note)
	if err != nil {
		p.logger.Warn("publish notification failed", zap.String("day", result.Day), zap.Error(err))
		return
	}
	p.logger.Debug("notification published", zap.String("day", result.Day), zap.String("message_id", id))
}

// DayReport is one line of a backfill.
type DayReport struct {
	Day     string
	Outcome monitor.WriteOutcome
	Err     error
}

// Failed reports whether the day faulted.
func (r DayReport) Failed() bool {
	return r.Err != nil
}

// Summary aggregates a backfill.
type Summary struct {
	Reports    []DayReport
	Written    int
	Noop       int
	Skipped    int
	Failed     int
	FailedDays []string
	// Truncated is set when the day limit cut the range short.
	Truncated bool
}

// OK reports whether every day completed without a fault.
func (s Summary) OK() bool {
	return s.Failed == 0
}

func (s *Summary) add(report DayReport) {
	s.Reports = append(s.Reports, report)
	if report.Failed() {
		s.Failed++
		s.FailedDays = append(s.FailedDays, report.Day)
		return
	}
	switch report.Outcome {
	case monitor.OutcomeWritten:
		s.Written++
	case monitor.OutcomeNoopUnchanged:
		s.Noop++
	case monitor.OutcomeSkippedExists:
		s.Skipped++
	}
}

// Backfill processes start..end inclusive in ascending order. A day that
// errors or panics is recorded as failed and the next day still runs. The
// returned error covers only invalid ranges and cancellation.
func (p *Pipeline) Backfill(ctx context.Context, start, end daykey.Day, limit int) (Summary, error) {
	if limit <= 0 {
		limit = p.cfg.MaxDays
	}
	days, truncated, err := daykey.Range(start, end, limit)
	if err != nil {
		return Summary{}, fmt.Errorf("backfill range: %w", err)
	}

	summary := Summary{Truncated: truncated}
	if truncated {
		p.logger.Warn("backfill range truncated",
			zap.String("start", start.String()),
			zap.String("end", end.String()),
			zap.Int("limit", limit),
		)
	}
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("backfill canceled: %w", err)
		}
		report := p.runDaySafe(ctx, day)
		if report.Failed() {
			metrics.ObserveDay("failed")
			p.logger.Error("day failed", zap.String("day", report.Day), zap.Error(report.Err))
		}
		summary.add(report)
	}
	return summary, nil
}

func (p *Pipeline) runDaySafe(ctx context.Context, day daykey.Day) (report DayReport) {
	report.Day = day.String()
	defer func() {
		if r := recover(); r != nil {
			report.Err = fmt.Errorf("%w: %v", ErrDayPanicked, r)
			p.logger.Error("recovered panic", zap.String("day", report.Day), zap.ByteString("stack", debug.Stack()))
		}
	}()
	res, err := p.RunDay(ctx, day)
	if err != nil {
		report.Err = err
		return report
	}
	report.Outcome = res.Outcome
	return report
}

// Runner is the slice of Pipeline the command layer drives.
type Runner interface {
	RunDay(ctx context.Context, day daykey.Day) (DayResult, error)
	Backfill(ctx context.Context, start, end daykey.Day, limit int) (Summary, error)
}

var _ Runner = (*Pipeline)(nil)
