// Package resolver tries alternate designations of the monitored object
// against one endpoint until a candidate yields a payload.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/trizel-monitor/internal/monitor"
)

// Request describes one multi-candidate lookup.
type Request struct {
	SourceID         string
	Endpoint         string
	Params           map[string]string
	DesignationParam string
	Candidates       []string
	Timeout          time.Duration
}

// Result is the outcome of a lookup together with its full attempt trail.
type Result struct {
	Succeeded bool
	QueryUsed string
	// Outcome is the winning fetch, or the last attempted one on failure.
	Outcome   monitor.FetchOutcome
	LastError *monitor.FetchError
	Attempts  []monitor.AttemptRecord
}

// Resolver walks designation candidates in order.
type Resolver struct {
	fetcher monitor.Fetcher
	logger  *zap.Logger
}

// New constructs a Resolver.
func New(fetcher monitor.Fetcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, logger: logger}
}

// Resolve fetches each candidate until one is ok with a non-empty payload.
// Remaining candidates are not tried. On total failure the last observed
// error is reported.
func (r *Resolver) Resolve(ctx context.Context, req Request) Result {
	param := req.DesignationParam
	if param == "" {
		param = monitor.DefaultDesignationParam
	}
	result := Result{Attempts: make([]monitor.AttemptRecord, 0, len(req.Candidates))}

	for _, candidate := range req.Candidates {
		target, err := BuildURL(req.Endpoint, req.Params, param, candidate)
		if err != nil {
			fetchErr := &monitor.FetchError{
				Kind:    monitor.ErrorKindTransport,
				Message: err.Error(),
				URL:     req.Endpoint,
			}
			result.Attempts = append(result.Attempts, monitor.AttemptRecord{
				Designation: candidate,
				URL:         req.Endpoint,
				Error:       fetchErr,
			})
			result.LastError = fetchErr
			continue
		}

		outcome := r.fetcher.Fetch(ctx, req.SourceID, target, req.Timeout)
		usable := outcome.OK && HasPayload(outcome)
		attempt := monitor.AttemptRecord{
			Designation: candidate,
			OK:          usable,
			URL:         target,
			Error:       outcome.Error,
		}
		if outcome.OK && !usable {
			attempt.Error = &monitor.FetchError{
				Kind:    monitor.ErrorKindEmptyPayload,
				Message: "response carried no payload",
				URL:     target,
			}
			if outcome.Status != nil {
				attempt.Error.Status = *outcome.Status
			}
		}
		result.Attempts = append(result.Attempts, attempt)
		result.Outcome = outcome

		if usable {
			result.Succeeded = true
			result.QueryUsed = candidate
			result.LastError = nil
			r.logger.Info("designation resolved",
				zap.String("source_id", req.SourceID),
				zap.String("designation", candidate),
				zap.Int("attempts", len(result.Attempts)),
			)
			return result
		}
		result.LastError = attempt.Error
		r.logger.Debug("designation rejected",
			zap.String("source_id", req.SourceID),
			zap.String("designation", candidate),
			zap.Any("error", attempt.Error),
		)
	}

	if result.LastError == nil {
		result.LastError = &monitor.FetchError{
			Kind:    monitor.ErrorKindEmptyPayload,
			Message: "all designation candidates failed",
			URL:     req.Endpoint,
		}
	}
	r.logger.Warn("designation resolution failed",
		zap.String("source_id", req.SourceID),
		zap.Int("attempts", len(result.Attempts)),
	)
	return result
}

// BuildURL merges fixed params and the candidate into endpoint's query.
func BuildURL(endpoint string, params map[string]string, param, candidate string) (string, error) {
	merged := make(map[string]string, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	merged[param] = candidate
	return EncodeURL(endpoint, merged)
}

// EncodeURL sets params on endpoint's query. Keys are encoded in sorted order
// so the same inputs always yield the same URL.
func EncodeURL(endpoint string, params map[string]string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q is not absolute", endpoint)
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HasPayload reports whether a successful outcome carries usable content.
// Empty bodies and empty JSON documents do not count.
func HasPayload(outcome monitor.FetchOutcome) bool {
	if outcome.Bytes == 0 {
		return false
	}
	if len(outcome.JSON) > 0 {
		switch string(bytes.TrimSpace(outcome.JSON)) {
		case "{}", "[]", "null", `""`:
			return false
		}
		return true
	}
	if outcome.Preview != nil {
		return strings.TrimSpace(outcome.Preview.Text) != ""
	}
	return len(bytes.TrimSpace(outcome.Body)) > 0
}
