// Package collyfetcher implements the bounded fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/trizel-monitor/internal/hash/sha256"
	"github.com/JakeFAU/trizel-monitor/internal/monitor"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "AUTO-DZ-ACT TRIZEL Monitor/1.0 (scientific archiving)"
	acceptHeader     = "application/json, text/plain;q=0.9, */*;q=0.8"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
}

// Fetcher implements monitor.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	clock         monitor.Clock
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// captured is what the response hook saw before classification.
type captured struct {
	status  int
	headers http.Header
	body    []byte
}

// New builds a Fetcher.
func New(cfg Config, clock monitor.Clock, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = monitor.DefaultMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(&verbatimTransport{next: newHTTPTransport(), maxBytes: cfg.MaxBytes})

	return &Fetcher{
		cfg:           cfg,
		clock:         clock,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET. It never retries and never returns an
// error: every failure is classified into the outcome.
func (f *Fetcher) Fetch(ctx context.Context, sourceID, url string, timeout time.Duration) monitor.FetchOutcome {
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	outcome := monitor.FetchOutcome{
		SourceID:     sourceID,
		URL:          url,
		RetrievedUTC: monitor.Timestamp(f.clock.Now()),
	}

	var (
		resp     captured
		fetchErr error
		raw      rawCapture
	)
	collector := f.buildCollector(context.WithValue(ctx, rawCaptureKey{}, &raw), timeout)
	f.configureCollectorHooks(collector, &raw, &resp, &fetchErr)

	start := time.Now()
	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		outcome.Error = &monitor.FetchError{
			Kind:    monitor.ErrorKindTransport,
			Message: err.Error(),
			URL:     url,
		}
		f.logger.Warn("fetch failed",
			zap.String("source_id", sourceID),
			zap.String("url", url),
			zap.Error(err),
		)
		return outcome
	}

	outcome = f.classify(outcome, resp)
	f.logger.Debug("fetch completed",
		zap.String("source_id", sourceID),
		zap.String("url", url),
		zap.Bool("ok", outcome.OK),
		zap.Int64("bytes", outcome.Bytes),
		zap.Duration("duration", time.Since(start)),
	)
	return outcome
}

func (f *Fetcher) buildCollector(ctx context.Context, timeout time.Duration) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	// Non-2xx bodies flow through OnResponse so they can be classified here.
	collector.ParseHTTPErrorResponse = true
	// One byte past the cap is how an oversize body is detected.
	collector.MaxBodySize = int(f.cfg.MaxBytes + 1)
	collector.SetRequestTimeout(timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, raw *rawCapture, result *captured, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHeader)
	})

	hooks.OnResponse(func(r *colly.Response) {
		// colly's r.Body may be gunzipped or charset-converted; evidence
		// comes from the transport capture when there is one.
		if raw.done {
			*result = captured{
				status:  r.StatusCode,
				headers: raw.header,
				body:    raw.body,
			}
			return
		}
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = captured{
			status:  r.StatusCode,
			headers: headers,
			body:    append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) classify(outcome monitor.FetchOutcome, resp captured) monitor.FetchOutcome {
	status := resp.status
	outcome.Status = &status
	outcome.ContentType = resp.headers.Get("Content-Type")
	body := resp.body

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		outcome.Bytes = int64(len(body))
		outcome.Error = &monitor.FetchError{
			Kind:        monitor.ErrorKindProtocol,
			Message:     fmt.Sprintf("unexpected HTTP status %d %s", status, http.StatusText(status)),
			URL:         outcome.URL,
			Status:      status,
			Bytes:       int64(len(body)),
			BodyPreview: errorPreview(body),
		}
		return outcome
	}

	if int64(len(body)) > f.cfg.MaxBytes {
		prefix := body[:f.cfg.MaxBytes]
		outcome.Body = prefix
		outcome.SHA256 = sha256.Sum(prefix)
		outcome.Bytes = int64(len(prefix))
		outcome.Error = &monitor.FetchError{
			Kind:    monitor.ErrorKindOversize,
			Message: fmt.Sprintf("response exceeded %d bytes", f.cfg.MaxBytes),
			URL:     outcome.URL,
			Status:  status,
			Bytes:   int64(len(prefix)),
		}
		return outcome
	}

	outcome.OK = true
	outcome.Body = body
	outcome.SHA256 = sha256.Sum(body)
	outcome.Bytes = int64(len(body))
	if IsStructured(outcome.ContentType, body) {
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, body); err == nil {
			outcome.JSON = compacted.Bytes()
			return outcome
		}
	}
	outcome.Preview = BuildPreview(body)
	return outcome
}

// IsStructured reports whether body should be treated as JSON.
func IsStructured(contentType string, body []byte) bool {
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if strings.Contains(mediaType, "json") {
		return true
	}
	switch mediaType {
	case "", "text/plain", "application/octet-stream", "binary/octet-stream":
		trimmed := bytes.TrimLeft(body, " \t\r\n")
		return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
	default:
		return false
	}
}

// BuildPreview renders a bounded preview of body: text when it is valid UTF-8,
// base64 of the leading bytes otherwise.
func BuildPreview(body []byte) *monitor.Preview {
	if utf8.Valid(body) {
		text := string(body)
		if utf8.RuneCountInString(text) <= monitor.PreviewRunes {
			return &monitor.Preview{Text: text}
		}
		runes := []rune(text)
		return &monitor.Preview{Text: string(runes[:monitor.PreviewRunes]), Truncated: true}
	}
	// 3 raw bytes encode to 4 base64 characters.
	n := min(len(body), monitor.PreviewRunes/4*3)
	return &monitor.Preview{
		Text:      base64.StdEncoding.EncodeToString(body[:n]),
		Encoding:  "base64",
		Truncated: n < len(body),
	}
}

func errorPreview(body []byte) string {
	n := min(len(body), monitor.ErrorPreviewBytes)
	return strings.ToValidUTF8(string(body[:n]), "�")
}

type rawCaptureKey struct{}

// rawCapture holds the wire bytes and headers of the final response of one fetch.
type rawCapture struct {
	done   bool
	header http.Header
	body   []byte
}

// verbatimTransport records at most maxBytes+1 body bytes exactly as received.
// It then hides Content-Type and marks the body uncompressed so colly neither
// converts the charset nor gunzips the copy it reads. The wrapped transport
// has compression disabled so Go's client does not decode the entity either.
type verbatimTransport struct {
	next     http.RoundTripper
	maxBytes int64
}

func (t *verbatimTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	raw, ok := req.Context().Value(rawCaptureKey{}).(*rawCapture)
	if !ok {
		return resp, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	*raw = rawCapture{done: true, header: resp.Header.Clone(), body: body}

	resp.Header.Del("Content-Type")
	resp.Uncompressed = true
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
	}
}
