package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samvad-hq/samvad-base-service/internal/config"
	"github.com/samvad-hq/samvad-base-service/internal/journal"
	"github.com/samvad-hq/samvad-base-service/internal/logger"
	"github.com/samvad-hq/samvad-base-service/pkg/dispatch"
	"github.com/samvad-hq/samvad-base-service/pkg/httpclient"
	"github.com/samvad-hq/samvad-base-service/pkg/publishers"
	"go.uber.org/zap"
)

const observeGrace = 2 * time.Second

// Runner issues the configured request through the executor and drives the
// main queue until its result has been delivered and recorded.
type Runner struct {
	cfg       *config.Config
	queue     *dispatch.MainQueue
	transport httpclient.Transport
	journal   journal.Journal
	fanout    *publishers.Fanout
	log       logger.Logger
	observed  chan struct{}
}

// NewRunner builds the runtime collaborators (transport, journal, publishers) from config.
func NewRunner(ctx context.Context, cfg *config.Config, log logger.Logger) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var restyLog resty.Logger
	if zl, ok := log.(interface{ Sugar() *zap.SugaredLogger }); ok && zl.Sugar() != nil {
		restyLog = zl.Sugar()
	}

	jrnl, err := journal.NewJournal(cfg.JournalType, cfg.JournalPath, journal.Options{
		EntryTTL:        cfg.JournalTTL,
		CleanupInterval: cfg.JournalCleanupInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("init journal: %w", err)
	}
	log.InfoObj("journal initialized", "journal_config", map[string]any{
		"type":                     cfg.JournalType,
		"path":                     cfg.JournalPath,
		"entry_ttl_seconds":        int(cfg.JournalTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.JournalCleanupInterval.Seconds()),
	})

	fanout, err := buildFanout(ctx, cfg.PublishersFile, log)
	if err != nil {
		_ = jrnl.Close()
		return nil, err
	}

	return &Runner{
		cfg:       cfg,
		queue:     dispatch.Main(),
		transport: httpclient.NewRestyTransport(cfg.HTTPTimeout, restyLog),
		journal:   jrnl,
		fanout:    fanout,
		log:       log,
		observed:  make(chan struct{}, 1),
	}, nil
}

// buildFanout loads enabled publishers; an empty path disables publishing.
func buildFanout(ctx context.Context, path string, log logger.Logger) (*publishers.Fanout, error) {
	if strings.TrimSpace(path) == "" {
		return publishers.NewFanout(nil), nil
	}

	enabled, err := publishers.LoadEnabled(path)
	if err != nil {
		return nil, fmt.Errorf("load publishers: %w", err)
	}
	pubs, err := publishers.BuildAll(ctx, publishers.DefaultBuilders(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabled))
	for _, p := range enabled {
		summaries = append(summaries, map[string]string{"id": p.ID, "type": p.Type})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(pubs), nil
}

// ServiceOptions returns the executor options the runner relies on.
func (r *Runner) ServiceOptions() []httpclient.Option {
	return []httpclient.Option{
		httpclient.WithTransport(r.transport),
		httpclient.WithQueue(r.queue),
		httpclient.WithObserver(r),
	}
}

// Run issues the configured request with svc, writes the decoded JSON body to
// out and returns the classified failure, if any.
func (r *Runner) Run(ctx context.Context, svc *httpclient.Service, out io.Writer) error {
	if r == nil || svc == nil {
		return fmt.Errorf("runner is not initialized")
	}
	if r.cfg.RequestURL == "" {
		return fmt.Errorf("request_url is required")
	}
	method, err := httpclient.ParseMethod(r.cfg.RequestMethod)
	if err != nil {
		return err
	}

	var body any
	if strings.TrimSpace(r.cfg.RequestBody) != "" {
		body = json.RawMessage(r.cfg.RequestBody)
	}

	r.log.InfoObj("request starting", "request", map[string]any{
		"method":   method.String(),
		"url":      redact(r.cfg.RequestURL),
		"has_body": body != nil,
	})

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()

	var result httpclient.Result[json.RawMessage]
	delivered := false
	httpclient.ExecuteString(svc, r.cfg.RequestURL, method, body, func(res httpclient.Result[json.RawMessage]) {
		result = res
		delivered = true
		stop()
	})

	if err := r.queue.Run(loopCtx); err != nil {
		return fmt.Errorf("main queue: %w", err)
	}
	if !delivered {
		return ctx.Err()
	}

	// Observers run after the completion is queued; give them time to finish
	// journaling and publishing before the runner is closed.
	select {
	case <-r.observed:
	case <-ctx.Done():
	case <-time.After(r.cfg.PublishTimeout + observeGrace):
		r.log.WarnObj("outcome observer did not report", "request_url", redact(r.cfg.RequestURL))
	}

	value, err := result.Get()
	if err != nil {
		return err
	}
	return writeJSON(out, value)
}

// ObserveOutcome logs, journals and publishes a finished call.
func (r *Runner) ObserveOutcome(o httpclient.Outcome) {
	defer func() {
		select {
		case r.observed <- struct{}{}:
		default:
		}
	}()

	fields := map[string]any{
		"request_id":  o.RequestID,
		"method":      o.Method.String(),
		"url":         redact(o.URL),
		"outcome":     o.Kind(),
		"status":      o.StatusCode,
		"duration_ms": o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		fields["error"] = o.Err.Description()
		r.log.WarnObj("request failed", "outcome", fields)
	} else {
		r.log.InfoObj("request completed", "outcome", fields)
	}

	if err := r.journal.Record(toEntry(o)); err != nil {
		r.log.ErrorObj("journal record failed", "error", err.Error())
	}

	if r.fanout.Size() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PublishTimeout)
	defer cancel()
	evt := toEvent(r.cfg.AppName, o)
	if n, err := r.fanout.Publish(ctx, evt); err != nil {
		r.log.ErrorObj("outcome publish failed", "publish_error", map[string]any{
			"request_id": o.RequestID,
			"delivered":  n,
			"error":      err.Error(),
		})
	}
}

// Recent returns the latest journaled outcomes.
func (r *Runner) Recent(limit int) ([]journal.Entry, error) {
	return r.journal.Recent(limit)
}

// Close releases the journal and publishers.
func (r *Runner) Close() error {
	if r == nil {
		return nil
	}
	return errors.Join(r.journal.Close(), r.fanout.Close())
}

func toEntry(o httpclient.Outcome) journal.Entry {
	e := journal.Entry{
		RequestID:   o.RequestID,
		Method:      o.Method.String(),
		URL:         redact(o.URL),
		Kind:        o.Kind(),
		StatusCode:  o.StatusCode,
		DurationMs:  o.Duration.Milliseconds(),
		CompletedAt: o.CompletedAt,
	}
	if o.Err != nil {
		e.Error = o.Err.Description()
	}
	return e
}

func toEvent(source string, o httpclient.Outcome) publishers.Event {
	e := publishers.Event{
		Source:      source,
		RequestID:   o.RequestID,
		Method:      o.Method.String(),
		URL:         redact(o.URL),
		Outcome:     o.Kind(),
		StatusCode:  o.StatusCode,
		DurationMs:  o.Duration.Milliseconds(),
		CompletedAt: o.CompletedAt,
	}
	if o.Err != nil {
		e.Error = o.Err.Description()
	}
	return e
}

// redact strips user info and query strings before addresses leave the process.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func writeJSON(out io.Writer, raw json.RawMessage) error {
	if out == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		buf.Reset()
		buf.Write(raw)
	}
	buf.WriteByte('\n')
	_, err := out.Write(buf.Bytes())
	return err
}
