package publishers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samvad-hq/samvad-base-service/pkg/httpclient"
)

const maxErrorBody = 512

// httpPublisher posts each outcome to a webhook. The request id of the call
// being reported travels as X-Request-ID so receivers can deduplicate.
type httpPublisher struct {
	id      string
	method  string
	url     string
	headers map[string]string
	client  *resty.Client
	log     Logger
}

func newHTTPPublisher(_ context.Context, cfg PublisherConfig, log Logger) (Publisher, error) {
	if cfg.HTTP == nil {
		return nil, fmt.Errorf("publisher %q missing http configuration", cfg.ID)
	}
	return &httpPublisher{
		id:      cfg.ID,
		method:  cfg.HTTP.Method,
		url:     cfg.HTTP.URL,
		headers: cfg.HTTP.Headers,
		client:  httpclient.NewRestyHTTPClient(time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second),
		log:     orDiscard(log),
	}, nil
}

func (h *httpPublisher) ID() string   { return h.id }
func (h *httpPublisher) Type() string { return TypeHTTP }

func (h *httpPublisher) Publish(ctx context.Context, evt Event) error {
	env, err := seal(evt)
	if err != nil {
		return err
	}
	req := h.client.R().
		SetContext(ctx).
		SetHeaders(h.headers).
		SetHeader("Content-Type", "application/json").
		SetBody(env.body)
	if evt.RequestID != "" {
		req.SetHeader("X-Request-ID", evt.RequestID)
	}

	resp, err := req.Execute(h.method, h.url)
	switch {
	case err != nil:
	case resp.IsError():
		err = fmt.Errorf("status %d: %s", resp.StatusCode(), errorBody(resp.Body()))
	default:
		return report(h.log, TypeHTTP, h.id, evt, strconv.Itoa(resp.StatusCode()), nil)
	}
	return report(h.log, TypeHTTP, h.id, evt, "", err)
}

func errorBody(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return "<empty body>"
}
