package publishers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePublishersFile(t *testing.T, name, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func TestLoadEnabledSkipsDisabled(t *testing.T) {
	path := writePublishersFile(t, "publishers.yaml", `
publishers:
  - id: http1
    type: http
    enabled: false
    http:
      url: https://example.com
  - id: http2
    type: http
    enabled: true
    http:
      url: https://example.com/2
      headers:
        " X-Key ": " v "
        X-Empty: ""
`)

	enabled, err := LoadEnabled(path)
	if err != nil {
		t.Fatalf("LoadEnabled: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != "http2" {
		t.Fatalf("expected only http2 enabled, got %#v", enabled)
	}
	h := enabled[0].HTTP
	if h.Method != httpDefaultMethod || h.TimeoutSeconds != httpDefaultTimeoutSeconds {
		t.Fatalf("http defaults not applied: %#v", h)
	}
	if len(h.Headers) != 1 || h.Headers["X-Key"] != "v" {
		t.Fatalf("headers not normalized: %#v", h.Headers)
	}
}

func TestLoadEnabledJSONWithCloudSinks(t *testing.T) {
	path := writePublishersFile(t, "publishers.json", `{"publishers":[
  {"id":" sns1 ","type":"SNS","sns":{"topic_arn":"arn:aws:sns:us-east-1:1:t","region":"us-east-1","credentials":{"access_key_id":"AK","secret_access_key":""}}},
  {"id":"ps","type":"gcp_pubsub","gcp_pubsub":{"project_id":"p","topic":"t"}}
]}`)

	enabled, err := LoadEnabled(path)
	if err != nil {
		t.Fatalf("LoadEnabled: %v", err)
	}
	if len(enabled) != 2 {
		t.Fatalf("expected both publishers enabled, got %d", len(enabled))
	}
	sns := enabled[0]
	if sns.ID != "sns1" || sns.Type != TypeSNS {
		t.Fatalf("sns publisher not normalized: %#v", sns)
	}
	if sns.SNS.Credentials != nil {
		t.Fatalf("incomplete credentials should be dropped")
	}
}

func TestLoadEnabledRejectsDuplicateIDs(t *testing.T) {
	path := writePublishersFile(t, "publishers.yml", `
publishers:
  - {id: a, type: http, enabled: false, http: {url: "https://x"}}
  - {id: a, type: http, http: {url: "https://y"}}
`)
	if _, err := LoadEnabled(path); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestValidateRejectsIncompleteSinks(t *testing.T) {
	cases := []struct {
		cfg  PublisherConfig
		want string
	}{
		{PublisherConfig{ID: "h1", Type: TypeHTTP}, "http is required"},
		{PublisherConfig{ID: "s", Type: TypeSNS, SNS: &SNSPublisherConfig{Region: "us-east-1"}}, "sns.topic_arn"},
		{PublisherConfig{ID: "q", Type: TypeSQS, SQS: &SQSPublisherConfig{QueueURL: "https://q"}}, "sqs.region"},
		{PublisherConfig{ID: "g", Type: TypeGCPPubSub, GCPPubSub: &GCPPubSubPublisherConfig{ProjectID: "p"}}, "gcp_pubsub.topic"},
		{PublisherConfig{ID: "g2", Type: TypeGCPPubSub}, "gcp_pubsub is required"},
		{PublisherConfig{Type: TypeHTTP}, "id is required"},
	}
	for _, tc := range cases {
		err := tc.cfg.validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("validate(%#v) = %v, want %q", tc.cfg, err, tc.want)
		}
	}
}
