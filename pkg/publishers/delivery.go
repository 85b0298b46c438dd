package publishers

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Logger is the part of the service logger sinks report deliveries to.
type Logger interface {
	DebugObj(msg, key string, obj interface{})
	ErrorObj(msg, key string, obj interface{})
}

type discard struct{}

func (discard) DebugObj(string, string, interface{}) {}
func (discard) ErrorObj(string, string, interface{}) {}

func orDiscard(log Logger) Logger {
	if log == nil {
		return discard{}
	}
	return log
}

// Message attributes brokers carry beside the body so consumers can filter
// without decoding it.
const (
	attrOutcome = "outcome"
	attrMethod  = "method"
	attrStatus  = "status_code"
)

// envelope is an encoded event and its routing attributes.
type envelope struct {
	body  []byte
	attrs map[string]string
}

func seal(evt Event) (envelope, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return envelope{}, fmt.Errorf("marshal event: %w", err)
	}
	attrs := make(map[string]string, 3)
	if evt.Outcome != "" {
		attrs[attrOutcome] = evt.Outcome
	}
	if evt.Method != "" {
		attrs[attrMethod] = evt.Method
	}
	if evt.StatusCode > 0 {
		attrs[attrStatus] = strconv.Itoa(evt.StatusCode)
	}
	return envelope{body: body, attrs: attrs}, nil
}

// report logs one delivery attempt. ref is the sink's receipt (message id or
// status) and err, when set, is wrapped with the sink type.
func report(log Logger, typ, id string, evt Event, ref string, err error) error {
	if err != nil {
		log.ErrorObj("outcome delivery failed", "publisher_error", map[string]any{
			"publisher_id": id,
			"type":         typ,
			"request_id":   evt.RequestID,
			"error":        err.Error(),
		})
		return fmt.Errorf("deliver to %s: %w", typ, err)
	}
	log.DebugObj("outcome delivered", "publisher_delivery", map[string]any{
		"publisher_id": id,
		"type":         typ,
		"request_id":   evt.RequestID,
		"ref":          ref,
	})
	return nil
}
