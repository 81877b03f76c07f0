// Package publisher mirrors collected UPS variables to MQTT: one topic per
// variable plus a combined JSON state topic per UPS.
package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/nut-exporter/internal/metrics"
)

// Message is a single MQTT publish request.
type Message struct {
	Topic    string
	Payload  string
	Retained bool
}

// Publisher is the minimal interface the rest of the codebase uses to send
// MQTT messages. The real MQTT client and FakePublisher both implement it.
type Publisher interface {
	Publish(msg Message) error
	Close() error
}

// PublishConfig groups the MQTT routing parameters.
type PublishConfig struct {
	Prefix   string
	Retained bool
}

// StateMessage is the JSON payload for the combined per-UPS state topic.
type StateMessage struct {
	Timestamp string            `json:"timestamp"`
	Server    string            `json:"server"`
	UPS       string            `json:"ups"`
	Variables map[string]string `json:"variables"`
}

// OnlineState is the LWT / online-announcement payload.
type OnlineState struct {
	Online    bool   `json:"online"`
	Timestamp string `json:"timestamp"`
}

// PublishAll publishes every sample in res under
// <prefix>/<server>/<ups>/<variable with dots as slashes>, with the raw NUT
// value as payload, followed by one combined JSON state topic per UPS.
// Samples are published in collection order. It returns the first publish
// error encountered.
func PublishAll(res *metrics.Result, cfg PublishConfig, pub Publisher) error {
	if res == nil {
		return nil
	}

	type upsKey struct{ server, ups string }
	var order []upsKey
	states := make(map[upsKey]map[string]string)

	// --- individual variable topics ---
	for _, s := range res.All() {
		if s.Source == "" {
			continue
		}
		server, _ := s.Labels.Get(metrics.LabelServer)
		ups, _ := s.Labels.Get(metrics.LabelUPS)
		key := upsKey{server: server, ups: ups}
		vars, ok := states[key]
		if !ok {
			vars = make(map[string]string)
			states[key] = vars
			order = append(order, key)
		}
		vars[s.Source] = s.Raw

		topic := VariableTopic(cfg.Prefix, key.server, key.ups, s.Source)
		if err := pub.Publish(Message{Topic: topic, Payload: s.Raw, Retained: cfg.Retained}); err != nil {
			return err
		}
	}

	// --- combined JSON state topics ---
	now := time.Now().UTC().Format(time.RFC3339)
	for _, key := range order {
		if err := publishState(now, key.server, key.ups, states[key], cfg, pub); err != nil {
			return err
		}
	}
	return nil
}

// VariableTopic returns the MQTT topic for one variable of one UPS.
func VariableTopic(prefix, server, ups, variable string) string {
	return fmt.Sprintf("%s/%s/%s/%s", prefix, server, ups, strings.ReplaceAll(variable, ".", "/"))
}

// StateTopic returns the MQTT topic used for the combined state message.
func StateTopic(prefix, server, ups string) string {
	return fmt.Sprintf("%s/%s/%s/state", prefix, server, ups)
}

// StatusTopic returns the topic carrying the exporter's own online state,
// which is also registered as the Last Will and Testament.
func StatusTopic(prefix string) string {
	return prefix + "/exporter/status"
}

// FormatOnline returns the JSON payload for the online announcement.
func FormatOnline() string {
	return formatOnlineState(true)
}

// FormatOffline returns the JSON payload for the offline announcement.
func FormatOffline() string {
	return formatOnlineState(false)
}

func formatOnlineState(online bool) string {
	payload, _ := json.Marshal(OnlineState{
		Online:    online,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return string(payload)
}

// publishState marshals and publishes the combined JSON state message.
func publishState(ts, server, ups string, vars map[string]string, cfg PublishConfig, pub Publisher) error {
	payload, err := json.Marshal(StateMessage{
		Timestamp: ts,
		Server:    server,
		UPS:       ups,
		Variables: vars,
	})
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}
	return pub.Publish(Message{
		Topic:    StateTopic(cfg.Prefix, server, ups),
		Payload:  string(payload),
		Retained: cfg.Retained,
	})
}
