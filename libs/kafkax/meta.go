package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID   = "event_id"
	HeaderOperation = "operation"
)

// EnvelopeMeta is the metadata the relay stamps on every Kafka message it publishes.
type EnvelopeMeta struct {
	EventID   string
	Operation string
}

// ExtractEnvelopeMeta reads the relay headers, falling back to the record key and topic suffix
// for messages written by producers that do not set them.
func ExtractEnvelopeMeta(msg kafka.Message) EnvelopeMeta {
	eventID := HeaderValue(msg.Headers, HeaderEventID)
	operation := HeaderValue(msg.Headers, HeaderOperation)
	if eventID == "" {
		eventID = string(msg.Key)
	}
	if operation == "" {
		if i := strings.LastIndex(msg.Topic, "."); i >= 0 {
			operation = msg.Topic[i+1:]
		} else {
			operation = msg.Topic
		}
	}
	return EnvelopeMeta{EventID: eventID, Operation: operation}
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
