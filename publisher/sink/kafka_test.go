package sink

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/wpmeta/wpmeta/cfg"
	"github.com/wpmeta/wpmeta/publisher"
	_ "github.com/wpmeta/wpmeta/publisher/transformer"
)

func TestDefaultKafkaConfig(t *testing.T) {
	config := DefaultKafkaConfig([]string{"localhost:9092", "localhost:9093"})

	if len(config.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %d", len(config.Brokers))
	}
	if config.BatchSize != DefaultKafkaBatchSize {
		t.Errorf("expected batch size %d, got %d", DefaultKafkaBatchSize, config.BatchSize)
	}
	if config.RequiredAcks != kafka.RequireAll {
		t.Errorf("expected RequireAll acks, got %v", config.RequiredAcks)
	}
	if config.WriteTimeout != DefaultKafkaWriteTimeout {
		t.Errorf("expected write timeout %v, got %v", DefaultKafkaWriteTimeout, config.WriteTimeout)
	}
}

func TestNewKafkaSink(t *testing.T) {
	sink, err := NewKafkaSink(KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		BatchSize:    50,
		RequiredAcks: kafka.RequireOne,
	})
	if err != nil {
		t.Fatalf("unexpected error creating sink: %v", err)
	}
	defer sink.Close()

	if sink.writer.BatchSize != 50 {
		t.Errorf("expected batch size 50, got %d", sink.writer.BatchSize)
	}
	if sink.writer.BatchBytes != DefaultKafkaBatchBytes {
		t.Errorf("expected default batch bytes, got %d", sink.writer.BatchBytes)
	}
	if sink.writer.Async {
		t.Error("expected synchronous writer")
	}
	if _, ok := sink.writer.Balancer.(*kafka.Hash); !ok {
		t.Errorf("expected hash balancer, got %T", sink.writer.Balancer)
	}
}

func TestNewKafkaSinkEmptyBrokers(t *testing.T) {
	if _, err := NewKafkaSink(KafkaConfig{}); err == nil {
		t.Error("expected error for empty brokers, got nil")
	}
}

func TestRegisteredFactories(t *testing.T) {
	reg, err := publisher.NewRegistry(publisher.RegistryConfig{
		DataDir: t.TempDir(),
		Sinks: []cfg.SinkConfiguration{
			{Name: "events", Type: "kafka", Brokers: []string{"localhost:9092"}, BatchSize: 10},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reg.Stop()

	_, err = publisher.NewRegistry(publisher.RegistryConfig{
		DataDir: t.TempDir(),
		Sinks:   []cfg.SinkConfiguration{{Name: "bad", Type: "nats"}},
	})
	if err == nil {
		t.Error("expected error for nats sink without url")
	}
}

func TestSanitizeStreamName(t *testing.T) {
	tests := map[string]string{
		"wpmeta.post":      "wpmeta_post",
		"wpmeta.product.>": "wpmeta_product__",
		"plain":            "plain",
		"a b/c":            "a_b_c",
	}
	for in, want := range tests {
		if got := sanitizeStreamName(in); got != want {
			t.Errorf("sanitizeStreamName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLogSink_Publish(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(zerolog.New(&buf))

	if err := s.Publish("wpmeta.post", "12:seo_title", []byte(`{"op":"u"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["topic"] != "wpmeta.post" || line["key"] != "12:seo_title" {
		t.Errorf("unexpected log line %v", line)
	}
	if ev, ok := line["event"].(map[string]interface{}); !ok || ev["op"] != "u" {
		t.Errorf("expected event payload to be embedded, got %v", line["event"])
	}
}

func TestLogSink_Concurrent(t *testing.T) {
	s := NewLogSink(zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Publish("topic", "key", []byte(`{}`))
		}()
	}
	wg.Wait()

	if s.Published() != 10 {
		t.Errorf("expected 10 events, got %d", s.Published())
	}
	if err := s.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestRegisteredSinkTypes(t *testing.T) {
	r, err := publisher.NewRegistry(publisher.RegistryConfig{
		DataDir: t.TempDir(),
		Sinks:   []cfg.SinkConfiguration{{Name: "debug", Type: "log"}},
	})
	if err != nil {
		t.Fatalf("registry with log sink: %v", err)
	}
	r.Stop()

	_, err = publisher.NewRegistry(publisher.RegistryConfig{
		DataDir: t.TempDir(),
		Sinks:   []cfg.SinkConfiguration{{Name: "x", Type: "carrier-pigeon"}},
	})
	if err == nil {
		t.Error("expected unknown sink type to fail")
	}
}
