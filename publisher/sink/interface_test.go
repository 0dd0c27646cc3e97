package sink

import "github.com/wpmeta/wpmeta/publisher"

var (
	_ publisher.Sink = (*KafkaSink)(nil)
	_ publisher.Sink = (*NatsSink)(nil)
	_ publisher.Sink = (*LogSink)(nil)
)
