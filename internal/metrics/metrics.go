package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luma/courier/session"
)

const namespace = "courier"

// StatsSource is anything that can report session counters, usually a
// client connection.
type StatsSource interface {
	Stats() session.Stats
}

// Collector exports a connection's session counters to Prometheus. The
// counters live in the session, Collector only reads them on scrape.
type Collector struct {
	source StatsSource

	framesIn         *prometheus.Desc
	msgsIn           *prometheus.Desc
	bytesIn          *prometheus.Desc
	msgsOut          *prometheus.Desc
	bytesOut         *prometheus.Desc
	acks             *prometheus.Desc
	unrecognized     *prometheus.Desc
	serverErrors     *prometheus.Desc
	dispatchFailures *prometheus.Desc
	dropped          *prometheus.Desc
	subscriptions    *prometheus.Desc
	pingsOut         *prometheus.Desc
}

// NewCollector returns a collector labelled with the connection name.
func NewCollector(source StatsSource, name string) *Collector {
	labels := prometheus.Labels{"connection": name}

	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", metric), help, nil, labels)
	}

	return &Collector{
		source: source,

		framesIn:         desc("frames_received_total", "Protocol frames received from the server."),
		msgsIn:           desc("messages_received_total", "MSG frames dispatched to subscriptions."),
		bytesIn:          desc("bytes_received_total", "Bytes read from the transport."),
		msgsOut:          desc("messages_published_total", "PUB frames written."),
		bytesOut:         desc("bytes_written_total", "Bytes written to the transport."),
		acks:             desc("acks_total", "+OK frames received."),
		unrecognized:     desc("unrecognized_frames_total", "Frames with an unknown verb."),
		serverErrors:     desc("server_errors_total", "-ERR frames received."),
		dispatchFailures: desc("dispatch_failures_total", "Subscription handlers that failed or panicked."),
		dropped:          desc("dropped_messages_total", "Messages for which no handler was registered."),
		subscriptions:    desc("subscriptions", "Active subscriptions."),
		pingsOut:         desc("pings_outstanding", "PINGs sent and not yet answered."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesIn
	ch <- c.msgsIn
	ch <- c.bytesIn
	ch <- c.msgsOut
	ch <- c.bytesOut
	ch <- c.acks
	ch <- c.unrecognized
	ch <- c.serverErrors
	ch <- c.dispatchFailures
	ch <- c.dropped
	ch <- c.subscriptions
	ch <- c.pingsOut
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	counter := func(desc *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v))
	}

	gauge := func(desc *prometheus.Desc, v int) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(v))
	}

	counter(c.framesIn, stats.FramesIn)
	counter(c.msgsIn, stats.MsgsIn)
	counter(c.bytesIn, stats.BytesIn)
	counter(c.msgsOut, stats.MsgsOut)
	counter(c.bytesOut, stats.BytesOut)
	counter(c.acks, stats.Acks)
	counter(c.unrecognized, stats.Unrecognized)
	counter(c.serverErrors, stats.ServerErrors)
	counter(c.dispatchFailures, stats.DispatchFailures)
	counter(c.dropped, stats.Dropped)
	gauge(c.subscriptions, stats.Subscriptions)
	gauge(c.pingsOut, stats.PingsOut)
}

var _ prometheus.Collector = (*Collector)(nil)
