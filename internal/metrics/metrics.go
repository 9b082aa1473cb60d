// Package metrics exposes the cache subsystem's prometheus collectors.
// The host application decides where (or whether) they are scraped.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	// attachment cache
	AttachmentHits   prometheus.Counter
	AttachmentMisses prometheus.Counter

	// crypto
	DecryptTotal    prometheus.Counter
	DecryptFailures prometheus.Counter

	// retention
	RetentionFiles   prometheus.Gauge
	RetentionBytes   prometheus.Gauge
	RetentionDeleted prometheus.Counter
}

// New builds the collector set and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttachmentHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgcache", Subsystem: "attachments", Name: "cache_hits_total",
			Help: "Attachment resolutions served from the memo table or a persisted handle.",
		}),
		AttachmentMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgcache", Subsystem: "attachments", Name: "cache_misses_total",
			Help: "Attachment resolutions that required a download and decrypt.",
		}),
		DecryptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgcache", Subsystem: "crypto", Name: "decrypt_total",
			Help: "Decrypt operations attempted.",
		}),
		DecryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgcache", Subsystem: "crypto", Name: "decrypt_failures_total",
			Help: "Decrypt operations that failed integrity verification.",
		}),
		RetentionFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "msgcache", Subsystem: "retention", Name: "files",
			Help: "Decrypted attachment files currently on disk.",
		}),
		RetentionBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "msgcache", Subsystem: "retention", Name: "bytes",
			Help: "Total size of decrypted attachment files on disk.",
		}),
		RetentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgcache", Subsystem: "retention", Name: "deleted_total",
			Help: "Files deleted by retention sweeps.",
		}),
	}

	reg.MustRegister(
		m.AttachmentHits, m.AttachmentMisses,
		m.DecryptTotal, m.DecryptFailures,
		m.RetentionFiles, m.RetentionBytes, m.RetentionDeleted,
	)
	return m
}

// NewUnregistered builds the collector set without registering it.
// Convenient default for tests.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
