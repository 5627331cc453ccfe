package fesh

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	compressions          prometheus.Counter
	compressionFailures   prometheus.Counter
	decompressions        prometheus.Counter
	decompressionFailures prometheus.Counter
	selfCheckFailures     prometheus.Counter
	originalBytes         prometheus.Counter
	encodedBytes          prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		compressions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fesh_compressions_total",
			Help: "Containers built successfully.",
		}),
		compressionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fesh_compression_failures_total",
			Help: "Compressions aborted by a load, transform or encode error.",
		}),
		decompressions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fesh_decompressions_total",
			Help: "Containers reconstructed successfully.",
		}),
		decompressionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fesh_decompression_failures_total",
			Help: "Decompressions aborted by a corrupt or undecodable container.",
		}),
		selfCheckFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fesh_selfcheck_failures_total",
			Help: "Compressions whose reconstruction check did not match the input.",
		}),
		originalBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fesh_original_bytes_total",
			Help: "Input bytes across successful compressions.",
		}),
		encodedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fesh_encoded_bytes_total",
			Help: "Container bytes across successful compressions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.compressions,
			m.compressionFailures,
			m.decompressions,
			m.decompressionFailures,
			m.selfCheckFailures,
			m.originalBytes,
			m.encodedBytes,
		)
	}
	return m
}
