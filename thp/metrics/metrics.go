// Package metrics provides optional Prometheus instrumentation for the
// owner of a thp.Channel/pool.Pool. The core protocol package takes no
// dependency on this package and keeps no counters of its own — the owner
// feeds these collectors from what its event loop observes;
// cmd/thp-hostsim and cmd/thp-devicesim wire them into a Registry and serve
// /metrics when --metrics-addr is set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/doismellburning/thp"
)

// Collectors groups every metric this module exports. Register it on a
// prometheus.Registerer once per process.
type Collectors struct {
	ChannelsAllocated  prometheus.Counter
	CRCFailures        prometheus.Counter
	AEADFailures       prometheus.Counter
	ARQRetransmits     prometheus.Counter
	HandshakeOutcomes  *prometheus.CounterVec
	TransportErrorsOut *prometheus.CounterVec
}

// New constructs a Collectors with a consistent "thp_" metric namespace.
func New() *Collectors {
	return &Collectors{
		ChannelsAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "thp",
			Name:      "channels_allocated_total",
			Help:      "Channels allocated via CHANNEL_ALLOCATION_REQUEST/RESPONSE.",
		}),
		CRCFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "thp",
			Name:      "crc_failures_total",
			Help:      "Packets dropped for failing CRC-32 verification.",
		}),
		AEADFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "thp",
			Name:      "aead_failures_total",
			Help:      "Messages dropped for failing AEAD authentication.",
		}),
		ARQRetransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "thp",
			Name:      "arq_retransmits_total",
			Help:      "Outbound messages rewound for retransmission by the owner's ARQ timer.",
		}),
		HandshakeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thp",
			Name:      "handshake_outcomes_total",
			Help:      "Completed handshakes by resulting pairing state.",
		}, []string{"pairing_state"}),
		TransportErrorsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thp",
			Name:      "transport_errors_total",
			Help:      "TRANSPORT_ERROR frames sent, by error code.",
		}, []string{"code"}),
	}
}

// MustRegister registers every collector on reg, panicking on duplicate
// registration (mirrors prometheus.MustRegister's own contract).
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.ChannelsAllocated,
		c.CRCFailures,
		c.AEADFailures,
		c.ARQRetransmits,
		c.HandshakeOutcomes,
		c.TransportErrorsOut,
	)
}

// ObserveHandshake records one completed handshake's pairing outcome.
func (c *Collectors) ObserveHandshake(state thp.PairingState) {
	label := "unpaired"
	switch state {
	case thp.PairingStatePaired:
		label = "paired"
	case thp.PairingStatePairedAutoconnect:
		label = "paired_autoconnect"
	}
	c.HandshakeOutcomes.WithLabelValues(label).Inc()
}

// ObserveTransportError records one outgoing TRANSPORT_ERROR frame.
func (c *Collectors) ObserveTransportError(code thp.TransportErrorCode) {
	c.TransportErrorsOut.WithLabelValues(code.String()).Inc()
}

// ObservePacketIn records the outcome of one Channel.PacketIn call against
// result. err is the error PacketIn itself returned, if any — PacketIn
// reports CRC and AEAD verification failures through the same sentinel
// (thp.ErrInvalidDigest), so both are folded into CRCFailures here; callers
// with lower-level access to NoiseCiphers.Decrypt can bump AEADFailures
// directly to split the two.
func (c *Collectors) ObservePacketIn(result thp.PacketInResult, err error) {
	if err == thp.ErrInvalidDigest {
		c.CRCFailures.Inc()
	}
}
