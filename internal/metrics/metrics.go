// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksObserved counts new blocks handled by the poller.
	BlocksObserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainmonitor_blocks_observed_total",
		Help: "Total number of new blocks observed",
	})

	// Rollbacks counts detected chain resets.
	Rollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainmonitor_rollbacks_total",
		Help: "Total number of detected block number rollbacks",
	})

	// PollFailures counts failed latest-block fetches.
	PollFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainmonitor_poll_failures_total",
		Help: "Total number of failed latest-block fetches",
	})

	// ReceiptFailures counts receipt fetches that failed inside a tick.
	ReceiptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainmonitor_receipt_failures_total",
		Help: "Total number of failed transaction receipt fetches",
	})

	// DecodeFailures tracks logs skipped because they failed to decode.
	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmonitor_decode_failures_total",
			Help: "Total number of logs that failed to decode",
		},
		[]string{"contract"},
	)

	// DecodedEvents counts decoded events by contract and event name.
	DecodedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmonitor_decoded_events_total",
			Help: "Total number of decoded contract events",
		},
		[]string{"contract", "event"},
	)

	// MessagesPublished counts messages handed to at least one subscriber.
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmonitor_messages_published_total",
			Help: "Total number of messages delivered to subscriber buffers",
		},
		[]string{"type"},
	)

	// MessagesDropped counts per-subscriber drops on full buffers.
	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainmonitor_messages_dropped_total",
			Help: "Total number of messages dropped for slow subscribers",
		},
		[]string{"type"},
	)

	// RefreshFailures counts failed refresh-source reads.
	RefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainmonitor_refresh_failures_total",
		Help: "Total number of failed stats refresh reads",
	})

	// ArchiveFailures counts archive writes that returned an error.
	ArchiveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainmonitor_archive_failures_total",
		Help: "Total number of failed archive writes",
	})

	// LatestBlock tracks the last block number observed.
	LatestBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainmonitor_latest_block",
		Help: "Latest block number observed by the poller",
	})

	// Subscribers tracks connected hub subscribers.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainmonitor_subscribers",
		Help: "Number of connected subscribers",
	})

	// TickDuration tracks how long one poll tick takes end to end.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chainmonitor_tick_duration_seconds",
		Help:    "Poll tick duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
)
