// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package metrics

import "github.com/prometheus/client_golang/prometheus"

// PollerStats is a set of prometheus counters for operators that scrape
// rather than read ShowMetrics() off stdout. They are separate from the
// Add/Get counters in this package: nothing in the library increments
// them, so they move only when the caller increments them.
// Construction follows the CounterVec-per-namespace convention used by
// other services built against this same stack.
type PollerStats struct {
	PollCalls      *prometheus.CounterVec
	PollEvents     prometheus.Counter
	BufferGrowth   prometheus.Counter
	ReKeySkipped   prometheus.Counter
	Attaches       prometheus.Counter
	Detaches       prometheus.Counter
	SlotCacheGrows prometheus.Counter
}

// NewPollerStats builds a PollerStats registered under namespace. It does
// not register the metrics with any registry; callers do that explicitly
// with MustRegister so a process embedding this library as a dependency
// is never forced onto the default registry.
func NewPollerStats(namespace string) *PollerStats {
	return &PollerStats{
		PollCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_calls_total",
			Help:      "Number of Poll calls, labeled by whether the call blocked in the kernel.",
		}, []string{"blocked"}),
		PollEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_events_total",
			Help:      "Number of kernel events or completions delivered across all Poll calls.",
		}),
		BufferGrowth: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_buffer_growths_total",
			Help:      "Number of times a poller doubled its event buffer after a saturated drain.",
		}),
		ReKeySkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_rekey_skipped_total",
			Help:      "Number of kernel events discarded because their slot was re-keyed mid-drain.",
		}),
		Attaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attaches_total",
			Help:      "Number of Poller.Attach calls.",
		}),
		Detaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detaches_total",
			Help:      "Number of Poller.Detach calls, including auto-detach on hangup or error.",
		}),
		SlotCacheGrows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_cache_growths_total",
			Help:      "Number of times the shared slot cache allocated a new block of slots.",
		}),
	}
}

// Collectors returns every metric in s for bulk registration, e.g.
// registry.MustRegister(s.Collectors()...).
func (s *PollerStats) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.PollCalls, s.PollEvents, s.BufferGrowth, s.ReKeySkipped, s.Attaches, s.Detaches,
		s.SlotCacheGrows,
	}
}
