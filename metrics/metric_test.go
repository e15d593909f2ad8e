// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package metrics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ioplex/ioplex/metrics"
)

func TestMetrics(t *testing.T) {
	metrics.Add(metrics.PollWait, 1)
	assert.Equal(t, uint64(1), metrics.Get(metrics.PollWait))
	metrics.Add(metrics.PollWait, 1)
	assert.Equal(t, uint64(2), metrics.Get(metrics.PollWait))
	metrics.Add(metrics.Max+1, 1)
	assert.Equal(t, uint64(0), metrics.Get(metrics.Max+1))
	metrics.Add(-1, 1)
	assert.Equal(t, uint64(0), metrics.Get(-1))

	metrics.Add(metrics.PollEvents, 99)
	metrics.Add(metrics.EventBufferGrow, 1)
	metrics.Add(metrics.SlotReKeySkipped, 2)
	metrics.Add(metrics.AttachCalls, 3)
	metrics.Add(metrics.DetachCalls, 1)

	metrics.ShowMetrics()
	metrics.ShowMetricsOfPeriod(time.Millisecond)
}

func TestPollerStats(t *testing.T) {
	s := metrics.NewPollerStats("ioplex_test")
	require := assert.New(t)
	require.Len(s.Collectors(), 7)
	s.PollCalls.WithLabelValues("true").Inc()
	s.PollEvents.Inc()
	s.Attaches.Add(2)
}
