//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package metrics provides runtime counters for the poller core, useful
// for performance tuning: how often a Poll call actually blocked, how many
// events it returned, how often the event buffer had to grow, and how
// often a mid-drain re-key was caught and skipped.
package metrics

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// All metrics definitions.
const (
	// PollWait counts Poll calls that returned from the kernel wait
	// (readiness backends) or GetQueuedCompletionStatus (completion
	// backend).
	PollWait = iota
	// PollNoWait counts Poll calls issued with a zero timeout.
	PollNoWait
	// PollEvents counts the total number of kernel events/completions
	// returned across all Poll calls.
	PollEvents
	// EventBufferGrow counts how many times a poller doubled its event
	// buffer because a drain came back completely full.
	EventBufferGrow
	// SlotReKeySkipped counts events discarded because their slot was
	// re-keyed mid-drain (spec §3 generation/modified mechanism).
	SlotReKeySkipped
	// AttachCalls counts successful Poller.Attach calls.
	AttachCalls
	// DetachCalls counts Poller.Detach calls, including auto-detach on
	// hangup/error.
	DetachCalls
	// CompletionContextsLinked counts IOContext link operations
	// (completion family).
	CompletionContextsLinked
	// CompletionContextsUnlinked counts IOContext unlink operations
	// (completion family).
	CompletionContextsUnlinked
	// SlotCacheGrow counts how many times the slot cache allocated a new
	// block of slots because its freelist was empty.
	SlotCacheGrow
	// Max is the number of defined metrics and is not itself a metric.
	Max
)

var metricValues [Max]atomic.Uint64

// Add adds delta to the named counter. Out-of-range names are ignored.
func Add(name int, delta uint64) {
	if name < 0 || name >= Max {
		return
	}
	metricValues[name].Add(delta)
}

// Get returns the current value of the named counter.
func Get(name int) uint64 {
	if name < 0 || name >= Max {
		return 0
	}
	return metricValues[name].Load()
}

// GetAll returns a snapshot of every counter.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metricValues {
		m[i] = metricValues[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on. It
// blocks for d, then prints the delta.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	now := GetAll()
	var m [Max]uint64
	for i := range metricValues {
		m[i] = now[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics prints a snapshot of every counter to stdout.
func ShowMetrics() {
	showAll(GetAll())
}

func showAll(m [Max]uint64) {
	fmt.Println("######### ioplex metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	fmt.Printf("%-59s: %d\n", "# number of Poll calls returned from kernel wait", m[PollWait])
	fmt.Printf("%-59s: %d\n", "# number of Poll calls issued with zero timeout", m[PollNoWait])
	fmt.Printf("%-59s: %d\n", "# number of kernel events/completions delivered", m[PollEvents])
	fmt.Printf("%-59s: %d\n", "# number of event buffer growths", m[EventBufferGrow])
	fmt.Printf("%-59s: %d\n", "# number of re-keyed-slot events skipped", m[SlotReKeySkipped])
	fmt.Printf("%-59s: %d\n", "# number of Attach calls", m[AttachCalls])
	fmt.Printf("%-59s: %d\n", "# number of Detach calls", m[DetachCalls])
	fmt.Printf("%-59s: %d\n", "# number of IOContext link calls", m[CompletionContextsLinked])
	fmt.Printf("%-59s: %d\n", "# number of IOContext unlink calls", m[CompletionContextsUnlinked])
	fmt.Printf("%-59s: %d\n", "# number of slot cache block growths", m[SlotCacheGrow])
	fmt.Printf("\n")
}
