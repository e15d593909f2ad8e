// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package poller

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ioplex/ioplex/metrics"
)

const slotBlockSize = 4 * 1024

func init() {
	defaultSlotCache = &slotCache{
		cache: make([]*Slot, 0, 1024),
	}
	runtime.KeepAlive(defaultSlotCache)
}

var defaultSlotCache *slotCache

// slotCache is a freelist-backed pool of Slot values. Slots must live in
// non-GC-moved memory because their address is stashed inside kernel event
// records (epoll_data.u64, kevent udata) between Control and the next Wait.
type slotCache struct {
	first  *Slot
	cache  []*Slot
	locked int32

	mu       sync.Mutex // protects freeList
	freeList []int32    // indices pending reclaim, batched to reduce GC pressure
}

func alloc() *Slot {
	return defaultSlotCache.alloc()
}

func (sc *slotCache) alloc() *Slot {
	sc.lock()
	if sc.first == nil {
		const sSize = unsafe.Sizeof(Slot{})
		n := slotBlockSize / sSize
		if n == 0 {
			n = 1
		}
		index := int32(len(sc.cache))
		for i := uintptr(0); i < n; i++ {
			s := &Slot{index: index}
			sc.cache = append(sc.cache, s)
			s.next = sc.first
			sc.first = s
			index++
		}
		// Every backend (epoll, kqueue, poll, select) shares this one
		// cache, so a burst of concurrent Attach calls against any of
		// them can drive a block growth; track it the same way the
		// per-backend event buffers track theirs.
		metrics.Add(metrics.SlotCacheGrow, 1)
	}
	s := sc.first
	sc.first = s.next
	sc.unlock()
	return s
}

func markSlotFree(s *Slot) {
	defaultSlotCache.markFree(s)
}

func freeSlots() {
	defaultSlotCache.free()
}

// markFree records that s may be recycled once free() runs. Reclaim is
// deferred so it can be batched under a single lock acquisition per Wait
// cycle, mirroring the way each backend's detach() batches kernel removals.
func (sc *slotCache) markFree(s *Slot) {
	sc.mu.Lock()
	sc.freeList = append(sc.freeList, s.index)
	sc.mu.Unlock()
}

func (sc *slotCache) free() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if len(sc.freeList) == 0 {
		return
	}

	sc.lock()
	for _, i := range sc.freeList {
		s := sc.cache[i]
		s.reset()
		s.next = sc.first
		sc.first = s
	}
	sc.freeList = sc.freeList[:0]
	sc.unlock()
}

func (sc *slotCache) lock() {
	for !atomic.CompareAndSwapInt32(&sc.locked, 0, 1) {
		runtime.Gosched()
	}
}

func (sc *slotCache) unlock() {
	atomic.StoreInt32(&sc.locked, 0)
}
