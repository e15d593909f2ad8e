// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build linux
// +build linux

package poller

import (
	"github.com/ioplex/ioplex/internal/platform"
	"github.com/ioplex/ioplex/log"
)

// newPoller is component G's runtime backend choice for Linux (spec §4.4):
// epoll when the running kernel is new enough to support it, poll
// otherwise. The probe is a kernel-version check, not a build-time
// constant, so both backends are always compiled in on linux and the
// choice happens once, here, at construction time.
func newPoller(ignoreCallbackError bool) (Poller, error) {
	if platform.HasEpoll() {
		return newEpollPoller(ignoreCallbackError)
	}
	log.Debugf("ioplex: kernel does not report epoll support; falling back to poll")
	return newPollPoller(ignoreCallbackError)
}
