// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build linux
// +build linux

package poller

// NewPoll forces the poll backend regardless of kernel capability
// (spec §4.4 "Socket-only fallback: CreateSocketPoll"). Unlike New, which
// picks epoll automatically when available, this is an explicit opt-in for
// callers that only ever watch sockets and want the portable fallback.
func NewPoll(ignoreCallbackError bool) (Poller, error) {
	return newPollPoller(ignoreCallbackError)
}

// NewSelect forces the select backend (spec §4.4 "Socket-only fallback:
// ... CreateSocketSelect"). Descriptors at or above FD_SETSIZE cannot be
// attached; see ErrDescriptorTooLarge.
func NewSelect(ignoreCallbackError bool) (Poller, error) {
	return newSelectPoller(ignoreCallbackError)
}
