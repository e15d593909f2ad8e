// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package poller

// newPoller is component G's backend choice for the BSD family: kqueue
// unconditionally. Spec §4.4 names no version-gated fallback here, unlike
// Linux's epoll-or-poll choice.
func newPoller(ignoreCallbackError bool) (Poller, error) {
	return newKqueuePoller(ignoreCallbackError)
}
