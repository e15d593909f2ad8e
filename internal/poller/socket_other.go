// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build !linux
// +build !linux

package poller

import "errors"

// NewPoll is only implemented on Linux; the BSD family has no poll backend
// (spec §4.4 names no fallback for kqueue) and Windows uses the
// completion-family poller instead.
func NewPoll(ignoreCallbackError bool) (Poller, error) {
	return nil, errors.New("poller: poll backend not implemented on this platform")
}

// NewSelect is only implemented on Linux; see NewPoll.
func NewSelect(ignoreCallbackError bool) (Poller, error) {
	return nil, errors.New("poller: select backend not implemented on this platform")
}
