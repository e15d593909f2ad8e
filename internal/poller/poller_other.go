// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build !linux && !freebsd && !dragonfly && !darwin
// +build !linux,!freebsd,!dragonfly,!darwin

package poller

import "errors"

// newPoller has no readiness-family backend on this platform (e.g.
// Windows, which uses the completion-family poller in internal/iocp
// instead). Callers on these platforms should not reach this package.
func newPoller(ignoreCallbackError bool) (Poller, error) {
	return nil, errors.New("poller: no readiness backend for this platform")
}
