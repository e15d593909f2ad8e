// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package netutil holds small helpers shared by the socket-only factory
// entry points; it has no knowledge of pollers, transports or listeners.
package netutil

import (
	"syscall"

	"github.com/pkg/errors"
)

// syscallConner is implemented by *net.TCPConn, *net.UDPConn, *net.UnixConn
// and *os.File.
type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// GetFD extracts the raw, non-blocking-mode file descriptor backing socket.
// It does not dup the descriptor; the caller decides ownership via
// TransportFlags/SocketFlags NoAutoClose.
func GetFD(socket syscallConner) (int, error) {
	raw, err := socket.SyscallConn()
	if err != nil {
		return -1, errors.Wrap(err, "syscall_conn")
	}
	var fd int
	var ctrlErr error
	err = raw.Control(func(descriptor uintptr) {
		fd = int(descriptor)
	})
	if err != nil {
		return -1, errors.Wrap(err, "raw_control")
	}
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	return fd, nil
}
