// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package dataplane

import (
	"context"
	"github.com/onosproject/onos-lib-go/pkg/errors"
)

// Ethernet is a dataplane whose ports are Linux network interfaces; it is unavailable on this platform
type Ethernet struct{}

// NewEthernet always fails on platforms other than Linux
func NewEthernet(interfaces map[uint32]string, opts ...Option) (*Ethernet, error) {
	return nil, errors.NewNotSupported("raw Ethernet ports require Linux")
}

// Send is not supported
func (e *Ethernet) Send(port uint32, frame []byte) error {
	return errors.NewNotSupported("raw Ethernet ports require Linux")
}

// Poll is not supported
func (e *Ethernet) Poll(ctx context.Context, port uint32, match MatchFn) (*Frame, error) {
	return nil, errors.NewNotSupported("raw Ethernet ports require Linux")
}

// PollAny is not supported
func (e *Ethernet) PollAny(ctx context.Context) (*Frame, error) {
	return nil, errors.NewNotSupported("raw Ethernet ports require Linux")
}

// Flush does nothing
func (e *Ethernet) Flush() {}

// Ports returns no ports
func (e *Ethernet) Ports() []uint32 {
	return nil
}

// Dropped returns zero
func (e *Ethernet) Dropped(port uint32) uint64 {
	return 0
}

// Wait returns immediately
func (e *Ethernet) Wait() error {
	return nil
}

// Close does nothing
func (e *Ethernet) Close() error {
	return nil
}
