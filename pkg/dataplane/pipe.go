// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package dataplane

import (
	"context"
	"github.com/onosproject/onos-lib-go/pkg/errors"
)

// InjectFn hands a frame sent on a port over to the switch
type InjectFn func(port uint32, frame []byte) error

// Pipe is an in-memory dataplane wired directly to an in-process switch
type Pipe struct {
	queues  *portQueues
	inject  InjectFn
	trace   *Trace
	handler Handler
}

// NewPipe creates a pipe dataplane with the given ports; sent frames are handed to the inject function
func NewPipe(ports []uint32, inject InjectFn, opts ...Option) *Pipe {
	o := newOptions(opts)
	return &Pipe{
		queues:  newPortQueues(ports, o.queueSize),
		inject:  inject,
		trace:   o.trace,
		handler: o.handler,
	}
}

// Deliver enqueues a frame emitted by the switch on the given port
func (p *Pipe) Deliver(port uint32, frame []byte) {
	data := append([]byte(nil), frame...)
	p.trace.Record(port, data)
	if p.handler != nil {
		p.handler(port, data)
		return
	}
	p.queues.push(port, data)
}

// Send hands the frame to the switch as if received on the given port
func (p *Pipe) Send(port uint32, frame []byte) error {
	if !p.queues.hasPort(port) {
		return errors.NewNotFound("port %d not found", port)
	}
	p.trace.Record(port, frame)
	return p.inject(port, append([]byte(nil), frame...))
}

// Poll returns the first matching frame received on the given port
func (p *Pipe) Poll(ctx context.Context, port uint32, match MatchFn) (*Frame, error) {
	return p.queues.poll(ctx, port, match)
}

// PollAny returns the earliest frame received on any port
func (p *Pipe) PollAny(ctx context.Context) (*Frame, error) {
	return p.queues.pollAny(ctx)
}

// Flush discards all queued frames
func (p *Pipe) Flush() {
	p.queues.flush()
}

// Ports returns the pipe port numbers
func (p *Pipe) Ports() []uint32 {
	return p.queues.ports()
}

// Dropped returns the number of frames dropped on the given port
func (p *Pipe) Dropped(port uint32) uint64 {
	return p.queues.droppedOn(port)
}

// Close closes the pipe; pending pollers are released
func (p *Pipe) Close() error {
	p.queues.close()
	return nil
}
