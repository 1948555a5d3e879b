// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package dataplane implements the test ports used to exchange frames with the switch under test
package dataplane

import (
	"context"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"sort"
	"sync"
	"time"
)

var log = logging.GetLogger("dataplane")

// DefaultQueueSize is the default number of frames retained per port
const DefaultQueueSize = 1024

// Frame is an Ethernet frame received on a port
type Frame struct {
	Port uint32
	Data []byte
	Time time.Time
	seq  uint64
}

// MatchFn decides whether a received frame is the one a poller waits for
type MatchFn func(data []byte) bool

// Dataplane is a set of switch facing ports on which frames can be sent and received
type Dataplane interface {
	// Send transmits the frame on the given port
	Send(port uint32, frame []byte) error

	// Poll returns the first frame received on the given port accepted by the match function;
	// a nil match accepts any frame. Frames skipped over stay queued.
	Poll(ctx context.Context, port uint32, match MatchFn) (*Frame, error)

	// PollAny returns the earliest frame received on any port
	PollAny(ctx context.Context) (*Frame, error)

	// Flush discards all queued frames
	Flush()

	// Ports returns the port numbers of the dataplane, sorted
	Ports() []uint32

	// Dropped returns the number of frames dropped because of a full queue on the given port
	Dropped(port uint32) uint64

	// Close releases the dataplane resources
	Close() error
}

// Handler consumes frames received on a port instead of queuing them
type Handler func(port uint32, frame []byte)

type options struct {
	queueSize int
	trace     *Trace
	handler   Handler
}

// Option customizes a dataplane
type Option func(*options)

// WithQueueSize sets the number of frames retained per port
func WithQueueSize(size int) Option {
	return func(o *options) {
		o.queueSize = size
	}
}

// WithTrace records every sent and received frame into the given trace
func WithTrace(trace *Trace) Option {
	return func(o *options) {
		o.trace = trace
	}
}

// WithHandler hands received frames to the given handler instead of queuing them
func WithHandler(handler Handler) Option {
	return func(o *options) {
		o.handler = handler
	}
}

func newOptions(opts []Option) options {
	o := options{queueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// portQueues holds the frames received per port in arrival order
type portQueues struct {
	lock    sync.Mutex
	frames  map[uint32][]*Frame
	dropped map[uint32]uint64
	signal  chan struct{}
	size    int
	seq     uint64
	closed  bool
}

func newPortQueues(ports []uint32, size int) *portQueues {
	q := &portQueues{
		frames:  make(map[uint32][]*Frame),
		dropped: make(map[uint32]uint64),
		signal:  make(chan struct{}),
		size:    size,
	}
	for _, port := range ports {
		q.frames[port] = nil
	}
	return q
}

func (q *portQueues) ports() []uint32 {
	q.lock.Lock()
	defer q.lock.Unlock()
	ports := make([]uint32, 0, len(q.frames))
	for port := range q.frames {
		ports = append(ports, port)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

func (q *portQueues) hasPort(port uint32) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	_, ok := q.frames[port]
	return ok
}

func (q *portQueues) push(port uint32, data []byte) {
	q.lock.Lock()
	defer q.lock.Unlock()
	queue, ok := q.frames[port]
	if !ok || q.closed {
		return
	}
	q.seq++
	if len(queue) >= q.size {
		queue = queue[1:]
		q.dropped[port]++
		log.Warnf("Port %d: queue full; dropped oldest frame", port)
	}
	q.frames[port] = append(queue, &Frame{Port: port, Data: data, Time: time.Now(), seq: q.seq})
	close(q.signal)
	q.signal = make(chan struct{})
}

// take removes and returns the first frame on the port accepted by the match function
func (q *portQueues) take(port uint32, match MatchFn) (*Frame, bool) {
	for i, f := range q.frames[port] {
		if match == nil || match(f.Data) {
			queue := q.frames[port]
			q.frames[port] = append(queue[:i:i], queue[i+1:]...)
			return f, true
		}
	}
	return nil, false
}

// takeAny removes and returns the earliest frame queued on any port
func (q *portQueues) takeAny() (*Frame, bool) {
	var first *Frame
	for _, queue := range q.frames {
		if len(queue) > 0 && (first == nil || queue[0].seq < first.seq) {
			first = queue[0]
		}
	}
	if first == nil {
		return nil, false
	}
	q.frames[first.Port] = q.frames[first.Port][1:]
	return first, true
}

// wait blocks until the take function yields a frame, the context is done or the queues are closed
func (q *portQueues) wait(ctx context.Context, take func() (*Frame, bool)) (*Frame, error) {
	for {
		q.lock.Lock()
		if q.closed {
			q.lock.Unlock()
			return nil, errors.NewUnavailable("dataplane closed")
		}
		if f, ok := take(); ok {
			q.lock.Unlock()
			return f, nil
		}
		signal := q.signal
		q.lock.Unlock()

		select {
		case <-ctx.Done():
			return nil, errors.NewTimeout("no matching frame: %v", ctx.Err())
		case <-signal:
		}
	}
}

func (q *portQueues) poll(ctx context.Context, port uint32, match MatchFn) (*Frame, error) {
	if !q.hasPort(port) {
		return nil, errors.NewNotFound("port %d not found", port)
	}
	return q.wait(ctx, func() (*Frame, bool) { return q.take(port, match) })
}

func (q *portQueues) pollAny(ctx context.Context) (*Frame, error) {
	return q.wait(ctx, q.takeAny)
}

func (q *portQueues) flush() {
	q.lock.Lock()
	defer q.lock.Unlock()
	for port := range q.frames {
		q.frames[port] = nil
	}
}

func (q *portQueues) droppedOn(port uint32) uint64 {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.dropped[port]
}

func (q *portQueues) close() {
	q.lock.Lock()
	defer q.lock.Unlock()
	if !q.closed {
		q.closed = true
		close(q.signal)
	}
}
