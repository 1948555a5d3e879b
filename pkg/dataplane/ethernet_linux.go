// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package dataplane

import (
	"context"
	"github.com/google/gopacket/afpacket"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/vishvananda/netlink"
	"golang.org/x/sync/errgroup"
	"hash/fnv"
	"sync"
	"time"
)

// receivers check for cancellation at least this often
const pollTimeout = 100 * time.Millisecond

// Ethernet is a dataplane whose ports are Linux network interfaces accessed through AF_PACKET sockets
type Ethernet struct {
	queues  *portQueues
	handles map[uint32]*afpacket.TPacket
	trace   *Trace
	handler Handler
	echoes  *echoes
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewEthernet opens the given port interfaces and starts receiving frames on them
func NewEthernet(interfaces map[uint32]string, opts ...Option) (*Ethernet, error) {
	o := newOptions(opts)
	ports := make([]uint32, 0, len(interfaces))
	handles := make(map[uint32]*afpacket.TPacket, len(interfaces))
	for port, name := range interfaces {
		handle, err := afpacket.NewTPacket(afpacket.OptInterface(name), afpacket.OptPollTimeout(pollTimeout))
		if err != nil {
			for _, h := range handles {
				h.Close()
			}
			return nil, errors.NewUnavailable("unable to open interface %s for port %d: %+v", name, port, err)
		}
		if err := setPromiscuous(name); err != nil {
			log.Warnf("Port %d: unable to set %s promiscuous: %+v", port, name, err)
		}
		handles[port] = handle
		ports = append(ports, port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	e := &Ethernet{
		queues:  newPortQueues(ports, o.queueSize),
		handles: handles,
		trace:   o.trace,
		handler: o.handler,
		echoes:  &echoes{sent: make(map[uint32]map[uint64]int)},
		cancel:  cancel,
		group:   group,
	}
	for port, handle := range handles {
		port, handle := port, handle
		group.Go(func() error {
			return e.receive(ctx, port, handle)
		})
	}
	log.Infof("Opened %d Ethernet ports", len(handles))
	return e, nil
}

func setPromiscuous(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return err
	}
	return netlink.SetPromiscOn(link)
}

func (e *Ethernet) receive(ctx context.Context, port uint32, handle *afpacket.TPacket) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, _, err := handle.ReadPacketData()
		if err == afpacket.ErrTimeout {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Errorf("Port %d: receive failed: %+v", port, err)
			return err
		}
		if e.echoes.suppress(port, data) {
			continue
		}
		frame := append([]byte(nil), data...)
		e.trace.Record(port, frame)
		if e.handler != nil {
			e.handler(port, frame)
			continue
		}
		e.queues.push(port, frame)
	}
}

// Send transmits the frame on the interface of the given port
func (e *Ethernet) Send(port uint32, frame []byte) error {
	handle, ok := e.handles[port]
	if !ok {
		return errors.NewNotFound("port %d not found", port)
	}
	e.trace.Record(port, frame)
	e.echoes.add(port, frame)
	if err := handle.WritePacketData(frame); err != nil {
		e.echoes.suppress(port, frame)
		return errors.NewUnavailable("port %d: unable to send frame: %+v", port, err)
	}
	return nil
}

// Poll returns the first matching frame received on the given port
func (e *Ethernet) Poll(ctx context.Context, port uint32, match MatchFn) (*Frame, error) {
	return e.queues.poll(ctx, port, match)
}

// PollAny returns the earliest frame received on any port
func (e *Ethernet) PollAny(ctx context.Context) (*Frame, error) {
	return e.queues.pollAny(ctx)
}

// Flush discards all queued frames
func (e *Ethernet) Flush() {
	e.queues.flush()
}

// Ports returns the port numbers
func (e *Ethernet) Ports() []uint32 {
	return e.queues.ports()
}

// Dropped returns the number of frames dropped on the given port
func (e *Ethernet) Dropped(port uint32) uint64 {
	return e.queues.droppedOn(port)
}

// Wait blocks until all receivers stopped and returns the first receive error
func (e *Ethernet) Wait() error {
	return e.group.Wait()
}

// Close stops the receivers and closes all port interfaces
func (e *Ethernet) Close() error {
	e.cancel()
	_ = e.group.Wait()
	e.queues.close()
	for _, h := range e.handles {
		h.Close()
	}
	return nil
}

// echoes tracks frames sent on each port so that their copies looped back by the raw socket are ignored
type echoes struct {
	lock sync.Mutex
	sent map[uint32]map[uint64]int
}

func frameHash(frame []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(frame)
	return h.Sum64()
}

func (e *echoes) add(port uint32, frame []byte) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.sent[port] == nil {
		e.sent[port] = make(map[uint64]int)
	}
	e.sent[port][frameHash(frame)]++
}

func (e *echoes) suppress(port uint32, frame []byte) bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	h := frameHash(frame)
	if e.sent[port][h] == 0 {
		return false
	}
	e.sent[port][h]--
	if e.sent[port][h] == 0 {
		delete(e.sent[port], h)
	}
	return true
}
