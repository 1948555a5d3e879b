// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package dataplane

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	traceSnapLen    = 65536
	traceBufferSize = 1024
)

type record struct {
	port uint32
	data []byte
	time time.Time
}

// Trace records frames into a pcap file
type Trace struct {
	writer  *pcapgo.Writer
	closer  io.Closer
	records chan record
	done    chan struct{}
	dropped uint64
	written uint64
	lock    sync.RWMutex
	closed  bool
}

// NewTrace creates a pcap trace file at the given path
func NewTrace(path string) (*Trace, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	t, err := NewTraceWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	t.closer = f
	return t, nil
}

// NewTraceWriter creates a pcap trace writing into the given writer
func NewTraceWriter(w io.Writer) (*Trace, error) {
	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(traceSnapLen, layers.LinkTypeEthernet); err != nil {
		return nil, err
	}
	t := &Trace{
		writer:  writer,
		records: make(chan record, traceBufferSize),
		done:    make(chan struct{}),
	}
	go t.drain()
	return t, nil
}

func (t *Trace) drain() {
	defer close(t.done)
	for r := range t.records {
		ci := gopacket.CaptureInfo{
			Timestamp:      r.time,
			CaptureLength:  len(r.data),
			Length:         len(r.data),
			InterfaceIndex: int(r.port),
		}
		if err := t.writer.WritePacket(ci, r.data); err != nil {
			log.Warnf("Unable to write trace record for port %d: %+v", r.port, err)
			continue
		}
		atomic.AddUint64(&t.written, 1)
	}
}

// Record queues the frame seen on the given port for writing; the frame is dropped if the writer lags behind
func (t *Trace) Record(port uint32, data []byte) {
	if t == nil {
		return
	}
	t.lock.RLock()
	defer t.lock.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.records <- record{port: port, data: append([]byte(nil), data...), time: time.Now()}:
	default:
		atomic.AddUint64(&t.dropped, 1)
	}
}

// Dropped returns the number of frames which could not be recorded
func (t *Trace) Dropped() uint64 {
	return atomic.LoadUint64(&t.dropped)
}

// Written returns the number of frames recorded
func (t *Trace) Written() uint64 {
	return atomic.LoadUint64(&t.written)
}

// Close flushes the pending records and closes the trace
func (t *Trace) Close() error {
	t.lock.Lock()
	if t.closed {
		t.lock.Unlock()
		return nil
	}
	t.closed = true
	close(t.records)
	t.lock.Unlock()

	<-t.done
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}
