// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package ptf

import (
	"bytes"
	"context"
	"fmt"
	"github.com/onosproject/fabric-ptf/pkg/packets"
	"github.com/onosproject/fabric-ptf/pkg/p4rt"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

// Test is the fixture of a single test: it gives access to the switch ports and verifies the traffic
// coming out of the switch. Entities inserted while the test runs are removed when it ends; entities of an
// enclosing test stay until that test ends.
type Test struct {
	*testing.T
	Target *Target
	Client *p4rt.Client
	Schema *p4rt.Schema
}

// NewTest creates the fixture of the given test; queued frames and packet-ins are discarded first
func NewTest(t *testing.T, target *Target) *Test {
	t.Helper()
	require.NotNil(t, target, "target not connected")
	target.Dataplane.Flush()
	if n := target.Client.DrainPacketIns(); n > 0 {
		t.Logf("discarded %d stale packet-in(s)", n)
	}
	mark := target.Client.Mark()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), target.Config.Timeouts.Positive)
		defer cancel()
		if err := target.Client.UndoTo(ctx, mark); err != nil {
			t.Errorf("cleanup failed: %+v", err)
		}
	})
	return &Test{T: t, Target: target, Client: target.Client, Schema: target.Client.Schema()}
}

func (t *Test) positive() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), t.Target.Config.Timeouts.Positive)
}

func (t *Test) negative() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), t.Target.Config.Timeouts.Negative)
}

// Swport returns the number of the i-th configured port, counting from 1
func (t *Test) Swport(i int) uint32 {
	t.Helper()
	ports := t.Target.Config.Ports
	require.True(t, i > 0 && i <= len(ports), "port %d not configured", i)
	return ports[i-1].Number
}

// CPUPort returns the CPU port of the switch
func (t *Test) CPUPort() uint32 {
	return t.Target.Config.CPUPort
}

// Packet crafts a packet of the given kind
func (t *Test) Packet(kind string, opts ...packets.Option) []byte {
	t.Helper()
	frame, err := packets.Build(kind, opts...)
	require.NoError(t, err)
	return frame
}

// Insert inserts the entities; they are removed when the test ends
func (t *Test) Insert(entities ...*p4api.Entity) {
	t.Helper()
	ctx, cancel := t.positive()
	defer cancel()
	require.NoError(t, t.Client.Insert(ctx, entities...))
}

// Send transmits the frame on the given port
func (t *Test) Send(port uint32, frame []byte) {
	t.Helper()
	require.NoError(t, t.Target.Dataplane.Send(port, frame))
}

// SendPacketOut asks the switch to transmit the frame on the given port
func (t *Test) SendPacketOut(frame []byte, port uint32) {
	t.Helper()
	require.NoError(t, t.Client.SendPacketOut(frame, port))
}

// seen collects the distinct frames inspected while polling
type seen struct {
	frames [][]byte
	keys   map[string]bool
}

func (s *seen) matcher(expected []byte) func([]byte) bool {
	return func(data []byte) bool {
		if s.keys == nil {
			s.keys = make(map[string]bool)
		}
		if !s.keys[string(data)] {
			s.keys[string(data)] = true
			s.frames = append(s.frames, data)
		}
		return bytes.Equal(expected, data)
	}
}

func (s *seen) report(expected []byte) string {
	if len(s.frames) == 0 {
		return "no frames received"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d other frame(s) received:", len(s.frames))
	for i, f := range s.frames {
		fmt.Fprintf(&b, "\nframe %d:\n%s", i+1, packets.Diff(expected, f))
	}
	return b.String()
}

// VerifyPacket verifies that the frame comes out of the given port
func (t *Test) VerifyPacket(expected []byte, port uint32) {
	t.Helper()
	ctx, cancel := t.positive()
	defer cancel()
	s := &seen{}
	if _, err := t.Target.Dataplane.Poll(ctx, port, s.matcher(expected)); err != nil {
		t.Fatalf("expected frame not received on port %d: %v\n%s\n%s", port, err,
			strings.Join(packets.Describe(expected), "\n"), s.report(expected))
	}
}

// VerifyPackets verifies that the frame comes out of each of the given ports
func (t *Test) VerifyPackets(expected []byte, ports ...uint32) {
	t.Helper()
	for _, port := range ports {
		t.VerifyPacket(expected, port)
	}
}

// VerifyEachPacketOnEachPort verifies that the i-th frame comes out of the i-th port
func (t *Test) VerifyEachPacketOnEachPort(expected [][]byte, ports []uint32) {
	t.Helper()
	require.Equal(t, len(expected), len(ports), "frame and port counts differ")
	for i, port := range ports {
		t.VerifyPacket(expected[i], port)
	}
}

// VerifyNoPacket verifies that the frame does not come out of the given port
func (t *Test) VerifyNoPacket(frame []byte, port uint32) {
	t.Helper()
	ctx, cancel := t.negative()
	defer cancel()
	s := &seen{}
	if _, err := t.Target.Dataplane.Poll(ctx, port, s.matcher(frame)); err == nil {
		t.Fatalf("unexpected frame received on port %d:\n%s", port, strings.Join(packets.Describe(frame), "\n"))
	}
}

// VerifyNoOtherPackets verifies that no frame is pending on any port
func (t *Test) VerifyNoOtherPackets() {
	t.Helper()
	ctx, cancel := t.negative()
	defer cancel()
	if f, err := t.Target.Dataplane.PollAny(ctx); err == nil {
		t.Fatalf("unexpected frame received on port %d:\n%s", f.Port, strings.Join(packets.Describe(f.Data), "\n"))
	}
}

// VerifyPacketIn verifies that the next packet-in carries the frame and was received on the given port
func (t *Test) VerifyPacketIn(expected []byte, ingressPort uint32) {
	t.Helper()
	ctx, cancel := t.positive()
	defer cancel()
	pi, err := t.Client.PacketIn(ctx)
	if err != nil {
		t.Fatalf("expected packet-in from port %d not received: %v\n%s", ingressPort, err,
			strings.Join(packets.Describe(expected), "\n"))
	}
	if !bytes.Equal(expected, pi.Payload) {
		t.Fatalf("unexpected packet-in payload from port %d:\n%s", pi.IngressPort, packets.Diff(expected, pi.Payload))
	}
	if pi.IngressPort != ingressPort {
		t.Fatalf("packet-in received from port %d; expected port %d", pi.IngressPort, ingressPort)
	}
}

// VerifyNoPacketIn verifies that no packet-in is pending
func (t *Test) VerifyNoPacketIn() {
	t.Helper()
	ctx, cancel := t.negative()
	defer cancel()
	if pi, err := t.Client.PacketIn(ctx); err == nil {
		t.Fatalf("unexpected packet-in from port %d:\n%s", pi.IngressPort, strings.Join(packets.Describe(pi.Payload), "\n"))
	}
}
