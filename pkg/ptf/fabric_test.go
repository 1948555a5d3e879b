// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package ptf

import (
	"context"
	"github.com/onosproject/fabric-ptf/pkg/packets"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func connectInProcess(t *testing.T) *Target {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	target, err := Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, target.Close())
	})
	return target
}

func readAll(t *testing.T, target *Target) []*p4api.Entity {
	entities, err := target.Client.Read(context.Background(),
		&p4api.Entity{Entity: &p4api.Entity_TableEntry{TableEntry: &p4api.TableEntry{}}})
	require.NoError(t, err)
	return entities
}

func TestInProcessTarget(t *testing.T) {
	target := connectInProcess(t)
	assert.NotNil(t, target.Simulation())
	assert.Equal(t, []uint32{1, 2, 3}, target.Dataplane.Ports())
	assert.NotNil(t, target.Client.Schema())
}

func TestFabricFixture(t *testing.T) {
	target := connectInProcess(t)

	t.Run("bridging", func(t *testing.T) {
		ft := NewFabricTest(t, target)
		assert.Equal(t, uint32(2), ft.Port2)
		assert.Equal(t, uint32(DefaultCPUPort), ft.CPUPort())

		pkt := ft.Packet("udp", packets.WithPktLen(120))
		ft.AddL2UnicastEntry("00:01:02:03:04:05", ft.Port2)
		ft.Send(ft.Port1, pkt)
		ft.VerifyPacket(pkt, ft.Port2)
		ft.VerifyNoOtherPackets()
		ft.VerifyNoPacketIn()
	})
	assert.Len(t, readAll(t, target), 0)

	t.Run("ids", func(t *testing.T) {
		ft := NewFabricTest(t, target)
		ft.Run("first", func(ft *FabricTest) {
			ft.AddL3ECMPEntry(Host2IPv6, 128, Host2MAC)
			assert.Len(ft, readAll(ft.T, target), 1)
		})
		ft.Run("second", func(ft *FabricTest) {
			assert.Len(ft, readAll(ft.T, target), 0)
			assert.Equal(ft, uint32(2), ft.NextMemberID())
			assert.Equal(ft, uint32(2), ft.NextGroupID())
		})
	})

	t.Run("packet-in", func(t *testing.T) {
		ft := NewFabricTest(t, target)
		pkt := ft.Packet("arp")
		ft.AddACLCPUEntry(0x0806, false)
		ft.Send(ft.Port3, pkt)
		ft.VerifyPacketIn(pkt, ft.Port3)
		ft.VerifyNoOtherPackets()
	})

	t.Run("shared", func(t *testing.T) {
		ft := NewFabricTest(t, target)
		ft.AddL2UnicastEntry("00:01:02:03:04:05", ft.Port2)
		for _, name := range []string{"first", "second"} {
			ft.Run(name, func(ft *FabricTest) {
				ft.AddL2UnicastEntry("00:00:00:00:00:09", ft.Port3)
				pkt := ft.Packet("udp")
				ft.Send(ft.Port1, pkt)
				ft.VerifyPacket(pkt, ft.Port2)
				ft.VerifyNoOtherPackets()
			})
			assert.Len(t, readAll(t, target), 1)
		}
	})
	assert.Len(t, readAll(t, target), 0)
}
