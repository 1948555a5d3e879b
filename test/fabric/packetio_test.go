// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package fabric

import (
	"github.com/onosproject/fabric-ptf/pkg/packets"
	"github.com/onosproject/fabric-ptf/pkg/ptf"
	"testing"
)

func TestPacketOut(t *testing.T) {
	ptf.Group(t, "packetio")
	ft := ptf.NewFabricTest(t, target)
	for _, kind := range packets.Kinds {
		ft.Run(kind, func(ft *ptf.FabricTest) {
			pkt := ft.Packet(kind)
			for _, port := range []uint32{ft.Port1, ft.Port2} {
				ft.SendPacketOut(pkt, port)
				ft.VerifyPacket(pkt, port)
			}
			ft.VerifyNoOtherPackets()
		})
	}
}

func TestPacketIn(t *testing.T) {
	ptf.Group(t, "packetio")
	ft := ptf.NewFabricTest(t, target)
	for _, kind := range packets.Kinds {
		ft.Run(kind, func(ft *ptf.FabricTest) {
			pkt := ft.Packet(kind)
			ft.AddACLCPUEntry(uint16(ethernet(ft.T, pkt).EthernetType), false)
			for _, port := range []uint32{ft.Port1, ft.Port2, ft.Port3} {
				ft.Send(port, pkt)
				ft.VerifyPacketIn(pkt, port)
			}
			ft.VerifyNoOtherPackets()
		})
	}
}
