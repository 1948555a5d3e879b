// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package fabric

import (
	"github.com/onosproject/fabric-ptf/pkg/packets"
	"github.com/onosproject/fabric-ptf/pkg/ptf"
	"testing"
)

func TestIPv6Unicast(t *testing.T) {
	ft := ptf.NewFabricTest(t, target)
	for _, kind := range packets.IPv6Kinds {
		ft.Run(kind, func(ft *ptf.FabricTest) {
			pkt := ft.Packet(kind,
				packets.WithEthSrc(ptf.Host1MAC), packets.WithEthDst(ptf.Switch1MAC),
				packets.WithIPSrc(ptf.Host1IPv6), packets.WithIPDst(ptf.Host2IPv6))

			ft.AddL2MyStationEntry(ptf.Switch1MAC)
			ft.AddL3ECMPEntry(ptf.Host2IPv6, 128, ptf.Host2MAC)
			ft.AddL2UnicastEntry(ptf.Host2MAC, ft.Port2)

			expected := packets.DecrementTTL(packets.Route(pkt, packets.MAC(ptf.Host2MAC)))
			ft.Send(ft.Port1, pkt)
			ft.VerifyPacket(expected, ft.Port2)
		})
	}
}

func TestIPv6UnicastHopLimitExceeded(t *testing.T) {
	ft := ptf.NewFabricTest(t, target)
	pkt := ft.Packet("udpv6", packets.WithTTL(1),
		packets.WithEthSrc(ptf.Host1MAC), packets.WithEthDst(ptf.Switch1MAC),
		packets.WithIPSrc(ptf.Host1IPv6), packets.WithIPDst(ptf.Host2IPv6))

	ft.AddL2MyStationEntry(ptf.Switch1MAC)
	ft.AddL3ECMPEntry(ptf.Host2IPv6, 128, ptf.Host2MAC)
	ft.AddL2UnicastEntry(ptf.Host2MAC, ft.Port2)

	ft.Send(ft.Port1, pkt)
	ft.VerifyNoOtherPackets()
}
