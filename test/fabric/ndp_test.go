// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package fabric

import (
	"github.com/onosproject/fabric-ptf/pkg/packets"
	"github.com/onosproject/fabric-ptf/pkg/ptf"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestNDPReply(t *testing.T) {
	ft := ptf.NewFabricTest(t, target)
	pkt, err := packets.NeighborSolicitation(packets.MAC(ptf.Host1MAC), packets.IP(ptf.Host1IPv6), packets.IP(ptf.Switch1IPv6))
	require.NoError(t, err)
	expected, err := packets.NeighborAdvertisement(packets.MAC(ptf.Switch1MAC), packets.MAC(ptf.IPv6McastMAC1),
		packets.IP(ptf.Switch1IPv6), packets.IP(ptf.Host1IPv6))
	require.NoError(t, err)

	ft.AddNDPReplyEntry(ptf.Switch1IPv6, ptf.Switch1MAC)
	ft.Send(ft.Port1, pkt)
	ft.VerifyPacket(expected, ft.Port1)
}
