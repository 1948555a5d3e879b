// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"github.com/google/gopacket/layers"
	"net"
)

const (
	// NDPHopLimit is the hop limit required on all neighbor discovery messages
	NDPHopLimit = 255

	// NDPRouterFlag marks a neighbor advertisement sent by a router
	NDPRouterFlag = 0x80
	// NDPSolicitedFlag marks a neighbor advertisement sent in response to a solicitation
	NDPSolicitedFlag = 0x40
	// NDPOverrideFlag marks a neighbor advertisement which should override cached link-layer addresses
	NDPOverrideFlag = 0x20
)

// IPv6AllNodesMAC is the Ethernet address of the IPv6 all-nodes multicast group
var IPv6AllNodesMAC = MAC("33:33:00:00:00:01")

// SolicitedNodeAddress returns the solicited-node multicast address of the given IPv6 address
func SolicitedNodeAddress(ip net.IP) net.IP {
	ip = ip.To16()
	return net.IP{0xff, 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0xff, ip[13], ip[14], ip[15]}
}

// SolicitedNodeMAC returns the Ethernet multicast address of the solicited-node group of the given IPv6 address
func SolicitedNodeMAC(ip net.IP) net.HardwareAddr {
	ip = ip.To16()
	return net.HardwareAddr{0x33, 0x33, 0xff, ip[13], ip[14], ip[15]}
}

// NeighborSolicitation crafts an NDP neighbor solicitation for the target address, sent to its solicited-node
// group and carrying the source link-layer address option
func NeighborSolicitation(srcMAC net.HardwareAddr, srcIP net.IP, targetIP net.IP) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       SolicitedNodeMAC(targetIP),
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   NDPHopLimit,
		SrcIP:      srcIP.To16(),
		DstIP:      SolicitedNodeAddress(targetIP),
	}
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborSolicitation, 0)}
	if err := icmp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	ns := &layers.ICMPv6NeighborSolicitation{
		TargetAddress: targetIP.To16(),
		Options: layers.ICMPv6Options{
			{Type: layers.ICMPv6OptSourceAddress, Data: srcMAC},
		},
	}
	return Serialize(eth, ip, icmp, ns)
}

// NeighborAdvertisement crafts an NDP neighbor advertisement for srcIP with the router and override flags set
// and carrying the target link-layer address option
func NeighborAdvertisement(srcMAC net.HardwareAddr, dstMAC net.HardwareAddr, srcIP net.IP, dstIP net.IP) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   NDPHopLimit,
		SrcIP:      srcIP.To16(),
		DstIP:      dstIP.To16(),
	}
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborAdvertisement, 0)}
	if err := icmp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	na := &layers.ICMPv6NeighborAdvertisement{
		Flags:         NDPRouterFlag | NDPOverrideFlag,
		TargetAddress: srcIP.To16(),
		Options: layers.ICMPv6Options{
			{Type: layers.ICMPv6OptTargetAddress, Data: srcMAC},
		},
	}
	return Serialize(eth, ip, icmp, na)
}
