// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"net"
)

const (
	ethernetHeaderLen = 14
	ipv4HeaderLen     = 20
	ipv6HeaderLen     = 40
	tcpHeaderLen      = 20
	udpHeaderLen      = 8
	icmpHeaderLen     = 8
	icmpv6HeaderLen   = 4
	arpLen            = 28
)

// Kinds lists the packet kinds understood by Build, in the order used by the PTF suites
var Kinds = []string{"tcp", "udp", "icmp", "arp", "tcpv6", "udpv6", "icmpv6"}

// IPv6Kinds lists the IPv6 packet kinds understood by Build
var IPv6Kinds = []string{"tcpv6", "udpv6", "icmpv6"}

// Build crafts a packet of the given PTF kind name
func Build(kind string, opts ...Option) ([]byte, error) {
	switch kind {
	case "tcp":
		return SimpleTCP(opts...)
	case "udp":
		return SimpleUDP(opts...)
	case "icmp":
		return SimpleICMP(opts...)
	case "arp":
		return SimpleARP(opts...)
	case "tcpv6":
		return SimpleTCPv6(opts...)
	case "udpv6":
		return SimpleUDPv6(opts...)
	case "icmpv6":
		return SimpleICMPv6(opts...)
	}
	return nil, errors.NewNotSupported("unknown packet kind %s", kind)
}

// SimpleTCP crafts an Ethernet/IPv4/TCP SYN packet
func SimpleTCP(opts ...Option) ([]byte, error) {
	o := newOptions(ipv4Defaults(), opts)
	ip := ipv4(o, layers.IPProtocolTCP)
	tcp := tcpSYN(o.SrcPort, o.DstPort)
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	return Serialize(ethernet(o, layers.EthernetTypeIPv4), ip, tcp,
		incrementingPad(o.PktLen-ethernetHeaderLen-ipv4HeaderLen-tcpHeaderLen))
}

// SimpleUDP crafts an Ethernet/IPv4/UDP packet
func SimpleUDP(opts ...Option) ([]byte, error) {
	o := newOptions(ipv4Defaults(), opts)
	ip := ipv4(o, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(o.SrcPort), DstPort: layers.UDPPort(o.DstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	return Serialize(ethernet(o, layers.EthernetTypeIPv4), ip, udp,
		incrementingPad(o.PktLen-ethernetHeaderLen-ipv4HeaderLen-udpHeaderLen))
}

// SimpleICMP crafts an Ethernet/IPv4/ICMP echo request packet
func SimpleICMP(opts ...Option) ([]byte, error) {
	o := newOptions(ipv4Defaults(), opts)
	ip := ipv4(o, layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(o.ICMPType, o.ICMPCode)}
	return Serialize(ethernet(o, layers.EthernetTypeIPv4), ip, icmp,
		incrementingPad(o.PktLen-ethernetHeaderLen-ipv4HeaderLen-icmpHeaderLen))
}

// SimpleARP crafts a broadcast ARP request, zero padded to 60 bytes by default
func SimpleARP(opts ...Option) ([]byte, error) {
	defaults := ipv4Defaults()
	defaults.PktLen = 60
	defaults.EthDst = MAC("ff:ff:ff:ff:ff:ff")
	defaults.ARPOp = uint16(layers.ARPRequest)
	o := newOptions(defaults, opts)
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         o.ARPOp,
		SourceHwAddress:   o.EthSrc,
		SourceProtAddress: o.IPSrc.To4(),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    o.IPDst.To4(),
	}
	return Serialize(ethernet(o, layers.EthernetTypeARP), arp,
		zeroPad(o.PktLen-ethernetHeaderLen-arpLen))
}

// SimpleTCPv6 crafts an Ethernet/IPv6/TCP SYN packet
func SimpleTCPv6(opts ...Option) ([]byte, error) {
	o := newOptions(ipv6Defaults(), opts)
	ip := ipv6(o, layers.IPProtocolTCP)
	tcp := tcpSYN(o.SrcPort, o.DstPort)
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	return Serialize(ethernet(o, layers.EthernetTypeIPv6), ip, tcp,
		fillPad(o.PktLen-ethernetHeaderLen-ipv6HeaderLen-tcpHeaderLen))
}

// SimpleUDPv6 crafts an Ethernet/IPv6/UDP packet
func SimpleUDPv6(opts ...Option) ([]byte, error) {
	o := newOptions(ipv6Defaults(), opts)
	ip := ipv6(o, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(o.SrcPort), DstPort: layers.UDPPort(o.DstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	return Serialize(ethernet(o, layers.EthernetTypeIPv6), ip, udp,
		fillPad(o.PktLen-ethernetHeaderLen-ipv6HeaderLen-udpHeaderLen))
}

// SimpleICMPv6 crafts an Ethernet/IPv6/ICMPv6 packet carrying only the 4 byte ICMPv6 header and padding
func SimpleICMPv6(opts ...Option) ([]byte, error) {
	o := newOptions(ipv6Defaults(), opts)
	ip := ipv6(o, layers.IPProtocolICMPv6)
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(o.ICMPType, o.ICMPCode)}
	if err := icmp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	return Serialize(ethernet(o, layers.EthernetTypeIPv6), ip, icmp,
		fillPad(o.PktLen-ethernetHeaderLen-ipv6HeaderLen-icmpv6HeaderLen))
}

func ethernet(o Options, ethType layers.EthernetType) *layers.Ethernet {
	if o.EthType != 0 {
		ethType = o.EthType
	}
	return &layers.Ethernet{SrcMAC: o.EthSrc, DstMAC: o.EthDst, EthernetType: ethType}
}

func ipv4(o Options, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		Id:       o.IPID,
		TTL:      o.TTL,
		Protocol: proto,
		SrcIP:    o.IPSrc.To4(),
		DstIP:    o.IPDst.To4(),
	}
}

func ipv6(o Options, nextHeader layers.IPProtocol) *layers.IPv6 {
	return &layers.IPv6{
		Version:    6,
		NextHeader: nextHeader,
		HopLimit:   o.TTL,
		SrcIP:      o.IPSrc.To16(),
		DstIP:      o.IPDst.To16(),
	}
}

func tcpSYN(src uint16, dst uint16) *layers.TCP {
	return &layers.TCP{
		SrcPort:    layers.TCPPort(src),
		DstPort:    layers.TCPPort(dst),
		DataOffset: 5,
		SYN:        true,
		Window:     8192,
	}
}

// TCPSegment returns a default TCP SYN header whose checksum is computed against the final destination of a
// segment routed packet rather than its current IPv6 destination
func TCPSegment(src net.IP, finalDst net.IP) (*layers.TCP, error) {
	tcp := tcpSYN(20, 80)
	pseudo := &layers.IPv6{Version: 6, NextHeader: layers.IPProtocolTCP, SrcIP: src.To16(), DstIP: finalDst.To16()}
	if err := tcp.SetNetworkLayerForChecksum(pseudo); err != nil {
		return nil, err
	}
	return tcp, nil
}

func incrementingPad(n int) gopacket.Payload {
	if n <= 0 {
		return gopacket.Payload{}
	}
	pad := make([]byte, n)
	for i := range pad {
		pad[i] = byte(i % 256)
	}
	return pad
}

func fillPad(n int) gopacket.Payload {
	if n <= 0 {
		return gopacket.Payload{}
	}
	pad := make([]byte, n)
	for i := range pad {
		pad[i] = 'D'
	}
	return pad
}

func zeroPad(n int) gopacket.Payload {
	if n <= 0 {
		return gopacket.Payload{}
	}
	return make([]byte, n)
}
