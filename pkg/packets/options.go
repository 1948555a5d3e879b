// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"github.com/google/gopacket/layers"
	"net"
)

// Options carries the fields of a crafted packet; zero values select the per-kind defaults
type Options struct {
	PktLen   int
	EthDst   net.HardwareAddr
	EthSrc   net.HardwareAddr
	EthType  layers.EthernetType
	IPSrc    net.IP
	IPDst    net.IP
	IPID     uint16
	TTL      uint8
	SrcPort  uint16
	DstPort  uint16
	ICMPType uint8
	ICMPCode uint8
	ARPOp    uint16
}

// Option customizes the crafted packet
type Option func(*Options)

// WithPktLen sets the total length of the frame, padding included
func WithPktLen(length int) Option {
	return func(o *Options) {
		o.PktLen = length
	}
}

// WithEthSrc sets the Ethernet source address
func WithEthSrc(mac string) Option {
	return func(o *Options) {
		o.EthSrc = MAC(mac)
	}
}

// WithEthDst sets the Ethernet destination address
func WithEthDst(mac string) Option {
	return func(o *Options) {
		o.EthDst = MAC(mac)
	}
}

// WithIPSrc sets the IPv4 or IPv6 source address
func WithIPSrc(ip string) Option {
	return func(o *Options) {
		o.IPSrc = IP(ip)
	}
}

// WithIPDst sets the IPv4 or IPv6 destination address
func WithIPDst(ip string) Option {
	return func(o *Options) {
		o.IPDst = IP(ip)
	}
}

// WithTTL sets the IPv4 TTL or the IPv6 hop limit
func WithTTL(ttl uint8) Option {
	return func(o *Options) {
		o.TTL = ttl
	}
}

// WithPorts sets the L4 source and destination ports
func WithPorts(src uint16, dst uint16) Option {
	return func(o *Options) {
		o.SrcPort = src
		o.DstPort = dst
	}
}

// WithICMP sets the ICMP or ICMPv6 type and code
func WithICMP(icmpType uint8, icmpCode uint8) Option {
	return func(o *Options) {
		o.ICMPType = icmpType
		o.ICMPCode = icmpCode
	}
}

// WithARPOperation sets the ARP operation
func WithARPOperation(op uint16) Option {
	return func(o *Options) {
		o.ARPOp = op
	}
}

func newOptions(defaults Options, opts []Option) Options {
	o := defaults
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ipv4Defaults mirrors the defaults of the PTF simple_*_packet helpers
func ipv4Defaults() Options {
	return Options{
		PktLen:   100,
		EthDst:   MAC("00:01:02:03:04:05"),
		EthSrc:   MAC("00:06:07:08:09:0a"),
		IPSrc:    IP("192.168.0.1"),
		IPDst:    IP("192.168.0.2"),
		IPID:     1,
		TTL:      64,
		SrcPort:  1234,
		DstPort:  80,
		ICMPType: 8,
	}
}

func ipv6Defaults() Options {
	o := ipv4Defaults()
	o.IPSrc = IP("2001:db8:85a3::8a2e:370:7334")
	o.IPDst = IP("2001:db8:85a3::8a2e:370:7335")
	o.ICMPType = 128
	return o
}
