// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package packets crafts, mutates and describes the Ethernet frames exchanged with the switch under test
package packets

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"net"
)

// IP returns the given IP address; IPv4 addresses are returned in their 4 byte form
func IP(addr string) net.IP {
	ip := net.ParseIP(addr)
	if ip4 := ip.To4(); ip4 != nil {
		return ip4
	}
	return ip
}

// MAC returns the given MAC address as bytes; it is meant for constants and returns nil for a malformed
// address, use ParseMAC to get the error
func MAC(addr string) net.HardwareAddr {
	b, _ := ParseMAC(addr)
	return b
}

// ParseMAC parses the given MAC address; only 6 byte Ethernet addresses are accepted
func ParseMAC(addr string) (net.HardwareAddr, error) {
	b, err := net.ParseMAC(addr)
	if err != nil {
		return nil, errors.NewInvalid("invalid MAC address %q: %+v", addr, err)
	}
	if len(b) != 6 {
		return nil, errors.NewInvalid("invalid MAC address %q: %d bytes", addr, len(b))
	}
	return b, nil
}

// Serialize serializes the given layers into a frame, fixing lengths and computing checksums
func Serialize(ls ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return nil, errors.NewInvalid("unable to serialize packet: %+v", err)
	}
	return buf.Bytes(), nil
}

// Decode decodes the given Ethernet frame
func Decode(frame []byte) gopacket.Packet {
	return gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
}

// layerOffset returns the offset of the first layer of the given type within the packet, or -1 if there is none
func layerOffset(packet gopacket.Packet, layerType gopacket.LayerType) int {
	offset := 0
	for _, l := range packet.Layers() {
		if l.LayerType() == layerType {
			return offset
		}
		offset += len(l.LayerContents())
	}
	return -1
}

func clone(frame []byte) []byte {
	c := make([]byte, len(frame))
	copy(c, frame)
	return c
}
