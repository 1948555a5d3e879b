// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"encoding/binary"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"net"
)

const (
	ipv6PayloadLenOffset = 4
	ipv6NextHeaderOffset = 6
	ipv6HopLimitOffset   = 7
	ipv6DstOffset        = 24
)

// MACSwap returns a copy of the frame with its Ethernet source and destination swapped
func MACSwap(frame []byte) []byte {
	f := clone(frame)
	if len(f) >= ethernetHeaderLen {
		copy(f[0:6], frame[6:12])
		copy(f[6:12], frame[0:6])
	}
	return f
}

// Route returns a copy of the frame as rewritten by a router: the old destination becomes the source
// and the next hop becomes the destination
func Route(frame []byte, nextHopMAC net.HardwareAddr) []byte {
	f := clone(frame)
	if len(f) >= ethernetHeaderLen {
		copy(f[6:12], frame[0:6])
		copy(f[0:6], nextHopMAC)
	}
	return f
}

// DecrementTTL returns a copy of the frame with its IPv4 TTL or its IPv6 hop limit decremented;
// the IPv4 header checksum is recomputed
func DecrementTTL(frame []byte) []byte {
	f := clone(frame)
	packet := Decode(frame)
	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := *l.(*layers.IPv4)
		ip.TTL--
		buf := gopacket.NewSerializeBuffer()
		if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{ComputeChecksums: true}, &ip); err == nil {
			copy(f[layerOffset(packet, layers.LayerTypeIPv4):], buf.Bytes())
		}
	} else if packet.Layer(layers.LayerTypeIPv6) != nil {
		f[layerOffset(packet, layers.LayerTypeIPv6)+ipv6HopLimitOffset]--
	}
	return f
}

// InsertSRH returns a copy of the IPv6 frame with a segment routing header listing the given segments
// pushed right after the IPv6 header; the destination becomes the first segment
func InsertSRH(frame []byte, segments ...net.IP) ([]byte, error) {
	if len(segments) == 0 {
		return nil, errors.NewInvalid("at least one segment is required")
	}
	packet := Decode(frame)
	l := packet.Layer(layers.LayerTypeIPv6)
	if l == nil {
		return nil, errors.NewInvalid("not an IPv6 packet")
	}
	ip := l.(*layers.IPv6)
	offset := layerOffset(packet, layers.LayerTypeIPv6)
	end := offset + ipv6HeaderLen

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, NewSRH(ip.NextHeader, segments...)); err != nil {
		return nil, err
	}
	srh := buf.Bytes()

	f := make([]byte, 0, len(frame)+len(srh))
	f = append(f, frame[:end]...)
	f = append(f, srh...)
	f = append(f, frame[end:]...)
	f[offset+ipv6NextHeaderOffset] = byte(layers.IPProtocolIPv6Routing)
	binary.BigEndian.PutUint16(f[offset+ipv6PayloadLenOffset:], ip.Length+uint16(len(srh)))
	copy(f[offset+ipv6DstOffset:end], segments[0].To16())
	return f, nil
}

// AdvanceSRH returns a copy of the frame after the SRv6 End behaviour: segments left is decremented and the
// destination becomes the new active segment. When no segments are left the header is popped.
func AdvanceSRH(frame []byte) ([]byte, error) {
	packet := Decode(frame)
	srh, ok := ParseSRH(packet)
	if !ok {
		return nil, errors.NewNotFound("no segment routing header")
	}
	ip := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	offset := layerOffset(packet, layers.LayerTypeIPv6)
	srhOffset := layerOffset(packet, LayerTypeSRH)
	if srhOffset != offset+ipv6HeaderLen {
		return nil, errors.NewNotSupported("segment routing header must follow the IPv6 header")
	}
	if srh.SegmentsLeft == 0 {
		return nil, errors.NewInvalid("no segments left")
	}

	f := clone(frame)
	srh.SegmentsLeft--
	f[srhOffset+3] = srh.SegmentsLeft
	copy(f[offset+ipv6DstOffset:offset+ipv6HeaderLen], srh.ActiveSegment().To16())
	if srh.SegmentsLeft > 0 {
		return f, nil
	}

	popped := make([]byte, 0, len(f)-srh.Len())
	popped = append(popped, f[:srhOffset]...)
	popped = append(popped, f[srhOffset+srh.Len():]...)
	popped[offset+ipv6NextHeaderOffset] = byte(srh.NextHeader)
	binary.BigEndian.PutUint16(popped[offset+ipv6PayloadLenOffset:], ip.Length-uint16(srh.Len()))
	return popped, nil
}
