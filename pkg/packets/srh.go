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

// SRHRoutingType is the IPv6 routing header type of the segment routing header
const SRHRoutingType = 4

const srhFixedLen = 8

// LayerTypeSRH is the gopacket layer type of the IPv6 segment routing header
var LayerTypeSRH = gopacket.RegisterLayerType(2043, gopacket.LayerTypeMetadata{
	Name:    "SRH",
	Decoder: gopacket.DecodeFunc(decodeSRH),
})

// routingDecoder is the gopacket decoder of the other IPv6 routing header types
var routingDecoder = layers.IPProtocolMetadata[layers.IPProtocolIPv6Routing].DecodeWith

func init() {
	layers.IPProtocolMetadata[layers.IPProtocolIPv6Routing].DecodeWith = gopacket.DecodeFunc(decodeRouting)
}

// SRH is the IPv6 segment routing header; segments are listed in reverse order of traversal,
// with the final destination at index 0
type SRH struct {
	layers.BaseLayer
	NextHeader   layers.IPProtocol
	HdrExtLen    uint8
	SegmentsLeft uint8
	LastEntry    uint8
	Flags        uint8
	Tag          uint16
	Segments     []net.IP
}

// NewSRH returns a segment routing header for a packet traversing the given segments in order
func NewSRH(nextHeader layers.IPProtocol, segments ...net.IP) *SRH {
	srh := &SRH{NextHeader: nextHeader}
	for i := len(segments) - 1; i >= 0; i-- {
		srh.Segments = append(srh.Segments, segments[i].To16())
	}
	if len(segments) > 0 {
		srh.SegmentsLeft = uint8(len(segments) - 1)
		srh.LastEntry = uint8(len(segments) - 1)
	}
	srh.HdrExtLen = uint8(2 * len(segments))
	return srh
}

// LayerType returns the SRH layer type
func (s *SRH) LayerType() gopacket.LayerType {
	return LayerTypeSRH
}

// CanDecode returns the layer class decoded by SRH
func (s *SRH) CanDecode() gopacket.LayerClass {
	return LayerTypeSRH
}

// NextLayerType returns the layer type of the SRH payload
func (s *SRH) NextLayerType() gopacket.LayerType {
	return s.NextHeader.LayerType()
}

// Len returns the length of the serialized header in bytes
func (s *SRH) Len() int {
	return srhFixedLen + 16*len(s.Segments)
}

// ActiveSegment returns the segment pointed to by SegmentsLeft
func (s *SRH) ActiveSegment() net.IP {
	if int(s.SegmentsLeft) >= len(s.Segments) {
		return nil
	}
	return s.Segments[s.SegmentsLeft]
}

// DecodeFromBytes decodes the given bytes into the segment routing header
func (s *SRH) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < srhFixedLen {
		df.SetTruncated()
		return errors.NewInvalid("SRH too short: %d bytes", len(data))
	}
	if data[2] != SRHRoutingType {
		return errors.NewInvalid("routing type %d is not a segment routing header", data[2])
	}
	s.NextHeader = layers.IPProtocol(data[0])
	s.HdrExtLen = data[1]
	s.SegmentsLeft = data[3]
	s.LastEntry = data[4]
	s.Flags = data[5]
	s.Tag = binary.BigEndian.Uint16(data[6:8])

	length := srhFixedLen + 8*int(s.HdrExtLen)
	if len(data) < length {
		df.SetTruncated()
		return errors.NewInvalid("SRH truncated: %d of %d bytes", len(data), length)
	}
	s.Segments = nil
	for offset := srhFixedLen; offset+16 <= length; offset += 16 {
		s.Segments = append(s.Segments, net.IP(append([]byte(nil), data[offset:offset+16]...)))
	}
	s.BaseLayer = layers.BaseLayer{Contents: data[:length], Payload: data[length:]}
	return nil
}

// SerializeTo writes the segment routing header into the serialize buffer
func (s *SRH) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.PrependBytes(s.Len())
	if err != nil {
		return err
	}
	if opts.FixLengths {
		s.HdrExtLen = uint8(2 * len(s.Segments))
	}
	bytes[0] = byte(s.NextHeader)
	bytes[1] = s.HdrExtLen
	bytes[2] = SRHRoutingType
	bytes[3] = s.SegmentsLeft
	bytes[4] = s.LastEntry
	bytes[5] = s.Flags
	binary.BigEndian.PutUint16(bytes[6:], s.Tag)
	for i, segment := range s.Segments {
		copy(bytes[srhFixedLen+16*i:], segment.To16())
	}
	return nil
}

// decodeRouting decodes segment routing headers itself and leaves the other routing types to gopacket
func decodeRouting(data []byte, p gopacket.PacketBuilder) error {
	if len(data) > 2 && data[2] == SRHRoutingType {
		return decodeSRH(data, p)
	}
	return routingDecoder.Decode(data, p)
}

func decodeSRH(data []byte, p gopacket.PacketBuilder) error {
	s := &SRH{}
	if err := s.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(s)
	return p.NextDecoder(s.NextHeader)
}

// ParseSRH returns the segment routing header of the given packet, if it carries one
func ParseSRH(packet gopacket.Packet) (*SRH, bool) {
	srh, ok := packet.Layer(LayerTypeSRH).(*SRH)
	return srh, ok
}
