// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
)

// Controller headers of the fabric pipeline and the port field each one carries
const (
	PacketInHeader   = "packet_in"
	PacketOutHeader  = "packet_out"
	IngressPortField = "ingress_port"
	EgressPortField  = "egress_port"
)

type metadataField struct {
	id       uint32
	bitwidth int32
}

// controllerHeader is one controller packet header: the port field plus the fields sent as zeros, e.g. _pad
type controllerHeader struct {
	port  metadataField
	zeros []metadataField
}

func newControllerHeader(cpm *p4info.ControllerPacketMetadata, portField string) controllerHeader {
	h := controllerHeader{}
	for _, m := range cpm.GetMetadata() {
		f := metadataField{id: m.Id, bitwidth: m.Bitwidth}
		if m.Name == portField {
			h.port = f
		} else {
			h.zeros = append(h.zeros, f)
		}
	}
	return h
}

func (h controllerHeader) encode(port uint32) []*p4api.PacketMetadata {
	md := make([]*p4api.PacketMetadata, 0, 1+len(h.zeros))
	md = append(md, &p4api.PacketMetadata{MetadataId: h.port.id, Value: EncodeValue(port, h.port.bitwidth)})
	for _, f := range h.zeros {
		md = append(md, &p4api.PacketMetadata{MetadataId: f.id, Value: []byte{0}})
	}
	return md
}

func (h controllerHeader) decode(md []*p4api.PacketMetadata) uint32 {
	for _, m := range md {
		if m.MetadataId == h.port.id {
			return DecodeValueAsUint32(m.Value)
		}
	}
	return 0
}

// ControllerMetadataCodec translates the port carried by packet-in and packet-out messages to and from the
// metadata fields declared by the pipeline. The test client and the simulated switch share it.
type ControllerMetadataCodec struct {
	in  controllerHeader
	out controllerHeader
}

// NewControllerMetadataCodec creates the codec of the controller headers declared in the P4Info
func NewControllerMetadataCodec(info *p4info.P4Info) *ControllerMetadataCodec {
	c := &ControllerMetadataCodec{}
	for _, cpm := range info.GetControllerPacketMetadata() {
		switch cpm.GetPreamble().GetName() {
		case PacketInHeader:
			c.in = newControllerHeader(cpm, IngressPortField)
		case PacketOutHeader:
			c.out = newControllerHeader(cpm, EgressPortField)
		}
	}
	return c
}

// PacketOutMetadata is what the suite tells the switch along with a packet-out
type PacketOutMetadata struct {
	EgressPort uint32
}

// PacketInMetadata is what the switch tells the suite along with a packet-in
type PacketInMetadata struct {
	IngressPort uint32
}

// DecodePacketOutMetadata extracts the egress port; it is 0 when the metadata lacks it
func (c *ControllerMetadataCodec) DecodePacketOutMetadata(md []*p4api.PacketMetadata) *PacketOutMetadata {
	return &PacketOutMetadata{EgressPort: c.out.decode(md)}
}

// EncodePacketOutMetadata encodes the egress port, followed by zeroed padding fields
func (c *ControllerMetadataCodec) EncodePacketOutMetadata(pom *PacketOutMetadata) []*p4api.PacketMetadata {
	return c.out.encode(pom.EgressPort)
}

// DecodePacketInMetadata extracts the ingress port; it is 0 when the metadata lacks it
func (c *ControllerMetadataCodec) DecodePacketInMetadata(md []*p4api.PacketMetadata) *PacketInMetadata {
	return &PacketInMetadata{IngressPort: c.in.decode(md)}
}

// EncodePacketInMetadata encodes the ingress port, followed by zeroed padding fields
func (c *ControllerMetadataCodec) EncodePacketInMetadata(pim *PacketInMetadata) []*p4api.PacketMetadata {
	return c.in.encode(pim.IngressPort)
}
