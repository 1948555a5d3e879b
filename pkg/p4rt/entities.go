// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package p4rt

import (
	"github.com/onosproject/fabric-ptf/pkg/utils"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
)

// Match is a field match of a table entry, resolved against the table when the entry is built
type Match struct {
	Field     string
	Kind      p4info.MatchField_MatchType
	Value     []byte
	Mask      []byte
	PrefixLen int32
}

// Param is a named action parameter
type Param struct {
	Name  string
	Value []byte
}

// Exact matches the field value exactly
func Exact(field string, value []byte) Match {
	return Match{Field: field, Kind: p4info.MatchField_EXACT, Value: value}
}

// LPM matches the first prefixLen bits of the field
func LPM(field string, value []byte, prefixLen int32) Match {
	return Match{Field: field, Kind: p4info.MatchField_LPM, Value: value, PrefixLen: prefixLen}
}

// Ternary matches the field bits selected by the mask
func Ternary(field string, value []byte, mask []byte) Match {
	return Match{Field: field, Kind: p4info.MatchField_TERNARY, Value: value, Mask: mask}
}

// build returns the P4Runtime field match; nil for a don't-care match
func (m Match) build(field *p4info.MatchField) (*p4api.FieldMatch, error) {
	if m.Kind != field.GetMatchType() {
		return nil, errors.NewInvalid("field %s is matched as %s, not %s", field.Name, field.GetMatchType(), m.Kind)
	}
	if !utils.FitsBitwidth(m.Value, field.Bitwidth) {
		return nil, errors.NewInvalid("value of field %s exceeds %d bits", field.Name, field.Bitwidth)
	}
	fm := &p4api.FieldMatch{FieldId: field.Id}
	switch m.Kind {
	case p4info.MatchField_EXACT:
		fm.FieldMatchType = &p4api.FieldMatch_Exact_{Exact: &p4api.FieldMatch_Exact{Value: utils.Canonical(m.Value)}}
	case p4info.MatchField_LPM:
		if m.PrefixLen < 0 || m.PrefixLen > field.Bitwidth {
			return nil, errors.NewInvalid("prefix length %d of field %s is out of range", m.PrefixLen, field.Name)
		}
		if m.PrefixLen == 0 {
			return nil, nil
		}
		value := mask(utils.PadToBitwidth(m.Value, field.Bitwidth), prefixMask(m.PrefixLen, field.Bitwidth))
		fm.FieldMatchType = &p4api.FieldMatch_Lpm{Lpm: &p4api.FieldMatch_LPM{Value: utils.Canonical(value), PrefixLen: m.PrefixLen}}
	case p4info.MatchField_TERNARY:
		if !utils.FitsBitwidth(m.Mask, field.Bitwidth) {
			return nil, errors.NewInvalid("mask of field %s exceeds %d bits", field.Name, field.Bitwidth)
		}
		maskBits := utils.PadToBitwidth(m.Mask, field.Bitwidth)
		if isZero(maskBits) {
			return nil, nil
		}
		value := mask(utils.PadToBitwidth(m.Value, field.Bitwidth), maskBits)
		fm.FieldMatchType = &p4api.FieldMatch_Ternary_{Ternary: &p4api.FieldMatch_Ternary{
			Value: utils.Canonical(value),
			Mask:  utils.Canonical(maskBits),
		}}
	default:
		return nil, errors.NewNotSupported("match type %s of field %s is not supported", m.Kind, field.Name)
	}
	return fm, nil
}

// prefixMask returns the mask selecting the first prefixLen bits of a field of the given bit-width
func prefixMask(prefixLen int32, bits int32) []byte {
	width := utils.ByteWidth(bits)
	m := make([]byte, width)
	offset := int32(width*8) - bits
	for i := offset; i < offset+prefixLen; i++ {
		m[i/8] |= 0x80 >> uint(i%8)
	}
	return m
}

func mask(value []byte, m []byte) []byte {
	out := make([]byte, len(value))
	for i := range value {
		out[i] = value[i] & m[i]
	}
	return out
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// MemberAction returns a table action referring to an action profile member
func MemberAction(memberID uint32) *p4api.TableAction {
	return &p4api.TableAction{Type: &p4api.TableAction_ActionProfileMemberId{ActionProfileMemberId: memberID}}
}

// GroupAction returns a table action referring to an action profile group
func GroupAction(groupID uint32) *p4api.TableAction {
	return &p4api.TableAction{Type: &p4api.TableAction_ActionProfileGroupId{ActionProfileGroupId: groupID}}
}

// MulticastGroupEntry builds a multicast group replicating to the given ports with instance 0
func MulticastGroupEntry(groupID uint32, ports ...uint32) *p4api.Entity {
	return &p4api.Entity{Entity: &p4api.Entity_PacketReplicationEngineEntry{
		PacketReplicationEngineEntry: &p4api.PacketReplicationEngineEntry{
			Type: &p4api.PacketReplicationEngineEntry_MulticastGroupEntry{
				MulticastGroupEntry: &p4api.MulticastGroupEntry{MulticastGroupId: groupID, Replicas: replicas(ports)},
			},
		},
	}}
}

// CloneSessionEntry builds a clone session replicating to the given ports
func CloneSessionEntry(sessionID uint32, ports ...uint32) *p4api.Entity {
	return &p4api.Entity{Entity: &p4api.Entity_PacketReplicationEngineEntry{
		PacketReplicationEngineEntry: &p4api.PacketReplicationEngineEntry{
			Type: &p4api.PacketReplicationEngineEntry_CloneSessionEntry{
				CloneSessionEntry: &p4api.CloneSessionEntry{SessionId: sessionID, Replicas: replicas(ports)},
			},
		},
	}}
}

func replicas(ports []uint32) []*p4api.Replica {
	rs := make([]*p4api.Replica, 0, len(ports))
	for _, port := range ports {
		rs = append(rs, &p4api.Replica{EgressPort: port})
	}
	return rs
}
