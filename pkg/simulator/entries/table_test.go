// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package entries

import (
	"github.com/onosproject/fabric-ptf/pipelines"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

const (
	l2Table        = 33573601
	l3Table        = 33573602
	mySIDTable     = 33573603
	aclTable       = 33573606
	l2UnicastFwd   = 16812802
	setL2NextHop   = 16803146
	srv6End        = 16829838
	puntToCPU      = 16833331
	dropAction     = 16796182
	noAction       = 16800567
	ecmpSelector   = 285217164
	pageSize       = 64
	ipv6FieldWidth = 16
)

type fixture struct {
	info     *p4info.P4Info
	actions  *Actions
	profiles *ActionProfiles
	tables   *Tables
}

func newFixture(t *testing.T) *fixture {
	info, err := pipelines.FabricP4Info()
	require.NoError(t, err)
	actions := NewActions(info.Actions)
	profiles := NewActionProfiles(info, actions)
	return &fixture{info: info, actions: actions, profiles: profiles, tables: NewTables(info, actions, profiles)}
}

func exact(id uint32, value ...byte) *p4api.FieldMatch {
	return &p4api.FieldMatch{FieldId: id, FieldMatchType: &p4api.FieldMatch_Exact_{Exact: &p4api.FieldMatch_Exact{Value: value}}}
}

func lpm(id uint32, prefixLen int32, value ...byte) *p4api.FieldMatch {
	return &p4api.FieldMatch{FieldId: id, FieldMatchType: &p4api.FieldMatch_Lpm{Lpm: &p4api.FieldMatch_LPM{Value: value, PrefixLen: prefixLen}}}
}

func ternary(id uint32, value []byte, mask []byte) *p4api.FieldMatch {
	return &p4api.FieldMatch{FieldId: id, FieldMatchType: &p4api.FieldMatch_Ternary_{Ternary: &p4api.FieldMatch_Ternary{Value: value, Mask: mask}}}
}

func direct(actionID uint32, params ...*p4api.Action_Param) *p4api.TableAction {
	return &p4api.TableAction{Type: &p4api.TableAction_Action{Action: &p4api.Action{ActionId: actionID, Params: params}}}
}

func param(id uint32, value ...byte) *p4api.Action_Param {
	return &p4api.Action_Param{ParamId: id, Value: value}
}

func ipv6(last byte, prefix ...byte) []byte {
	b := make([]byte, ipv6FieldWidth)
	copy(b, prefix)
	b[ipv6FieldWidth-1] = last
	return b
}

func TestTableBasics(t *testing.T) {
	f := newFixture(t)
	table := f.tables.Table(l2Table)
	require.NotNil(t, table)

	mac := []byte{0, 0, 0, 0, 0, 0xaa}
	e1 := &p4api.TableEntry{
		TableId: l2Table,
		Match:   []*p4api.FieldMatch{exact(1, 0xaa)},
		Action:  direct(l2UnicastFwd, param(1, 2)),
	}
	require.NoError(t, f.tables.InsertTableEntry(e1))
	assert.Equal(t, 1, table.Len())

	// Same key in padded form is a duplicate
	dup := &p4api.TableEntry{TableId: l2Table, Match: []*p4api.FieldMatch{exact(1, mac...)}, Action: direct(l2UnicastFwd, param(1, 3))}
	err := f.tables.InsertTableEntry(dup)
	assert.True(t, errors.IsAlreadyExists(err))

	require.NoError(t, f.tables.ModifyTableEntry(dup))
	entry, hit := table.Lookup(Key{1: mac}, 100)
	assert.True(t, hit)
	assert.Equal(t, []byte{3}, entry.Action.GetAction().Params[0].Value)

	_, hit = table.Lookup(Key{1: {0xbb}}, 100)
	assert.False(t, hit)

	require.NoError(t, f.tables.RemoveTableEntry(e1))
	assert.Equal(t, 0, table.Len())
	assert.True(t, errors.IsNotFound(f.tables.RemoveTableEntry(e1)))
	assert.True(t, errors.IsNotFound(f.tables.ModifyTableEntry(e1)))
	assert.True(t, errors.IsNotFound(f.tables.InsertTableEntry(&p4api.TableEntry{TableId: 42})))
}

func TestTableValidation(t *testing.T) {
	f := newFixture(t)
	invalid := []*p4api.TableEntry{
		// value wider than 48 bits
		{TableId: l2Table, Match: []*p4api.FieldMatch{exact(1, 1, 2, 3, 4, 5, 6, 7)}, Action: direct(l2UnicastFwd, param(1, 1))},
		// missing exact field
		{TableId: l2Table, Action: direct(l2UnicastFwd, param(1, 1))},
		// unknown field
		{TableId: l2Table, Match: []*p4api.FieldMatch{exact(1, 1), exact(9, 1)}, Action: direct(l2UnicastFwd, param(1, 1))},
		// wrong match kind
		{TableId: l2Table, Match: []*p4api.FieldMatch{lpm(1, 8, 1)}, Action: direct(l2UnicastFwd, param(1, 1))},
		// port param wider than 9 bits
		{TableId: l2Table, Match: []*p4api.FieldMatch{exact(1, 1)}, Action: direct(l2UnicastFwd, param(1, 2, 0))},
		// action not in table
		{TableId: l2Table, Match: []*p4api.FieldMatch{exact(1, 1)}, Action: direct(srv6End)},
		// default only action
		{TableId: l2Table, Match: []*p4api.FieldMatch{exact(1, 1)}, Action: direct(noAction)},
		// priority on exact table
		{TableId: l2Table, Match: []*p4api.FieldMatch{exact(1, 1)}, Action: direct(dropAction), Priority: 10},
		// missing priority on ternary table
		{TableId: aclTable, Match: []*p4api.FieldMatch{ternary(4, []byte{0x08, 0x06}, []byte{0xff, 0xff})}, Action: direct(puntToCPU)},
		// value outside of mask
		{TableId: aclTable, Match: []*p4api.FieldMatch{ternary(4, []byte{0x08, 0x06}, []byte{0xff, 0x00})}, Action: direct(puntToCPU), Priority: 1},
		// bits past the prefix length
		{TableId: l3Table, Match: []*p4api.FieldMatch{lpm(1, 64, ipv6(1)...)}, Action: &p4api.TableAction{Type: &p4api.TableAction_ActionProfileGroupId{ActionProfileGroupId: 1}}},
		// direct action on a table with an action selector
		{TableId: l3Table, Match: []*p4api.FieldMatch{lpm(1, 128, ipv6(1)...)}, Action: direct(setL2NextHop, param(1, 1))},
	}
	for i, entry := range invalid {
		err := f.tables.InsertTableEntry(entry)
		assert.True(t, errors.IsInvalid(err), "entry %d: %v", i, err)
	}

	// group must exist
	err := f.tables.InsertTableEntry(&p4api.TableEntry{
		TableId: l3Table,
		Match:   []*p4api.FieldMatch{lpm(1, 128, ipv6(1)...)},
		Action:  &p4api.TableAction{Type: &p4api.TableAction_ActionProfileGroupId{ActionProfileGroupId: 1}},
	})
	assert.True(t, errors.IsNotFound(err))
}

func TestLongestPrefixMatch(t *testing.T) {
	f := newFixture(t)
	for i, prefixLen := range []int32{0, 64, 128} {
		member := &p4api.ActionProfileMember{
			ActionProfileId: ecmpSelector,
			MemberId:        uint32(i + 1),
			Action:          &p4api.Action{ActionId: setL2NextHop, Params: []*p4api.Action_Param{param(1, byte(i+1))}},
		}
		require.NoError(t, f.profiles.ModifyActionProfileMember(member, true))
		value := ipv6(0, 0x20, 0x01, 0x0d, 0xb8)
		if prefixLen == 0 {
			value = ipv6(0)
		} else if prefixLen == 128 {
			value = ipv6(2, 0x20, 0x01, 0x0d, 0xb8)
		}
		require.NoError(t, f.tables.InsertTableEntry(&p4api.TableEntry{
			TableId: l3Table,
			Match:   []*p4api.FieldMatch{lpm(1, prefixLen, value...)},
			Action:  &p4api.TableAction{Type: &p4api.TableAction_ActionProfileMemberId{ActionProfileMemberId: uint32(i + 1)}},
		}))
	}
	table := f.tables.Table(l3Table)

	entry, hit := table.Lookup(Key{1: ipv6(2, 0x20, 0x01, 0x0d, 0xb8)}, 64)
	require.True(t, hit)
	assert.Equal(t, uint32(3), entry.Action.GetActionProfileMemberId())

	entry, hit = table.Lookup(Key{1: ipv6(3, 0x20, 0x01, 0x0d, 0xb8)}, 64)
	require.True(t, hit)
	assert.Equal(t, uint32(2), entry.Action.GetActionProfileMemberId())

	entry, hit = table.Lookup(Key{1: ipv6(3, 0xfc)}, 64)
	require.True(t, hit)
	assert.Equal(t, uint32(1), entry.Action.GetActionProfileMemberId())

	// member still referenced by the profile cannot vanish from under a group
	group := &p4api.ActionProfileGroup{
		ActionProfileId: ecmpSelector,
		GroupId:         1,
		Members:         []*p4api.ActionProfileGroup_Member{{MemberId: 1, Weight: 1}, {MemberId: 2, Weight: 1}},
	}
	require.NoError(t, f.profiles.ModifyActionProfileGroup(group, true))
	err := f.profiles.DeleteActionProfileMember(&p4api.ActionProfileMember{ActionProfileId: ecmpSelector, MemberId: 1})
	assert.Error(t, err)

	group.Members = append(group.Members, &p4api.ActionProfileGroup_Member{MemberId: 9, Weight: 1})
	assert.True(t, errors.IsNotFound(f.profiles.ModifyActionProfileGroup(group, false)))
}

func TestTernaryPriority(t *testing.T) {
	f := newFixture(t)
	low := &p4api.TableEntry{
		TableId:  aclTable,
		Match:    []*p4api.FieldMatch{ternary(4, []byte{0x08, 0x06}, []byte{0xff, 0xff})},
		Action:   direct(puntToCPU),
		Priority: 10,
	}
	high := &p4api.TableEntry{
		TableId:  aclTable,
		Match:    []*p4api.FieldMatch{ternary(1, []byte{1}, []byte{0x01, 0xff}), ternary(4, []byte{0x08, 0x06}, []byte{0xff, 0xff})},
		Action:   direct(dropAction),
		Priority: 20,
	}
	require.NoError(t, f.tables.InsertTableEntry(low))
	require.NoError(t, f.tables.InsertTableEntry(high))
	table := f.tables.Table(aclTable)

	entry, hit := table.Lookup(Key{1: {0, 1}, 4: {0x08, 0x06}}, 60)
	require.True(t, hit)
	assert.Equal(t, uint32(dropAction), entry.Action.GetAction().ActionId)

	entry, hit = table.Lookup(Key{1: {0, 2}, 4: {0x08, 0x06}}, 60)
	require.True(t, hit)
	assert.Equal(t, uint32(puntToCPU), entry.Action.GetAction().ActionId)

	_, hit = table.Lookup(Key{1: {0, 2}, 4: {0x86, 0xdd}}, 60)
	assert.False(t, hit)

	// Counters track hits and are returned on request
	var read []*p4api.Entity
	err := f.tables.ReadTableEntries(&p4api.TableEntry{TableId: aclTable, CounterData: &p4api.CounterData{}}, func(entities []*p4api.Entity) error {
		read = append(read, entities...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, read, 2)
	assert.Equal(t, int64(1), read[0].GetTableEntry().CounterData.PacketCount)
	assert.Equal(t, int64(60), read[0].GetTableEntry().CounterData.ByteCount)

	read = nil
	err = f.tables.ReadTableEntries(&p4api.TableEntry{}, func(entities []*p4api.Entity) error {
		read = append(read, entities...)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, read, 2)
	assert.Nil(t, read[0].GetTableEntry().CounterData)
}

func TestDefaultEntry(t *testing.T) {
	f := newFixture(t)
	table := f.tables.Table(l2Table)
	entry, hit := table.Lookup(Key{1: {1}}, 60)
	assert.Nil(t, entry)
	assert.False(t, hit)

	def := &p4api.TableEntry{TableId: l2Table, IsDefaultAction: true, Action: direct(dropAction)}
	assert.Error(t, f.tables.InsertTableEntry(def))
	require.NoError(t, f.tables.ModifyTableEntry(def))
	entry, hit = table.Lookup(Key{1: {1}}, 60)
	require.NotNil(t, entry)
	assert.False(t, hit)
	assert.Equal(t, uint32(dropAction), entry.Action.GetAction().ActionId)
	assert.Error(t, f.tables.RemoveTableEntry(def))
}

func TestReadPaging(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < pageSize+10; i++ {
		require.NoError(t, f.tables.InsertTableEntry(&p4api.TableEntry{
			TableId: mySIDTable,
			Match:   []*p4api.FieldMatch{ternary(1, ipv6(byte(i)), ipv6(0xff))},
			Action:  direct(srv6End),
			// distinct priorities keep the key unique even when values repeat
			Priority: int32(i + 1),
		}))
	}
	batches := 0
	total := 0
	err := f.tables.ReadTableEntries(&p4api.TableEntry{TableId: mySIDTable}, func(entities []*p4api.Entity) error {
		batches++
		total += len(entities)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, batches)
	assert.Equal(t, pageSize+10, total)
}

func TestReplication(t *testing.T) {
	pr := NewPacketReplication()
	group := &p4api.MulticastGroupEntry{MulticastGroupId: 1, Replicas: []*p4api.Replica{{EgressPort: 1}, {EgressPort: 2}}}
	require.NoError(t, pr.ModifyMulticastGroupEntry(group, true))
	assert.True(t, errors.IsAlreadyExists(pr.ModifyMulticastGroupEntry(group, true)))
	assert.Len(t, pr.MulticastGroup(1).Replicas, 2)

	bad := &p4api.MulticastGroupEntry{MulticastGroupId: 2, Replicas: []*p4api.Replica{{EgressPort: 1}, {EgressPort: 1}}}
	assert.True(t, errors.IsInvalid(pr.ModifyMulticastGroupEntry(bad, true)))

	session := &p4api.CloneSessionEntry{SessionId: 99, Replicas: []*p4api.Replica{{EgressPort: 255}}}
	require.NoError(t, pr.ModifyCloneSessionEntry(session, true))
	assert.NotNil(t, pr.CloneSession(99))

	count := 0
	require.NoError(t, pr.ReadCloneSessionEntries(&p4api.CloneSessionEntry{}, func(entities []*p4api.Entity) error {
		count += len(entities)
		return nil
	}))
	assert.Equal(t, 1, count)

	require.NoError(t, pr.DeleteCloneSessionEntry(session))
	assert.True(t, errors.IsNotFound(pr.DeleteCloneSessionEntry(session)))
	require.NoError(t, pr.DeleteMulticastGroupEntry(group))
	assert.Nil(t, pr.MulticastGroup(1))
}
