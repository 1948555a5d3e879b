// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package ptf

import (
	"github.com/onosproject/fabric-ptf/pkg/p4rt"
	"github.com/onosproject/fabric-ptf/pkg/utils"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
)

// DefaultPriority is the priority of ternary entries added by the fabric helpers
const DefaultPriority = 10

// CPUCloneSessionID is the clone session used by the clone_to_cpu action
const CPUCloneSessionID = 99

// Addresses used by the fabric test cases
const (
	IPv6McastMAC1 = "33:33:00:00:00:01"

	Switch1MAC = "00:00:00:00:aa:01"
	Switch2MAC = "00:00:00:00:aa:02"
	Switch3MAC = "00:00:00:00:aa:03"
	Host1MAC   = "00:00:00:00:00:01"
	Host2MAC   = "00:00:00:00:00:02"

	Switch1IPv6 = "2001:0:1::1"
	Switch2IPv6 = "2001:0:2::1"
	Switch3IPv6 = "2001:0:3::1"
	Host1IPv6   = "2001:0000:85a3::8a2e:370:1111"
	Host2IPv6   = "2001:0000:85a3::8a2e:370:2222"
)

const (
	l2Table      = "FabricIngress.l2_table"
	l2MyStation  = "FabricIngress.l2_my_station"
	l3Table      = "FabricIngress.l3_table"
	aclTable     = "FabricIngress.acl"
	ndpReply     = "FabricIngress.ndp_reply"
	srv6Transit  = "FabricIngress.srv6_transit"
	srv6MySID    = "FabricIngress.srv6_my_sid"
	ecmpSelector = "FabricIngress.ecmp_selector"

	ethDstField  = "hdr.ethernet.dst_addr"
	ethTypeField = "hdr.ethernet.ether_type"
	ipv6DstField = "hdr.ipv6.dst_addr"
	ndpTgtField  = "hdr.ndp.target_addr"
)

// ids hands out action profile member and group identifiers
type ids struct {
	lock   sync.Mutex
	member uint32
	group  uint32
}

func (i *ids) nextMember() uint32 {
	i.lock.Lock()
	defer i.lock.Unlock()
	i.member++
	return i.member
}

func (i *ids) nextGroup() uint32 {
	i.lock.Lock()
	defer i.lock.Unlock()
	i.group++
	return i.group
}

// FabricTest is the fixture of the fabric pipeline test cases
type FabricTest struct {
	*Test
	Port1 uint32
	Port2 uint32
	Port3 uint32
	ids   *ids
}

// NewFabricTest creates the fabric fixture of the given test
func NewFabricTest(t *testing.T, target *Target) *FabricTest {
	return newFabricTest(t, target, &ids{})
}

func newFabricTest(t *testing.T, target *Target, ids *ids) *FabricTest {
	t.Helper()
	test := NewTest(t, target)
	return &FabricTest{
		Test:  test,
		Port1: test.Swport(1),
		Port2: test.Swport(2),
		Port3: test.Swport(3),
		ids:   ids,
	}
}

// Run runs a subtest with its own fixture; entries added by the subtest are removed when it ends while the
// member and group identifiers keep counting
func (ft *FabricTest) Run(name string, f func(ft *FabricTest)) bool {
	return ft.T.Run(name, func(t *testing.T) {
		f(newFabricTest(t, ft.Target, ft.ids))
	})
}

// NextMemberID returns the next action profile member identifier
func (ft *FabricTest) NextMemberID() uint32 {
	return ft.ids.nextMember()
}

// NextGroupID returns the next group identifier, shared by action profile and multicast groups
func (ft *FabricTest) NextGroupID() uint32 {
	return ft.ids.nextGroup()
}

func (ft *FabricTest) mac(addr string) []byte {
	ft.Helper()
	b, err := utils.MACToBytes(addr)
	require.NoError(ft, err)
	return b
}

func (ft *FabricTest) ipv6(addr string) []byte {
	ft.Helper()
	b, err := utils.IPv6ToBytes(addr)
	require.NoError(ft, err)
	return b
}

func (ft *FabricTest) entry(table string, matches []p4rt.Match, action string, priority int32, params ...p4rt.Param) *p4api.Entity {
	ft.Helper()
	ta, err := ft.Schema.DirectAction(action, params...)
	require.NoError(ft, err)
	entity, err := ft.Schema.TableEntry(table, matches, ta, priority)
	require.NoError(ft, err)
	return entity
}

// AddL2UnicastEntry forwards frames for the MAC address to the port
func (ft *FabricTest) AddL2UnicastEntry(ethDst string, port uint32) {
	ft.Helper()
	ft.AddL2Entry(ethDst, "FabricIngress.l2_unicast_fwd", p4rt.Param{Name: "port_num", Value: utils.Stringify(uint64(port), 2)})
}

// AddL2MulticastEntry replicates frames for the MAC address to the ports through a new multicast group
func (ft *FabricTest) AddL2MulticastEntry(ethDst string, ports ...uint32) {
	ft.Helper()
	groupID := ft.NextGroupID()
	ft.AddMcastGroup(groupID, ports...)
	ft.AddL2Entry(ethDst, "FabricIngress.l2_multicast_fwd", p4rt.Param{Name: "gid", Value: utils.Stringify(uint64(groupID), 2)})
}

// AddL2Entry applies the action to frames for the MAC address
func (ft *FabricTest) AddL2Entry(ethDst string, action string, params ...p4rt.Param) {
	ft.Helper()
	ft.Insert(ft.entry(l2Table, []p4rt.Match{p4rt.Exact(ethDstField, ft.mac(ethDst))}, action, 0, params...))
}

// AddL2MyStationEntry marks frames for the MAC address as addressed to the router
func (ft *FabricTest) AddL2MyStationEntry(ethDst string) {
	ft.Helper()
	ft.Insert(ft.entry(l2MyStation, []p4rt.Match{p4rt.Exact(ethDstField, ft.mac(ethDst))}, "NoAction", 0))
}

// AddL3Entry routes the prefix through the action profile group
func (ft *FabricTest) AddL3Entry(dst string, prefixLen int32, groupID uint32) {
	ft.Helper()
	entity, err := ft.Schema.TableEntry(l3Table, []p4rt.Match{p4rt.LPM(ipv6DstField, ft.ipv6(dst), prefixLen)}, p4rt.GroupAction(groupID), 0)
	require.NoError(ft, err)
	ft.Insert(entity)
}

// Member is an action profile member: an action with its parameters
type Member struct {
	Action string
	Params []p4rt.Param
}

// AddL3GroupWithMembers creates the members with new identifiers and the group holding them
func (ft *FabricTest) AddL3GroupWithMembers(groupID uint32, members ...Member) {
	ft.Helper()
	memberIDs := make([]uint32, 0, len(members))
	for _, m := range members {
		memberID := ft.NextMemberID()
		memberIDs = append(memberIDs, memberID)
		entity, err := ft.Schema.ActionProfileMember(ecmpSelector, memberID, m.Action, m.Params...)
		require.NoError(ft, err)
		ft.Insert(entity)
	}
	group, err := ft.Schema.ActionProfileGroup(ecmpSelector, groupID, int32(len(memberIDs)), memberIDs...)
	require.NoError(ft, err)
	ft.Insert(group)
}

// AddL3ECMPEntry routes the prefix through a new group with one next hop member per MAC address
func (ft *FabricTest) AddL3ECMPEntry(dst string, prefixLen int32, nextHopMACs ...string) {
	ft.Helper()
	members := make([]Member, 0, len(nextHopMACs))
	for _, mac := range nextHopMACs {
		members = append(members, Member{
			Action: "FabricIngress.set_l2_next_hop",
			Params: []p4rt.Param{{Name: "dmac", Value: ft.mac(mac)}},
		})
	}
	groupID := ft.NextGroupID()
	ft.AddL3GroupWithMembers(groupID, members...)
	ft.AddL3Entry(dst, prefixLen, groupID)
}

// AddACLCPUEntry punts, or clones, frames of the Ethernet type to the CPU
func (ft *FabricTest) AddACLCPUEntry(ethType uint16, clone bool) {
	ft.Helper()
	action := "FabricIngress.punt_to_cpu"
	if clone {
		action = "FabricIngress.clone_to_cpu"
	}
	match := p4rt.Ternary(ethTypeField, utils.Stringify(uint64(ethType), 2), utils.Stringify(0xffff, 2))
	ft.Insert(ft.entry(aclTable, []p4rt.Match{match}, action, DefaultPriority))
}

// AddMcastGroup creates the multicast group replicating to the ports
func (ft *FabricTest) AddMcastGroup(groupID uint32, ports ...uint32) {
	ft.Helper()
	ft.Insert(p4rt.MulticastGroupEntry(groupID, ports...))
}

// AddCloneSession creates the clone session replicating to the ports
func (ft *FabricTest) AddCloneSession(sessionID uint32, ports ...uint32) {
	ft.Helper()
	ft.Insert(p4rt.CloneSessionEntry(sessionID, ports...))
}

// AddNDPReplyEntry answers neighbor solicitations for the target address with the MAC address
func (ft *FabricTest) AddNDPReplyEntry(targetAddr string, targetMAC string) {
	ft.Helper()
	ft.Insert(ft.entry(ndpReply, []p4rt.Match{p4rt.Exact(ndpTgtField, ft.ipv6(targetAddr))},
		"FabricIngress.ndp_advertisement", 0, p4rt.Param{Name: "router_mac", Value: ft.mac(targetMAC)}))
}

// AddSRv6Transit2SegmentEntry pushes a two segment SRH on packets for the prefix
func (ft *FabricTest) AddSRv6Transit2SegmentEntry(dst string, prefixLen int32, s1 string, s2 string) {
	ft.Helper()
	ft.Insert(ft.entry(srv6Transit, []p4rt.Match{p4rt.LPM(ipv6DstField, ft.ipv6(dst), prefixLen)},
		"FabricIngress.srv6_t_insert_2", 0,
		p4rt.Param{Name: "s1", Value: ft.ipv6(s1)}, p4rt.Param{Name: "s2", Value: ft.ipv6(s2)}))
}

// AddSRv6Transit3SegmentEntry pushes a three segment SRH on packets for the prefix
func (ft *FabricTest) AddSRv6Transit3SegmentEntry(dst string, prefixLen int32, s1 string, s2 string, s3 string) {
	ft.Helper()
	ft.Insert(ft.entry(srv6Transit, []p4rt.Match{p4rt.LPM(ipv6DstField, ft.ipv6(dst), prefixLen)},
		"FabricIngress.srv6_t_insert_3", 0,
		p4rt.Param{Name: "s1", Value: ft.ipv6(s1)}, p4rt.Param{Name: "s2", Value: ft.ipv6(s2)},
		p4rt.Param{Name: "s3", Value: ft.ipv6(s3)}))
}

// AddSRv6MySIDEntry runs the SRv6 End behaviour on packets for the segment identifier
func (ft *FabricTest) AddSRv6MySIDEntry(mySID string) {
	ft.Helper()
	mask := make([]byte, 16)
	for i := range mask {
		mask[i] = 0xff
	}
	ft.Insert(ft.entry(srv6MySID, []p4rt.Match{p4rt.Ternary(ipv6DstField, ft.ipv6(mySID), mask)},
		"FabricIngress.srv6_end", DefaultPriority))
}
