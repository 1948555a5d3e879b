// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package simulator

import (
	"github.com/onosproject/fabric-ptf/pkg/packets"
	"github.com/onosproject/fabric-ptf/pkg/simulator/config"
	"github.com/onosproject/fabric-ptf/pkg/utils"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net"
	"sync"
	"testing"
)

var (
	stationMAC = packets.MAC("00:aa:00:00:00:01")
	nextHop1   = packets.MAC("00:bb:00:00:00:01")
	nextHop2   = packets.MAC("00:bb:00:00:00:02")
	hostMAC    = packets.MAC("00:00:00:00:00:bb")
)

type egressCapture struct {
	lock sync.Mutex
	out  []emission
}

func (c *egressCapture) frames() []emission {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]emission{}, c.out...)
}

func captureEgress(ds *DeviceSimulator) *egressCapture {
	c := &egressCapture{}
	ds.SetEgressHandler(func(port uint32, frame []byte) {
		c.lock.Lock()
		defer c.lock.Unlock()
		c.out = append(c.out, emission{port: port, frame: frame})
	})
	return c
}

func multicastGroup(id uint32, ports ...uint32) *p4api.Entity {
	group := &p4api.MulticastGroupEntry{MulticastGroupId: id}
	for _, port := range ports {
		group.Replicas = append(group.Replicas, &p4api.Replica{EgressPort: port, Instance: 1})
	}
	return &p4api.Entity{Entity: &p4api.Entity_PacketReplicationEngineEntry{
		PacketReplicationEngineEntry: &p4api.PacketReplicationEngineEntry{
			Type: &p4api.PacketReplicationEngineEntry_MulticastGroupEntry{MulticastGroupEntry: group},
		}}}
}

func cloneSession(id uint32, ports ...uint32) *p4api.Entity {
	session := &p4api.CloneSessionEntry{SessionId: id}
	for _, port := range ports {
		session.Replicas = append(session.Replicas, &p4api.Replica{EgressPort: port, Instance: 1})
	}
	return &p4api.Entity{Entity: &p4api.Entity_PacketReplicationEngineEntry{
		PacketReplicationEngineEntry: &p4api.PacketReplicationEngineEntry{
			Type: &p4api.PacketReplicationEngineEntry_CloneSessionEntry{CloneSessionEntry: session},
		}}}
}

func nextHopMember(id uint32, dmac net.HardwareAddr) *p4api.Entity {
	return &p4api.Entity{Entity: &p4api.Entity_ActionProfileMember{ActionProfileMember: &p4api.ActionProfileMember{
		ActionProfileId: ecmpSelector,
		MemberId:        id,
		Action:          &p4api.Action{ActionId: setNextHop, Params: []*p4api.Action_Param{{ParamId: 1, Value: dmac}}},
	}}}
}

func ecmpGroup(id uint32, members ...uint32) *p4api.Entity {
	group := &p4api.ActionProfileGroup{ActionProfileId: ecmpSelector, GroupId: id}
	for _, member := range members {
		group.Members = append(group.Members, &p4api.ActionProfileGroup_Member{MemberId: member, Weight: 1})
	}
	return &p4api.Entity{Entity: &p4api.Entity_ActionProfileGroup{ActionProfileGroup: group}}
}

func bridge(mac net.HardwareAddr, port uint32) *p4api.Entity {
	return tableEntry(&p4api.TableEntry{TableId: l2Table, Match: []*p4api.FieldMatch{exact(mac...)},
		Action: action(l2UnicastFwd, utils.Stringify(uint64(port), 2))})
}

func myStation(mac net.HardwareAddr) *p4api.Entity {
	return tableEntry(&p4api.TableEntry{TableId: l2MyStation, Match: []*p4api.FieldMatch{exact(mac...)}, Action: action(noAction)})
}

func route(table uint32, prefix string, prefixLen int32, ta *p4api.TableAction) *p4api.Entity {
	return tableEntry(&p4api.TableEntry{TableId: table, Match: []*p4api.FieldMatch{lpm(prefixLen, maskedIP(prefix, prefixLen))}, Action: ta})
}

func maskedIP(addr string, prefixLen int32) []byte {
	return packets.IP(addr).Mask(net.CIDRMask(int(prefixLen), 128))
}

func acl(actionID uint32, etherType uint16) *p4api.Entity {
	return tableEntry(&p4api.TableEntry{
		TableId:  aclTable,
		Priority: 10,
		Match:    []*p4api.FieldMatch{ternary(4, utils.Stringify(uint64(etherType), 2), []byte{0xff, 0xff})},
		Action:   action(actionID),
	})
}

func dropped(ds *DeviceSimulator, reason string) float64 {
	return testutil.ToFloat64(ds.metrics.FramesDropped.WithLabelValues(ds.ID, reason))
}

func masterResponder(t *testing.T, ds *DeviceSimulator) *fakeResponder {
	r := &fakeResponder{}
	require.NoError(t, ds.RunMastershipArbitration(r, arbitration(10)))
	return r
}

func TestBridging(t *testing.T) {
	ds := newTestDevice(t)
	out := captureEgress(ds)
	insert(t, ds, bridge(hostMAC, 2))

	frame, err := packets.SimpleTCP(packets.WithEthDst(hostMAC.String()))
	require.NoError(t, err)
	require.NoError(t, ds.ReceiveFrame(1, frame))
	require.Len(t, out.frames(), 1)
	assert.Equal(t, uint32(2), out.frames()[0].port)
	assert.Equal(t, frame, out.frames()[0].frame)

	assert.Equal(t, uint64(len(frame)), ds.Config().CounterValue(1, config.InOctets))
	assert.Equal(t, uint64(1), ds.Config().CounterValue(1, config.InUnicastPkts))
	assert.Equal(t, uint64(1), ds.Config().CounterValue(2, config.OutUnicastPkts))
	assert.Equal(t, float64(1), testutil.ToFloat64(ds.metrics.FramesReceived.WithLabelValues(ds.ID, "1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ds.metrics.FramesTransmitted.WithLabelValues(ds.ID, "2")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ds.metrics.TableHits.WithLabelValues(ds.ID, "FabricIngress.l2_table")))

	miss, err := packets.SimpleUDP(packets.WithEthDst("00:00:00:00:00:cc"))
	require.NoError(t, err)
	require.NoError(t, ds.ReceiveFrame(1, miss))
	assert.Len(t, out.frames(), 1)
	assert.Equal(t, float64(1), dropped(ds, "l2 miss"))

	assert.True(t, errors.IsNotFound(ds.ReceiveFrame(42, frame)))
}

func TestDisabledPorts(t *testing.T) {
	ds := newTestDevice(t)
	out := captureEgress(ds)
	insert(t, ds, bridge(hostMAC, 2))
	frame, err := packets.SimpleTCP(packets.WithEthDst(hostMAC.String()))
	require.NoError(t, err)

	require.NoError(t, ds.DisablePort(2))
	require.NoError(t, ds.ReceiveFrame(1, frame))
	assert.Len(t, out.frames(), 0)
	assert.Equal(t, uint64(1), ds.Config().CounterValue(2, config.OutDiscards))

	require.NoError(t, ds.EnablePort(2))
	require.NoError(t, ds.DisablePort(1))
	require.NoError(t, ds.ReceiveFrame(1, frame))
	assert.Len(t, out.frames(), 0)
	assert.Equal(t, uint64(1), ds.Config().CounterValue(1, config.InDiscards))
	assert.Equal(t, float64(2), dropped(ds, "port disabled"))

	require.NoError(t, ds.EnablePort(1))
	require.NoError(t, ds.ReceiveFrame(1, frame))
	assert.Len(t, out.frames(), 1)
}

func TestMulticastWithCPU(t *testing.T) {
	ds := newTestDevice(t)
	out := captureEgress(ds)
	master := masterResponder(t, ds)
	backup := &fakeResponder{}
	require.NoError(t, ds.RunMastershipArbitration(backup, arbitration(5)))

	broadcast := packets.MAC("ff:ff:ff:ff:ff:ff")
	insert(t, ds,
		multicastGroup(10, 1, 2, 3, DefaultCPUPort),
		tableEntry(&p4api.TableEntry{TableId: l2Table, Match: []*p4api.FieldMatch{exact(broadcast...)},
			Action: action(l2Multicast, []byte{0, 10})}),
	)

	frame, err := packets.SimpleARP(packets.WithEthDst(broadcast.String()))
	require.NoError(t, err)
	require.NoError(t, ds.ReceiveFrame(1, frame))

	ports := make([]uint32, 0)
	for _, o := range out.frames() {
		ports = append(ports, o.port)
		assert.Equal(t, frame, o.frame)
	}
	assert.ElementsMatch(t, []uint32{2, 3}, ports)
	assert.Equal(t, uint64(1), ds.Config().CounterValue(1, config.InBroadcastPkts))

	packetIns := master.packetIns()
	require.Len(t, packetIns, 1)
	assert.Equal(t, frame, packetIns[0].Payload)
	codec := utils.NewControllerMetadataCodec(ds.GetPipelineConfig().P4Info)
	assert.Equal(t, uint32(1), codec.DecodePacketInMetadata(packetIns[0].Metadata).IngressPort)
	assert.Len(t, backup.packetIns(), 0)
}

func TestNDPReply(t *testing.T) {
	ds := newTestDevice(t)
	out := captureEgress(ds)
	target := packets.IP("2001:db8:1::ff")
	hostIP := packets.IP("2001:db8:1::1")
	insert(t, ds, tableEntry(&p4api.TableEntry{TableId: ndpTable, Match: []*p4api.FieldMatch{exact(target...)},
		Action: action(ndpAdvertise, stationMAC)}))

	ns, err := packets.NeighborSolicitation(hostMAC, hostIP, target)
	require.NoError(t, err)
	require.NoError(t, ds.ReceiveFrame(3, ns))

	expected, err := packets.NeighborAdvertisement(stationMAC, packets.IPv6AllNodesMAC, target, hostIP)
	require.NoError(t, err)
	require.Len(t, out.frames(), 1)
	assert.Equal(t, uint32(3), out.frames()[0].port)
	assert.Equal(t, expected, out.frames()[0].frame, packets.Diff(expected, out.frames()[0].frame))

	// solicitation for an unknown target goes through bridging and misses
	other, err := packets.NeighborSolicitation(hostMAC, hostIP, packets.IP("2001:db8:1::fe"))
	require.NoError(t, err)
	require.NoError(t, ds.ReceiveFrame(3, other))
	assert.Len(t, out.frames(), 1)
}

func TestRoutingWithECMP(t *testing.T) {
	ds := newTestDevice(t)
	out := captureEgress(ds)
	insert(t, ds,
		myStation(stationMAC),
		nextHopMember(1, nextHop1),
		nextHopMember(2, nextHop2),
		ecmpGroup(1, 1, 2),
		route(l3Table, "2001:db8:85a3::", 64, &p4api.TableAction{Type: &p4api.TableAction_ActionProfileGroupId{ActionProfileGroupId: 1}}),
		bridge(nextHop1, 2),
		bridge(nextHop2, 3),
	)

	frame, err := packets.SimpleTCPv6(packets.WithEthDst(stationMAC.String()))
	require.NoError(t, err)
	require.NoError(t, ds.ReceiveFrame(1, frame))
	require.NoError(t, ds.ReceiveFrame(1, frame))

	frames := out.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, frames[0], frames[1])
	switch frames[0].port {
	case 2:
		assert.Equal(t, packets.DecrementTTL(packets.Route(frame, nextHop1)), frames[0].frame)
	case 3:
		assert.Equal(t, packets.DecrementTTL(packets.Route(frame, nextHop2)), frames[0].frame)
	default:
		t.Fatalf("unexpected port %d", frames[0].port)
	}

	expired, err := packets.SimpleTCPv6(packets.WithEthDst(stationMAC.String()), packets.WithTTL(1))
	require.NoError(t, err)
	require.NoError(t, ds.ReceiveFrame(1, expired))
	assert.Len(t, out.frames(), 2)
	assert.Equal(t, float64(1), dropped(ds, "hop limit exceeded"))
}

func TestSRv6Transit(t *testing.T) {
	ds := newTestDevice(t)
	out := captureEgress(ds)
	s1 := packets.IP("2001:db8:1::1")
	s2 := packets.IP("2001:db8:2::1")
	insert(t, ds,
		myStation(stationMAC),
		nextHopMember(1, nextHop1),
		route(transitTable, "2001:db8:85a3::8a2e:370:7335", 128, action(srv6Insert2, s1, s2)),
		route(l3Table, "2001:db8:1::", 48, &p4api.TableAction{Type: &p4api.TableAction_ActionProfileMemberId{ActionProfileMemberId: 1}}),
		bridge(nextHop1, 2),
	)

	frame, err := packets.SimpleUDPv6(packets.WithEthDst(stationMAC.String()))
	require.NoError(t, err)
	require.NoError(t, ds.ReceiveFrame(1, frame))

	inserted, err := packets.InsertSRH(frame, s1, s2)
	require.NoError(t, err)
	expected := packets.DecrementTTL(packets.Route(inserted, nextHop1))
	require.Len(t, out.frames(), 1)
	assert.Equal(t, uint32(2), out.frames()[0].port)
	assert.Equal(t, expected, out.frames()[0].frame, packets.Diff(expected, out.frames()[0].frame))
}

func TestSRv6End(t *testing.T) {
	ds := newTestDevice(t)
	out := captureEgress(ds)
	sid := packets.IP("2001:db8:ff::1")
	final := packets.IP("2001:db8:2::2")
	insert(t, ds,
		myStation(stationMAC),
		nextHopMember(1, nextHop1),
		tableEntry(&p4api.TableEntry{TableId: mySIDTable, Priority: 10,
			Match:  []*p4api.FieldMatch{ternary(1, sid, net.CIDRMask(128, 128))},
			Action: action(srv6End)}),
		route(l3Table, "2001:db8:2::", 48, &p4api.TableAction{Type: &p4api.TableAction_ActionProfileMemberId{ActionProfileMemberId: 1}}),
		bridge(nextHop1, 2),
	)

	frame, err := packets.SimpleTCPv6(packets.WithEthDst(stationMAC.String()))
	require.NoError(t, err)
	input, err := packets.InsertSRH(frame, sid, final)
	require.NoError(t, err)
	require.NoError(t, ds.ReceiveFrame(1, input))

	advanced, err := packets.AdvanceSRH(input)
	require.NoError(t, err)
	expected := packets.DecrementTTL(packets.Route(advanced, nextHop1))
	require.Len(t, out.frames(), 1)
	assert.Equal(t, expected, out.frames()[0].frame, packets.Diff(expected, out.frames()[0].frame))
	_, ok := packets.ParseSRH(packets.Decode(out.frames()[0].frame))
	assert.False(t, ok)
}

func TestACL(t *testing.T) {
	ds := newTestDevice(t)
	out := captureEgress(ds)
	master := masterResponder(t, ds)
	insert(t, ds, bridge(hostMAC, 2), acl(puntToCPU, 0x86dd))

	frame, err := packets.SimpleUDPv6(packets.WithEthDst(hostMAC.String()))
	require.NoError(t, err)
	require.NoError(t, ds.ReceiveFrame(1, frame))
	assert.Len(t, out.frames(), 0)
	assert.Len(t, master.packetIns(), 1)

	// clone without a session only forwards
	errs := ds.ProcessWrite(p4api.WriteRequest_CONTINUE_ON_ERROR, []*p4api.Update{update(p4api.Update_MODIFY, acl(cloneToCPU, 0x86dd))})
	require.NoError(t, errs[0])
	require.NoError(t, ds.ReceiveFrame(1, frame))
	assert.Len(t, out.frames(), 1)
	assert.Len(t, master.packetIns(), 1)

	insert(t, ds, cloneSession(CPUCloneSessionID, DefaultCPUPort))
	require.NoError(t, ds.ReceiveFrame(1, frame))
	assert.Len(t, out.frames(), 2)
	assert.Len(t, master.packetIns(), 2)

	errs = ds.ProcessWrite(p4api.WriteRequest_CONTINUE_ON_ERROR, []*p4api.Update{update(p4api.Update_MODIFY, acl(dropAction, 0x86dd))})
	require.NoError(t, errs[0])
	require.NoError(t, ds.ReceiveFrame(1, frame))
	assert.Len(t, out.frames(), 2)
	assert.Equal(t, float64(1), dropped(ds, "acl drop"))

	// IPv4 frames are not matched
	v4, err := packets.SimpleUDP(packets.WithEthDst(hostMAC.String()))
	require.NoError(t, err)
	require.NoError(t, ds.ReceiveFrame(1, v4))
	assert.Len(t, out.frames(), 3)
}
