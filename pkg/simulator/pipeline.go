// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package simulator

import (
	"bytes"
	"fmt"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/onosproject/fabric-ptf/pkg/packets"
	"github.com/onosproject/fabric-ptf/pkg/simulator/config"
	"github.com/onosproject/fabric-ptf/pkg/simulator/entries"
	"github.com/onosproject/fabric-ptf/pkg/utils"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"hash/fnv"
	"net"
)

// CPUCloneSessionID is the clone session used by the clone_to_cpu action
const CPUCloneSessionID = 99

var broadcastMAC = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// frame emitted on a port
type emission struct {
	port  uint32
	frame []byte
}

// outcome of running a frame through the pipeline
type verdict struct {
	out        []emission
	packetIns  [][]byte
	dropReason string
}

type tableRef struct {
	name  string
	id    uint32
	field uint32
	table *entries.Table
}

type actionRef struct {
	id     uint32
	params map[string]uint32
}

type aclFields struct {
	ingressPort uint32
	ethDst      uint32
	ethSrc      uint32
	ethType     uint32
	ipProto     uint32
}

// program is the fabric pipeline with all of its tables, actions and fields resolved by name
type program struct {
	myStation tableRef
	l2        tableRef
	l3        tableRef
	mySID     tableRef
	transit   tableRef
	ndpReply  tableRef
	acl       tableRef
	aclFields aclFields
	selector  uint32

	l2Unicast        actionRef
	l2Multicast      actionRef
	drop             actionRef
	setNextHop       actionRef
	srv6End          actionRef
	insert2          actionRef
	insert3          actionRef
	ndpAdvertisement actionRef
	puntToCPU        actionRef
	cloneToCPU       actionRef
}

// resolver looks up P4Info objects by name and remembers the first failure
type resolver struct {
	info *p4info.P4Info
	err  error
}

func (r *resolver) fail(format string, args ...interface{}) {
	if r.err == nil {
		r.err = errors.NewInvalid("unsupported pipeline: "+format, args...)
	}
}

func (r *resolver) table(name string) *p4info.Table {
	for _, t := range r.info.Tables {
		if t.Preamble.Name == name {
			return t
		}
	}
	r.fail("table %s not found", name)
	return nil
}

func (r *resolver) field(t *p4info.Table, name string) uint32 {
	if t == nil {
		return 0
	}
	for _, f := range t.MatchFields {
		if f.Name == name {
			return f.Id
		}
	}
	r.fail("field %s of table %s not found", name, t.Preamble.Name)
	return 0
}

func (r *resolver) tableRef(name string, field string) tableRef {
	t := r.table(name)
	if t == nil {
		return tableRef{name: name}
	}
	return tableRef{name: name, id: t.Preamble.Id, field: r.field(t, field)}
}

func (r *resolver) action(name string) actionRef {
	for _, a := range r.info.Actions {
		if a.Preamble.Name == name {
			ref := actionRef{id: a.Preamble.Id, params: make(map[string]uint32, len(a.Params))}
			for _, p := range a.Params {
				ref.params[p.Name] = p.Id
			}
			return ref
		}
	}
	r.fail("action %s not found", name)
	return actionRef{}
}

// resolveProgram resolves the fabric pipeline objects in the given P4Info
func resolveProgram(info *p4info.P4Info) (*program, error) {
	r := &resolver{info: info}
	p := &program{
		myStation: r.tableRef("FabricIngress.l2_my_station", "hdr.ethernet.dst_addr"),
		l2:        r.tableRef("FabricIngress.l2_table", "hdr.ethernet.dst_addr"),
		l3:        r.tableRef("FabricIngress.l3_table", "hdr.ipv6.dst_addr"),
		mySID:     r.tableRef("FabricIngress.srv6_my_sid", "hdr.ipv6.dst_addr"),
		transit:   r.tableRef("FabricIngress.srv6_transit", "hdr.ipv6.dst_addr"),
		ndpReply:  r.tableRef("FabricIngress.ndp_reply", "hdr.ndp.target_addr"),
		acl:       r.tableRef("FabricIngress.acl", "hdr.ethernet.ether_type"),

		l2Unicast:        r.action("FabricIngress.l2_unicast_fwd"),
		l2Multicast:      r.action("FabricIngress.l2_multicast_fwd"),
		drop:             r.action("FabricIngress.drop"),
		setNextHop:       r.action("FabricIngress.set_l2_next_hop"),
		srv6End:          r.action("FabricIngress.srv6_end"),
		insert2:          r.action("FabricIngress.srv6_t_insert_2"),
		insert3:          r.action("FabricIngress.srv6_t_insert_3"),
		ndpAdvertisement: r.action("FabricIngress.ndp_advertisement"),
		puntToCPU:        r.action("FabricIngress.punt_to_cpu"),
		cloneToCPU:       r.action("FabricIngress.clone_to_cpu"),
	}
	if acl := r.table("FabricIngress.acl"); acl != nil {
		p.aclFields = aclFields{
			ingressPort: r.field(acl, "standard_metadata.ingress_port"),
			ethDst:      r.field(acl, "hdr.ethernet.dst_addr"),
			ethSrc:      r.field(acl, "hdr.ethernet.src_addr"),
			ethType:     r.field(acl, "hdr.ethernet.ether_type"),
			ipProto:     r.field(acl, "local_metadata.ip_proto"),
		}
	}
	if l3 := r.table("FabricIngress.l3_table"); l3 != nil {
		p.selector = l3.ImplementationId
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// bind attaches the program to the tables of the device
func (p *program) bind(tables *entries.Tables) {
	for _, ref := range []*tableRef{&p.myStation, &p.l2, &p.l3, &p.mySID, &p.transit, &p.ndpReply, &p.acl} {
		ref.table = tables.Table(ref.id)
	}
}

// ReceiveFrame runs the frame received on the given port through the pipeline and emits the results
func (ds *DeviceSimulator) ReceiveFrame(port uint32, frame []byte) error {
	if _, ok := ds.ports[port]; !ok {
		return errors.NewNotFound("port %d not found", port)
	}
	ds.countIn(port, frame)
	if !ds.config.IsEnabled(port) {
		ds.config.Increment(port, config.InDiscards, 1)
		ds.drop("port disabled")
		return nil
	}

	ds.lock.Lock()
	var v *verdict
	if ds.program == nil {
		v = &verdict{dropReason: "no pipeline"}
	} else {
		v = ds.program.apply(ds, port, frame)
	}
	ds.lock.Unlock()

	if len(v.dropReason) > 0 {
		log.Debugf("Device %s: dropped frame from port %d: %s", ds.ID, port, v.dropReason)
		ds.drop(v.dropReason)
	}
	for _, packetIn := range v.packetIns {
		ds.SendPacketIn(packetIn, port)
	}
	ds.emit(v.out)
	return nil
}

// emit sends frames out of their ports
func (ds *DeviceSimulator) emit(out []emission) {
	ds.lock.RLock()
	egress := ds.egress
	ds.lock.RUnlock()
	for _, o := range out {
		if _, ok := ds.ports[o.port]; !ok {
			ds.drop("unknown egress port")
			continue
		}
		if !ds.config.IsEnabled(o.port) {
			ds.config.Increment(o.port, config.OutDiscards, 1)
			ds.drop("port disabled")
			continue
		}
		if egress == nil {
			ds.drop("no egress")
			continue
		}
		ds.countOut(o.port, o.frame)
		egress(o.port, o.frame)
	}
}

func (ds *DeviceSimulator) drop(reason string) {
	ds.metrics.FramesDropped.WithLabelValues(ds.ID, reason).Inc()
}

func (ds *DeviceSimulator) countIn(port uint32, frame []byte) {
	ds.metrics.FramesReceived.WithLabelValues(ds.ID, fmt.Sprintf("%d", port)).Inc()
	ds.config.Increment(port, config.InOctets, uint64(len(frame)))
	switch castType(frame) {
	case broadcast:
		ds.config.Increment(port, config.InBroadcastPkts, 1)
	case multicast:
		ds.config.Increment(port, config.InMulticastPkts, 1)
	default:
		ds.config.Increment(port, config.InUnicastPkts, 1)
	}
}

func (ds *DeviceSimulator) countOut(port uint32, frame []byte) {
	ds.metrics.FramesTransmitted.WithLabelValues(ds.ID, fmt.Sprintf("%d", port)).Inc()
	ds.config.Increment(port, config.OutOctets, uint64(len(frame)))
	switch castType(frame) {
	case broadcast:
		ds.config.Increment(port, config.OutBroadcast, 1)
	case multicast:
		ds.config.Increment(port, config.OutMulticast, 1)
	default:
		ds.config.Increment(port, config.OutUnicastPkts, 1)
	}
}

type cast int

const (
	unicast cast = iota
	multicast
	broadcast
)

func castType(frame []byte) cast {
	switch {
	case len(frame) < 6:
		return unicast
	case bytes.Equal(frame[:6], broadcastMAC):
		return broadcast
	case frame[0]&0x01 != 0:
		return multicast
	}
	return unicast
}

// apply runs the ingress pipeline: NDP reply, SRv6 and routing for IPv6 frames addressed to the station,
// bridging and finally the ACL
func (p *program) apply(ds *DeviceSimulator, inPort uint32, frame []byte) *verdict {
	v := &verdict{}
	packet := packets.Decode(frame)
	eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		v.dropReason = "malformed frame"
		return v
	}

	var outputs []emission
	if reply, ok := p.replyNDP(ds, packet); ok {
		frame = reply
		outputs = []emission{{port: inPort, frame: reply}}
	} else {
		if packet.Layer(layers.LayerTypeIPv6) != nil {
			if _, hit := p.lookup(ds, p.myStation, entries.Key{p.myStation.field: eth.DstMAC}, len(frame)); hit {
				routed, reason := p.route(ds, frame)
				if len(reason) > 0 {
					v.dropReason = reason
					return v
				}
				frame = routed
			}
		}
		var reason string
		if outputs, reason = p.bridge(ds, inPort, frame); len(reason) > 0 {
			v.dropReason = reason
		}
	}

	entry, _ := p.lookup(ds, p.acl, p.aclKey(inPort, frame), len(frame))
	if action := entry.GetAction().GetAction(); action != nil {
		switch action.ActionId {
		case p.puntToCPU.id:
			v.packetIns = append(v.packetIns, frame)
			v.dropReason = ""
			return v
		case p.cloneToCPU.id:
			if session := ds.replication.CloneSession(CPUCloneSessionID); session != nil {
				for _, replica := range session.Replicas {
					outputs = append(outputs, emission{port: replica.EgressPort, frame: frame})
				}
			}
		case p.drop.id:
			v.dropReason = "acl drop"
			return v
		}
	}

	for _, o := range outputs {
		if o.port == ds.CPUPort {
			v.packetIns = append(v.packetIns, o.frame)
		} else {
			v.out = append(v.out, o)
		}
	}
	if len(v.out)+len(v.packetIns) > 0 {
		v.dropReason = ""
	} else if len(v.dropReason) == 0 {
		v.dropReason = "no output"
	}
	return v
}

// lookup applies the table and counts hits
func (p *program) lookup(ds *DeviceSimulator, ref tableRef, key entries.Key, size int) (*p4api.TableEntry, bool) {
	if ref.table == nil {
		return nil, false
	}
	entry, hit := ref.table.Lookup(key, size)
	if hit {
		ds.metrics.TableHits.WithLabelValues(ds.ID, ref.name).Inc()
	}
	return entry, hit
}

// replyNDP answers a neighbor solicitation for a target found in the NDP reply table
func (p *program) replyNDP(ds *DeviceSimulator, packet gopacket.Packet) ([]byte, bool) {
	l := packet.Layer(layers.LayerTypeICMPv6NeighborSolicitation)
	ipl := packet.Layer(layers.LayerTypeIPv6)
	if l == nil || ipl == nil {
		return nil, false
	}
	ns := l.(*layers.ICMPv6NeighborSolicitation)
	entry, hit := p.lookup(ds, p.ndpReply, entries.Key{p.ndpReply.field: ns.TargetAddress.To16()}, len(packet.Data()))
	action := entry.GetAction().GetAction()
	if !hit || action == nil || action.ActionId != p.ndpAdvertisement.id {
		return nil, false
	}
	routerMAC := net.HardwareAddr(ds.actions.ParamValue(action, p.ndpAdvertisement.params["router_mac"]))
	reply, err := packets.NeighborAdvertisement(routerMAC, packets.IPv6AllNodesMAC, ns.TargetAddress, ipl.(*layers.IPv6).SrcIP)
	if err != nil {
		log.Warnf("Device %s: unable to craft neighbor advertisement: %+v", ds.ID, err)
		return nil, false
	}
	return reply, true
}

// route applies the SRv6 tables and then the routing table to an IPv6 frame; a non-empty reason means drop
func (p *program) route(ds *DeviceSimulator, frame []byte) ([]byte, string) {
	ip := packets.Decode(frame).Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	if entry, hit := p.lookup(ds, p.mySID, entries.Key{p.mySID.field: ip.DstIP.To16()}, len(frame)); hit &&
		entry.GetAction().GetAction().GetActionId() == p.srv6End.id {
		advanced, err := packets.AdvanceSRH(frame)
		if err != nil {
			return nil, "srv6 end without segments"
		}
		frame = advanced
	} else if entry, hit := p.lookup(ds, p.transit, entries.Key{p.transit.field: ip.DstIP.To16()}, len(frame)); hit {
		if segments := p.segments(ds, entry.GetAction().GetAction()); len(segments) > 0 {
			inserted, err := packets.InsertSRH(frame, segments...)
			if err != nil {
				return nil, "srv6 insert failed"
			}
			frame = inserted
		}
	}

	packet := packets.Decode(frame)
	ip = packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	entry, hit := p.lookup(ds, p.l3, entries.Key{p.l3.field: ip.DstIP.To16()}, len(frame))
	if !hit {
		return frame, ""
	}
	action := p.resolveAction(ds, entry.Action, packet)
	if action == nil {
		return nil, "empty ecmp group"
	}
	if action.ActionId != p.setNextHop.id {
		return frame, ""
	}
	if ip.HopLimit <= 1 {
		return nil, "hop limit exceeded"
	}
	dmac := ds.actions.ParamValue(action, p.setNextHop.params["dmac"])
	return packets.DecrementTTL(packets.Route(frame, dmac)), ""
}

// segments returns the segment list of an SRv6 insert action in path order
func (p *program) segments(ds *DeviceSimulator, action *p4api.Action) []net.IP {
	var ref actionRef
	var names []string
	switch action.GetActionId() {
	case p.insert2.id:
		ref, names = p.insert2, []string{"s1", "s2"}
	case p.insert3.id:
		ref, names = p.insert3, []string{"s1", "s2", "s3"}
	default:
		return nil
	}
	segments := make([]net.IP, 0, len(names))
	for _, name := range names {
		segments = append(segments, net.IP(ds.actions.ParamValue(action, ref.params[name])))
	}
	return segments
}

// resolveAction returns the action of a direct entry or of the member selected from the entry's action profile
func (p *program) resolveAction(ds *DeviceSimulator, ta *p4api.TableAction, packet gopacket.Packet) *p4api.Action {
	switch {
	case ta.GetAction() != nil:
		return ta.GetAction()
	case ta.GetActionProfileMemberId() != 0:
		if member := ds.profiles.Member(p.selector, ta.GetActionProfileMemberId()); member != nil {
			return member.Action
		}
	case ta.GetActionProfileGroupId() != 0:
		group := ds.profiles.Group(p.selector, ta.GetActionProfileGroupId())
		if group == nil || len(group.Members) == 0 {
			return nil
		}
		if member := ds.profiles.Member(p.selector, selectMember(group, flowHash(packet))); member != nil {
			return member.Action
		}
	}
	return nil
}

// selectMember picks a group member by weight using the given hash
func selectMember(group *p4api.ActionProfileGroup, hash uint32) uint32 {
	var total uint32
	for _, m := range group.Members {
		total += weight(m)
	}
	n := hash % total
	for _, m := range group.Members {
		if n < weight(m) {
			return m.MemberId
		}
		n -= weight(m)
	}
	return group.Members[0].MemberId
}

func weight(m *p4api.ActionProfileGroup_Member) uint32 {
	if m.Weight <= 0 {
		return 1
	}
	return uint32(m.Weight)
}

// flowHash hashes the addresses, flow label, protocol and L4 ports of the packet
func flowHash(packet gopacket.Packet) uint32 {
	h := fnv.New32a()
	if nl := packet.NetworkLayer(); nl != nil {
		_, _ = h.Write(nl.NetworkFlow().Src().Raw())
		_, _ = h.Write(nl.NetworkFlow().Dst().Raw())
	}
	if ip, ok := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
		_, _ = h.Write(utils.Stringify(uint64(ip.FlowLabel), 3))
		_, _ = h.Write([]byte{byte(ip.NextHeader)})
	}
	if tl := packet.TransportLayer(); tl != nil {
		_, _ = h.Write(tl.TransportFlow().Src().Raw())
		_, _ = h.Write(tl.TransportFlow().Dst().Raw())
	}
	return h.Sum32()
}

// bridge applies the L2 table; multicast replicas skip the ingress port
func (p *program) bridge(ds *DeviceSimulator, inPort uint32, frame []byte) ([]emission, string) {
	entry, _ := p.lookup(ds, p.l2, entries.Key{p.l2.field: frame[:6]}, len(frame))
	action := entry.GetAction().GetAction()
	if action == nil {
		return nil, "l2 miss"
	}
	switch action.ActionId {
	case p.l2Unicast.id:
		port := utils.DecodeValueAsUint32(ds.actions.ParamValue(action, p.l2Unicast.params["port_num"]))
		return []emission{{port: port, frame: frame}}, ""
	case p.l2Multicast.id:
		gid := utils.DecodeValueAsUint32(ds.actions.ParamValue(action, p.l2Multicast.params["gid"]))
		group := ds.replication.MulticastGroup(gid)
		if group == nil {
			return nil, "unknown multicast group"
		}
		outputs := make([]emission, 0, len(group.Replicas))
		for _, replica := range group.Replicas {
			if replica.EgressPort != inPort {
				outputs = append(outputs, emission{port: replica.EgressPort, frame: frame})
			}
		}
		return outputs, ""
	case p.drop.id:
		return nil, "l2 drop"
	}
	return nil, "l2 no action"
}

// aclKey extracts the ACL match fields from the frame
func (p *program) aclKey(inPort uint32, frame []byte) entries.Key {
	packet := packets.Decode(frame)
	key := entries.Key{p.aclFields.ingressPort: utils.Stringify(uint64(inPort), 2)}
	if eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); ok {
		key[p.aclFields.ethDst] = eth.DstMAC
		key[p.aclFields.ethSrc] = eth.SrcMAC
		key[p.aclFields.ethType] = utils.Stringify(uint64(eth.EthernetType), 2)
	}
	var proto byte
	if ip, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		proto = byte(ip.Protocol)
	} else if ip, ok := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
		proto = byte(ip.NextHeader)
		if srh, ok := packets.ParseSRH(packet); ok {
			proto = byte(srh.NextHeader)
		}
	}
	key[p.aclFields.ipProto] = []byte{proto}
	return key
}
