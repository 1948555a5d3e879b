// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package simulator

import (
	"fmt"
	"github.com/onosproject/fabric-ptf/pkg/simulator/config"
	"github.com/onosproject/fabric-ptf/pkg/simulator/entries"
	"github.com/onosproject/fabric-ptf/pkg/utils"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/openconfig/gnmi/proto/gnmi"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/protobuf/proto"
	"math"
	"sort"
	"sync"
)

// DefaultCPUPort is the port number of the CPU port unless configured otherwise
const DefaultCPUPort = 255

// MaxPort is the highest gRPC port the device agents can listen on
const MaxPort = math.MaxInt16

// PortConfig describes a device port
type PortConfig struct {
	Number    uint32 `mapstructure:"number"`
	Name      string `mapstructure:"name"`
	Interface string `mapstructure:"interface"`
	Speed     string `mapstructure:"speed"`
}

// DeviceConfig describes a simulated device
type DeviceConfig struct {
	ID        string       `mapstructure:"id"`
	ChassisID uint64       `mapstructure:"chassisID"`
	Port      int          `mapstructure:"port"`
	CPUPort   uint32       `mapstructure:"cpuPort"`
	Ports     []PortConfig `mapstructure:"ports"`
}

// DeviceAgent is the control interface of a simulated device, e.g. its gRPC server
type DeviceAgent interface {
	// Start starts the agent of the given device
	Start(simulation *Simulation, deviceSim *DeviceSimulator) error
	// Stop stops the agent
	Stop() error
}

// StreamResponder sends messages on a P4Runtime stream channel
type StreamResponder interface {
	Send(response *p4api.StreamMessageResponse)
}

// EgressFn emits a frame on a device port
type EgressFn func(port uint32, frame []byte)

// arbitration state of a stream
type streamState struct {
	role       string
	electionID *p4api.Uint128
}

// DeviceSimulator simulates a single fabric switch
type DeviceSimulator struct {
	ID        string
	ChassisID uint64
	Port      int
	CPUPort   uint32
	Agent     DeviceAgent

	ports   map[uint32]PortConfig
	metrics *Metrics
	config  *config.SwitchConfig

	lock                     sync.RWMutex
	forwardingPipelineConfig *p4api.ForwardingPipelineConfig
	streams                  map[StreamResponder]*streamState
	egress                   EgressFn

	actions     *entries.Actions
	tables      *entries.Tables
	profiles    *entries.ActionProfiles
	replication *entries.PacketReplication
	codec       *utils.ControllerMetadataCodec
	program     *program
}

// NewDeviceSimulator initializes a new device simulator
func NewDeviceSimulator(device DeviceConfig, agent DeviceAgent, metrics *Metrics) (*DeviceSimulator, error) {
	log.Infof("Device %s: Creating simulator", device.ID)
	if device.Port < 0 || device.Port > MaxPort {
		return nil, errors.NewInvalid("device %s: gRPC port %d out of range 0..%d", device.ID, device.Port, MaxPort)
	}
	cpuPort := device.CPUPort
	if cpuPort == 0 {
		cpuPort = DefaultCPUPort
	}

	ports := make(map[uint32]PortConfig, len(device.Ports))
	statePorts := make([]config.Port, 0, len(device.Ports))
	for _, port := range device.Ports {
		if port.Number == 0 || port.Number == cpuPort {
			return nil, errors.NewInvalid("device %s: invalid port number %d", device.ID, port.Number)
		}
		if _, ok := ports[port.Number]; ok {
			return nil, errors.NewInvalid("device %s: duplicate port number %d", device.ID, port.Number)
		}
		if len(port.Name) == 0 {
			port.Name = fmt.Sprintf("%d", port.Number)
		}
		ports[port.Number] = port
		statePorts = append(statePorts, config.Port{Number: port.Number, Name: port.Name, Enabled: true, Speed: port.Speed})
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	return &DeviceSimulator{
		ID:        device.ID,
		ChassisID: device.ChassisID,
		Port:      device.Port,
		CPUPort:   cpuPort,
		Agent:     agent,
		ports:     ports,
		metrics:   metrics,
		config:    config.NewSwitchConfig(statePorts),
		forwardingPipelineConfig: &p4api.ForwardingPipelineConfig{
			P4Info:         &p4info.P4Info{},
			P4DeviceConfig: []byte{},
			Cookie:         &p4api.ForwardingPipelineConfig_Cookie{Cookie: 0},
		},
		streams: make(map[StreamResponder]*streamState),
	}, nil
}

// Start starts the device agent, if any
func (ds *DeviceSimulator) Start(simulation *Simulation) error {
	log.Infof("Device %s: Starting simulator", ds.ID)
	if ds.Agent == nil {
		return nil
	}
	if err := ds.Agent.Start(simulation, ds); err != nil {
		log.Errorf("Device %s: Unable to run simulator: %+v", ds.ID, err)
		return err
	}
	return nil
}

// Stop stops the device agent, if any
func (ds *DeviceSimulator) Stop() {
	log.Infof("Device %s: Stopping simulator", ds.ID)
	if ds.Agent != nil {
		if err := ds.Agent.Stop(); err != nil {
			log.Errorf("Device %s: Unable to stop simulator: %+v", ds.ID, err)
		}
	}
}

// Ports returns the configuration of the device ports
func (ds *DeviceSimulator) Ports() []PortConfig {
	ports := make([]PortConfig, 0, len(ds.ports))
	for _, port := range ds.ports {
		ports = append(ports, port)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Number < ports[j].Number })
	return ports
}

// Config returns the device state tree
func (ds *DeviceSimulator) Config() *config.SwitchConfig {
	return ds.config
}

// SetEgressHandler sets the function emitting frames on the device ports
func (ds *DeviceSimulator) SetEgressHandler(egress EgressFn) {
	ds.lock.Lock()
	defer ds.lock.Unlock()
	ds.egress = egress
}

// EnablePort enables the specified device port
func (ds *DeviceSimulator) EnablePort(port uint32) error {
	log.Infof("Device %s: Enabling port %d", ds.ID, port)
	return ds.config.SetEnabled(port, true)
}

// DisablePort disables the specified device port; frames received or sent on a disabled port are dropped
func (ds *DeviceSimulator) DisablePort(port uint32) error {
	log.Infof("Device %s: Disabling port %d", ds.ID, port)
	return ds.config.SetEnabled(port, false)
}

// IsMaster returns an error if the given election ID is not the master for the specified device (chassis) and role
func (ds *DeviceSimulator) IsMaster(chassisID uint64, role *p4api.Role, electionID *p4api.Uint128) error {
	ds.lock.RLock()
	defer ds.lock.RUnlock()
	return ds.isMaster(chassisID, role, electionID)
}

func (ds *DeviceSimulator) isMaster(chassisID uint64, role *p4api.Role, electionID *p4api.Uint128) error {
	if chassisID != ds.ChassisID {
		return errors.NewNotFound("incorrect device ID: %d", chassisID)
	}
	roleName := roleName(role)
	master := ds.masterElectionID(roleName)
	if master == nil || electionID == nil || compareElectionIDs(master, electionID) != 0 {
		return errors.NewUnauthorized("not master for role %q on device ID: %d", roleName, chassisID)
	}
	return nil
}

// RunMastershipArbitration records the election ID of the stream and notifies the streams of the role about the
// outcome; all streams learn of a master change, otherwise only the given stream is answered
func (ds *DeviceSimulator) RunMastershipArbitration(responder StreamResponder, arbitration *p4api.MasterArbitrationUpdate) error {
	log.Debugf("Device %s: running mastership arbitration %+v", ds.ID, arbitration)
	if arbitration.DeviceId != ds.ChassisID {
		return errors.NewNotFound("incorrect device ID: %d", arbitration.DeviceId)
	}
	if arbitration.ElectionId == nil {
		return errors.NewInvalid("election ID is required")
	}
	if len(roleName(arbitration.Role)) > 0 {
		return errors.NewNotSupported("only the default role is supported")
	}
	role := roleName(arbitration.Role)

	ds.lock.Lock()
	for r, state := range ds.streams {
		if r != responder && state.role == role && compareElectionIDs(state.electionID, arbitration.ElectionId) == 0 {
			ds.lock.Unlock()
			return errors.NewInvalid("election ID %+v is already used by another stream", arbitration.ElectionId)
		}
	}
	before := ds.masterElectionID(role)
	ds.streams[responder] = &streamState{role: role, electionID: arbitration.ElectionId}
	after := ds.masterElectionID(role)

	var notifications map[StreamResponder]*p4api.StreamMessageResponse
	if before == nil || compareElectionIDs(before, after) != 0 {
		notifications = ds.arbitrationUpdates(arbitration.DeviceId, role, nil)
	} else {
		notifications = ds.arbitrationUpdates(arbitration.DeviceId, role, responder)
	}
	ds.lock.Unlock()

	for r, msg := range notifications {
		r.Send(msg)
	}
	return nil
}

// RemoveStreamResponder removes the specified stream; if it was the master, remaining streams learn of the new one
func (ds *DeviceSimulator) RemoveStreamResponder(responder StreamResponder) {
	ds.lock.Lock()
	state, ok := ds.streams[responder]
	if !ok {
		ds.lock.Unlock()
		return
	}
	before := ds.masterElectionID(state.role)
	delete(ds.streams, responder)
	after := ds.masterElectionID(state.role)

	var notifications map[StreamResponder]*p4api.StreamMessageResponse
	if after != nil && compareElectionIDs(before, after) != 0 {
		notifications = ds.arbitrationUpdates(ds.ChassisID, state.role, nil)
	}
	ds.lock.Unlock()

	for r, msg := range notifications {
		r.Send(msg)
	}
}

// arbitrationUpdates produces arbitration responses for the streams of the role, or only for the given one
func (ds *DeviceSimulator) arbitrationUpdates(deviceID uint64, role string, only StreamResponder) map[StreamResponder]*p4api.StreamMessageResponse {
	master := ds.masterElectionID(role)
	updates := make(map[StreamResponder]*p4api.StreamMessageResponse)
	for r, state := range ds.streams {
		if state.role != role || (only != nil && r != only) {
			continue
		}
		st := &status.Status{Code: int32(code.Code_OK)}
		if compareElectionIDs(state.electionID, master) != 0 {
			st = &status.Status{Code: int32(code.Code_ALREADY_EXISTS), Message: "a master is already elected"}
		}
		updates[r] = &p4api.StreamMessageResponse{
			Update: &p4api.StreamMessageResponse_Arbitration{
				Arbitration: &p4api.MasterArbitrationUpdate{
					DeviceId:   deviceID,
					ElectionId: master,
					Status:     st,
				},
			},
		}
	}
	return updates
}

// masterElectionID returns the highest election ID among the streams of the role; nil if there are none
func (ds *DeviceSimulator) masterElectionID(role string) *p4api.Uint128 {
	var master *p4api.Uint128
	for _, state := range ds.streams {
		if state.role == role && (master == nil || compareElectionIDs(state.electionID, master) > 0) {
			master = state.electionID
		}
	}
	return master
}

func (ds *DeviceSimulator) masterStream() StreamResponder {
	master := ds.masterElectionID("")
	for r, state := range ds.streams {
		if state.role == "" && compareElectionIDs(state.electionID, master) == 0 {
			return r
		}
	}
	return nil
}

func roleName(role *p4api.Role) string {
	if role == nil {
		return ""
	}
	return role.Name
}

func compareElectionIDs(a *p4api.Uint128, b *p4api.Uint128) int {
	switch {
	case a.High < b.High:
		return -1
	case a.High > b.High:
		return 1
	case a.Low < b.Low:
		return -1
	case a.Low > b.Low:
		return 1
	}
	return 0
}

// VerifyPipelineConfig checks that the given pipeline configuration can be used by the device
func (ds *DeviceSimulator) VerifyPipelineConfig(fpc *p4api.ForwardingPipelineConfig) error {
	if fpc == nil || fpc.P4Info == nil {
		return errors.NewInvalid("pipeline config requires a P4Info")
	}
	_, err := resolveProgram(fpc.P4Info)
	return err
}

// SetPipelineConfig sets the forwarding pipeline configuration for the device, replacing all entities
func (ds *DeviceSimulator) SetPipelineConfig(fpc *p4api.ForwardingPipelineConfig) error {
	if fpc == nil || fpc.P4Info == nil {
		return errors.NewInvalid("pipeline config requires a P4Info")
	}
	prog, err := resolveProgram(fpc.P4Info)
	if err != nil {
		return err
	}

	ds.lock.Lock()
	defer ds.lock.Unlock()
	ds.forwardingPipelineConfig = proto.Clone(fpc).(*p4api.ForwardingPipelineConfig)
	if ds.forwardingPipelineConfig.Cookie == nil {
		ds.forwardingPipelineConfig.Cookie = &p4api.ForwardingPipelineConfig_Cookie{}
	}

	info := ds.forwardingPipelineConfig.P4Info
	ds.codec = utils.NewControllerMetadataCodec(info)
	ds.actions = entries.NewActions(info.Actions)
	ds.profiles = entries.NewActionProfiles(info, ds.actions)
	ds.tables = entries.NewTables(info, ds.actions, ds.profiles)
	ds.replication = entries.NewPacketReplication()
	prog.bind(ds.tables)
	ds.program = prog
	log.Infof("Device %s: Pipeline config set with %d tables", ds.ID, len(info.Tables))
	return nil
}

// GetPipelineConfig returns the forwarding pipeline configuration of the device
func (ds *DeviceSimulator) GetPipelineConfig() *p4api.ForwardingPipelineConfig {
	ds.lock.RLock()
	defer ds.lock.RUnlock()
	return ds.forwardingPipelineConfig
}

// HasPipeline returns true if the forwarding pipeline configuration has been set
func (ds *DeviceSimulator) HasPipeline() bool {
	ds.lock.RLock()
	defer ds.lock.RUnlock()
	return ds.program != nil
}

// ProcessWrite applies the specified batch of updates in order and returns one error per update
func (ds *DeviceSimulator) ProcessWrite(atomicity p4api.WriteRequest_Atomicity, updates []*p4api.Update) []error {
	errs := make([]error, len(updates))
	if atomicity != p4api.WriteRequest_CONTINUE_ON_ERROR {
		for i := range errs {
			errs[i] = errors.NewNotSupported("atomicity %s is not supported", atomicity)
		}
		return errs
	}

	ds.lock.Lock()
	defer ds.lock.Unlock()
	if ds.program == nil {
		for i := range errs {
			errs[i] = errors.NewUnavailable("pipeline config not set yet for %s", ds.ID)
		}
		return errs
	}

	for i, update := range updates {
		switch update.Type {
		case p4api.Update_INSERT:
			errs[i] = ds.processModify(update.Entity, true)
		case p4api.Update_MODIFY:
			errs[i] = ds.processModify(update.Entity, false)
		case p4api.Update_DELETE:
			errs[i] = ds.processDelete(update.Entity)
		default:
			errs[i] = errors.NewInvalid("unspecified update type")
		}
		if errs[i] != nil {
			log.Warnf("Device %s: Unable to %s entity: %+v", ds.ID, update.Type, errs[i])
		}
	}
	return errs
}

func (ds *DeviceSimulator) processModify(entity *p4api.Entity, isInsert bool) error {
	switch {
	case entity == nil:
		return errors.NewInvalid("missing entity")
	case entity.GetTableEntry() != nil:
		if isInsert {
			return ds.tables.InsertTableEntry(entity.GetTableEntry())
		}
		return ds.tables.ModifyTableEntry(entity.GetTableEntry())
	case entity.GetDirectCounterEntry() != nil:
		if isInsert {
			return errors.NewInvalid("direct counter entry cannot be inserted")
		}
		return ds.tables.ModifyDirectCounterEntry(entity.GetDirectCounterEntry())
	case entity.GetActionProfileMember() != nil:
		return ds.profiles.ModifyActionProfileMember(entity.GetActionProfileMember(), isInsert)
	case entity.GetActionProfileGroup() != nil:
		return ds.profiles.ModifyActionProfileGroup(entity.GetActionProfileGroup(), isInsert)
	case entity.GetPacketReplicationEngineEntry() != nil:
		pre := entity.GetPacketReplicationEngineEntry()
		switch {
		case pre.GetMulticastGroupEntry() != nil:
			return ds.replication.ModifyMulticastGroupEntry(pre.GetMulticastGroupEntry(), isInsert)
		case pre.GetCloneSessionEntry() != nil:
			return ds.replication.ModifyCloneSessionEntry(pre.GetCloneSessionEntry(), isInsert)
		}
	}
	return errors.NewNotSupported("unsupported entity type %T", entity.GetEntity())
}

func (ds *DeviceSimulator) processDelete(entity *p4api.Entity) error {
	switch {
	case entity == nil:
		return errors.NewInvalid("missing entity")
	case entity.GetTableEntry() != nil:
		return ds.tables.RemoveTableEntry(entity.GetTableEntry())
	case entity.GetDirectCounterEntry() != nil:
		return errors.NewInvalid("direct counter entry cannot be deleted")
	case entity.GetActionProfileMember() != nil:
		return ds.profiles.DeleteActionProfileMember(entity.GetActionProfileMember())
	case entity.GetActionProfileGroup() != nil:
		return ds.profiles.DeleteActionProfileGroup(entity.GetActionProfileGroup())
	case entity.GetPacketReplicationEngineEntry() != nil:
		pre := entity.GetPacketReplicationEngineEntry()
		switch {
		case pre.GetMulticastGroupEntry() != nil:
			return ds.replication.DeleteMulticastGroupEntry(pre.GetMulticastGroupEntry())
		case pre.GetCloneSessionEntry() != nil:
			return ds.replication.DeleteCloneSessionEntry(pre.GetCloneSessionEntry())
		}
	}
	return errors.NewNotSupported("unsupported entity type %T", entity.GetEntity())
}

// ProcessRead executes the read of the specified set of requests, returning accumulated results via the supplied
// sender and one error per request
func (ds *DeviceSimulator) ProcessRead(requests []*p4api.Entity, sender entries.BatchSender) []error {
	ds.lock.RLock()
	defer ds.lock.RUnlock()

	errs := make([]error, len(requests))
	for i, request := range requests {
		if ds.program == nil {
			errs[i] = errors.NewUnavailable("pipeline config not set yet for %s", ds.ID)
			continue
		}
		errs[i] = ds.processRead(request, sender)
	}
	return errs
}

func (ds *DeviceSimulator) processRead(request *p4api.Entity, sender entries.BatchSender) error {
	switch {
	case request.GetTableEntry() != nil:
		return ds.tables.ReadTableEntries(request.GetTableEntry(), sender)
	case request.GetDirectCounterEntry() != nil:
		return ds.tables.ReadDirectCounterEntries(request.GetDirectCounterEntry(), sender)
	case request.GetActionProfileMember() != nil:
		return ds.profiles.ReadActionProfileMembers(request.GetActionProfileMember(), sender)
	case request.GetActionProfileGroup() != nil:
		return ds.profiles.ReadActionProfileGroups(request.GetActionProfileGroup(), sender)
	case request.GetPacketReplicationEngineEntry() != nil:
		pre := request.GetPacketReplicationEngineEntry()
		switch {
		case pre.GetMulticastGroupEntry() != nil:
			return ds.replication.ReadMulticastGroupEntries(pre.GetMulticastGroupEntry(), sender)
		case pre.GetCloneSessionEntry() != nil:
			return ds.replication.ReadCloneSessionEntries(pre.GetCloneSessionEntry(), sender)
		}
	}
	return errors.NewNotSupported("unsupported entity type %T", request.GetEntity())
}

// ProcessPacketOut emits the payload of the packet-out on the port given by its egress_port metadata
func (ds *DeviceSimulator) ProcessPacketOut(packetOut *p4api.PacketOut) error {
	ds.lock.RLock()
	codec := ds.codec
	ds.lock.RUnlock()
	if codec == nil {
		return errors.NewUnavailable("pipeline config not set yet for %s", ds.ID)
	}
	ds.metrics.PacketOuts.WithLabelValues(ds.ID).Inc()

	pom := codec.DecodePacketOutMetadata(packetOut.Metadata)
	log.Debugf("Device %s: packet-out of %d bytes to port %d", ds.ID, len(packetOut.Payload), pom.EgressPort)
	if _, ok := ds.ports[pom.EgressPort]; !ok {
		ds.drop("unknown egress port")
		return errors.NewInvalid("egress port %d not found", pom.EgressPort)
	}
	ds.emit([]emission{{port: pom.EgressPort, frame: packetOut.Payload}})
	return nil
}

// SendPacketIn emits a packet-in with the given payload and ingress port metadata to the master stream
func (ds *DeviceSimulator) SendPacketIn(packet []byte, ingressPort uint32) {
	ds.lock.RLock()
	codec := ds.codec
	master := ds.masterStream()
	ds.lock.RUnlock()
	if codec == nil || master == nil {
		log.Debugf("Device %s: Unable to send packet-in, no pipeline config or master stream", ds.ID)
		ds.drop("no controller")
		return
	}
	ds.metrics.PacketIns.WithLabelValues(ds.ID).Inc()
	master.Send(&p4api.StreamMessageResponse{
		Update: &p4api.StreamMessageResponse_Packet{
			Packet: &p4api.PacketIn{
				Payload:  packet,
				Metadata: codec.EncodePacketInMetadata(&utils.PacketInMetadata{IngressPort: ingressPort}),
			},
		},
	})
}

// UpdateIOStats accounts for bytes exchanged with the device agent clients
func (ds *DeviceSimulator) UpdateIOStats(byteCount int, received bool) {
	direction := "out"
	if received {
		direction = "in"
	}
	ds.metrics.ControlBytes.WithLabelValues(ds.ID, direction).Add(float64(byteCount))
}

// ProcessConfigGet handles the gNMI get request against the device state tree
func (ds *DeviceSimulator) ProcessConfigGet(prefix *gnmi.Path, paths []*gnmi.Path) ([]*gnmi.Notification, error) {
	return ds.config.Get(prefix, paths)
}

// ProcessConfigSet handles the gNMI set request against the device state tree
func (ds *DeviceSimulator) ProcessConfigSet(prefix *gnmi.Path, updates []*gnmi.Update, replacements []*gnmi.Update,
	deletes []*gnmi.Path) ([]*gnmi.UpdateResult, error) {
	return ds.config.Set(prefix, updates, replacements, deletes)
}
