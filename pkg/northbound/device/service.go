// SPDX-FileCopyrightText: 2020-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package device implements the simulated device agent NB
package device

import (
	"context"
	gnmisim "github.com/onosproject/fabric-ptf/pkg/northbound/device/gnmi/v2"
	gnoisim "github.com/onosproject/fabric-ptf/pkg/northbound/device/gnoi/v2"
	"github.com/onosproject/fabric-ptf/pkg/northbound/device/p4runtime/v1"
	"github.com/onosproject/fabric-ptf/pkg/simulator"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/onosproject/onos-lib-go/pkg/northbound"
	gnmiapi "github.com/openconfig/gnmi/proto/gnmi"
	gnoiapi "github.com/openconfig/gnoi/system"
	p4rtapi "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/stats"
)

var log = logging.GetLogger("northbound", "device")

const maxMessageSize = 16 * 1024 * 1024

// Service implements gNMI, gNOI and P4Runtime services for a simulated device
type Service struct {
	northbound.Service
	deviceSim *simulator.DeviceSimulator
}

// NewService creates the services of the given device simulator
func NewService(deviceSim *simulator.DeviceSimulator) Service {
	return Service{deviceSim: deviceSim}
}

// Register registers the gNMI, gNOI and P4Runtime with the given gRPC server
func (s Service) Register(r *grpc.Server) {
	gnmiapi.RegisterGNMIServer(r, gnmisim.NewServer(s.deviceSim))
	gnoiapi.RegisterSystemServer(r, gnoisim.NewServer(s.deviceSim))
	p4rtapi.RegisterP4RuntimeServer(r, p4runtime.NewServer(s.deviceSim))
	log.Debugf("Device %s: P4Runtime, gNMI and gNOI registered", s.deviceSim.ID)
}

// ServerOptions returns the gRPC server options used by the device agents
func ServerOptions(deviceSim *simulator.DeviceSimulator) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.StatsHandler(&statsHandler{deviceSim: deviceSim}),
	}
}

// NewAgent creates a new simulated device agent; the server uses TLS with the default certificates
// unless certificate paths are given
func NewAgent(caPath string, keyPath string, certPath string) simulator.DeviceAgent {
	return &agent{caPath: caPath, keyPath: keyPath, certPath: certPath}
}

// Implementation of DeviceAgent interface
type agent struct {
	caPath   string
	keyPath  string
	certPath string
	server   *northbound.Server
}

// Start starts the simulated device agent
func (a *agent) Start(simulation *simulator.Simulation, deviceSim *simulator.DeviceSimulator) error {
	if deviceSim.Port <= 0 || deviceSim.Port > simulator.MaxPort {
		return errors.NewInvalid("device %s: gRPC port in range 1..%d is required", deviceSim.ID, simulator.MaxPort)
	}
	a.server = northbound.NewServer(northbound.NewServerCfg(a.caPath, a.keyPath, a.certPath,
		int16(deviceSim.Port), true, northbound.SecurityConfig{}))
	a.server.AddService(NewService(deviceSim))

	doneCh := make(chan error)
	go func() {
		err := a.server.Serve(func(started string) {
			log.Infof("Device %s: Started simulated device NBI on %s", deviceSim.ID, started)
			close(doneCh)
		}, ServerOptions(deviceSim)...)
		if err != nil {
			doneCh <- err
		}
	}()
	return <-doneCh
}

// Stop stops the simulated device agent
func (a *agent) Stop() error {
	if a.server != nil {
		a.server.GracefulStop()
	}
	return nil
}

// Internal handler of RPC server stats
type statsHandler struct {
	deviceSim *simulator.DeviceSimulator
}

// ConnCtxKey is a connection context key
type ConnCtxKey struct{}

// RPCCtxKey is an RPC context key
type RPCCtxKey struct{}

// TagConn tags the connection context
func (h *statsHandler) TagConn(ctx context.Context, info *stats.ConnTagInfo) context.Context {
	return context.WithValue(ctx, ConnCtxKey{}, info)
}

// TagRPC tags the RPC context
func (h *statsHandler) TagRPC(ctx context.Context, info *stats.RPCTagInfo) context.Context {
	return context.WithValue(ctx, RPCCtxKey{}, info)
}

// HandleConn handle the connection stats
func (h *statsHandler) HandleConn(ctx context.Context, s stats.ConnStats) {
}

// HandleRPC accounts for the wire bytes of each RPC
func (h *statsHandler) HandleRPC(ctx context.Context, s stats.RPCStats) {
	switch st := s.(type) {
	case *stats.InHeader:
		h.deviceSim.UpdateIOStats(st.WireLength, true)
	case *stats.InPayload:
		h.deviceSim.UpdateIOStats(st.WireLength, true)
	case *stats.InTrailer:
		h.deviceSim.UpdateIOStats(st.WireLength, true)
	case *stats.OutPayload:
		h.deviceSim.UpdateIOStats(st.WireLength, false)
	}
}
