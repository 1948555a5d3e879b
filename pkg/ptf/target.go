// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package ptf

import (
	"context"
	"github.com/onosproject/fabric-ptf/pipelines"
	"github.com/onosproject/fabric-ptf/pkg/dataplane"
	"github.com/onosproject/fabric-ptf/pkg/northbound/device"
	"github.com/onosproject/fabric-ptf/pkg/p4rt"
	"github.com/onosproject/fabric-ptf/pkg/simulator"
	"github.com/onosproject/fabric-ptf/pkg/utils"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/openconfig/gnmi/proto/gnmi"
	"github.com/openconfig/gnoi/system"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"net"
	"os"
	"time"
)

var log = logging.GetLogger("ptf")

const (
	inProcessDeviceID = "ptf"
	bufconnSize       = 1024 * 1024
	readinessInterval = 500 * time.Millisecond
)

// Target is the switch under test shared by all tests of a test binary
type Target struct {
	Config    *Config
	Client    *p4rt.Client
	Dataplane dataplane.Dataplane

	conn   *grpc.ClientConn
	trace  *dataplane.Trace
	server *grpc.Server
	sim    *simulator.Simulation
}

// Connect prepares the target: it starts the in-process switch if needed, opens the dataplane, acquires
// mastership and pushes the pipeline
func Connect(ctx context.Context, cfg *Config) (*Target, error) {
	SelectGroups(cfg.Groups)
	t := &Target{Config: cfg}
	if err := t.connect(ctx); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Target) connect(ctx context.Context) error {
	var opts []dataplane.Option
	if len(t.Config.Trace) > 0 {
		trace, err := dataplane.NewTrace(t.Config.Trace)
		if err != nil {
			return err
		}
		t.trace = trace
		opts = append(opts, dataplane.WithTrace(trace))
	}

	var err error
	if t.Config.InProcess() {
		err = t.startInProcess(ctx, opts)
	} else {
		err = t.connectRemote(ctx, opts)
	}
	if err != nil {
		return err
	}
	if err := t.waitForLiveness(ctx); err != nil {
		return err
	}
	if t.Config.Target.CheckGNMI {
		if err := t.checkPortsUp(ctx); err != nil {
			return err
		}
	}

	info, deviceConfig, err := t.loadPipeline()
	if err != nil {
		return err
	}
	electionID := &p4api.Uint128{Low: t.Config.Target.ElectionID}
	t.Client = p4rt.NewClient(t.conn, t.Config.Target.DeviceID, electionID)
	if err := t.Client.StartStream(context.Background()); err != nil {
		return err
	}
	if err := t.Client.SetPipelineConfig(ctx, info, deviceConfig); err != nil {
		return err
	}
	log.Infof("Target %s: pipeline %s ready", t.address(), info.GetPkgInfo().GetName())
	return nil
}

func (t *Target) address() string {
	if t.Config.InProcess() {
		return "in-process"
	}
	return t.Config.Target.Address
}

// startInProcess serves a simulated switch over an in-memory listener wired to a pipe dataplane
func (t *Target) startInProcess(ctx context.Context, opts []dataplane.Option) error {
	t.sim = simulator.NewSimulation()
	deviceConfig := simulator.DeviceConfig{
		ID:        inProcessDeviceID,
		ChassisID: t.Config.Target.DeviceID,
		CPUPort:   t.Config.CPUPort,
	}
	for _, port := range t.Config.Ports {
		deviceConfig.Ports = append(deviceConfig.Ports, simulator.PortConfig{Number: port.Number, Name: port.Name})
	}
	ds, err := t.sim.AddDeviceSimulator(deviceConfig, nil)
	if err != nil {
		return err
	}

	pipe := dataplane.NewPipe(t.Config.PortNumbers(), ds.ReceiveFrame, opts...)
	ds.SetEgressHandler(pipe.Deliver)
	t.Dataplane = pipe

	lis := bufconn.Listen(bufconnSize)
	t.server = grpc.NewServer(device.ServerOptions(ds)...)
	device.NewService(ds).Register(t.server)
	go func() {
		if err := t.server.Serve(lis); err != nil {
			log.Warnf("In-process target stopped: %+v", err)
		}
	}()

	t.conn, err = p4rt.Dial(ctx, p4rt.DialConfig{
		Address:  "bufnet",
		Insecure: true,
		Options: []grpc.DialOption{grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		})},
	})
	return err
}

func (t *Target) connectRemote(ctx context.Context, opts []dataplane.Option) error {
	var err error
	t.conn, err = p4rt.Dial(ctx, p4rt.DialConfig{
		Address:  t.Config.Target.Address,
		Insecure: t.Config.Target.TLS.Insecure,
		CertPath: t.Config.Target.TLS.CertPath,
		KeyPath:  t.Config.Target.TLS.KeyPath,
		Retry:    true,
	})
	if err != nil {
		return err
	}
	interfaces := make(map[uint32]string, len(t.Config.Ports))
	for _, port := range t.Config.Ports {
		interfaces[port.Number] = port.Interface
	}
	ethernet, err := dataplane.NewEthernet(interfaces, opts...)
	if err != nil {
		return err
	}
	t.Dataplane = ethernet
	return nil
}

// waitForLiveness polls the gNOI system time of the target until it answers or the context is done
func (t *Target) waitForLiveness(ctx context.Context) error {
	client := system.NewSystemClient(t.conn)
	for {
		resp, err := client.Time(ctx, &system.TimeRequest{})
		if err == nil {
			log.Infof("Target %s: alive; time is %s", t.address(), time.Unix(0, int64(resp.Time)))
			return nil
		}
		log.Infof("Target %s: not ready yet: %+v", t.address(), err)
		select {
		case <-ctx.Done():
			return errors.NewTimeout("target %s did not become ready: %+v", t.address(), err)
		case <-time.After(readinessInterval):
		}
	}
}

// checkPortsUp verifies over gNMI that all configured ports are operationally up
func (t *Target) checkPortsUp(ctx context.Context) error {
	client := gnmi.NewGNMIClient(t.conn)
	for _, port := range t.Config.Ports {
		resp, err := client.Get(ctx, &gnmi.GetRequest{
			Path:     []*gnmi.Path{operStatusPath(port.Name)},
			Encoding: gnmi.Encoding_PROTO,
		})
		if err != nil {
			return err
		}
		status := ""
		for _, n := range resp.Notification {
			for _, u := range n.Update {
				status = u.Val.GetStringVal()
			}
		}
		if status != "UP" {
			return errors.NewUnavailable("port %d (%s) is not up: %q", port.Number, port.Name, status)
		}
	}
	return nil
}

func operStatusPath(name string) *gnmi.Path {
	return &gnmi.Path{Elem: []*gnmi.PathElem{
		{Name: "interfaces"},
		{Name: "interface", Key: map[string]string{"name": name}},
		{Name: "state"},
		{Name: "oper-status"},
	}}
}

func (t *Target) loadPipeline() (*p4info.P4Info, []byte, error) {
	var info *p4info.P4Info
	var err error
	if len(t.Config.Pipeline.P4Info) > 0 {
		info, err = utils.LoadP4Info(t.Config.Pipeline.P4Info)
	} else {
		info, err = pipelines.FabricP4Info()
	}
	if err != nil {
		return nil, nil, err
	}
	var deviceConfig []byte
	if len(t.Config.Pipeline.DeviceConfig) > 0 {
		if deviceConfig, err = os.ReadFile(t.Config.Pipeline.DeviceConfig); err != nil {
			return nil, nil, err
		}
	}
	return info, deviceConfig, nil
}

// Simulation returns the in-process simulation; nil for remote targets
func (t *Target) Simulation() *simulator.Simulation {
	return t.sim
}

// Close releases the client, the dataplane and the in-process switch
func (t *Target) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if t.Client != nil {
		keep(t.Client.Close())
	}
	if t.conn != nil {
		keep(t.conn.Close())
	}
	if t.server != nil {
		t.server.Stop()
	}
	if t.Dataplane != nil {
		keep(t.Dataplane.Close())
	}
	if t.trace != nil {
		keep(t.trace.Close())
	}
	return first
}
