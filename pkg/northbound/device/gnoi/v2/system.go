// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package gnoi implements the simulated gNOI System service
package gnoi

import (
	"context"
	"github.com/onosproject/fabric-ptf/pkg/simulator"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	gnoiapi "github.com/openconfig/gnoi/system"
	"time"
)

var log = logging.GetLogger("northbound", "device", "gnoi")

// Server implements the gNOI System API; only Time is supported
type Server struct {
	gnoiapi.UnimplementedSystemServer
	deviceSim *simulator.DeviceSimulator
	started   time.Time
}

// NewServer creates a new gNOI System API server
func NewServer(deviceSim *simulator.DeviceSimulator) *Server {
	return &Server{deviceSim: deviceSim, started: time.Now()}
}

func notImplemented() error {
	return errors.Status(errors.NewNotSupported("method not supported")).Err()
}

// Time returns device's time since start of epoch, expressed in nanoseconds
func (s *Server) Time(ctx context.Context, request *gnoiapi.TimeRequest) (*gnoiapi.TimeResponse, error) {
	log.Debugf("Device %s: Received time request", s.deviceSim.ID)
	return &gnoiapi.TimeResponse{Time: uint64(time.Now().UnixNano())}, nil
}

// Reboot is not supported
func (s *Server) Reboot(ctx context.Context, request *gnoiapi.RebootRequest) (*gnoiapi.RebootResponse, error) {
	return nil, notImplemented()
}

// RebootStatus reports the device as active since the server started
func (s *Server) RebootStatus(ctx context.Context, request *gnoiapi.RebootStatusRequest) (*gnoiapi.RebootStatusResponse, error) {
	return &gnoiapi.RebootStatusResponse{Active: false, When: uint64(s.started.UnixNano())}, nil
}
