// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package gnmi implements the simulated gNMI service over the device port state tree
package gnmi

import (
	"context"
	"github.com/onosproject/fabric-ptf/pkg/simulator"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/openconfig/gnmi/proto/gnmi"
	"time"
)

var log = logging.GetLogger("northbound", "device", "gnmi")

// Version is the gNMI version reported by the server
const Version = "0.7.0"

// Server implements the gNMI API
type Server struct {
	deviceSim *simulator.DeviceSimulator
}

// NewServer creates a new gNMI API server
func NewServer(deviceSim *simulator.DeviceSimulator) *Server {
	return &Server{deviceSim: deviceSim}
}

// Capabilities reports the supported encodings
func (s *Server) Capabilities(ctx context.Context, request *gnmi.CapabilityRequest) (*gnmi.CapabilityResponse, error) {
	log.Infof("Device %s: gNMI capabilities have been requested", s.deviceSim.ID)
	return &gnmi.CapabilityResponse{
		SupportedEncodings: []gnmi.Encoding{gnmi.Encoding_PROTO},
		GNMIVersion:        Version,
	}, nil
}

// Get returns the leaves found under the requested paths
func (s *Server) Get(ctx context.Context, request *gnmi.GetRequest) (*gnmi.GetResponse, error) {
	log.Debugf("Device %s: gNMI get of %d paths", s.deviceSim.ID, len(request.Path))
	notifications, err := s.deviceSim.ProcessConfigGet(request.Prefix, request.Path)
	if err != nil {
		return nil, errors.Status(err).Err()
	}
	return &gnmi.GetResponse{Notification: notifications}, nil
}

// Set applies the updates and replacements; only the port enabled leaves can be changed
func (s *Server) Set(ctx context.Context, request *gnmi.SetRequest) (*gnmi.SetResponse, error) {
	log.Infof("Device %s: gNMI configuration is being set", s.deviceSim.ID)
	results, err := s.deviceSim.ProcessConfigSet(request.Prefix, request.Update, request.Replace, request.Delete)
	if err != nil {
		return nil, errors.Status(err).Err()
	}
	return &gnmi.SetResponse{Prefix: request.Prefix, Response: results, Timestamp: time.Now().UnixNano()}, nil
}

// Subscribe is not supported
func (s *Server) Subscribe(server gnmi.GNMI_SubscribeServer) error {
	return errors.Status(errors.NewNotSupported("subscribe is not supported")).Err()
}
