// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package p4runtime implements the simulated P4Runtime service
package p4runtime

import (
	"context"
	"github.com/onosproject/fabric-ptf/pkg/simulator"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	p4rtapi "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/grpc/codes"
	gstatus "google.golang.org/grpc/status"
	"io"
	"sync"
)

var log = logging.GetLogger("northbound", "device", "p4runtime")

// APIVersion is the P4Runtime API version reported by the server
const APIVersion = "1.4.0"

const streamBufferSize = 128

// Server implements the P4Runtime API
type Server struct {
	p4rtapi.UnimplementedP4RuntimeServer
	deviceSim *simulator.DeviceSimulator

	lock  sync.Mutex
	saved *p4rtapi.ForwardingPipelineConfig
}

// NewServer creates a new P4Runtime API server
func NewServer(deviceSim *simulator.DeviceSimulator) *Server {
	return &Server{deviceSim: deviceSim}
}

// Capabilities responds with the device P4Runtime capabilities
func (s *Server) Capabilities(ctx context.Context, request *p4rtapi.CapabilitiesRequest) (*p4rtapi.CapabilitiesResponse, error) {
	log.Infof("Device %s: P4Runtime capabilities have been requested", s.deviceSim.ID)
	return &p4rtapi.CapabilitiesResponse{P4RuntimeApiVersion: APIVersion}, nil
}

// Write applies the updates of the request; failures of a batch are reported as per-update error details
func (s *Server) Write(ctx context.Context, request *p4rtapi.WriteRequest) (*p4rtapi.WriteResponse, error) {
	log.Debugf("Device %s: Write received with %d updates", s.deviceSim.ID, len(request.Updates))
	if err := s.deviceSim.IsMaster(request.DeviceId, &p4rtapi.Role{Name: request.Role}, request.ElectionId); err != nil {
		return nil, errors.Status(err).Err()
	}
	if len(request.Updates) == 0 {
		return &p4rtapi.WriteResponse{}, nil
	}

	errs := s.deviceSim.ProcessWrite(request.Atomicity, request.Updates)
	failed := false
	for _, err := range errs {
		failed = failed || err != nil
	}
	switch {
	case !failed:
		return &p4rtapi.WriteResponse{}, nil
	case len(errs) == 1:
		return nil, errors.Status(errs[0]).Err()
	}
	return nil, batchError(errs)
}

// batchError reports the outcome of each update of a failed batch as p4.v1.Error details
func batchError(errs []error) error {
	st := gstatus.New(codes.Unknown, "write failure")
	details := make([]*p4rtapi.Error, 0, len(errs))
	for _, err := range errs {
		if err == nil {
			details = append(details, &p4rtapi.Error{CanonicalCode: int32(code.Code_OK)})
			continue
		}
		es := errors.Status(err)
		details = append(details, &p4rtapi.Error{CanonicalCode: int32(es.Code()), Message: es.Message()})
	}
	for _, detail := range details {
		withDetail, err := st.WithDetails(detail)
		if err != nil {
			log.Warnf("Unable to add write error detail: %+v", err)
			return st.Err()
		}
		st = withDetail
	}
	return st.Err()
}

// Read streams the entities matching the request
func (s *Server) Read(request *p4rtapi.ReadRequest, server p4rtapi.P4Runtime_ReadServer) error {
	log.Debugf("Device %s: Read received with %d entities", s.deviceSim.ID, len(request.Entities))
	if request.DeviceId != s.deviceSim.ChassisID {
		return errors.Status(errors.NewNotFound("incorrect device ID: %d", request.DeviceId)).Err()
	}
	errs := s.deviceSim.ProcessRead(request.Entities, func(entities []*p4rtapi.Entity) error {
		err := server.Send(&p4rtapi.ReadResponse{Entities: entities})
		if err == io.EOF {
			return nil
		}
		return err
	})
	for _, err := range errs {
		if err != nil {
			return errors.Status(err).Err()
		}
	}
	return nil
}

// SetForwardingPipelineConfig verifies, saves or commits the pipeline configuration
func (s *Server) SetForwardingPipelineConfig(ctx context.Context, request *p4rtapi.SetForwardingPipelineConfigRequest) (*p4rtapi.SetForwardingPipelineConfigResponse, error) {
	log.Infof("Device %s: Setting pipeline configuration with action %s", s.deviceSim.ID, request.Action)
	if err := s.deviceSim.IsMaster(request.DeviceId, &p4rtapi.Role{Name: request.Role}, request.ElectionId); err != nil {
		return nil, errors.Status(err).Err()
	}
	if err := s.setPipelineConfig(request.Action, request.Config); err != nil {
		return nil, errors.Status(err).Err()
	}
	return &p4rtapi.SetForwardingPipelineConfigResponse{}, nil
}

func (s *Server) setPipelineConfig(action p4rtapi.SetForwardingPipelineConfigRequest_Action, config *p4rtapi.ForwardingPipelineConfig) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	switch action {
	case p4rtapi.SetForwardingPipelineConfigRequest_VERIFY:
		return s.deviceSim.VerifyPipelineConfig(config)
	case p4rtapi.SetForwardingPipelineConfigRequest_VERIFY_AND_SAVE:
		if err := s.deviceSim.VerifyPipelineConfig(config); err != nil {
			return err
		}
		s.saved = config
		return nil
	case p4rtapi.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT:
		s.saved = nil
		return s.deviceSim.SetPipelineConfig(config)
	case p4rtapi.SetForwardingPipelineConfigRequest_COMMIT:
		if config == nil {
			if s.saved == nil {
				return errors.NewInvalid("no saved pipeline config to commit")
			}
			config = s.saved
		}
		s.saved = nil
		return s.deviceSim.SetPipelineConfig(config)
	}
	return errors.NewNotSupported("pipeline config action %s is not supported", action)
}

// GetForwardingPipelineConfig returns the parts of the pipeline configuration selected by the response type
func (s *Server) GetForwardingPipelineConfig(ctx context.Context, request *p4rtapi.GetForwardingPipelineConfigRequest) (*p4rtapi.GetForwardingPipelineConfigResponse, error) {
	log.Infof("Device %s: Getting pipeline configuration", s.deviceSim.ID)
	if request.DeviceId != s.deviceSim.ChassisID {
		return nil, errors.Status(errors.NewNotFound("incorrect device ID: %d", request.DeviceId)).Err()
	}
	fpc := s.deviceSim.GetPipelineConfig()
	config := &p4rtapi.ForwardingPipelineConfig{Cookie: fpc.Cookie}
	switch request.ResponseType {
	case p4rtapi.GetForwardingPipelineConfigRequest_ALL:
		config.P4Info = fpc.P4Info
		config.P4DeviceConfig = fpc.P4DeviceConfig
	case p4rtapi.GetForwardingPipelineConfigRequest_P4INFO_AND_COOKIE:
		config.P4Info = fpc.P4Info
	case p4rtapi.GetForwardingPipelineConfigRequest_DEVICE_CONFIG_AND_COOKIE:
		config.P4DeviceConfig = fpc.P4DeviceConfig
	}
	return &p4rtapi.GetForwardingPipelineConfigResponse{Config: config}, nil
}

// streamResponder queues outgoing stream messages until the stream is done
type streamResponder struct {
	responses chan *p4rtapi.StreamMessageResponse
	done      chan struct{}
}

// Send queues the message for the stream; it is discarded once the stream is done
func (r *streamResponder) Send(response *p4rtapi.StreamMessageResponse) {
	select {
	case r.responses <- response:
	case <-r.done:
	}
}

type channelState struct {
	responder   *streamResponder
	arbitration *p4rtapi.MasterArbitrationUpdate
}

// StreamChannel reads and handles incoming requests and emits any queued up outgoing responses
func (s *Server) StreamChannel(server p4rtapi.P4Runtime_StreamChannelServer) error {
	state := &channelState{
		responder: &streamResponder{
			responses: make(chan *p4rtapi.StreamMessageResponse, streamBufferSize),
			done:      make(chan struct{}),
		},
	}

	// Emit queued-up messages in the background until the stream is done or sending fails
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case msg := <-state.responder.responses:
				if err := server.Send(msg); err != nil {
					return
				}
			case <-state.responder.done:
				return
			case <-server.Context().Done():
				return
			}
		}
	}()

	defer func() {
		s.deviceSim.RemoveStreamResponder(state.responder)
		close(state.responder.done)
		wg.Wait()
	}()

	for {
		msg, err := server.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.processRequest(state, msg); err != nil {
			return errors.Status(err).Err()
		}
	}
}

func (s *Server) processRequest(state *channelState, msg *p4rtapi.StreamMessageRequest) error {
	switch {
	case msg.GetArbitration() != nil:
		arbitration := msg.GetArbitration()
		if err := s.deviceSim.RunMastershipArbitration(state.responder, arbitration); err != nil {
			log.Warnf("Device %s: Mastership arbitration failed: %+v", s.deviceSim.ID, err)
			return err
		}
		state.arbitration = arbitration

	case msg.GetPacket() != nil:
		packet := msg.GetPacket()
		if state.arbitration == nil {
			return errors.NewInvalid("packet-out received before mastership arbitration")
		}
		err := s.deviceSim.IsMaster(state.arbitration.DeviceId, state.arbitration.Role, state.arbitration.ElectionId)
		if err == nil {
			err = s.deviceSim.ProcessPacketOut(packet)
		}
		if err != nil {
			log.Warnf("Device %s: Unable to process packet-out: %+v", s.deviceSim.ID, err)
			state.responder.Send(packetOutError(packet, err))
		}

	case msg.GetDigestAck() != nil:
		log.Debugf("Device %s: Ignoring digest ack: %+v", s.deviceSim.ID, msg.GetDigestAck())

	default:
		log.Warnf("Device %s: Unsupported stream message: %+v", s.deviceSim.ID, msg)
	}
	return nil
}

func packetOutError(packet *p4rtapi.PacketOut, err error) *p4rtapi.StreamMessageResponse {
	es := errors.Status(err)
	return &p4rtapi.StreamMessageResponse{
		Update: &p4rtapi.StreamMessageResponse_Error{
			Error: &p4rtapi.StreamError{
				CanonicalCode: int32(es.Code()),
				Message:       es.Message(),
				Details: &p4rtapi.StreamError_PacketOut{
					PacketOut: &p4rtapi.PacketOutError{PacketOut: packet},
				},
			},
		},
	}
}
