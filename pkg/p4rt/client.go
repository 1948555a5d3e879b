// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package p4rt

import (
	"context"
	"github.com/onosproject/fabric-ptf/pkg/utils"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"io"
	"sync"
)

var log = logging.GetLogger("p4rt")

const packetInQueueSize = 1024

// PacketIn is a received packet-in with its decoded metadata
type PacketIn struct {
	Payload     []byte
	IngressPort uint32
}

// Client is a P4Runtime session with a single device, acting with a single election ID
type Client struct {
	conn       *grpc.ClientConn
	client     p4api.P4RuntimeClient
	deviceID   uint64
	electionID *p4api.Uint128

	lock    sync.RWMutex
	schema  *Schema
	codec   *utils.ControllerMetadataCodec
	written []*p4api.Entity

	sendLock  sync.Mutex
	stream    p4api.P4Runtime_StreamChannelClient
	cancel    context.CancelFunc
	receiver  sync.WaitGroup
	packetIns chan *PacketIn
}

// NewClient creates a client of the given device on the connection
func NewClient(conn *grpc.ClientConn, deviceID uint64, electionID *p4api.Uint128) *Client {
	return &Client{
		conn:       conn,
		client:     p4api.NewP4RuntimeClient(conn),
		deviceID:   deviceID,
		electionID: electionID,
		packetIns:  make(chan *PacketIn, packetInQueueSize),
	}
}

// DeviceID returns the device ID of the client
func (c *Client) DeviceID() uint64 {
	return c.deviceID
}

// Schema returns the schema of the pipeline set by the client; nil until then
func (c *Client) Schema() *Schema {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.schema
}

// CreateMastershipArbitration returns a stream message requesting mastership for the default role
func CreateMastershipArbitration(deviceID uint64, electionID *p4api.Uint128) *p4api.StreamMessageRequest {
	return &p4api.StreamMessageRequest{
		Update: &p4api.StreamMessageRequest_Arbitration{
			Arbitration: &p4api.MasterArbitrationUpdate{DeviceId: deviceID, ElectionId: electionID},
		}}
}

// StartStream opens the stream channel and arbitrates for mastership; it fails unless the client becomes master.
// Packet-ins are queued in the background until the client is closed.
func (c *Client) StartStream(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := c.client.StreamChannel(streamCtx)
	if err != nil {
		cancel()
		return err
	}
	if err := stream.Send(CreateMastershipArbitration(c.deviceID, c.electionID)); err != nil {
		cancel()
		return err
	}
	msg, err := stream.Recv()
	if err != nil {
		cancel()
		return err
	}
	arbitration := msg.GetArbitration()
	if arbitration == nil {
		cancel()
		return errors.NewInvalid("expected arbitration response; got %+v", msg)
	}
	if arbitration.Status.GetCode() != int32(code.Code_OK) {
		cancel()
		return errors.NewConflict("mastership not acquired for device %d: %s", c.deviceID, arbitration.Status.GetMessage())
	}
	log.Infof("Device %d: Acquired mastership with election ID %+v", c.deviceID, c.electionID)

	c.stream = stream
	c.cancel = cancel
	c.receiver.Add(1)
	go c.receive(stream)
	return nil
}

func (c *Client) receive(stream p4api.P4Runtime_StreamChannelClient) {
	defer c.receiver.Done()
	for {
		msg, err := stream.Recv()
		if err != nil {
			if err != io.EOF && status.Code(err) != codes.Canceled {
				log.Debugf("Device %d: Stream closed: %+v", c.deviceID, err)
			}
			return
		}
		switch {
		case msg.GetPacket() != nil:
			c.queuePacketIn(msg.GetPacket())
		case msg.GetArbitration() != nil:
			log.Infof("Device %d: Arbitration update: %+v", c.deviceID, msg.GetArbitration())
		case msg.GetError() != nil:
			log.Warnf("Device %d: Stream error: %+v", c.deviceID, msg.GetError())
		default:
			log.Debugf("Device %d: Ignoring stream message %+v", c.deviceID, msg)
		}
	}
}

func (c *Client) queuePacketIn(packet *p4api.PacketIn) {
	c.lock.RLock()
	codec := c.codec
	c.lock.RUnlock()
	pi := &PacketIn{Payload: packet.Payload}
	if codec != nil {
		pi.IngressPort = codec.DecodePacketInMetadata(packet.Metadata).IngressPort
	}
	select {
	case c.packetIns <- pi:
	default:
		log.Warnf("Device %d: Packet-in queue is full; dropping packet-in from port %d", c.deviceID, pi.IngressPort)
	}
}

// SetPipelineConfig pushes the pipeline with VERIFY_AND_COMMIT and indexes its P4Info
func (c *Client) SetPipelineConfig(ctx context.Context, info *p4info.P4Info, deviceConfig []byte) error {
	_, err := c.client.SetForwardingPipelineConfig(ctx, &p4api.SetForwardingPipelineConfigRequest{
		DeviceId:   c.deviceID,
		ElectionId: c.electionID,
		Action:     p4api.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT,
		Config: &p4api.ForwardingPipelineConfig{
			P4Info:         info,
			P4DeviceConfig: deviceConfig,
		},
	})
	if err != nil {
		return err
	}
	c.UseP4Info(info)
	return nil
}

// UseP4Info indexes the P4Info of a pipeline already running on the device
func (c *Client) UseP4Info(info *p4info.P4Info) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.schema = NewSchema(info)
	c.codec = utils.NewControllerMetadataCodec(info)
}

// Capabilities returns the P4Runtime API version of the target
func (c *Client) Capabilities(ctx context.Context) (string, error) {
	resp, err := c.client.Capabilities(ctx, &p4api.CapabilitiesRequest{})
	if err != nil {
		return "", err
	}
	return resp.P4RuntimeApiVersion, nil
}

// Write sends the updates in a single CONTINUE_ON_ERROR batch
func (c *Client) Write(ctx context.Context, updates ...*p4api.Update) error {
	_, err := c.client.Write(ctx, &p4api.WriteRequest{
		DeviceId:   c.deviceID,
		ElectionId: c.electionID,
		Updates:    updates,
		Atomicity:  p4api.WriteRequest_CONTINUE_ON_ERROR,
	})
	return err
}

// Read returns all entities matching the given requests
func (c *Client) Read(ctx context.Context, entities ...*p4api.Entity) ([]*p4api.Entity, error) {
	stream, err := c.client.Read(ctx, &p4api.ReadRequest{DeviceId: c.deviceID, Entities: entities})
	if err != nil {
		return nil, err
	}
	var result []*p4api.Entity
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		result = append(result, resp.Entities...)
	}
}

// Insert inserts the entities and records the ones accepted by the target for Undo
func (c *Client) Insert(ctx context.Context, entities ...*p4api.Entity) error {
	err := c.Write(ctx, updates(p4api.Update_INSERT, entities)...)
	accepted := entities
	if err != nil {
		accepted = nil
		if details := WriteErrors(err); len(details) == len(entities) {
			for i, detail := range details {
				if detail.CanonicalCode == int32(code.Code_OK) {
					accepted = append(accepted, entities[i])
				}
			}
		}
	}
	c.lock.Lock()
	c.written = append(c.written, accepted...)
	c.lock.Unlock()
	return err
}

// Modify modifies the entities
func (c *Client) Modify(ctx context.Context, entities ...*p4api.Entity) error {
	return c.Write(ctx, updates(p4api.Update_MODIFY, entities)...)
}

// Delete deletes the entities and forgets about them
func (c *Client) Delete(ctx context.Context, entities ...*p4api.Entity) error {
	err := c.Write(ctx, updates(p4api.Update_DELETE, entities)...)
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, entity := range entities {
		for i := len(c.written) - 1; i >= 0; i-- {
			if proto.Equal(c.written[i], entity) {
				c.written = append(c.written[:i], c.written[i+1:]...)
				break
			}
		}
	}
	return err
}

// Mark returns the position of the next recorded entity; UndoTo a mark deletes only what was inserted since
func (c *Client) Mark() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.written)
}

// Undo deletes every inserted entity in reverse order of insertion; it carries on past failures
func (c *Client) Undo(ctx context.Context) error {
	return c.UndoTo(ctx, 0)
}

// UndoTo deletes the entities inserted after the given mark in reverse order of insertion; it carries on past
// failures
func (c *Client) UndoTo(ctx context.Context, mark int) error {
	c.lock.Lock()
	if mark < 0 {
		mark = 0
	}
	if mark > len(c.written) {
		mark = len(c.written)
	}
	written := append([]*p4api.Entity(nil), c.written[mark:]...)
	c.written = c.written[:mark]
	c.lock.Unlock()

	var failures int
	var first error
	for i := len(written) - 1; i >= 0; i-- {
		if err := c.Write(ctx, &p4api.Update{Type: p4api.Update_DELETE, Entity: written[i]}); err != nil {
			log.Warnf("Device %d: Unable to delete %+v: %+v", c.deviceID, written[i], err)
			failures++
			if first == nil {
				first = err
			}
		}
	}
	if failures > 0 {
		return errors.NewInternal("unable to delete %d of %d entities; first error: %v", failures, len(written), first)
	}
	return nil
}

// SendPacketOut sends the payload to be emitted on the given port
func (c *Client) SendPacketOut(payload []byte, egressPort uint32) error {
	c.lock.RLock()
	codec := c.codec
	c.lock.RUnlock()
	if codec == nil {
		return errors.NewUnavailable("pipeline is not known yet")
	}
	if c.stream == nil {
		return errors.NewUnavailable("stream is not started")
	}
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	return c.stream.Send(&p4api.StreamMessageRequest{
		Update: &p4api.StreamMessageRequest_Packet{
			Packet: &p4api.PacketOut{
				Payload:  payload,
				Metadata: codec.EncodePacketOutMetadata(&utils.PacketOutMetadata{EgressPort: egressPort}),
			},
		},
	})
}

// PacketIn returns the next queued packet-in, waiting until the context is done
func (c *Client) PacketIn(ctx context.Context) (*PacketIn, error) {
	select {
	case pi := <-c.packetIns:
		return pi, nil
	case <-ctx.Done():
		return nil, errors.NewTimeout("no packet-in received: %v", ctx.Err())
	}
}

// DrainPacketIns discards all queued packet-ins and returns how many there were
func (c *Client) DrainPacketIns() int {
	n := 0
	for {
		select {
		case <-c.packetIns:
			n++
		default:
			return n
		}
	}
}

// Close closes the stream and waits for the receiver to finish; the connection is left open
func (c *Client) Close() error {
	if c.stream == nil {
		return nil
	}
	c.sendLock.Lock()
	err := c.stream.CloseSend()
	c.sendLock.Unlock()
	c.cancel()
	c.receiver.Wait()
	c.stream = nil
	return err
}

// WriteErrors returns the per-update errors carried by a failed batch write; nil if there are none
func WriteErrors(err error) []*p4api.Error {
	st, ok := status.FromError(err)
	if !ok {
		return nil
	}
	var details []*p4api.Error
	for _, detail := range st.Details() {
		if e, ok := detail.(*p4api.Error); ok {
			details = append(details, e)
		}
	}
	return details
}

func updates(kind p4api.Update_Type, entities []*p4api.Entity) []*p4api.Update {
	us := make([]*p4api.Update, 0, len(entities))
	for _, entity := range entities {
		us = append(us, &p4api.Update{Type: kind, Entity: entity})
	}
	return us
}
