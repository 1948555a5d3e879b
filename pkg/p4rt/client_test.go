// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package p4rt

import (
	"context"
	"github.com/onosproject/fabric-ptf/pipelines"
	"github.com/onosproject/fabric-ptf/pkg/northbound/device"
	"github.com/onosproject/fabric-ptf/pkg/simulator"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"net"
	"sync"
	"testing"
	"time"
)

const (
	deviceID = 1
	cpuPort  = 255
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type frame struct {
	port uint32
	data []byte
}

type testTarget struct {
	ds     *simulator.DeviceSimulator
	server *grpc.Server
	conn   *grpc.ClientConn

	lock   sync.Mutex
	egress []frame
}

func (tt *testTarget) frames() []frame {
	tt.lock.Lock()
	defer tt.lock.Unlock()
	return append([]frame(nil), tt.egress...)
}

// newTestTarget serves a simulated switch with 3 ports over an in-memory listener
func newTestTarget(t *testing.T) *testTarget {
	cfg := simulator.DeviceConfig{ID: "leaf1", ChassisID: deviceID, CPUPort: cpuPort}
	for i := uint32(1); i <= 3; i++ {
		cfg.Ports = append(cfg.Ports, simulator.PortConfig{Number: i})
	}
	ds, err := simulator.NewDeviceSimulator(cfg, nil, nil)
	require.NoError(t, err)

	tt := &testTarget{ds: ds}
	ds.SetEgressHandler(func(port uint32, data []byte) {
		tt.lock.Lock()
		defer tt.lock.Unlock()
		tt.egress = append(tt.egress, frame{port: port, data: data})
	})

	lis := bufconn.Listen(1024 * 1024)
	tt.server = grpc.NewServer(device.ServerOptions(ds)...)
	device.NewService(ds).Register(tt.server)
	go func() {
		_ = tt.server.Serve(lis)
	}()

	tt.conn, err = Dial(context.Background(), DialConfig{
		Address:  "bufnet",
		Insecure: true,
		Options: []grpc.DialOption{grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		})},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tt.conn.Close()
		tt.server.Stop()
	})
	return tt
}

func newMasterClient(t *testing.T, tt *testTarget) *Client {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := NewClient(tt.conn, deviceID, &p4api.Uint128{Low: 10})
	require.NoError(t, client.StartStream(context.Background()))
	t.Cleanup(func() {
		_ = client.Close()
	})
	info, err := pipelines.FabricP4Info()
	require.NoError(t, err)
	require.NoError(t, client.SetPipelineConfig(ctx, info, nil))
	return client
}

func l2Entry(t *testing.T, s *Schema, mac []byte, port byte) *p4api.Entity {
	ta, err := s.DirectAction("FabricIngress.l2_unicast_fwd", Param{Name: "port_num", Value: []byte{port}})
	require.NoError(t, err)
	entity, err := s.TableEntry("FabricIngress.l2_table", []Match{Exact("hdr.ethernet.dst_addr", mac)}, ta, 0)
	require.NoError(t, err)
	return entity
}

func TestCapabilities(t *testing.T) {
	tt := newTestTarget(t)
	client := NewClient(tt.conn, deviceID, &p4api.Uint128{Low: 1})
	version, err := client.Capabilities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", version)
	assert.Nil(t, client.Schema())
}

func TestMastership(t *testing.T) {
	tt := newTestTarget(t)
	master := newMasterClient(t, tt)
	assert.NotNil(t, master.Schema())

	backup := NewClient(tt.conn, deviceID, &p4api.Uint128{Low: 5})
	err := backup.StartStream(context.Background())
	assert.True(t, errors.IsConflict(err))

	mac := []byte{0, 0, 0, 0, 0, 0xaa}
	err = backup.Write(context.Background(), &p4api.Update{Type: p4api.Update_INSERT, Entity: l2Entry(t, master.Schema(), mac, 1)})
	assert.Error(t, err)
	assert.NotEqual(t, codes.OK, status.Code(err))
}

func TestInsertReadUndo(t *testing.T) {
	tt := newTestTarget(t)
	client := newMasterClient(t, tt)
	ctx := context.Background()
	s := client.Schema()

	e1 := l2Entry(t, s, []byte{0, 0, 0, 0, 0, 1}, 1)
	e2 := l2Entry(t, s, []byte{0, 0, 0, 0, 0, 2}, 2)
	require.NoError(t, client.Insert(ctx, e1, e2))

	// Second insert of e2 fails but e3 goes through and is recorded
	e3 := l2Entry(t, s, []byte{0, 0, 0, 0, 0, 3}, 3)
	err := client.Insert(ctx, e2, e3)
	require.Error(t, err)
	details := WriteErrors(err)
	require.Len(t, details, 2)
	assert.Equal(t, int32(codes.AlreadyExists), details[0].CanonicalCode)
	assert.Equal(t, int32(codes.OK), details[1].CanonicalCode)

	table, err := s.Table("FabricIngress.l2_table")
	require.NoError(t, err)
	wildcard := &p4api.Entity{Entity: &p4api.Entity_TableEntry{TableEntry: &p4api.TableEntry{TableId: table.Preamble.Id}}}
	read, err := client.Read(ctx, wildcard)
	require.NoError(t, err)
	assert.Len(t, read, 3)

	ta, err := s.DirectAction("FabricIngress.drop")
	require.NoError(t, err)
	e1.GetTableEntry().Action = ta
	require.NoError(t, client.Modify(ctx, e1))

	require.NoError(t, client.Delete(ctx, e3))
	require.NoError(t, client.Undo(ctx))

	read, err = client.Read(ctx, wildcard)
	require.NoError(t, err)
	assert.Len(t, read, 0)
	assert.NoError(t, client.Undo(ctx))
}

func TestUndoCarriesOn(t *testing.T) {
	tt := newTestTarget(t)
	client := newMasterClient(t, tt)
	ctx := context.Background()
	s := client.Schema()

	e1 := l2Entry(t, s, []byte{0, 0, 0, 0, 0, 1}, 1)
	e2 := l2Entry(t, s, []byte{0, 0, 0, 0, 0, 2}, 2)
	require.NoError(t, client.Insert(ctx, e1, e2))

	// Remove e2 behind the back of the client
	require.NoError(t, client.Write(ctx, &p4api.Update{Type: p4api.Update_DELETE, Entity: e2}))
	err := client.Undo(ctx)
	assert.True(t, errors.IsInternal(err))

	read, err := client.Read(ctx, &p4api.Entity{Entity: &p4api.Entity_TableEntry{TableEntry: &p4api.TableEntry{}}})
	require.NoError(t, err)
	assert.Len(t, read, 0)
}

func TestUndoToMark(t *testing.T) {
	tt := newTestTarget(t)
	client := newMasterClient(t, tt)
	ctx := context.Background()
	s := client.Schema()
	wildcard := &p4api.Entity{Entity: &p4api.Entity_TableEntry{TableEntry: &p4api.TableEntry{}}}

	require.NoError(t, client.Insert(ctx, l2Entry(t, s, []byte{0, 0, 0, 0, 0, 1}, 1)))
	mark := client.Mark()
	assert.Equal(t, 1, mark)
	require.NoError(t, client.Insert(ctx, l2Entry(t, s, []byte{0, 0, 0, 0, 0, 2}, 2),
		l2Entry(t, s, []byte{0, 0, 0, 0, 0, 3}, 3)))

	require.NoError(t, client.UndoTo(ctx, mark))
	read, err := client.Read(ctx, wildcard)
	require.NoError(t, err)
	assert.Len(t, read, 1)
	assert.Equal(t, 1, client.Mark())

	// a mark past the recorded entities leaves them alone
	require.NoError(t, client.UndoTo(ctx, 5))
	read, err = client.Read(ctx, wildcard)
	require.NoError(t, err)
	assert.Len(t, read, 1)

	require.NoError(t, client.Undo(ctx))
	read, err = client.Read(ctx, wildcard)
	require.NoError(t, err)
	assert.Len(t, read, 0)
}

func TestPacketIO(t *testing.T) {
	tt := newTestTarget(t)
	client := newMasterClient(t, tt)
	ctx := context.Background()
	s := client.Schema()

	payload := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0, 0, 1, 0x08, 0x06, 1, 2, 3, 4}
	require.NoError(t, client.SendPacketOut(payload, 2))
	assert.Eventually(t, func() bool {
		frames := tt.frames()
		return len(frames) == 1 && frames[0].port == 2
	}, 2*time.Second, 10*time.Millisecond)

	ta, err := s.DirectAction("FabricIngress.punt_to_cpu")
	require.NoError(t, err)
	acl, err := s.TableEntry("FabricIngress.acl",
		[]Match{Ternary("hdr.ethernet.ether_type", []byte{0x08, 0x06}, []byte{0xff, 0xff})}, ta, 10)
	require.NoError(t, err)
	require.NoError(t, client.Insert(ctx, acl))

	require.NoError(t, tt.ds.ReceiveFrame(3, payload))
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	pi, err := client.PacketIn(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), pi.IngressPort)
	assert.Equal(t, payload, pi.Payload)

	require.NoError(t, tt.ds.ReceiveFrame(1, payload))
	assert.Eventually(t, func() bool {
		return client.DrainPacketIns() == 1
	}, 2*time.Second, 10*time.Millisecond)

	shortCtx, shortCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer shortCancel()
	_, err = client.PacketIn(shortCtx)
	assert.True(t, errors.IsTimeout(err))
	require.NoError(t, client.Undo(ctx))
}
