// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"fmt"
	"github.com/onosproject/fabric-ptf/pkg/p4rt"
	"github.com/onosproject/fabric-ptf/pkg/simulator"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const devicesYAML = `
metricsPort: 0
devices:
  - id: leaf1
    chassisID: 1
    port: 20611
    ports:
      - number: 1
      - number: 2
        name: eth2
  - id: leaf2
    chassisID: 2
    port: 20612
    cpuPort: 510
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	require.NoError(t, os.WriteFile(path, []byte(devicesYAML), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.MetricsPort)
	require.Len(t, cfg.Devices, 2)
	assert.Equal(t, "leaf1", cfg.Devices[0].ID)
	assert.Equal(t, 20611, cfg.Devices[0].Port)
	require.Len(t, cfg.Devices[0].Ports, 2)
	assert.Equal(t, "eth2", cfg.Devices[0].Ports[1].Name)
	assert.Equal(t, uint32(510), cfg.Devices[1].CPUPort)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsInvalid(err))

	outOfRange := filepath.Join(t.TempDir(), "range.yaml")
	require.NoError(t, os.WriteFile(outOfRange, []byte("devices:\n  - id: leaf1\n    port: 50051\n"), 0644))
	_, err = LoadConfig(outOfRange)
	assert.True(t, errors.IsInvalid(err))

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("metricsPort: 9191\n"), 0644))
	_, err = LoadConfig(empty)
	assert.True(t, errors.IsInvalid(err))
}

func TestManager(t *testing.T) {
	mgr := NewManager(Config{
		MetricsPort: 20619,
		Devices: []simulator.DeviceConfig{
			{ID: "leaf1", ChassisID: 1, Port: 20613, Ports: []simulator.PortConfig{{Number: 1}, {Number: 2}}},
		},
	})
	require.NoError(t, mgr.Start())
	defer mgr.Close()

	require.Len(t, mgr.Simulation.GetDeviceSimulators(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := p4rt.Dial(ctx, p4rt.DialConfig{Address: "localhost:20613"})
	require.NoError(t, err)
	defer conn.Close()

	client := p4rt.NewClient(conn, 1, &p4api.Uint128{Low: 1})
	version, err := client.Capabilities(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, version)

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://localhost:%d/metrics", 20619))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		body = string(data)
		return true
	}, 5*time.Second, 100*time.Millisecond)
	assert.True(t, strings.Contains(body, "promhttp_metric_handler_requests_total"))
}

func TestDuplicateDevice(t *testing.T) {
	mgr := NewManager(Config{
		Devices: []simulator.DeviceConfig{
			{ID: "leaf1", ChassisID: 1, Port: 20614},
			{ID: "leaf1", ChassisID: 2, Port: 20615},
		},
	})
	err := mgr.Start()
	assert.True(t, errors.IsAlreadyExists(err))
	mgr.Close()
}
