// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package manager runs the simulated switches of the fabric-sim daemon
package manager

import (
	"context"
	"fmt"
	"github.com/onosproject/fabric-ptf/pkg/dataplane"
	"github.com/onosproject/fabric-ptf/pkg/northbound/device"
	"github.com/onosproject/fabric-ptf/pkg/simulator"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"net/http"
	"time"
)

var log = logging.GetLogger("manager")

const metricsTimeout = 10 * time.Second

// Manager single point of entry for the fabric-sim
type Manager struct {
	Config     Config
	Simulation *simulator.Simulation

	dataplanes []*dataplane.Ethernet
	cancel     context.CancelFunc
	group      *errgroup.Group
}

// NewManager initializes the application manager
func NewManager(cfg Config) *Manager {
	log.Infow("Creating manager")
	return &Manager{Config: cfg}
}

// Run runs manager
func (m *Manager) Run() {
	log.Infow("Starting Manager")
	if err := m.Start(); err != nil {
		log.Fatalw("Unable to run Manager", "error", err)
	}
}

// Start creates and starts the configured devices, attaches their ports and exports the metrics
func (m *Manager) Start() error {
	m.Simulation = simulator.NewSimulation()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.group, ctx = errgroup.WithContext(ctx)

	for _, dc := range m.Config.Devices {
		if err := m.startDevice(ctx, dc); err != nil {
			return err
		}
	}

	m.group.Go(func() error {
		return m.serveMetrics(ctx)
	})
	return nil
}

func (m *Manager) startDevice(ctx context.Context, dc simulator.DeviceConfig) error {
	ds, err := m.Simulation.AddDeviceSimulator(dc, device.NewAgent(m.Config.CAPath, m.Config.KeyPath, m.Config.CertPath))
	if err != nil {
		return err
	}

	interfaces := make(map[uint32]string)
	for _, port := range dc.Ports {
		if len(port.Interface) > 0 {
			interfaces[port.Number] = port.Interface
		}
	}
	if len(interfaces) > 0 {
		ethernet, err := dataplane.NewEthernet(interfaces, dataplane.WithHandler(func(port uint32, frame []byte) {
			if err := ds.ReceiveFrame(port, frame); err != nil {
				log.Warnf("Device %s: Unable to process frame from port %d: %+v", ds.ID, port, err)
			}
		}))
		if err != nil {
			return err
		}
		m.dataplanes = append(m.dataplanes, ethernet)
		ds.SetEgressHandler(func(port uint32, frame []byte) {
			if err := ethernet.Send(port, frame); err != nil {
				log.Warnf("Device %s: Unable to send frame on port %d: %+v", ds.ID, port, err)
			}
		})
		m.group.Go(func() error {
			if err := ethernet.Wait(); err != nil && ctx.Err() == nil {
				return fmt.Errorf("device %s: dataplane failed: %w", ds.ID, err)
			}
			return nil
		})
		log.Infof("Device %s: Attached %d port(s)", ds.ID, len(interfaces))
	}
	return ds.Start(m.Simulation)
}

// serveMetrics exports the simulation metrics until the context is done
func (m *Manager) serveMetrics(ctx context.Context) error {
	if m.Config.MetricsPort <= 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(m.Simulation.Registry(),
		promhttp.HandlerFor(m.Simulation.Registry(), promhttp.HandlerOpts{Timeout: metricsTimeout})))
	server := &http.Server{Addr: fmt.Sprintf(":%d", m.Config.MetricsPort), Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	log.Infof("Exporting metrics on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close stops the devices and their dataplanes
func (m *Manager) Close() {
	log.Infow("Closing Manager")
	if m.Simulation != nil {
		for _, ds := range m.Simulation.GetDeviceSimulators() {
			ds.Stop()
		}
	}
	if m.cancel != nil {
		m.cancel()
	}
	for _, ethernet := range m.dataplanes {
		if err := ethernet.Close(); err != nil {
			log.Warnf("Unable to close dataplane: %+v", err)
		}
	}
	if m.group != nil {
		if err := m.group.Wait(); err != nil {
			log.Warnf("Manager stopped with error: %+v", err)
		}
	}
}
