// SPDX-FileCopyrightText: 2020-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package simulator contains the simulated fabric switches and the core simulation coordinator
package simulator

import (
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"sort"
	"sync"
)

var log = logging.GetLogger("simulator")

// Simulation tracks all simulated devices along with their shared metrics
type Simulation struct {
	lock             sync.RWMutex
	deviceSimulators map[string]*DeviceSimulator
	registry         *prometheus.Registry
	metrics          *Metrics
}

// NewSimulation creates a new core simulation entity
func NewSimulation() *Simulation {
	registry := prometheus.NewRegistry()
	return &Simulation{
		deviceSimulators: make(map[string]*DeviceSimulator),
		registry:         registry,
		metrics:          NewMetrics(registry),
	}
}

// Registry returns the prometheus registry carrying the simulation metrics
func (s *Simulation) Registry() *prometheus.Registry {
	return s.registry
}

// Metrics returns the simulation metrics
func (s *Simulation) Metrics() *Metrics {
	return s.metrics
}

// AddDeviceSimulator creates a new device simulator for the specified device
func (s *Simulation) AddDeviceSimulator(device DeviceConfig, agent DeviceAgent) (*DeviceSimulator, error) {
	if len(device.ID) == 0 {
		return nil, errors.NewInvalid("device ID is required")
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.deviceSimulators[device.ID]; ok {
		return nil, errors.NewAlreadyExists("device %s already created", device.ID)
	}
	sim, err := NewDeviceSimulator(device, agent, s.metrics)
	if err != nil {
		return nil, err
	}
	s.deviceSimulators[device.ID] = sim
	return sim, nil
}

// GetDeviceSimulators returns a list of all device simulators, sorted by ID
func (s *Simulation) GetDeviceSimulators() []*DeviceSimulator {
	s.lock.RLock()
	defer s.lock.RUnlock()
	sims := make([]*DeviceSimulator, 0, len(s.deviceSimulators))
	for _, sim := range s.deviceSimulators {
		sims = append(sims, sim)
	}
	sort.Slice(sims, func(i, j int) bool { return sims[i].ID < sims[j].ID })
	return sims
}

// GetDeviceSimulator returns the simulator for the specified device ID
func (s *Simulation) GetDeviceSimulator(id string) (*DeviceSimulator, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if sim, ok := s.deviceSimulators[id]; ok {
		return sim, nil
	}
	return nil, errors.NewNotFound("device %s not found", id)
}

// RemoveDeviceSimulator removes the simulator for the specified device ID and stops its agent
func (s *Simulation) RemoveDeviceSimulator(id string) error {
	s.lock.Lock()
	sim, ok := s.deviceSimulators[id]
	delete(s.deviceSimulators, id)
	s.lock.Unlock()
	if !ok {
		return errors.NewNotFound("device %s not found", id)
	}
	sim.Stop()
	return nil
}
