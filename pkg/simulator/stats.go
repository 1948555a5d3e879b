// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package simulator

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "fabric_sim"

// Metrics are the prometheus counters of the simulated devices
type Metrics struct {
	FramesReceived    *prometheus.CounterVec
	FramesTransmitted *prometheus.CounterVec
	FramesDropped     *prometheus.CounterVec
	PacketIns         *prometheus.CounterVec
	PacketOuts        *prometheus.CounterVec
	TableHits         *prometheus.CounterVec
	ControlBytes      *prometheus.CounterVec
}

// NewMetrics creates the device metrics and registers them with the given registerer
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Frames received on a device port",
		}, []string{"device", "port"}),
		FramesTransmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_transmitted_total",
			Help:      "Frames transmitted on a device port",
		}, []string{"device", "port"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped by the device pipeline",
		}, []string{"device", "reason"}),
		PacketIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packet_ins_total",
			Help:      "Packet-in messages sent to the controller",
		}, []string{"device"}),
		PacketOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "packet_outs_total",
			Help:      "Packet-out messages received from the controller",
		}, []string{"device"}),
		TableHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "table_hits_total",
			Help:      "Table lookups which hit an entry",
		}, []string{"device", "table"}),
		ControlBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "control_bytes_total",
			Help:      "Bytes exchanged with the gRPC clients of a device",
		}, []string{"device", "direction"}),
	}
	registerer.MustRegister(m.FramesReceived, m.FramesTransmitted, m.FramesDropped, m.PacketIns, m.PacketOuts,
		m.TableHits, m.ControlBytes)
	return m
}
