// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/openconfig/gnmi/proto/gnmi"
	"sync"
	"time"
)

// Port describes a switch port exposed in the state tree
type Port struct {
	Number  uint32
	Name    string
	Enabled bool
	Speed   string
}

// Counter identifies a per-port traffic counter
type Counter string

const (
	InOctets        Counter = "in-octets"
	OutOctets       Counter = "out-octets"
	InUnicastPkts   Counter = "in-unicast-pkts"
	InBroadcastPkts Counter = "in-broadcast-pkts"
	InMulticastPkts Counter = "in-multicast-pkts"
	OutUnicastPkts  Counter = "out-unicast-pkts"
	OutBroadcast    Counter = "out-broadcast-pkts"
	OutMulticast    Counter = "out-multicast-pkts"
	InDiscards      Counter = "in-discards"
	OutDiscards     Counter = "out-discards"
	InErrors        Counter = "in-errors"
	OutErrors       Counter = "out-errors"
)

var supportedCounters = []Counter{
	InOctets, OutOctets, InUnicastPkts, InBroadcastPkts, InMulticastPkts,
	OutUnicastPkts, OutBroadcast, OutMulticast, InDiscards, OutDiscards, InErrors, OutErrors,
}

type portState struct {
	operStatus *Node
	lastChange *Node
	enabled    *Node
	counters   map[Counter]*Node
}

// SwitchConfig is the openconfig-interfaces style state tree of a switch, safe for concurrent use
type SwitchConfig struct {
	lock  sync.RWMutex
	root  *Node
	ports map[uint32]*portState
}

// NewSwitchConfig creates the state tree for the given ports; all counters start at zero
func NewSwitchConfig(ports []Port) *SwitchConfig {
	sc := &SwitchConfig{root: NewRoot(), ports: make(map[uint32]*portState)}
	interfaces := sc.root.Add("interfaces", nil, nil)
	for _, port := range ports {
		name := port.Name
		if len(name) == 0 {
			name = fmt.Sprintf("%d", port.Number)
		}
		intf := interfaces.Add("interface", map[string]string{"name": name}, nil)
		intf.AddPath("state/name", stringVal(name))
		intf.AddPath("state/ifindex", uintVal(uint64(port.Number)))
		intf.AddPath("state/id", uintVal(uint64(port.Number)))

		state := &portState{
			operStatus: intf.AddPath("state/oper-status", stringVal(operStatus(port.Enabled))),
			lastChange: intf.AddPath("state/last-change", uintVal(0)),
			enabled:    intf.AddPath("config/enabled", boolVal(port.Enabled)),
			counters:   make(map[Counter]*Node),
		}
		if len(port.Speed) > 0 {
			intf.AddPath("ethernet/config/port-speed", stringVal(port.Speed))
		}
		counters := intf.AddPath("state/counters", nil)
		for _, c := range supportedCounters {
			state.counters[c] = counters.Add(string(c), nil, uintVal(0))
		}
		sc.ports[port.Number] = state
	}
	return sc
}

func operStatus(enabled bool) string {
	if enabled {
		return "UP"
	}
	return "DOWN"
}

func stringVal(s string) *gnmi.TypedValue {
	return &gnmi.TypedValue{Value: &gnmi.TypedValue_StringVal{StringVal: s}}
}

func uintVal(v uint64) *gnmi.TypedValue {
	return &gnmi.TypedValue{Value: &gnmi.TypedValue_UintVal{UintVal: v}}
}

func boolVal(b bool) *gnmi.TypedValue {
	return &gnmi.TypedValue{Value: &gnmi.TypedValue_BoolVal{BoolVal: b}}
}

// Increment adds the given amount to the counter of the specified port
func (sc *SwitchConfig) Increment(port uint32, counter Counter, amount uint64) {
	sc.lock.Lock()
	defer sc.lock.Unlock()
	if state, ok := sc.ports[port]; ok {
		if node, ok := state.counters[counter]; ok {
			node.SetValue(uintVal(node.Value().GetUintVal() + amount))
		}
	}
}

// CounterValue returns the current value of the counter of the specified port
func (sc *SwitchConfig) CounterValue(port uint32, counter Counter) uint64 {
	sc.lock.RLock()
	defer sc.lock.RUnlock()
	if state, ok := sc.ports[port]; ok {
		if node, ok := state.counters[counter]; ok {
			return node.Value().GetUintVal()
		}
	}
	return 0
}

// SetEnabled changes the administrative and operational status of the specified port
func (sc *SwitchConfig) SetEnabled(port uint32, enabled bool) error {
	sc.lock.Lock()
	defer sc.lock.Unlock()
	state, ok := sc.ports[port]
	if !ok {
		return errors.NewNotFound("port %d not found", port)
	}
	state.enabled.SetValue(boolVal(enabled))
	state.operStatus.SetValue(stringVal(operStatus(enabled)))
	state.lastChange.SetValue(uintVal(uint64(time.Now().UnixNano())))
	return nil
}

// IsEnabled returns true if the specified port is operationally up
func (sc *SwitchConfig) IsEnabled(port uint32) bool {
	sc.lock.RLock()
	defer sc.lock.RUnlock()
	state, ok := sc.ports[port]
	return ok && state.operStatus.Value().GetStringVal() == "UP"
}

// Get returns one notification per path with copies of the leaf values found under it;
// paths are relative to the optional prefix
func (sc *SwitchConfig) Get(prefix *gnmi.Path, paths []*gnmi.Path) ([]*gnmi.Notification, error) {
	sc.lock.RLock()
	defer sc.lock.RUnlock()

	root := sc.root
	if ps := ToString(prefix); len(ps) > 0 {
		if root = root.GetPath(ps); root == nil {
			return nil, errors.NewNotFound("node with prefix %s not found", ps)
		}
	}

	notifications := make([]*gnmi.Notification, 0, len(paths))
	timestamp := time.Now().UnixNano()
	for _, path := range paths {
		nodes := root.FindAll(ToString(path))
		if len(nodes) == 0 {
			return nil, errors.NewNotFound("path %s not found", ToString(path))
		}
		updates := make([]*gnmi.Update, 0, len(nodes))
		for _, node := range nodes {
			updates = append(updates, &gnmi.Update{Path: ToPath(node.Path()), Val: node.Snapshot()})
		}
		notifications = append(notifications, &gnmi.Notification{
			Timestamp: timestamp,
			Prefix:    prefix,
			Update:    updates,
		})
	}
	return notifications, nil
}

// Set applies the given deletes, replacements and updates; only config/enabled leaves have side effects
func (sc *SwitchConfig) Set(prefix *gnmi.Path, updates []*gnmi.Update, replacements []*gnmi.Update, deletes []*gnmi.Path) ([]*gnmi.UpdateResult, error) {
	if len(updates)+len(replacements)+len(deletes) == 0 {
		return nil, errors.NewInvalid("no updates, replacements or deletes")
	}
	if len(deletes) > 0 {
		return nil, errors.NewNotSupported("unable to delete %s", ToString(deletes[0]))
	}
	var results []*gnmi.UpdateResult
	for _, update := range append(append([]*gnmi.Update{}, replacements...), updates...) {
		full := ToString(prefix)
		if len(full) > 0 {
			full = full + pathSeparator + ToString(update.Path)
		} else {
			full = ToString(update.Path)
		}
		port, err := sc.enabledLeafPort(full)
		if err != nil {
			return nil, err
		}
		if err := sc.SetEnabled(port, update.Val.GetBoolVal()); err != nil {
			return nil, err
		}
		results = append(results, &gnmi.UpdateResult{Path: update.Path, Op: gnmi.UpdateResult_UPDATE})
	}
	return results, nil
}

// enabledLeafPort returns the number of the port whose config/enabled leaf is at the given path
func (sc *SwitchConfig) enabledLeafPort(path string) (uint32, error) {
	sc.lock.RLock()
	defer sc.lock.RUnlock()
	node := sc.root.GetPath(path)
	if node == nil {
		return 0, errors.NewNotFound("path %s not found", path)
	}
	for number, state := range sc.ports {
		if state.enabled == node {
			return number, nil
		}
	}
	return 0, errors.NewNotSupported("path %s cannot be set", path)
}
