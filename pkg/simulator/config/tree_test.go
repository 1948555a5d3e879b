// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"github.com/openconfig/gnmi/proto/gnmi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

const leavesPerPort = 6 + 12 // name, ifindex, id, oper-status, last-change, enabled + counters

func createSwitchConfig(portCount uint32) *SwitchConfig {
	ports := make([]Port, 0, portCount)
	for i := uint32(1); i <= portCount; i++ {
		ports = append(ports, Port{Number: i, Name: fmt.Sprintf("%d", i), Enabled: true})
	}
	return NewSwitchConfig(ports)
}

func TestTree(t *testing.T) {
	root := createSwitchConfig(8).root
	assert.NotNil(t, root.Get("interfaces", nil))

	node := root.GetPath("interfaces/interface[name=5]/state/id")
	require.NotNil(t, node)
	assert.Equal(t, "id", node.Name())
	assert.Equal(t, uint64(5), node.Value().GetUintVal())
	assert.Equal(t, "interfaces/interface[name=5]/state/id", node.Path())

	assert.Len(t, root.FindAll("interfaces/interface[name=7]"), leavesPerPort)
	assert.Len(t, root.FindAll("interfaces/interface[name=7]/state/counters"), 12)
	assert.Len(t, root.FindAll("interfaces/interface[name=7]/state/ifindex"), 1)
	assert.Len(t, root.FindAll("interfaces/interface[name=...]/state/ifindex"), 8)
	assert.Len(t, root.FindAll("interfaces/interface[name=...]/state/counters"), 8*12)
	assert.Len(t, root.FindAll(""), 8*leavesPerPort)
	assert.Len(t, root.FindAll("interfaces/interface[name=9]"), 0)

	assert.NotNil(t, root.DeletePath("interfaces/interface[name=2]/state/counters"))
	assert.Nil(t, root.GetPath("interfaces/interface[name=2]/state/counters"))
	assert.Nil(t, root.DeletePath("interfaces/interface[name=2]/state/counters"))
}

func TestPaths(t *testing.T) {
	path := &gnmi.Path{Elem: []*gnmi.PathElem{
		{Name: "interfaces"},
		{Name: "interface", Key: map[string]string{"name": "*"}},
		{Name: "state"},
	}}
	s := ToString(path)
	assert.Equal(t, "interfaces/interface[name=...]/state", s)

	name, key, wildcard := NameKey("interface[name=...]")
	assert.Equal(t, "interface", name)
	assert.Equal(t, map[string]string{"name": Wildcard}, key)
	assert.True(t, wildcard)

	back := ToPath("interfaces/interface[name=3]/state")
	assert.Len(t, back.Elem, 3)
	assert.Equal(t, "3", back.Elem[1].Key["name"])
	assert.Equal(t, "", ToString(nil))
}

func TestSwitchCounters(t *testing.T) {
	sc := createSwitchConfig(4)
	sc.Increment(2, InUnicastPkts, 1)
	sc.Increment(2, InUnicastPkts, 2)
	sc.Increment(9, InUnicastPkts, 2)
	assert.Equal(t, uint64(3), sc.CounterValue(2, InUnicastPkts))
	assert.Equal(t, uint64(0), sc.CounterValue(1, InUnicastPkts))

	notifications, err := sc.Get(nil, []*gnmi.Path{ToPath("interfaces/interface[name=2]/state/counters/in-unicast-pkts")})
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Len(t, notifications[0].Update, 1)
	assert.Equal(t, uint64(3), notifications[0].Update[0].Val.GetUintVal())

	// Snapshots do not follow later changes
	sc.Increment(2, InUnicastPkts, 1)
	assert.Equal(t, uint64(3), notifications[0].Update[0].Val.GetUintVal())
}

func TestSwitchGetAndSet(t *testing.T) {
	sc := createSwitchConfig(4)
	assert.True(t, sc.IsEnabled(3))

	prefix := ToPath("interfaces")
	notifications, err := sc.Get(prefix, []*gnmi.Path{ToPath("interface[name=*]/state/oper-status")})
	require.NoError(t, err)
	require.Len(t, notifications[0].Update, 4)
	for _, update := range notifications[0].Update {
		assert.Equal(t, "UP", update.Val.GetStringVal())
	}

	_, err = sc.Get(nil, []*gnmi.Path{ToPath("interfaces/interface[name=7]")})
	assert.Error(t, err)
	_, err = sc.Get(ToPath("nothing"), []*gnmi.Path{ToPath("interface")})
	assert.Error(t, err)

	results, err := sc.Set(nil, []*gnmi.Update{{
		Path: ToPath("interfaces/interface[name=3]/config/enabled"),
		Val:  &gnmi.TypedValue{Value: &gnmi.TypedValue_BoolVal{BoolVal: false}},
	}}, nil, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.False(t, sc.IsEnabled(3))

	_, err = sc.Set(nil, []*gnmi.Update{{
		Path: ToPath("interfaces/interface[name=3]/state/id"),
		Val:  &gnmi.TypedValue{Value: &gnmi.TypedValue_UintVal{UintVal: 1}},
	}}, nil, nil)
	assert.Error(t, err)
	_, err = sc.Set(nil, nil, nil, []*gnmi.Path{ToPath("interfaces")})
	assert.Error(t, err)
	assert.Error(t, sc.SetEnabled(42, true))
}
