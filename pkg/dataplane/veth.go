// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package dataplane

import "fmt"

// VethPair is a pair of connected virtual Ethernet interfaces; the switch attaches to Switch and the suite to Test
type VethPair struct {
	Port   uint32
	Switch string
	Test   string
}

// VethPairs returns the conventional veth pairs for ports 1 through count: port i uses veth(2i-2) on the
// switch side and veth(2i-1) on the test side
func VethPairs(count int) []VethPair {
	pairs := make([]VethPair, 0, count)
	for i := 0; i < count; i++ {
		pairs = append(pairs, VethPair{
			Port:   uint32(i + 1),
			Switch: fmt.Sprintf("veth%d", 2*i),
			Test:   fmt.Sprintf("veth%d", 2*i+1),
		})
	}
	return pairs
}
