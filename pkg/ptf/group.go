// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package ptf

import (
	"strings"
	"sync"
	"testing"
)

// AllGroups selects every test
const AllGroups = "all"

var groups = struct {
	sync.RWMutex
	selected map[string]bool
}{}

// SelectGroups selects the test groups to run; no groups, or "all", selects every test
func SelectGroups(names []string) {
	groups.Lock()
	defer groups.Unlock()
	groups.selected = make(map[string]bool)
	for _, name := range names {
		groups.selected[strings.TrimSpace(name)] = true
	}
}

// GroupSelected returns true if any of the given groups is selected
func GroupSelected(names ...string) bool {
	groups.RLock()
	defer groups.RUnlock()
	if len(groups.selected) == 0 || groups.selected[AllGroups] {
		return true
	}
	for _, name := range names {
		if groups.selected[name] {
			return true
		}
	}
	return false
}

// Group skips the test unless one of its groups is selected
func Group(t *testing.T, names ...string) {
	t.Helper()
	if !GroupSelected(names...) {
		t.Skipf("groups %v not selected", names)
	}
}
