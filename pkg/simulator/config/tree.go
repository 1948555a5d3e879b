// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package config contains the gNMI state tree of a simulated switch
package config

import (
	"github.com/openconfig/gnmi/proto/gnmi"
	"google.golang.org/protobuf/proto"
)

// Node represents a single node in the state tree; leaf nodes carry a value
type Node struct {
	path     string
	name     string
	key      map[string]string
	value    *gnmi.TypedValue
	children map[string][]*Node
}

// NewRoot creates a new tree root
func NewRoot() *Node {
	return &Node{children: make(map[string][]*Node)}
}

// Path returns the full node path
func (n *Node) Path() string {
	return n.path
}

// Name returns the node name
func (n *Node) Name() string {
	return n.name
}

// Key returns the node key
func (n *Node) Key() map[string]string {
	return n.key
}

// Value returns the node value; nil for inner nodes
func (n *Node) Value() *gnmi.TypedValue {
	return n.value
}

// SetValue replaces the node value
func (n *Node) SetValue(value *gnmi.TypedValue) {
	n.value = value
}

// Snapshot returns a copy of the node value
func (n *Node) Snapshot() *gnmi.TypedValue {
	if n.value == nil {
		return nil
	}
	return proto.Clone(n.value).(*gnmi.TypedValue)
}

// MatchesKey returns true if the node key matches the given key, which can include wildcards
func (n *Node) MatchesKey(key map[string]string) bool {
	if len(key) != len(n.key) {
		return false
	}
	for k, v := range key {
		if v != Wildcard && v != n.key[k] {
			return false
		}
	}
	return true
}

// Add adds the child identified by name and key, or updates the value of the existing one
func (n *Node) Add(name string, key map[string]string, value *gnmi.TypedValue) *Node {
	child := n.Get(name, key)
	if child == nil {
		child = &Node{
			path:     subpath(n.path, name, key),
			name:     name,
			key:      key,
			children: make(map[string][]*Node),
		}
		n.children[name] = append(n.children[name], child)
	}
	child.value = value
	return child
}

// Get returns the immediate child identified by name and key; nil if there is none
func (n *Node) Get(name string, key map[string]string) *Node {
	for _, child := range n.children[name] {
		if child.MatchesKey(key) {
			return child
		}
	}
	return nil
}

// Delete removes the immediate child identified by name and key and returns it; nil if there is none
func (n *Node) Delete(name string, key map[string]string) *Node {
	children := n.children[name]
	for i, child := range children {
		if child.MatchesKey(key) {
			n.children[name] = append(children[:i:i], children[i+1:]...)
			return child
		}
	}
	return nil
}

// AddPath adds the nodes along the given path and sets the value of the last one
func (n *Node) AddPath(path string, value *gnmi.TypedValue) *Node {
	segments := SplitPath(path)
	current := n
	for i, segment := range segments {
		name, key, _ := NameKey(segment)
		if i < len(segments)-1 {
			if next := current.Get(name, key); next != nil {
				current = next
				continue
			}
			current = current.Add(name, key, nil)
			continue
		}
		current = current.Add(name, key, value)
	}
	return current
}

// GetPath returns the node at the given path; nil if not found
func (n *Node) GetPath(path string) *Node {
	current := n
	for _, segment := range SplitPath(path) {
		name, key, _ := NameKey(segment)
		if current = current.Get(name, key); current == nil {
			return nil
		}
	}
	return current
}

// DeletePath removes the node at the given path and returns it; nil if not found
func (n *Node) DeletePath(path string) *Node {
	segments := SplitPath(path)
	parent := n
	if len(segments) > 1 {
		if parent = n.GetPath(JoinPath(segments[:len(segments)-1])); parent == nil {
			return nil
		}
	}
	name, key, _ := NameKey(segments[len(segments)-1])
	return parent.Delete(name, key)
}

// FindAll returns all leaf nodes at or under the given path, whose keys may include wildcards
func (n *Node) FindAll(path string) []*Node {
	if len(path) == 0 {
		return n.Leaves()
	}
	return n.find(SplitPath(path))
}

func (n *Node) find(segments []string) []*Node {
	if len(segments) == 0 {
		return n.Leaves()
	}
	name, key, _ := NameKey(segments[0])
	var nodes []*Node
	for _, child := range n.children[name] {
		if child.MatchesKey(key) {
			nodes = append(nodes, child.find(segments[1:])...)
		}
	}
	return nodes
}

// Leaves returns this node if it is a leaf or all leaves under it otherwise
func (n *Node) Leaves() []*Node {
	if n.value != nil {
		return []*Node{n}
	}
	var nodes []*Node
	for _, children := range n.children {
		for _, child := range children {
			nodes = append(nodes, child.Leaves()...)
		}
	}
	return nodes
}
