// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"github.com/openconfig/gnmi/proto/gnmi"
	"sort"
	"strings"
)

const (
	pathSeparator = "/"
	// Wildcard matches any key value in a path segment
	Wildcard = "..."
)

// SplitPath splits the given string path into its segments
func SplitPath(path string) []string {
	return strings.Split(strings.Trim(path, pathSeparator), pathSeparator)
}

// JoinPath joins the given path segments into a path string
func JoinPath(segments []string) string {
	return strings.Join(segments, pathSeparator)
}

// subpath appends the segment given by name and key to the path
func subpath(path string, name string, key map[string]string) string {
	segment := name
	if len(key) > 0 {
		segment = fmt.Sprintf("%s[%s]", name, keyString(key))
	}
	if len(path) == 0 {
		return segment
	}
	return path + pathSeparator + segment
}

// ToPath produces a gNMI path from the given string representation
func ToPath(path string) *gnmi.Path {
	segments := SplitPath(path)
	elements := make([]*gnmi.PathElem, 0, len(segments))
	for _, segment := range segments {
		name, key, _ := NameKey(segment)
		elements = append(elements, &gnmi.PathElem{Name: name, Key: key})
	}
	return &gnmi.Path{Elem: elements}
}

// ToString produces a deterministic string representation of the given gNMI path; wildcard "*" keys are
// translated to the tree wildcard
func ToString(path *gnmi.Path) string {
	if path == nil {
		return ""
	}
	segments := make([]string, 0, len(path.Elem))
	for _, pe := range path.Elem {
		if len(pe.Name) == 0 {
			continue
		}
		if len(pe.Key) == 0 {
			segments = append(segments, pe.Name)
			continue
		}
		key := make(map[string]string, len(pe.Key))
		for k, v := range pe.Key {
			if v == "*" {
				v = Wildcard
			}
			key[k] = v
		}
		segments = append(segments, fmt.Sprintf("%s[%s]", pe.Name, keyString(key)))
	}
	return JoinPath(segments)
}

func keyString(key map[string]string) string {
	names := make([]string, 0, len(key))
	for k := range key {
		names = append(names, k)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(key))
	for _, k := range names {
		pairs = append(pairs, fmt.Sprintf("%s=%s", k, key[k]))
	}
	return strings.Join(pairs, ",")
}

// NameKey splits a path segment into its name and optional key; it also reports whether the key has a wildcard
func NameKey(segment string) (string, map[string]string, bool) {
	open := strings.Index(segment, "[")
	if open < 0 {
		return segment, nil, false
	}
	name := segment[:open]
	body := strings.TrimSuffix(segment[open+1:], "]")
	key := make(map[string]string)
	hasWildcard := false
	for _, field := range strings.Split(body, ",") {
		kv := strings.SplitN(strings.TrimSpace(field), "=", 2)
		if len(kv) != 2 {
			continue
		}
		if kv[1] == Wildcard {
			hasWildcard = true
		}
		key[kv[0]] = kv[1]
	}
	return name, key, hasWildcard
}
