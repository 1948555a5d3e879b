// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"bytes"
	"fmt"
	"github.com/google/go-cmp/cmp"
	"github.com/google/gopacket"
)

// Describe returns a one line description of each layer of the frame
func Describe(frame []byte) []string {
	packet := Decode(frame)
	var desc []string
	for _, l := range packet.Layers() {
		switch l.LayerType() {
		case gopacket.LayerTypePayload, gopacket.LayerTypeDecodeFailure:
			desc = append(desc, fmt.Sprintf("%v\t%d byte(s) % x", l.LayerType(), len(l.LayerContents()), l.LayerContents()))
		default:
			desc = append(desc, gopacket.LayerString(l))
		}
	}
	return desc
}

// Diff returns a human readable difference between the expected and the actual frame, or an empty string
// if they are identical
func Diff(expected []byte, actual []byte) string {
	if bytes.Equal(expected, actual) {
		return ""
	}
	if d := cmp.Diff(Describe(expected), Describe(actual)); d != "" {
		return d
	}
	return fmt.Sprintf("frames differ at the byte level:\n-% x\n+% x", expected, actual)
}
