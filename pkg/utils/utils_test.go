// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestLoadP4Info(t *testing.T) {
	info, err := LoadP4Info("../../pipelines/fabric.p4info.txt")
	require.NoError(t, err)
	assert.Len(t, info.Tables, 7)
	assert.Len(t, info.ActionProfiles, 1)
	assert.Len(t, info.ControllerPacketMetadata, 2)

	copied, err := ParseP4Info(P4InfoBytes(info))
	require.NoError(t, err)
	assert.Len(t, copied.Actions, len(info.Actions))

	_, err = LoadP4Info("../../pipelines/missing.p4info.txt")
	assert.Error(t, err)
}

func TestValues(t *testing.T) {
	assert.Equal(t, []byte{0}, TrimToBitwidth([]byte{0, 0, 0, 0}, 9))
	assert.Equal(t, []byte{1, 2}, TrimToBitwidth([]byte{0, 0, 1, 2}, 9))
	assert.Equal(t, []byte{0, 0, 1}, PadToBitwidth([]byte{1}, 24))
	assert.Equal(t, []byte{1, 2}, PadToBitwidth([]byte{9, 1, 2}, 9))
	assert.Equal(t, []byte{3}, Canonical([]byte{0, 0, 3}))

	assert.True(t, FitsBitwidth([]byte{0x01, 0xff}, 9))
	assert.False(t, FitsBitwidth([]byte{0x02, 0x00}, 9))
	assert.True(t, FitsBitwidth([]byte{0, 0, 0x01, 0xff}, 9))
	assert.False(t, FitsBitwidth([]byte{1, 0, 0}, 16))

	assert.Equal(t, []byte{0, 7}, Stringify(7, 2))
	assert.Equal(t, uint32(0x1ff), DecodeValueAsUint32([]byte{0x01, 0xff}))
	assert.Equal(t, uint32(5), DecodeValueAsUint32([]byte{0, 0, 0, 0, 0, 5}))

	mac, err := MACToBytes("00:00:00:00:aa:01")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0xaa, 1}, mac)
	_, err = MACToBytes("nope")
	assert.Error(t, err)

	ip, err := IPv6ToBytes("2001:0:1::1")
	require.NoError(t, err)
	assert.Len(t, ip, 16)
	_, err = IPv6ToBytes("10.0.0.1")
	assert.Error(t, err)
}
