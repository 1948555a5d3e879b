// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"encoding/binary"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	"net"
)

// ByteWidth returns the number of bytes needed to carry a value of the given bit-width
func ByteWidth(bits int32) int {
	return int((bits + 7) / 8)
}

// TrimToBitwidth trims the specified bytes to the specified width and strips any leading zero bytes,
// yielding the canonical P4Runtime byte-string; zero is encoded as a single zero byte
func TrimToBitwidth(b []byte, bits int32) []byte {
	ni := len(b) - ByteWidth(bits)
	if ni < 0 {
		ni = 0
	}
	for ; ni < len(b)-1; ni++ {
		if b[ni] != 0 {
			break
		}
	}
	return b[ni:]
}

// Canonical strips the leading zero bytes from the given value
func Canonical(b []byte) []byte {
	return TrimToBitwidth(b, int32(len(b)*8))
}

// PadToBitwidth left-pads or truncates the given value to the byte-width of the given bit-width
func PadToBitwidth(b []byte, bits int32) []byte {
	width := ByteWidth(bits)
	if len(b) >= width {
		return b[len(b)-width:]
	}
	padded := make([]byte, width)
	copy(padded[width-len(b):], b)
	return padded
}

// FitsBitwidth returns true if the given value does not carry any bits beyond the given bit-width
func FitsBitwidth(b []byte, bits int32) bool {
	c := Canonical(b)
	if len(c) > ByteWidth(bits) {
		return false
	}
	if len(c) < ByteWidth(bits) || bits%8 == 0 {
		return true
	}
	return c[0]>>(uint(bits)%8) == 0
}

// EncodeValue encodes the given value as a canonical byte-string of the given bit-width
func EncodeValue(value uint32, bits int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, value)
	return TrimToBitwidth(b, bits)
}

// Stringify encodes the given value in big-endian order using exactly the given number of bytes
func Stringify(value uint64, width int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, value)
	if width > 8 {
		return PadToBitwidth(b, int32(width*8))
	}
	return b[8-width:]
}

// DecodeValueAsUint32 decodes the specified bytes as uint32 value
func DecodeValueAsUint32(value []byte) uint32 {
	b := PadToBitwidth(value, 32)
	return binary.BigEndian.Uint32(b)
}

// MACToBytes parses the given MAC address and returns its 6 bytes
func MACToBytes(addr string) ([]byte, error) {
	mac, err := net.ParseMAC(addr)
	if err != nil {
		return nil, err
	}
	if len(mac) != 6 {
		return nil, errors.NewInvalid("%s is not an EUI-48 address", addr)
	}
	return mac, nil
}

// IPv6ToBytes parses the given IPv6 address and returns its 16 bytes
func IPv6ToBytes(addr string) ([]byte, error) {
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() != nil {
		return nil, errors.NewInvalid("%s is not an IPv6 address", addr)
	}
	return ip.To16(), nil
}
