// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package dataplane

import "github.com/onosproject/onos-lib-go/pkg/errors"

// CreateVethPairs is not supported outside of Linux
func CreateVethPairs(pairs []VethPair) error {
	return errors.NewNotSupported("veth pairs require Linux")
}

// DeleteVethPairs is not supported outside of Linux
func DeleteVethPairs(pairs []VethPair) error {
	return errors.NewNotSupported("veth pairs require Linux")
}
