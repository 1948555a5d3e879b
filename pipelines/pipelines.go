// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package pipelines carries the P4Info of the fabric pipeline exercised by the suite
package pipelines

import (
	_ "embed"
	"github.com/onosproject/fabric-ptf/pkg/utils"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
)

//go:embed fabric.p4info.txt
var fabricP4Info []byte

// FabricP4InfoText returns the text representation of the fabric P4Info
func FabricP4InfoText() []byte {
	return fabricP4Info
}

// FabricP4Info returns a freshly parsed fabric P4Info
func FabricP4Info() (*p4info.P4Info, error) {
	return utils.ParseP4Info(fabricP4Info)
}
