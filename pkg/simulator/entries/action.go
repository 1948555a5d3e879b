// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package entries contains implementation of the P4 entities held by the simulated switch: tables, action
// profiles and packet replication constructs
package entries

import (
	"github.com/onosproject/fabric-ptf/pkg/utils"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
)

// Actions is an index of the P4 actions of a pipeline
type Actions struct {
	actions map[uint32]*p4info.Action
}

// NewActions creates a new action index
func NewActions(infos []*p4info.Action) *Actions {
	as := &Actions{actions: make(map[uint32]*p4info.Action, len(infos))}
	for _, info := range infos {
		as.actions[info.Preamble.Id] = info
	}
	return as
}

// Get returns the action info with the given ID; nil if there is none
func (as *Actions) Get(id uint32) *p4info.Action {
	return as.actions[id]
}

// Validate checks the action invocation against the action schema and, if given, against the allowed action refs;
// on success parameter values are padded to their declared width
func (as *Actions) Validate(action *p4api.Action, refs []*p4info.ActionRef) error {
	if action == nil {
		return errors.NewInvalid("missing action")
	}
	info, ok := as.actions[action.ActionId]
	if !ok {
		return errors.NewNotFound("action %d not found", action.ActionId)
	}
	if refs != nil && !allowed(action.ActionId, refs) {
		return errors.NewInvalid("action %s not allowed here", info.Preamble.Name)
	}
	if len(action.Params) != len(info.Params) {
		return errors.NewInvalid("action %s expects %d params; got %d", info.Preamble.Name, len(info.Params), len(action.Params))
	}
	for _, param := range action.Params {
		pi := paramInfo(info, param.ParamId)
		if pi == nil {
			return errors.NewInvalid("action %s has no param %d", info.Preamble.Name, param.ParamId)
		}
		if !utils.FitsBitwidth(param.Value, pi.Bitwidth) {
			return errors.NewInvalid("value of param %s of action %s exceeds %d bits", pi.Name, info.Preamble.Name, pi.Bitwidth)
		}
	}
	return nil
}

// ParamValue returns the value of the given action parameter padded to its declared width
func (as *Actions) ParamValue(action *p4api.Action, paramID uint32) []byte {
	info := as.actions[action.ActionId]
	for _, param := range action.Params {
		if param.ParamId == paramID {
			if info != nil {
				if pi := paramInfo(info, paramID); pi != nil {
					return utils.PadToBitwidth(param.Value, pi.Bitwidth)
				}
			}
			return param.Value
		}
	}
	return nil
}

func paramInfo(info *p4info.Action, id uint32) *p4info.Action_Param {
	for _, pi := range info.Params {
		if pi.Id == id {
			return pi
		}
	}
	return nil
}

func allowed(id uint32, refs []*p4info.ActionRef) bool {
	for _, ref := range refs {
		if ref.Id == id {
			return true
		}
	}
	return false
}
