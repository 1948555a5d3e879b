// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package p4rt is a P4Runtime client for driving a switch from test cases: it resolves P4Info names, builds
// entities, keeps track of written entries for cleanup and queues packet-ins
package p4rt

import (
	"github.com/onosproject/fabric-ptf/pkg/utils"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
)

// Schema indexes a P4Info by fully qualified names and aliases
type Schema struct {
	info     *p4info.P4Info
	tables   map[string]*p4info.Table
	actions  map[string]*p4info.Action
	profiles map[string]*p4info.ActionProfile
}

// NewSchema indexes the given P4Info
func NewSchema(info *p4info.P4Info) *Schema {
	s := &Schema{
		info:     info,
		tables:   make(map[string]*p4info.Table),
		actions:  make(map[string]*p4info.Action),
		profiles: make(map[string]*p4info.ActionProfile),
	}
	for _, t := range info.Tables {
		index(s.tables, t.Preamble, t)
	}
	for _, a := range info.Actions {
		index(s.actions, a.Preamble, a)
	}
	for _, ap := range info.ActionProfiles {
		index(s.profiles, ap.Preamble, ap)
	}
	return s
}

func index[V any](m map[string]V, preamble *p4info.Preamble, v V) {
	m[preamble.Name] = v
	if len(preamble.Alias) > 0 {
		if _, ok := m[preamble.Alias]; !ok {
			m[preamble.Alias] = v
		}
	}
}

// P4Info returns the indexed P4Info
func (s *Schema) P4Info() *p4info.P4Info {
	return s.info
}

// Table returns the table with the given name or alias
func (s *Schema) Table(name string) (*p4info.Table, error) {
	if t, ok := s.tables[name]; ok {
		return t, nil
	}
	return nil, errors.NewNotFound("table %s not found", name)
}

// Action returns the action with the given name or alias
func (s *Schema) Action(name string) (*p4info.Action, error) {
	if a, ok := s.actions[name]; ok {
		return a, nil
	}
	return nil, errors.NewNotFound("action %s not found", name)
}

// ActionProfile returns the action profile with the given name or alias
func (s *Schema) ActionProfile(name string) (*p4info.ActionProfile, error) {
	if ap, ok := s.profiles[name]; ok {
		return ap, nil
	}
	return nil, errors.NewNotFound("action profile %s not found", name)
}

// MatchField returns the match field of the table with the given name
func (s *Schema) MatchField(table *p4info.Table, name string) (*p4info.MatchField, error) {
	for _, f := range table.MatchFields {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, errors.NewNotFound("match field %s not found in table %s", name, table.Preamble.Name)
}

// ActionParam returns the parameter of the action with the given name
func (s *Schema) ActionParam(action *p4info.Action, name string) (*p4info.Action_Param, error) {
	for _, p := range action.Params {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, errors.NewNotFound("param %s not found in action %s", name, action.Preamble.Name)
}

// TableEntry builds a table entry entity; don't-care matches are omitted
func (s *Schema) TableEntry(table string, matches []Match, action *p4api.TableAction, priority int32) (*p4api.Entity, error) {
	t, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	entry := &p4api.TableEntry{TableId: t.Preamble.Id, Action: action, Priority: priority}
	for _, m := range matches {
		field, err := s.MatchField(t, m.Field)
		if err != nil {
			return nil, err
		}
		fm, err := m.build(field)
		if err != nil {
			return nil, err
		}
		if fm != nil {
			entry.Match = append(entry.Match, fm)
		}
	}
	return &p4api.Entity{Entity: &p4api.Entity_TableEntry{TableEntry: entry}}, nil
}

// DefaultEntry builds an entity setting the default action of the table
func (s *Schema) DefaultEntry(table string, action string, params ...Param) (*p4api.Entity, error) {
	t, err := s.Table(table)
	if err != nil {
		return nil, err
	}
	ta, err := s.DirectAction(action, params...)
	if err != nil {
		return nil, err
	}
	return &p4api.Entity{Entity: &p4api.Entity_TableEntry{TableEntry: &p4api.TableEntry{
		TableId:         t.Preamble.Id,
		Action:          ta,
		IsDefaultAction: true,
	}}}, nil
}

// DirectAction builds a table action invoking the named action
func (s *Schema) DirectAction(action string, params ...Param) (*p4api.TableAction, error) {
	a, err := s.action(action, params)
	if err != nil {
		return nil, err
	}
	return &p4api.TableAction{Type: &p4api.TableAction_Action{Action: a}}, nil
}

func (s *Schema) action(name string, params []Param) (*p4api.Action, error) {
	info, err := s.Action(name)
	if err != nil {
		return nil, err
	}
	action := &p4api.Action{ActionId: info.Preamble.Id}
	for _, p := range params {
		pi, err := s.ActionParam(info, p.Name)
		if err != nil {
			return nil, err
		}
		if !utils.FitsBitwidth(p.Value, pi.Bitwidth) {
			return nil, errors.NewInvalid("value of param %s of action %s exceeds %d bits", p.Name, name, pi.Bitwidth)
		}
		action.Params = append(action.Params, &p4api.Action_Param{ParamId: pi.Id, Value: utils.Canonical(p.Value)})
	}
	if len(action.Params) != len(info.Params) {
		return nil, errors.NewInvalid("action %s expects %d params; got %d", name, len(info.Params), len(action.Params))
	}
	return action, nil
}

// ActionProfileMember builds an action profile member entity
func (s *Schema) ActionProfileMember(profile string, memberID uint32, action string, params ...Param) (*p4api.Entity, error) {
	ap, err := s.ActionProfile(profile)
	if err != nil {
		return nil, err
	}
	a, err := s.action(action, params)
	if err != nil {
		return nil, err
	}
	return &p4api.Entity{Entity: &p4api.Entity_ActionProfileMember{ActionProfileMember: &p4api.ActionProfileMember{
		ActionProfileId: ap.Preamble.Id,
		MemberId:        memberID,
		Action:          a,
	}}}, nil
}

// ActionProfileGroup builds an action profile group entity with members of weight 1
func (s *Schema) ActionProfileGroup(profile string, groupID uint32, maxSize int32, memberIDs ...uint32) (*p4api.Entity, error) {
	ap, err := s.ActionProfile(profile)
	if err != nil {
		return nil, err
	}
	group := &p4api.ActionProfileGroup{ActionProfileId: ap.Preamble.Id, GroupId: groupID, MaxSize: maxSize}
	for _, id := range memberIDs {
		group.Members = append(group.Members, &p4api.ActionProfileGroup_Member{MemberId: id, Weight: 1})
	}
	return &p4api.Entity{Entity: &p4api.Entity_ActionProfileGroup{ActionProfileGroup: group}}, nil
}
