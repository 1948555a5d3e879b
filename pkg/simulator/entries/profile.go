// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package entries

import (
	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/protobuf/proto"
	"sort"
)

// ActionProfile represents a P4 action profile instance
type ActionProfile struct {
	info    *p4info.ActionProfile
	refs    []*p4info.ActionRef
	members map[uint32]*p4api.ActionProfileMember
	groups  map[uint32]*p4api.ActionProfileGroup
}

// ActionProfiles represents a set of P4 action profiles
type ActionProfiles struct {
	actions  *Actions
	profiles map[uint32]*ActionProfile
}

// NewActionProfiles creates the action profiles of the given pipeline
func NewActionProfiles(info *p4info.P4Info, actions *Actions) *ActionProfiles {
	aps := &ActionProfiles{
		actions:  actions,
		profiles: make(map[uint32]*ActionProfile, len(info.ActionProfiles)),
	}
	for _, pi := range info.ActionProfiles {
		profile := &ActionProfile{
			info:    pi,
			members: make(map[uint32]*p4api.ActionProfileMember),
			groups:  make(map[uint32]*p4api.ActionProfileGroup),
		}
		// Members may invoke any action of the tables implemented by the profile
		for _, ti := range info.Tables {
			if ti.ImplementationId == pi.Preamble.Id {
				profile.refs = append(profile.refs, ti.ActionRefs...)
			}
		}
		aps.profiles[pi.Preamble.Id] = profile
	}
	return aps
}

func (aps *ActionProfiles) profile(id uint32) (*ActionProfile, error) {
	profile, ok := aps.profiles[id]
	if !ok {
		return nil, errors.NewNotFound("action profile %d not found", id)
	}
	return profile, nil
}

// HasMember returns true if the given member exists in the given profile
func (aps *ActionProfiles) HasMember(profileID uint32, memberID uint32) bool {
	return aps.Member(profileID, memberID) != nil
}

// HasGroup returns true if the given group exists in the given profile
func (aps *ActionProfiles) HasGroup(profileID uint32, groupID uint32) bool {
	return aps.Group(profileID, groupID) != nil
}

// Member returns the given member of the given profile; nil if not found
func (aps *ActionProfiles) Member(profileID uint32, memberID uint32) *p4api.ActionProfileMember {
	if profile, ok := aps.profiles[profileID]; ok {
		return profile.members[memberID]
	}
	return nil
}

// Group returns the given group of the given profile; nil if not found
func (aps *ActionProfiles) Group(profileID uint32, groupID uint32) *p4api.ActionProfileGroup {
	if profile, ok := aps.profiles[profileID]; ok {
		return profile.groups[groupID]
	}
	return nil
}

// ModifyActionProfileMember inserts or modifies the specified action profile member
func (aps *ActionProfiles) ModifyActionProfileMember(entry *p4api.ActionProfileMember, insert bool) error {
	profile, err := aps.profile(entry.ActionProfileId)
	if err != nil {
		return err
	}
	_, ok := profile.members[entry.MemberId]
	if ok && insert {
		return errors.NewAlreadyExists("member %d already exists", entry.MemberId)
	}
	if !ok && !insert {
		return errors.NewNotFound("member %d doesn't exist", entry.MemberId)
	}
	if insert && profile.info.Size > 0 && int64(len(profile.members)) >= profile.info.Size {
		return errors.NewUnavailable("action profile %s is full", profile.info.Preamble.Name)
	}
	if err := aps.actions.Validate(entry.Action, profile.refs); err != nil {
		return err
	}
	profile.members[entry.MemberId] = proto.Clone(entry).(*p4api.ActionProfileMember)
	return nil
}

// DeleteActionProfileMember deletes the specified member; members still used by a group cannot be deleted
func (aps *ActionProfiles) DeleteActionProfileMember(entry *p4api.ActionProfileMember) error {
	profile, err := aps.profile(entry.ActionProfileId)
	if err != nil {
		return err
	}
	if _, ok := profile.members[entry.MemberId]; !ok {
		return errors.NewNotFound("member %d doesn't exist", entry.MemberId)
	}
	for _, group := range profile.groups {
		for _, m := range group.Members {
			if m.MemberId == entry.MemberId {
				return errors.NewConflict("member %d is used by group %d", entry.MemberId, group.GroupId)
			}
		}
	}
	delete(profile.members, entry.MemberId)
	return nil
}

// ReadActionProfileMembers reads the members matching the request; zero IDs act as wildcards
func (aps *ActionProfiles) ReadActionProfileMembers(request *p4api.ActionProfileMember, sender BatchSender) error {
	buffer := newBuffer(sender)
	for _, profile := range aps.selectProfiles(request.ActionProfileId) {
		for _, id := range sortedIDs(profile.members) {
			if request.MemberId != 0 && request.MemberId != id {
				continue
			}
			if err := buffer.sendEntity(&p4api.Entity{Entity: &p4api.Entity_ActionProfileMember{
				ActionProfileMember: profile.members[id]}}); err != nil {
				return err
			}
		}
	}
	return buffer.flush()
}

// ModifyActionProfileGroup inserts or modifies the specified action profile group
func (aps *ActionProfiles) ModifyActionProfileGroup(entry *p4api.ActionProfileGroup, insert bool) error {
	profile, err := aps.profile(entry.ActionProfileId)
	if err != nil {
		return err
	}
	existing, ok := profile.groups[entry.GroupId]
	if ok && insert {
		return errors.NewAlreadyExists("group %d already exists", entry.GroupId)
	}
	if !ok && !insert {
		return errors.NewNotFound("group %d doesn't exist", entry.GroupId)
	}
	if insert && profile.info.Size > 0 && int64(len(profile.groups)) >= profile.info.Size {
		return errors.NewUnavailable("action profile %s is full", profile.info.Preamble.Name)
	}

	maxSize := entry.MaxSize
	if !insert && maxSize == 0 {
		maxSize = existing.MaxSize
	}
	if maxSize > 0 && len(entry.Members) > int(maxSize) {
		return errors.NewInvalid("group %d exceeds its max size %d", entry.GroupId, maxSize)
	}
	if profile.info.MaxGroupSize > 0 && len(entry.Members) > int(profile.info.MaxGroupSize) {
		return errors.NewInvalid("group %d exceeds the max group size %d", entry.GroupId, profile.info.MaxGroupSize)
	}
	for _, m := range entry.Members {
		if _, ok := profile.members[m.MemberId]; !ok {
			return errors.NewNotFound("member %d of group %d doesn't exist", m.MemberId, entry.GroupId)
		}
		if m.Weight < 0 {
			return errors.NewInvalid("member %d of group %d has a negative weight", m.MemberId, entry.GroupId)
		}
	}
	group := proto.Clone(entry).(*p4api.ActionProfileGroup)
	group.MaxSize = maxSize
	profile.groups[entry.GroupId] = group
	return nil
}

// DeleteActionProfileGroup deletes the specified action profile group
func (aps *ActionProfiles) DeleteActionProfileGroup(entry *p4api.ActionProfileGroup) error {
	profile, err := aps.profile(entry.ActionProfileId)
	if err != nil {
		return err
	}
	if _, ok := profile.groups[entry.GroupId]; !ok {
		return errors.NewNotFound("group %d doesn't exist", entry.GroupId)
	}
	delete(profile.groups, entry.GroupId)
	return nil
}

// ReadActionProfileGroups reads the groups matching the request; zero IDs act as wildcards
func (aps *ActionProfiles) ReadActionProfileGroups(request *p4api.ActionProfileGroup, sender BatchSender) error {
	buffer := newBuffer(sender)
	for _, profile := range aps.selectProfiles(request.ActionProfileId) {
		for _, id := range sortedIDs(profile.groups) {
			if request.GroupId != 0 && request.GroupId != id {
				continue
			}
			if err := buffer.sendEntity(&p4api.Entity{Entity: &p4api.Entity_ActionProfileGroup{
				ActionProfileGroup: profile.groups[id]}}); err != nil {
				return err
			}
		}
	}
	return buffer.flush()
}

func (aps *ActionProfiles) selectProfiles(id uint32) []*ActionProfile {
	if id != 0 {
		if profile, ok := aps.profiles[id]; ok {
			return []*ActionProfile{profile}
		}
		return nil
	}
	profiles := make([]*ActionProfile, 0, len(aps.profiles))
	for _, pid := range sortedIDs(aps.profiles) {
		profiles = append(profiles, aps.profiles[pid])
	}
	return profiles
}

func sortedIDs[V any](m map[uint32]V) []uint32 {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
