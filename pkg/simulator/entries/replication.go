// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package entries

import (
	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/protobuf/proto"
)

// PacketReplication represents packet replication engine constructs
type PacketReplication struct {
	multicasts    map[uint32]*p4api.MulticastGroupEntry
	cloneSessions map[uint32]*p4api.CloneSessionEntry
}

// NewPacketReplication creates store for P4 PRE constructs
func NewPacketReplication() *PacketReplication {
	return &PacketReplication{
		multicasts:    make(map[uint32]*p4api.MulticastGroupEntry),
		cloneSessions: make(map[uint32]*p4api.CloneSessionEntry),
	}
}

// MulticastGroup returns the multicast group with the given ID; nil if there is none
func (pr *PacketReplication) MulticastGroup(id uint32) *p4api.MulticastGroupEntry {
	return pr.multicasts[id]
}

// CloneSession returns the clone session with the given ID; nil if there is none
func (pr *PacketReplication) CloneSession(id uint32) *p4api.CloneSessionEntry {
	return pr.cloneSessions[id]
}

// ModifyMulticastGroupEntry inserts or modifies the specified multicast group entry
func (pr *PacketReplication) ModifyMulticastGroupEntry(entry *p4api.MulticastGroupEntry, insert bool) error {
	if entry.MulticastGroupId == 0 {
		return errors.NewInvalid("multicast group ID must be positive")
	}
	if err := validateReplicas(entry.Replicas); err != nil {
		return err
	}
	_, ok := pr.multicasts[entry.MulticastGroupId]
	if ok && insert {
		return errors.NewAlreadyExists("multicast group %d already exists", entry.MulticastGroupId)
	}
	if !ok && !insert {
		return errors.NewNotFound("multicast group %d doesn't exist", entry.MulticastGroupId)
	}
	pr.multicasts[entry.MulticastGroupId] = proto.Clone(entry).(*p4api.MulticastGroupEntry)
	return nil
}

// ReadMulticastGroupEntries sends the requested multicast group entries to the given sender; ID 0 reads all
func (pr *PacketReplication) ReadMulticastGroupEntries(request *p4api.MulticastGroupEntry, sender BatchSender) error {
	buffer := newBuffer(sender)
	for _, id := range sortedIDs(pr.multicasts) {
		if request.MulticastGroupId != 0 && request.MulticastGroupId != id {
			continue
		}
		if err := buffer.sendEntity(&p4api.Entity{Entity: &p4api.Entity_PacketReplicationEngineEntry{
			PacketReplicationEngineEntry: &p4api.PacketReplicationEngineEntry{
				Type: &p4api.PacketReplicationEngineEntry_MulticastGroupEntry{MulticastGroupEntry: pr.multicasts[id]},
			}}}); err != nil {
			return err
		}
	}
	return buffer.flush()
}

// DeleteMulticastGroupEntry deletes the specified multicast group entry
func (pr *PacketReplication) DeleteMulticastGroupEntry(entry *p4api.MulticastGroupEntry) error {
	if _, ok := pr.multicasts[entry.MulticastGroupId]; !ok {
		return errors.NewNotFound("multicast group %d doesn't exist", entry.MulticastGroupId)
	}
	delete(pr.multicasts, entry.MulticastGroupId)
	return nil
}

// ModifyCloneSessionEntry inserts or modifies the specified clone session entry
func (pr *PacketReplication) ModifyCloneSessionEntry(entry *p4api.CloneSessionEntry, insert bool) error {
	if entry.SessionId == 0 {
		return errors.NewInvalid("clone session ID must be positive")
	}
	if err := validateReplicas(entry.Replicas); err != nil {
		return err
	}
	_, ok := pr.cloneSessions[entry.SessionId]
	if ok && insert {
		return errors.NewAlreadyExists("clone session %d already exists", entry.SessionId)
	}
	if !ok && !insert {
		return errors.NewNotFound("clone session %d doesn't exist", entry.SessionId)
	}
	pr.cloneSessions[entry.SessionId] = proto.Clone(entry).(*p4api.CloneSessionEntry)
	return nil
}

// ReadCloneSessionEntries sends the requested clone session entries to the given sender; ID 0 reads all
func (pr *PacketReplication) ReadCloneSessionEntries(request *p4api.CloneSessionEntry, sender BatchSender) error {
	buffer := newBuffer(sender)
	for _, id := range sortedIDs(pr.cloneSessions) {
		if request.SessionId != 0 && request.SessionId != id {
			continue
		}
		if err := buffer.sendEntity(&p4api.Entity{Entity: &p4api.Entity_PacketReplicationEngineEntry{
			PacketReplicationEngineEntry: &p4api.PacketReplicationEngineEntry{
				Type: &p4api.PacketReplicationEngineEntry_CloneSessionEntry{CloneSessionEntry: pr.cloneSessions[id]},
			}}}); err != nil {
			return err
		}
	}
	return buffer.flush()
}

// DeleteCloneSessionEntry deletes the specified clone session entry
func (pr *PacketReplication) DeleteCloneSessionEntry(entry *p4api.CloneSessionEntry) error {
	if _, ok := pr.cloneSessions[entry.SessionId]; !ok {
		return errors.NewNotFound("clone session %d doesn't exist", entry.SessionId)
	}
	delete(pr.cloneSessions, entry.SessionId)
	return nil
}

// replicas must be unique by (egress port, instance)
func validateReplicas(replicas []*p4api.Replica) error {
	seen := make(map[[2]uint32]bool, len(replicas))
	for _, r := range replicas {
		key := [2]uint32{r.EgressPort, r.Instance}
		if seen[key] {
			return errors.NewInvalid("duplicate replica for port %d instance %d", r.EgressPort, r.Instance)
		}
		seen[key] = true
	}
	return nil
}
