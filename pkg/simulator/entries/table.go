// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package entries

import (
	"bytes"
	"github.com/onosproject/fabric-ptf/pkg/utils"
	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/protobuf/proto"
	"hash"
	"hash/fnv"
	"sort"
)

// BatchSender is an abstract function for returning batches of read entities
type BatchSender func(entities []*p4api.Entity) error

// Key carries the values of the match fields extracted from a packet, by match field ID
type Key map[uint32][]byte

// MemberChecker reports whether the action profile member or group referenced by a table entry exists
type MemberChecker interface {
	HasMember(profileID uint32, memberID uint32) bool
	HasGroup(profileID uint32, groupID uint32) bool
}

// Tables represents a set of P4 tables
type Tables struct {
	tables map[uint32]*Table
}

// Row represents table row entry and its direct counter
type Row struct {
	entry       *p4api.TableEntry
	matches     []fieldMatch
	counterData *p4api.CounterData
	seq         uint64
}

// Entry returns the table entry of the row
func (r *Row) Entry() *p4api.TableEntry {
	return r.entry
}

// normalized field match; values are padded to the field width
type fieldMatch struct {
	id        uint32
	matchType p4info.MatchField_MatchType
	value     []byte
	mask      []byte
	high      []byte
	prefixLen int32
}

// Table represents a single P4 table
type Table struct {
	info        *p4info.Table
	actions     *Actions
	members     MemberChecker
	fields      map[uint32]*p4info.MatchField
	prioritized bool
	rows        map[uint64]*Row
	defaultRow  *Row
	seq         uint64
}

// NewTables creates a new set of tables from the given P4 info descriptor
func NewTables(info *p4info.P4Info, actions *Actions, members MemberChecker) *Tables {
	ts := &Tables{tables: make(map[uint32]*Table, len(info.Tables))}
	for _, ti := range info.Tables {
		ts.tables[ti.Preamble.Id] = NewTable(ti, actions, members)
	}
	return ts
}

// NewTable creates a new device table
func NewTable(info *p4info.Table, actions *Actions, members MemberChecker) *Table {
	t := &Table{
		info:    info,
		actions: actions,
		members: members,
		fields:  make(map[uint32]*p4info.MatchField, len(info.MatchFields)),
		rows:    make(map[uint64]*Row),
	}
	for _, mf := range info.MatchFields {
		t.fields[mf.Id] = mf
		switch mf.GetMatchType() {
		case p4info.MatchField_TERNARY, p4info.MatchField_RANGE, p4info.MatchField_OPTIONAL:
			t.prioritized = true
		}
	}
	return t
}

// Table returns the table with the given ID; nil if there is none
func (ts *Tables) Table(id uint32) *Table {
	return ts.tables[id]
}

func (ts *Tables) table(id uint32) (*Table, error) {
	table, ok := ts.tables[id]
	if !ok {
		return nil, errors.NewNotFound("table %d not found", id)
	}
	return table, nil
}

// InsertTableEntry inserts the specified table entry in its appropriate table
func (ts *Tables) InsertTableEntry(entry *p4api.TableEntry) error {
	table, err := ts.table(entry.TableId)
	if err != nil {
		return err
	}
	return table.InsertTableEntry(entry)
}

// ModifyTableEntry modifies the specified table entry in its appropriate table
func (ts *Tables) ModifyTableEntry(entry *p4api.TableEntry) error {
	table, err := ts.table(entry.TableId)
	if err != nil {
		return err
	}
	return table.ModifyTableEntry(entry)
}

// RemoveTableEntry removes the specified table entry from its appropriate table
func (ts *Tables) RemoveTableEntry(entry *p4api.TableEntry) error {
	table, err := ts.table(entry.TableId)
	if err != nil {
		return err
	}
	return table.RemoveTableEntry(entry)
}

// ModifyDirectCounterEntry modifies the specified direct counter entry in its appropriate table
func (ts *Tables) ModifyDirectCounterEntry(entry *p4api.DirectCounterEntry) error {
	if entry.TableEntry == nil {
		return errors.NewInvalid("direct counter entry requires a table entry")
	}
	table, err := ts.table(entry.TableEntry.TableId)
	if err != nil {
		return err
	}
	return table.ModifyDirectCounterEntry(entry)
}

// ReadTableEntries reads the table entries matching the specified table entry, from the appropriate table
func (ts *Tables) ReadTableEntries(request *p4api.TableEntry, sender BatchSender) error {
	if request.TableId == 0 {
		ids := make([]uint32, 0, len(ts.tables))
		for id := range ts.tables {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			if err := ts.tables[id].ReadTableEntries(request, sender); err != nil {
				return err
			}
		}
		return nil
	}
	table, err := ts.table(request.TableId)
	if err != nil {
		return err
	}
	return table.ReadTableEntries(request, sender)
}

// ReadDirectCounterEntries reads the direct counters of the table entries matching the specified request
func (ts *Tables) ReadDirectCounterEntries(request *p4api.DirectCounterEntry, sender BatchSender) error {
	if request.TableEntry == nil {
		return errors.NewInvalid("direct counter entry requires a table entry")
	}
	tableRequest := proto.Clone(request.TableEntry).(*p4api.TableEntry)
	return ts.ReadTableEntries(tableRequest, func(entities []*p4api.Entity) error {
		counters := make([]*p4api.Entity, 0, len(entities))
		for _, entity := range entities {
			te := entity.GetTableEntry()
			if te == nil {
				continue
			}
			row := ts.tables[te.TableId].row(te)
			if row == nil {
				continue
			}
			counters = append(counters, &p4api.Entity{Entity: &p4api.Entity_DirectCounterEntry{
				DirectCounterEntry: &p4api.DirectCounterEntry{
					TableEntry: te,
					Data:       proto.Clone(row.counterData).(*p4api.CounterData),
				}}})
		}
		return sender(counters)
	})
}

// Info returns the table schema
func (t *Table) Info() *p4info.Table {
	return t.info
}

// Len returns the number of entries in the table, not counting the default entry
func (t *Table) Len() int {
	return len(t.rows)
}

// InsertTableEntry inserts the specified entry; it fails if an entry with the same matches and priority exists
func (t *Table) InsertTableEntry(entry *p4api.TableEntry) error {
	if entry.IsDefaultAction {
		return errors.NewInvalid("unable to insert default action entry of table %s", t.info.Preamble.Name)
	}
	key, matches, err := t.entryKey(entry)
	if err != nil {
		return err
	}
	if _, ok := t.rows[key]; ok {
		return errors.NewAlreadyExists("entry already exists in table %s: %v", t.info.Preamble.Name, entry)
	}
	if err := t.validateAction(entry); err != nil {
		return err
	}
	if t.info.Size > 0 && int64(len(t.rows)) >= t.info.Size {
		return errors.NewUnavailable("table %s is full", t.info.Preamble.Name)
	}
	t.seq++
	t.rows[key] = &Row{
		entry:       strip(entry),
		matches:     matches,
		counterData: counterDataOrEmpty(entry.CounterData),
		seq:         t.seq,
	}
	return nil
}

// ModifyTableEntry modifies the action of the specified entry or the default entry
func (t *Table) ModifyTableEntry(entry *p4api.TableEntry) error {
	if entry.IsDefaultAction {
		if len(entry.Match) > 0 {
			return errors.NewInvalid("default action entry cannot have any match fields")
		}
		if entry.Action == nil {
			t.defaultRow = nil
			return nil
		}
		if err := t.validateAction(entry); err != nil {
			return err
		}
		t.defaultRow = &Row{entry: strip(entry), counterData: &p4api.CounterData{}}
		return nil
	}

	key, _, err := t.entryKey(entry)
	if err != nil {
		return err
	}
	row, ok := t.rows[key]
	if !ok {
		return errors.NewNotFound("entry doesn't exist in table %s: %v", t.info.Preamble.Name, entry)
	}
	if err := t.validateAction(entry); err != nil {
		return err
	}
	row.entry = strip(entry)
	if entry.CounterData != nil {
		row.counterData = proto.Clone(entry.CounterData).(*p4api.CounterData)
	}
	return nil
}

// RemoveTableEntry removes the specified table entry along with its direct counter
func (t *Table) RemoveTableEntry(entry *p4api.TableEntry) error {
	if entry.IsDefaultAction {
		return errors.NewInvalid("unable to remove default action entry of table %s", t.info.Preamble.Name)
	}
	key, _, err := t.entryKey(entry)
	if err != nil {
		return err
	}
	if _, ok := t.rows[key]; !ok {
		return errors.NewNotFound("entry doesn't exist in table %s: %v", t.info.Preamble.Name, entry)
	}
	delete(t.rows, key)
	return nil
}

// ModifyDirectCounterEntry replaces the direct counter data of the specified entry
func (t *Table) ModifyDirectCounterEntry(entry *p4api.DirectCounterEntry) error {
	row := t.row(entry.TableEntry)
	if row == nil {
		return errors.NewNotFound("entry doesn't exist in table %s: %v", t.info.Preamble.Name, entry.TableEntry)
	}
	row.counterData = counterDataOrEmpty(entry.Data)
	return nil
}

// ReadTableEntries reads the table entries matching the specified table entry request; an empty match reads all
func (t *Table) ReadTableEntries(request *p4api.TableEntry, sender BatchSender) error {
	buffer := newBuffer(sender)
	if request.IsDefaultAction {
		if t.defaultRow != nil {
			if err := buffer.sendEntity(t.readEntity(t.defaultRow, request)); err != nil {
				return err
			}
		}
		return buffer.flush()
	}

	if len(request.Match) > 0 {
		row := t.row(request)
		if row != nil {
			if err := buffer.sendEntity(t.readEntity(row, request)); err != nil {
				return err
			}
		}
		return buffer.flush()
	}

	for _, row := range t.sortedRows() {
		if request.Priority != 0 && request.Priority != row.entry.Priority {
			continue
		}
		if err := buffer.sendEntity(t.readEntity(row, request)); err != nil {
			return err
		}
	}
	return buffer.flush()
}

// Lookup returns the entry that best matches the given key and counts the hit against it. On a miss, it
// returns the default entry, if any, and false.
func (t *Table) Lookup(key Key, byteCount int) (*p4api.TableEntry, bool) {
	var best *Row
	for _, row := range t.rows {
		if !t.rowMatches(row, key) {
			continue
		}
		if best == nil || t.better(row, best) {
			best = row
		}
	}
	if best == nil {
		if t.defaultRow != nil {
			return t.defaultRow.entry, false
		}
		return nil, false
	}
	best.counterData.PacketCount++
	best.counterData.ByteCount += int64(byteCount)
	return best.entry, true
}

func (t *Table) rowMatches(row *Row, key Key) bool {
	for _, m := range row.matches {
		field := t.fields[m.id]
		value := utils.PadToBitwidth(key[m.id], field.Bitwidth)
		switch m.matchType {
		case p4info.MatchField_EXACT, p4info.MatchField_OPTIONAL:
			if !bytes.Equal(value, m.value) {
				return false
			}
		case p4info.MatchField_LPM:
			if !bytes.Equal(maskBytes(value, lpmMask(m.prefixLen, field.Bitwidth)), m.value) {
				return false
			}
		case p4info.MatchField_TERNARY:
			if !bytes.Equal(maskBytes(value, m.mask), m.value) {
				return false
			}
		case p4info.MatchField_RANGE:
			if bytes.Compare(value, m.value) < 0 || bytes.Compare(value, m.high) > 0 {
				return false
			}
		}
	}
	return true
}

// better returns true if row a takes precedence over row b
func (t *Table) better(a *Row, b *Row) bool {
	if t.prioritized {
		if a.entry.Priority != b.entry.Priority {
			return a.entry.Priority > b.entry.Priority
		}
		return a.seq < b.seq
	}
	pa, pb := prefixLength(a), prefixLength(b)
	if pa != pb {
		return pa > pb
	}
	return a.seq < b.seq
}

func prefixLength(row *Row) int32 {
	var total int32
	for _, m := range row.matches {
		if m.matchType == p4info.MatchField_LPM {
			total += m.prefixLen
		}
	}
	return total
}

func (t *Table) row(entry *p4api.TableEntry) *Row {
	if entry.IsDefaultAction {
		return t.defaultRow
	}
	key, _, err := t.entryKey(entry)
	if err != nil {
		return nil
	}
	return t.rows[key]
}

func (t *Table) sortedRows() []*Row {
	rows := make([]*Row, 0, len(t.rows))
	for _, row := range t.rows {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	return rows
}

func (t *Table) readEntity(row *Row, request *p4api.TableEntry) *p4api.Entity {
	entry := row.entry
	if request.CounterData != nil {
		entry = proto.Clone(row.entry).(*p4api.TableEntry)
		entry.CounterData = proto.Clone(row.counterData).(*p4api.CounterData)
	}
	return &p4api.Entity{Entity: &p4api.Entity_TableEntry{TableEntry: entry}}
}

// validateAction checks that the entry action is allowed by the table schema
func (t *Table) validateAction(entry *p4api.TableEntry) error {
	if entry.Action == nil {
		return errors.NewInvalid("entry of table %s has no action", t.info.Preamble.Name)
	}
	switch {
	case entry.Action.GetAction() != nil:
		if t.info.ImplementationId != 0 {
			return errors.NewInvalid("table %s requires an action profile member or group", t.info.Preamble.Name)
		}
		action := entry.Action.GetAction()
		if err := t.actions.Validate(action, t.info.ActionRefs); err != nil {
			return err
		}
		for _, ref := range t.info.ActionRefs {
			if ref.Id != action.ActionId {
				continue
			}
			if ref.Scope == p4info.ActionRef_DEFAULT_ONLY && !entry.IsDefaultAction {
				return errors.NewInvalid("action %d of table %s is default only", action.ActionId, t.info.Preamble.Name)
			}
			if ref.Scope == p4info.ActionRef_TABLE_ONLY && entry.IsDefaultAction {
				return errors.NewInvalid("action %d of table %s cannot be the default", action.ActionId, t.info.Preamble.Name)
			}
		}
	case entry.Action.GetActionProfileMemberId() != 0:
		if err := t.indirect(entry); err != nil {
			return err
		}
		if !t.members.HasMember(t.info.ImplementationId, entry.Action.GetActionProfileMemberId()) {
			return errors.NewNotFound("member %d not found", entry.Action.GetActionProfileMemberId())
		}
	case entry.Action.GetActionProfileGroupId() != 0:
		if err := t.indirect(entry); err != nil {
			return err
		}
		if !t.members.HasGroup(t.info.ImplementationId, entry.Action.GetActionProfileGroupId()) {
			return errors.NewNotFound("group %d not found", entry.Action.GetActionProfileGroupId())
		}
	default:
		return errors.NewNotSupported("unsupported action type for table %s", t.info.Preamble.Name)
	}
	return nil
}

func (t *Table) indirect(entry *p4api.TableEntry) error {
	if t.info.ImplementationId == 0 || t.members == nil {
		return errors.NewInvalid("table %s has no action profile", t.info.Preamble.Name)
	}
	if entry.IsDefaultAction {
		return errors.NewInvalid("default entry of table %s must use a direct action", t.info.Preamble.Name)
	}
	return nil
}

// entryKey validates the entry matches against the table schema and produces a uint64 hash of the normalized
// matches and the priority
func (t *Table) entryKey(entry *p4api.TableEntry) (uint64, []fieldMatch, error) {
	matches, err := t.normalize(entry.Match)
	if err != nil {
		return 0, nil, err
	}
	if t.prioritized && entry.Priority <= 0 {
		return 0, nil, errors.NewInvalid("entry of table %s requires a positive priority", t.info.Preamble.Name)
	}
	if !t.prioritized && entry.Priority != 0 {
		return 0, nil, errors.NewInvalid("entry of table %s cannot have a priority", t.info.Preamble.Name)
	}

	hf := fnv.New64()
	writeHash(hf, entry.Priority)
	for _, m := range matches {
		writeHash(hf, int32(m.id))
		writeHash(hf, int32(m.matchType))
		writeHash(hf, m.prefixLen)
		_, _ = hf.Write(m.value)
		_, _ = hf.Write(m.mask)
		_, _ = hf.Write(m.high)
	}
	return hf.Sum64(), matches, nil
}

// normalize validates the matches and returns them sorted by field ID with values padded to the field width
func (t *Table) normalize(matches []*p4api.FieldMatch) ([]fieldMatch, error) {
	normalized := make([]fieldMatch, 0, len(matches))
	seen := make(map[uint32]bool, len(matches))
	for _, m := range matches {
		field, ok := t.fields[m.FieldId]
		if !ok {
			return nil, errors.NewInvalid("table %s has no match field %d", t.info.Preamble.Name, m.FieldId)
		}
		if seen[m.FieldId] {
			return nil, errors.NewInvalid("duplicate match field %s", field.Name)
		}
		seen[m.FieldId] = true

		fm, err := normalizeMatch(field, m)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, fm)
	}
	for id, field := range t.fields {
		if field.GetMatchType() == p4info.MatchField_EXACT && !seen[id] {
			return nil, errors.NewInvalid("missing exact match field %s", field.Name)
		}
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i].id < normalized[j].id })
	return normalized, nil
}

func normalizeMatch(field *p4info.MatchField, m *p4api.FieldMatch) (fieldMatch, error) {
	fm := fieldMatch{id: field.Id, matchType: field.GetMatchType()}
	invalid := func(format string) (fieldMatch, error) {
		return fieldMatch{}, errors.NewInvalid(format, field.Name)
	}
	fits := func(values ...[]byte) bool {
		for _, v := range values {
			if !utils.FitsBitwidth(v, field.Bitwidth) {
				return false
			}
		}
		return true
	}

	switch {
	case m.GetExact() != nil:
		if fm.matchType != p4info.MatchField_EXACT {
			return invalid("field %s is not an exact match")
		}
		if !fits(m.GetExact().Value) {
			return invalid("value of field %s exceeds its width")
		}
		fm.value = utils.PadToBitwidth(m.GetExact().Value, field.Bitwidth)
	case m.GetLpm() != nil:
		if fm.matchType != p4info.MatchField_LPM {
			return invalid("field %s is not an LPM match")
		}
		lpm := m.GetLpm()
		if !fits(lpm.Value) {
			return invalid("value of field %s exceeds its width")
		}
		if lpm.PrefixLen < 0 || lpm.PrefixLen > field.Bitwidth {
			return invalid("invalid prefix length for field %s")
		}
		fm.prefixLen = lpm.PrefixLen
		value := utils.PadToBitwidth(lpm.Value, field.Bitwidth)
		fm.value = maskBytes(value, lpmMask(lpm.PrefixLen, field.Bitwidth))
		if !bytes.Equal(fm.value, value) {
			return invalid("value of field %s has bits set past the prefix length")
		}
	case m.GetTernary() != nil:
		if fm.matchType != p4info.MatchField_TERNARY {
			return invalid("field %s is not a ternary match")
		}
		ternary := m.GetTernary()
		if !fits(ternary.Value, ternary.Mask) {
			return invalid("value or mask of field %s exceeds its width")
		}
		fm.mask = utils.PadToBitwidth(ternary.Mask, field.Bitwidth)
		fm.value = utils.PadToBitwidth(ternary.Value, field.Bitwidth)
		if !bytes.Equal(maskBytes(fm.value, fm.mask), fm.value) {
			return invalid("value of field %s has bits set outside of its mask")
		}
	case m.GetRange() != nil:
		if fm.matchType != p4info.MatchField_RANGE {
			return invalid("field %s is not a range match")
		}
		if !fits(m.GetRange().Low, m.GetRange().High) {
			return invalid("bounds of field %s exceed its width")
		}
		fm.value = utils.PadToBitwidth(m.GetRange().Low, field.Bitwidth)
		fm.high = utils.PadToBitwidth(m.GetRange().High, field.Bitwidth)
		if bytes.Compare(fm.value, fm.high) > 0 {
			return invalid("empty range for field %s")
		}
	case m.GetOptional() != nil:
		if fm.matchType != p4info.MatchField_OPTIONAL {
			return invalid("field %s is not an optional match")
		}
		if !fits(m.GetOptional().Value) {
			return invalid("value of field %s exceeds its width")
		}
		fm.value = utils.PadToBitwidth(m.GetOptional().Value, field.Bitwidth)
	default:
		return invalid("unsupported match kind for field %s")
	}
	return fm, nil
}

// lpmMask produces the mask of an LPM match of the given prefix length on a field of the given bit-width
func lpmMask(prefixLen int32, bits int32) []byte {
	width := utils.ByteWidth(bits)
	return prefixMask(prefixLen+int32(width*8)-bits, width)
}

// prefixMask produces a mask of the given byte width with the leading prefixLen bits set
func prefixMask(prefixLen int32, width int) []byte {
	mask := make([]byte, width)
	for i := 0; i < width && prefixLen > 0; i++ {
		if prefixLen >= 8 {
			mask[i] = 0xff
		} else {
			mask[i] = ^byte(0xff >> uint(prefixLen))
		}
		prefixLen -= 8
	}
	return mask
}

func maskBytes(value []byte, mask []byte) []byte {
	masked := make([]byte, len(value))
	for i := range value {
		if i < len(mask) {
			masked[i] = value[i] & mask[i]
		}
	}
	return masked
}

func strip(entry *p4api.TableEntry) *p4api.TableEntry {
	stored := proto.Clone(entry).(*p4api.TableEntry)
	stored.CounterData = nil
	return stored
}

func counterDataOrEmpty(data *p4api.CounterData) *p4api.CounterData {
	if data == nil {
		return &p4api.CounterData{}
	}
	return proto.Clone(data).(*p4api.CounterData)
}

func writeHash(hash hash.Hash64, n int32) {
	_, _ = hash.Write([]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
}

type entityBuffer struct {
	entities []*p4api.Entity
	sender   BatchSender
}

func newBuffer(sender BatchSender) *entityBuffer {
	return &entityBuffer{
		entities: make([]*p4api.Entity, 0, 64),
		sender:   sender,
	}
}

// Sends the specified entity via an accumulation buffer, flushing when buffer reaches capacity
func (eb *entityBuffer) sendEntity(entity *p4api.Entity) error {
	eb.entities = append(eb.entities, entity)
	if len(eb.entities) == cap(eb.entities) {
		return eb.flush()
	}
	return nil
}

// Flushes the buffer by sending the buffered entities and resets the buffer
func (eb *entityBuffer) flush() error {
	if len(eb.entities) == 0 {
		return nil
	}
	err := eb.sender(eb.entities)
	eb.entities = make([]*p4api.Entity, 0, 64)
	return err
}
