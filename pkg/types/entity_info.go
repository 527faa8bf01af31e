package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownEntity is returned by EntityInfo accessors for ids that are not
// part of the collected info.
var ErrUnknownEntity = errors.New("unknown entity")

// Record holds the collected metadata of one entity.
//
// Records are handled through pointers: when an id redirects to another, both
// keys of the resolver's working map hold the same *Record, and writes through
// either key are visible through both.
type Record struct {
	ID           string
	Type         string
	Labels       TermList
	Descriptions TermList

	// Fields carries any additional fields collected for the entity.
	Fields map[string]any
}

// NewRecord returns a record for the given id with empty term lists.
func NewRecord(id EntityID) *Record {
	r := &Record{}
	r.SetID(id)
	return r
}

// SetID stamps the id and type fields of the record.
func (r *Record) SetID(id EntityID) {
	r.ID = id.Serialization()
	r.Type = id.EntityType()
}

// Terms returns the term list for kind, or nil for unknown kinds or
// lists that have not been initialised.
func (r *Record) Terms(kind TermKind) TermList {
	switch kind {
	case TermLabel:
		return r.Labels
	case TermDescription:
		return r.Descriptions
	default:
		return nil
	}
}

// EnsureTerms initialises the term list for kind if it is nil and returns it.
// It returns nil for unknown kinds.
func (r *Record) EnsureTerms(kind TermKind) TermList {
	switch kind {
	case TermLabel:
		if r.Labels == nil {
			r.Labels = TermList{}
		}
		return r.Labels
	case TermDescription:
		if r.Descriptions == nil {
			r.Descriptions = TermList{}
		}
		return r.Descriptions
	default:
		return nil
	}
}

// SetField sets an additional field on the record.
func (r *Record) SetField(name string, value any) {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.Fields[name] = value
}

// Clone returns a deep copy of the record's term lists and a shallow copy of
// its extra fields.
func (r *Record) Clone() *Record {
	c := &Record{ID: r.ID, Type: r.Type}
	if r.Labels != nil {
		c.Labels = make(TermList, len(r.Labels))
		for k, v := range r.Labels {
			c.Labels[k] = v
		}
	}
	if r.Descriptions != nil {
		c.Descriptions = make(TermList, len(r.Descriptions))
		for k, v := range r.Descriptions {
			c.Descriptions[k] = v
		}
	}
	if r.Fields != nil {
		c.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			c.Fields[k] = v
		}
	}
	return c
}

// MarshalJSON flattens the record into a single field map.
func (r *Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		m[k] = v
	}
	if r.ID != "" {
		m["id"] = r.ID
	}
	if r.Type != "" {
		m["type"] = r.Type
	}
	if r.Labels != nil {
		m["labels"] = r.Labels
	}
	if r.Descriptions != nil {
		m["descriptions"] = r.Descriptions
	}
	return json.Marshal(m)
}

// EntityInfo is the read-only result of an entity info collection: a map of
// serialized entity ids to records. Several ids may share one record when
// they redirect to the same entity. Callers must not modify the records.
type EntityInfo struct {
	records map[string]*Record
}

// NewEntityInfo wraps records in an EntityInfo. The map is copied; the
// records are not.
func NewEntityInfo(records map[string]*Record) *EntityInfo {
	m := make(map[string]*Record, len(records))
	for k, v := range records {
		m[k] = v
	}
	return &EntityInfo{records: m}
}

// Len returns the number of entity ids in the info.
func (e *EntityInfo) Len() int {
	return len(e.records)
}

// IDs returns the serialized ids in sorted order.
func (e *EntityInfo) IDs() []string {
	ids := make([]string, 0, len(e.records))
	for id := range e.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasEntityInfo reports whether info was collected for id.
func (e *EntityInfo) HasEntityInfo(id EntityID) bool {
	_, ok := e.records[id.Serialization()]
	return ok
}

// GetEntityInfo returns the record for id.
func (e *EntityInfo) GetEntityInfo(id EntityID) (*Record, error) {
	r, ok := e.records[id.Serialization()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, id.Serialization())
	}
	return r, nil
}

// GetLabel returns the label of id in lang. ok is false when no label is
// known in that language; err is set when id is not part of the info.
func (e *EntityInfo) GetLabel(id EntityID, lang string) (string, bool, error) {
	return e.getTerm(id, TermLabel, lang)
}

// GetDescription returns the description of id in lang, see GetLabel.
func (e *EntityInfo) GetDescription(id EntityID, lang string) (string, bool, error) {
	return e.getTerm(id, TermDescription, lang)
}

// GetLabels returns the labels of id keyed by language. When langs is non-empty
// only those languages are included.
func (e *EntityInfo) GetLabels(id EntityID, langs ...string) (map[string]string, error) {
	return e.getTermValues(id, TermLabel, langs)
}

// GetDescriptions returns the descriptions of id keyed by language, see GetLabels.
func (e *EntityInfo) GetDescriptions(id EntityID, langs ...string) (map[string]string, error) {
	return e.getTermValues(id, TermDescription, langs)
}

func (e *EntityInfo) getTerm(id EntityID, kind TermKind, lang string) (string, bool, error) {
	r, err := e.GetEntityInfo(id)
	if err != nil {
		return "", false, err
	}
	t, ok := r.Terms(kind)[lang]
	if !ok {
		return "", false, nil
	}
	return t.Value, true, nil
}

func (e *EntityInfo) getTermValues(id EntityID, kind TermKind, langs []string) (map[string]string, error) {
	r, err := e.GetEntityInfo(id)
	if err != nil {
		return nil, err
	}
	terms := r.Terms(kind)
	out := make(map[string]string, len(terms))
	if len(langs) == 0 {
		for lang, t := range terms {
			out[lang] = t.Value
		}
		return out, nil
	}
	for _, lang := range langs {
		if t, ok := terms[lang]; ok {
			out[lang] = t.Value
		}
	}
	return out, nil
}

// AsMap returns a copy of the id to record map. Aliased ids keep sharing
// their record.
func (e *EntityInfo) AsMap() map[string]*Record {
	m := make(map[string]*Record, len(e.records))
	for k, v := range e.records {
		m[k] = v
	}
	return m
}

// MarshalJSON encodes the info as a JSON object keyed by entity id.
func (e *EntityInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.records)
}
