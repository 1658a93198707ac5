// Package model defines the core telemetry types shared by every actor in the
// fabric: Group/Unit identity, the opaque Value payload, the Update tagged
// union, and the Record/Data envelopes that carry them between actors.
package model

import (
	"encoding/base64"
	"fmt"
)

// Group is a named logical bucket of telemetry channels (e.g. one broker).
type Group string

// Unit is a named channel within a Group (e.g. one topic).
type Unit string

// Value is an opaque byte payload carried by an Update.
type Value []byte

// IntoBase64 renders the value the way the wire DTOs expect it.
func (v Value) IntoBase64() string {
	return base64.StdEncoding.EncodeToString(v)
}

// ValueFromBase64 is the inverse of IntoBase64.
func ValueFromBase64(s string) (Value, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("model: decode value: %w", err)
	}
	return Value(b), nil
}

// UpdateKind discriminates the Update tagged union for storage and wire
// serialization. The numeric values are bit-exact with the persisted schema.
type UpdateKind uint8

const (
	UpdateKindOffline UpdateKind = 0
	UpdateKindOnline  UpdateKind = 1
	UpdateKindValue   UpdateKind = 2
)

// Update is Online | Offline | Value(bytes). Only one of the fields is
// meaningful at a time, discriminated by Kind; Go has no sum type so this is
// the idiomatic tagged-struct encoding used the same way throughout the
// fabric's signal types.
type Update struct {
	Kind  UpdateKind
	Value Value
}

func UpdateOnline() Update  { return Update{Kind: UpdateKindOnline} }
func UpdateOffline() Update { return Update{Kind: UpdateKindOffline} }
func UpdateValue(v Value) Update {
	return Update{Kind: UpdateKindValue, Value: v}
}

// ToSer produces the bit-exact persisted/wire representation: a leading type
// byte (0=Offline, 1=Online, 2=Value) followed by the raw value bytes, if any.
func (u Update) ToSer() []byte {
	if u.Kind != UpdateKindValue {
		return []byte{byte(u.Kind)}
	}
	out := make([]byte, 1+len(u.Value))
	out[0] = byte(u.Kind)
	copy(out[1:], u.Value)
	return out
}

// UpdateFromSer is the inverse of ToSer.
func UpdateFromSer(b []byte) (Update, error) {
	if len(b) == 0 {
		return Update{}, fmt.Errorf("model: empty update serialization")
	}
	switch UpdateKind(b[0]) {
	case UpdateKindOffline:
		return UpdateOffline(), nil
	case UpdateKindOnline:
		return UpdateOnline(), nil
	case UpdateKindValue:
		return UpdateValue(Value(b[1:])), nil
	default:
		return Update{}, fmt.Errorf("model: unknown update type byte %d", b[0])
	}
}

// Record is an immutable ingested event bound to a monotonic per-unit ID.
type Record[T any] struct {
	ID      uint64
	Time    int64 // epoch milliseconds, UTC
	IsSaved bool
	Val     T
}

// DataKind discriminates the Data tagged union.
type DataKind uint8

const (
	DataKindSingle DataKind = iota
	DataKindMulti
)

// GroupUnits is one Group's worth of per-unit payloads within a Multi.
type GroupUnits[T any] struct {
	Group Group
	Units []UnitVal[T]
}

// UnitVal pairs a Unit with its payload, preserving insertion order the way
// the original's IndexMap-backed fan-out does.
type UnitVal[T any] struct {
	Unit Unit
	Val  T
}

// Data is Single(group,unit,T) | Multi([]GroupUnits[T]), the shape carried
// between the Subscriber adapter, the DB actor, Comm, and the mailbox as T
// ranges over Update (ingest) and Record[Update] (post-assignment fan-out).
type Data[T any] struct {
	Kind   DataKind
	Group  Group
	Unit   Unit
	Val    T
	Groups []GroupUnits[T]
}

func DataSingle[T any](g Group, u Unit, v T) Data[T] {
	return Data[T]{Kind: DataKindSingle, Group: g, Unit: u, Val: v}
}

func DataMulti[T any](groups []GroupUnits[T]) Data[T] {
	return Data[T]{Kind: DataKindMulti, Groups: groups}
}

// IsEmpty reports whether a Multi payload carries zero unit entries across
// all of its groups; Single is never empty.
func (d Data[T]) IsEmpty() bool {
	if d.Kind == DataKindSingle {
		return false
	}
	for _, g := range d.Groups {
		if len(g.Units) > 0 {
			return false
		}
	}
	return true
}
