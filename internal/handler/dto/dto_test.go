package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotUnitMarshalsAsTuple(t *testing.T) {
	rec := DtoRecord{ID: 1, Time: 2, Y: "v", V: "eA=="}
	su := SnapshotUnit{Unit: "u1", Record: &rec}

	raw, err := json.Marshal(su)
	require.NoError(t, err)

	var tuple []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &tuple))
	require.Len(t, tuple, 2)

	var unit string
	require.NoError(t, json.Unmarshal(tuple[0], &unit))
	require.Equal(t, "u1", unit)

	var got DtoRecord
	require.NoError(t, json.Unmarshal(tuple[1], &got))
	require.Equal(t, rec, got)
}

func TestSnapshotUnitMarshalsNilRecordAsNull(t *testing.T) {
	su := SnapshotUnit{Unit: "u1"}

	raw, err := json.Marshal(su)
	require.NoError(t, err)
	require.JSONEq(t, `["u1",null]`, string(raw))
}

func TestSnapshotUnitUnmarshalRoundtrip(t *testing.T) {
	rec := DtoRecord{ID: 7, Time: 9, Y: "n"}
	want := SnapshotUnit{Unit: "u2", Record: &rec}

	raw, err := json.Marshal(want)
	require.NoError(t, err)

	var got SnapshotUnit
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, want.Unit, got.Unit)
	require.Equal(t, *want.Record, *got.Record)
}

func TestOutConnectedEnvelopeShape(t *testing.T) {
	out := NewOutConnected(map[string][]SnapshotUnit{
		"g": {{Unit: "u1"}},
	})
	raw, err := json.Marshal(out)
	require.NoError(t, err)
	require.JSONEq(t, `{"x":"c","m":{"g":[["u1",null]]}}`, string(raw))
}
