// Package dto defines the wire-level JSON shapes of the HTTP/WebSocket
// façade, grounded on the original's server/model.rs and the WS protocol
// described in SPEC_FULL.md §6. Keys are kept deliberately short to match
// the bit-exact wire protocol.
package dto

import (
	"encoding/json"

	"github.com/appstronomer/umon/internal/domain/model"
)

// Sess is the base64-JSON session introducer sent as the first WS frame and
// returned (base64-encoded) by POST /login.
type Sess struct {
	Login string `json:"l"`
	Token string `json:"t"`
}

// Auth is the POST /login request body.
type Auth struct {
	Login    string `json:"l"`
	Password string `json:"p"`
}

// QueryHist is the GET /hist query, bound from URL parameters by the HTTP
// handler rather than unmarshaled directly (there is no JSON body on GET).
type QueryHist struct {
	Min   uint64      `json:"i"`
	Max   uint64      `json:"a"`
	Group model.Group `json:"g"`
	Unit  model.Unit  `json:"u"`
}

// DtoUpdate is Update re-expressed for the wire: tag "y" in
// {"f","n","v"}, with Value's payload base64-encoded under "v".
type DtoUpdate struct {
	Y string `json:"y"`
	V string `json:"v,omitempty"`
}

func NewDtoUpdate(u model.Update) DtoUpdate {
	switch u.Kind {
	case model.UpdateKindOnline:
		return DtoUpdate{Y: "n"}
	case model.UpdateKindValue:
		return DtoUpdate{Y: "v", V: u.Value.IntoBase64()}
	default:
		return DtoUpdate{Y: "f"}
	}
}

// DtoRecord is one record on the wire, DtoUpdate's fields flattened in.
type DtoRecord struct {
	ID      uint64 `json:"i"`
	Time    int64  `json:"t"`
	Group   string `json:"g,omitempty"`
	Unit    string `json:"u,omitempty"`
	Y       string `json:"y"`
	V       string `json:"v,omitempty"`
	IsSaved *bool  `json:"s,omitempty"` // present only on the /hist endpoint variant
}

func NewDtoRecord(g model.Group, u model.Unit, rec model.Record[model.Update]) DtoRecord {
	du := NewDtoUpdate(rec.Val)
	return DtoRecord{ID: rec.ID, Time: rec.Time, Group: string(g), Unit: string(u), Y: du.Y, V: du.V}
}

// NewDtoRecordHist is the /hist variant: no group/unit (the caller already
// knows them), but carries is_saved.
func NewDtoRecordHist(rec model.Record[model.Update]) DtoRecord {
	du := NewDtoUpdate(rec.Val)
	saved := rec.IsSaved
	return DtoRecord{ID: rec.ID, Time: rec.Time, Y: du.Y, V: du.V, IsSaved: &saved}
}

// --- WS server -> client envelope, tagged by "x" ---

const (
	OutTagConnected = "c"
	OutTagPing      = "p"
	OutTagData      = "d"
)

// OutConnected is the initial snapshot: {"x":"c","m":{group:[[unit,record|null],...]}}.
type OutConnected struct {
	X string                    `json:"x"`
	M map[string][]SnapshotUnit `json:"m"`
}

// SnapshotUnit is one (unit, last record) pair, encoded as a 2-element
// tuple (`[unit, record_or_null]`) rather than an object, per the wire
// protocol's `[[unit, record|null], ...]` shape.
type SnapshotUnit struct {
	Unit   string
	Record *DtoRecord
}

func (s SnapshotUnit) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{s.Unit, s.Record})
}

func (s *SnapshotUnit) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[0], &s.Unit); err != nil {
		return err
	}
	s.Record = nil
	if string(tuple[1]) == "null" {
		return nil
	}
	var rec DtoRecord
	if err := json.Unmarshal(tuple[1], &rec); err != nil {
		return err
	}
	s.Record = &rec
	return nil
}

func NewOutConnected(m map[string][]SnapshotUnit) OutConnected {
	return OutConnected{X: OutTagConnected, M: m}
}

// OutPing is {"x":"p","v":u64}.
type OutPing struct {
	X string `json:"x"`
	V uint64 `json:"v"`
}

func NewOutPing(v uint64) OutPing { return OutPing{X: OutTagPing, V: v} }

// OutData is {"x":"d","d":[DtoRecord,...]}.
type OutData struct {
	X string      `json:"x"`
	D []DtoRecord `json:"d"`
}

func NewOutData(records []DtoRecord) OutData { return OutData{X: OutTagData, D: records} }

// --- WS client -> server envelope, tagged by "t" ---

const InTagPong = "p"

// InPong is {"t":"p","v":u64}.
type InPong struct {
	T string `json:"t"`
	V uint64 `json:"v"`
}
