package tasks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformed is returned for envelopes that must never reach Apply.
var ErrMalformed = errors.New("malformed operation")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// MarshalJSON encodes the envelope in the externally tagged form
// {"alleged_time": n, "kind": {"<Kind>": payload}}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Op == nil {
		return nil, malformed("envelope has no operation")
	}
	var payload any = e.Op
	if ow, ok := e.Op.(OverwriteState); ok {
		payload = ow.Snapshot
	}
	return json.Marshal(struct {
		AllegedTime int64        `json:"alleged_time"`
		Kind        map[Kind]any `json:"kind"`
	}{
		AllegedTime: e.AllegedTime,
		Kind:        map[Kind]any{e.Op.Kind(): payload},
	})
}

// UnmarshalJSON enforces that exactly one kind is populated before any
// payload is decoded.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return malformed("invalid json")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return malformed("envelope is not an object")
	}
	at := root.Get("alleged_time")
	if at.Exists() && at.Type != gjson.Number {
		return malformed("alleged_time is not a number")
	}
	kind := root.Get("kind")
	if !kind.IsObject() {
		return malformed("kind is missing or not an object")
	}
	var (
		names   []string
		payload gjson.Result
	)
	kind.ForEach(func(key, value gjson.Result) bool {
		names = append(names, key.String())
		payload = value
		return true
	})
	if len(names) != 1 {
		return malformed("expected exactly one kind, got %d", len(names))
	}
	op, err := decodeOp(Kind(names[0]), payload)
	if err != nil {
		return err
	}
	e.AllegedTime = at.Int()
	e.Op = op
	return nil
}

// DecodeEnvelope is a convenience over json.Unmarshal for transport code.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := e.UnmarshalJSON(data); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func decodeOp(kind Kind, payload gjson.Result) (Op, error) {
	if !payload.IsObject() {
		return nil, malformed("%s payload is not an object", kind)
	}
	raw := []byte(payload.Raw)
	switch kind {
	case KindInsLiveTask:
		var op InsLiveTask
		if err := strictDecode(raw, &op); err != nil {
			return nil, malformed("%s: %v", kind, err)
		}
		return op, requireIDs(kind, op.ID)
	case KindEditLiveTask:
		var op EditLiveTask
		if err := strictDecode(raw, &op); err != nil {
			return nil, malformed("%s: %v", kind, err)
		}
		return op, requireIDs(kind, op.ID)
	case KindDelLiveTask:
		var op DelLiveTask
		if err := strictDecode(raw, &op); err != nil {
			return nil, malformed("%s: %v", kind, err)
		}
		return op, requireIDs(kind, op.ID)
	case KindFinishLiveTask:
		var op FinishLiveTask
		if err := strictDecode(raw, &op); err != nil {
			return nil, malformed("%s: %v", kind, err)
		}
		if !op.Status.Valid() {
			return nil, malformed("%s: unknown status %q", kind, op.Status)
		}
		return op, requireIDs(kind, op.ID)
	case KindRestoreFinishedTask:
		var op RestoreFinishedTask
		if err := strictDecode(raw, &op); err != nil {
			return nil, malformed("%s: %v", kind, err)
		}
		return op, requireIDs(kind, op.ID)
	case KindMvLiveTask:
		var op MvLiveTask
		if err := strictDecode(raw, &op); err != nil {
			return nil, malformed("%s: %v", kind, err)
		}
		return op, requireIDs(kind, op.IDDel, op.IDIns)
	case KindRevLiveTask:
		var op RevLiveTask
		if err := strictDecode(raw, &op); err != nil {
			return nil, malformed("%s: %v", kind, err)
		}
		return op, requireIDs(kind, op.ID1, op.ID2)
	case KindOverwriteState:
		var snap Snapshot
		if err := strictDecode(raw, &snap); err != nil {
			return nil, malformed("%s: %v", kind, err)
		}
		if err := snap.Validate(); err != nil {
			return nil, malformed("%s: %v", kind, err)
		}
		return OverwriteState{Snapshot: snap}, nil
	default:
		return nil, malformed("unknown kind %q", kind)
	}
}

func strictDecode(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func requireIDs(kind Kind, ids ...string) error {
	for _, id := range ids {
		if id == "" {
			return malformed("%s: empty task id", kind)
		}
	}
	return nil
}

// MarshalJSON always emits arrays so clients never see null lists.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type plain Snapshot
	p := plain(s)
	if p.Live == nil {
		p.Live = []LiveTask{}
	}
	if p.Finished == nil {
		p.Finished = []FinishedTask{}
	}
	return json.Marshal(p)
}
