package wal

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind distinguishes the payload shapes a WAL frame can carry, per spec.md
// §4.1: a legacy single-operation record, or one leg of a transactional
// begin/op/commit triple.
type Kind uint8

const (
	KindLegacy Kind = iota
	KindBegin
	KindOp
	KindCommit
)

// Record is a decoded WAL frame, seq already split out of the binary header.
type Record struct {
	Seq    uint64
	Kind   Kind
	TxID   string
	Key    []byte
	Value  []byte
	Delete bool
}

type legacyPayload struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value,omitempty"`
}

type txPayload struct {
	Type  string `json:"type"`
	TxID  string `json:"txid"`
	Key   []byte `json:"key,omitempty"`
	Value []byte `json:"value,omitempty"`
}

// EncodeLegacy builds a single-operation payload. An empty value marshals as
// a tombstone per the data model (§3): empty value ⇒ delete.
func EncodeLegacy(key, value []byte) ([]byte, error) {
	return json.Marshal(legacyPayload{Key: key, Value: value})
}

// EncodeBegin builds a transactional BEGIN payload. BEGIN/COMMIT consume no
// sequence (callers pass seq=0 to Append for these frames).
func EncodeBegin(txID string) ([]byte, error) {
	return json.Marshal(txPayload{Type: "begin", TxID: txID})
}

// EncodeOp builds a transactional op payload. value==nil with isDelete=true
// marshals the value field as JSON null, distinguishing an explicit
// tombstone from "no value field at all".
func EncodeOp(txID string, key, value []byte, isDelete bool) ([]byte, error) {
	m := map[string]any{
		"type": "op",
		"txid": txID,
		"key":  key,
	}
	if isDelete {
		m["value"] = nil
	} else {
		m["value"] = value
	}
	return json.Marshal(m)
}

// EncodeCommit builds a transactional COMMIT payload.
func EncodeCommit(txID string) ([]byte, error) {
	return json.Marshal(txPayload{Type: "commit", TxID: txID})
}

// decodePayload recognizes the two payload shapes sharing a frame (§4.1):
// a transactional frame carries a "type" field, a legacy op doesn't.
func decodePayload(seq uint64, payload []byte) (Record, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return Record{}, fmt.Errorf("wal: decode payload: %w", err)
	}

	if rawType, ok := probe["type"]; ok {
		var typeStr string
		if err := json.Unmarshal(rawType, &typeStr); err != nil {
			return Record{}, fmt.Errorf("wal: decode frame type: %w", err)
		}
		var p txPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Record{}, fmt.Errorf("wal: decode tx frame: %w", err)
		}

		rec := Record{Seq: seq, TxID: p.TxID}
		switch typeStr {
		case "begin":
			rec.Kind = KindBegin
		case "commit":
			rec.Kind = KindCommit
		case "op":
			rec.Kind = KindOp
			rec.Key = p.Key
			rawValue, hasValue := probe["value"]
			if !hasValue || bytes.Equal(bytes.TrimSpace(rawValue), []byte("null")) {
				rec.Delete = true
			} else {
				rec.Value = p.Value
			}
		default:
			return Record{}, fmt.Errorf("wal: unknown frame type %q", typeStr)
		}
		return rec, nil
	}

	var p legacyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Record{}, fmt.Errorf("wal: decode legacy frame: %w", err)
	}
	rec := Record{Seq: seq, Kind: KindLegacy, Key: p.Key, Value: p.Value}
	rec.Delete = len(p.Value) == 0
	return rec, nil
}
