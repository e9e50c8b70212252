package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// UIDField is the metadata key holding the record identifier.
const UIDField = "uid"

var (
	// ErrMissingUID is returned when a metadata record carries no usable uid.
	ErrMissingUID = errors.New("metadata record has no uid")
	// ErrNotObject is returned when metadata JSON is not an object.
	ErrNotObject = errors.New("metadata is not a json object")
)

// RecordID is the upstream (Entrez) identifier of a nuccore record.
type RecordID = string

// Metadata is one esummary result. Raw holds the upstream bytes, which are
// what the cache and every sink store; Fields is a read-only decoded view
// with numbers kept as json.Number.
type Metadata struct {
	Raw    json.RawMessage
	Fields map[string]interface{}
}

// ParseMetadata keeps a copy of raw and decodes it into Fields.
func ParseMetadata(raw []byte) (Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return Metadata{}, err
	}
	if fields == nil {
		return Metadata{}, ErrNotObject
	}
	if dec.More() {
		return Metadata{}, errors.New("trailing data after metadata object")
	}
	return Metadata{Raw: append(json.RawMessage(nil), raw...), Fields: fields}, nil
}

// MustMetadata is ParseMetadata for fixtures; it panics on invalid input.
func MustMetadata(raw string) Metadata {
	md, err := ParseMetadata([]byte(raw))
	if err != nil {
		panic(fmt.Sprintf("model: invalid metadata %q: %v", raw, err))
	}
	return md
}

// UID returns the record identifier, or "" if absent or not a string.
func (m Metadata) UID() RecordID {
	s, _ := m.Fields[UIDField].(string)
	return s
}

// Sequence is (uid, fasta); FASTA is empty when the fetch failed.
type Sequence struct {
	UID   RecordID `json:"uid"`
	FASTA string   `json:"fasta"`
}

// Row is (uid, metadata_json, fasta) as written by every sink.
type Row struct {
	UID      RecordID
	Metadata json.RawMessage
	FASTA    string
}

// Join pairs each metadata record with its sequence by uid.
// The sequence index is built once; records without a uid are rejected.
func Join(metadata []Metadata, sequences []Sequence) ([]Row, error) {
	fastaByUID := make(map[RecordID]string, len(sequences))
	for _, s := range sequences {
		fastaByUID[s.UID] = s.FASTA
	}
	rows := make([]Row, 0, len(metadata))
	for _, md := range metadata {
		uid := md.UID()
		if uid == "" {
			return nil, ErrMissingUID
		}
		rows = append(rows, Row{UID: uid, Metadata: md.Raw, FASTA: fastaByUID[uid]})
	}
	return rows, nil
}
