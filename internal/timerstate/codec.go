package timerstate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// Codec serializes a Record for the key-value store.
type Codec interface {
	Marshal(r Record) ([]byte, error)
	Unmarshal(data []byte) (Record, error)
}

func CodecFor(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecCBOR:
		return newCBORCodec()
	default:
		return nil, fmt.Errorf("unknown record codec %q", name)
	}
}

// JSONCodec writes the record with the field names other readers of the store
// expect. Unknown fields are rejected so a foreign payload is not mistaken for
// a timer.
type JSONCodec struct{}

func (JSONCodec) Marshal(r Record) ([]byte, error) {
	return json.Marshal(r)
}

func (JSONCodec) Unmarshal(data []byte) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	for _, field := range []string{"stepId", "practiceIndex", "durationSeconds", "endTimestamp", "paused"} {
		if _, ok := raw[field]; !ok {
			return Record{}, fmt.Errorf("%w: missing %s", ErrInvalidRecord, field)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var r Record
	if err := dec.Decode(&r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return r, nil
}

// CBORCodec is a compact binary encoding for stores that hold raw bytes.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}

	dec, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor dec mode: %w", err)
	}

	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (c *CBORCodec) Marshal(r Record) ([]byte, error) {
	return c.enc.Marshal(r)
}

func (c *CBORCodec) Unmarshal(data []byte) (Record, error) {
	var r Record
	if err := c.dec.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return r, nil
}
