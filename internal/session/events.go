package session

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Events maps checkpoint names to elapsed milliseconds. Keys keep their
// first-insertion order, which is also the order they are encoded in.
// The zero value is ready to use.
type Events struct {
	keys   []string
	values map[string]float64
}

// Set records v under name. An existing name keeps its position.
func (e *Events) Set(name string, v float64) {
	if e.values == nil {
		e.values = make(map[string]float64)
	}
	if _, ok := e.values[name]; !ok {
		e.keys = append(e.keys, name)
	}
	e.values[name] = v
}

// Get returns the value recorded under name.
func (e *Events) Get(name string) (float64, bool) {
	v, ok := e.values[name]
	return v, ok
}

// Keys returns checkpoint names in insertion order.
func (e *Events) Keys() []string {
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out
}

// Len returns the number of checkpoints.
func (e *Events) Len() int { return len(e.keys) }

// Clone returns an independent copy.
func (e *Events) Clone() Events {
	c := Events{keys: e.Keys(), values: make(map[string]float64, len(e.values))}
	for k, v := range e.values {
		c.values[k] = v
	}
	return c
}

// Map returns the checkpoints as a plain map.
func (e *Events) Map() map[string]float64 {
	m := make(map[string]float64, len(e.values))
	for k, v := range e.values {
		m[k] = v
	}
	return m
}

// MarshalJSON encodes the checkpoints as a JSON object in insertion order.
func (e Events) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range e.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(e.values[k])
		if err != nil {
			return nil, fmt.Errorf("checkpoint %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of numbers, preserving key order.
func (e *Events) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("events: expected object, got %v", tok)
	}
	*e = Events{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("events: expected key, got %v", tok)
		}
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("events: checkpoint %q: %w", name, err)
		}
		v, err := n.Float64()
		if err != nil {
			return fmt.Errorf("events: checkpoint %q: %w", name, err)
		}
		e.Set(name, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
