package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Kind numbers with special meaning to relaymux.
const (
	KindProfile  = 0 // author metadata
	KindNote     = 1
	KindContacts = 3 // follow list
)

// MetadataKinds are the kinds served by the specialized low-latency relay subset.
var MetadataKinds = []int{KindProfile, KindContacts}

// IsMetadataKind reports whether kind is one of MetadataKinds.
func IsMetadataKind(kind int) bool {
	for _, k := range MetadataKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Event is an immutable relay-network record. Two events with the same ID
// are the same event.
type Event struct {
	ID        string     `json:"id"`
	Author    string     `json:"pubkey"`
	Kind      int        `json:"kind"`
	CreatedAt int64      `json:"created_at"` // unix seconds
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig,omitempty"` // carried as-is, never verified
}

// TagValues returns the values (second element) of every tag named name.
func (e *Event) TagValues(name string) []string {
	var out []string
	for _, tag := range e.Tags {
		if len(tag) > 1 && tag[0] == name {
			out = append(out, tag[1])
		}
	}
	return out
}

// ParseEvent decodes a JSON-encoded event.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.Tags == nil {
		ev.Tags = [][]string{}
	}
	return &ev, nil
}

// ComputeID returns the hex sha256 of the event's canonical serialization,
// [0, pubkey, created_at, kind, tags, content], as relays expect.
func (e *Event) ComputeID() string {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a slice of strings, ints and string slices cannot fail.
	_ = enc.Encode([]any{0, e.Author, e.CreatedAt, e.Kind, tags, e.Content})
	sum := sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(sum[:])
}
