package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Filter selects events. A nil field leaves that dimension unconstrained; a
// present but empty list matches nothing.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Tags    map[string][]string // tag name (without "#") -> accepted values
	Since   *int64
	Until   *int64
	Limit   int // bounds snapshot queries only, never live matching
}

// Matches reports whether ev satisfies every constrained field of f.
func (f *Filter) Matches(ev *Event) bool {
	if ev == nil {
		return false
	}
	if f.IDs != nil && !slices.Contains(f.IDs, ev.ID) {
		return false
	}
	if f.Authors != nil && !slices.Contains(f.Authors, ev.Author) {
		return false
	}
	if f.Kinds != nil && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}
	for name, values := range f.Tags {
		if values == nil {
			continue
		}
		if !hasTag(ev, name, values) {
			return false
		}
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	return true
}

func hasTag(ev *Event, name string, values []string) bool {
	return slices.ContainsFunc(ev.TagValues(name), func(v string) bool {
		return slices.Contains(values, v)
	})
}

// MatchesAny reports whether ev satisfies at least one of filters.
func MatchesAny(filters []Filter, ev *Event) bool {
	for i := range filters {
		if filters[i].Matches(ev) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of f.
func (f Filter) Clone() Filter {
	out := Filter{
		IDs:     cloneSlice(f.IDs),
		Authors: cloneSlice(f.Authors),
		Kinds:   cloneSlice(f.Kinds),
		Limit:   f.Limit,
	}
	if f.Tags != nil {
		out.Tags = make(map[string][]string, len(f.Tags))
		for k, v := range f.Tags {
			out.Tags[k] = cloneSlice(v)
		}
	}
	if f.Since != nil {
		s := *f.Since
		out.Since = &s
	}
	if f.Until != nil {
		u := *f.Until
		out.Until = &u
	}
	return out
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

// IsEmpty reports whether f constrains nothing at all.
func (f *Filter) IsEmpty() bool {
	return f.IDs == nil && f.Authors == nil && f.Kinds == nil && len(f.Tags) == 0 &&
		f.Since == nil && f.Until == nil
}

// Int64 returns a pointer to v, for Since/Until literals.
func Int64(v int64) *int64 { return &v }

// String renders f in its JSON wire form, for logs.
func (f Filter) String() string {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Sprintf("<filter: %v>", err)
	}
	return string(b)
}

// MarshalJSON encodes f in the relay filter format, with tag constraints as
// "#<name>" keys.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]any)
	if f.IDs != nil {
		m["ids"] = f.IDs
	}
	if f.Authors != nil {
		m["authors"] = f.Authors
	}
	if f.Kinds != nil {
		m["kinds"] = f.Kinds
	}
	for name, values := range f.Tags {
		m["#"+name] = values
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the relay filter format. Unknown keys are ignored.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Filter
	// Sorted keys keep error messages deterministic.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := raw[k]
		if string(v) == "null" {
			continue
		}
		var err error
		switch {
		case k == "ids":
			err = json.Unmarshal(v, &out.IDs)
			if err == nil && out.IDs == nil {
				out.IDs = []string{}
			}
		case k == "authors":
			err = json.Unmarshal(v, &out.Authors)
			if err == nil && out.Authors == nil {
				out.Authors = []string{}
			}
		case k == "kinds":
			err = json.Unmarshal(v, &out.Kinds)
			if err == nil && out.Kinds == nil {
				out.Kinds = []int{}
			}
		case k == "since":
			var s int64
			if err = json.Unmarshal(v, &s); err == nil {
				out.Since = &s
			}
		case k == "until":
			var u int64
			if err = json.Unmarshal(v, &u); err == nil {
				out.Until = &u
			}
		case k == "limit":
			err = json.Unmarshal(v, &out.Limit)
		case strings.HasPrefix(k, "#") && len(k) > 1:
			var values []string
			if err = json.Unmarshal(v, &values); err == nil {
				if values == nil {
					values = []string{}
				}
				if out.Tags == nil {
					out.Tags = make(map[string][]string)
				}
				out.Tags[k[1:]] = values
			}
		}
		if err != nil {
			return fmt.Errorf("filter field %q: %w", k, err)
		}
	}
	*f = out
	return nil
}

// ParseFilter decodes a JSON-encoded filter.
func ParseFilter(data []byte) (Filter, error) {
	var f Filter
	if err := json.Unmarshal(data, &f); err != nil {
		return Filter{}, err
	}
	return f, nil
}
