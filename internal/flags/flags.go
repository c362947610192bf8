// Package flags holds the runtime feature flags that steer relay selection
// and subscription logging.
//
// Flags are kept in a Cell: writers replace the whole value atomically and
// readers take one snapshot per dispatch cycle, so an update never lands in
// the middle of a Subscribe call.
package flags

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/BurntSushi/toml"
)

// Flags is the complete set of runtime toggles.
type Flags struct {
	LoggingEnabled            bool `toml:"logging_enabled" json:"logging_enabled"`
	UseSpecializedRelaySubset bool `toml:"use_specialized_relay_subset" json:"use_specialized_relay_subset"`
	UseExternalPool           bool `toml:"use_external_pool" json:"use_external_pool"`
}

// Defaults returns the flags used when nothing has been pushed yet.
func Defaults() Flags {
	return Flags{UseExternalPool: true}
}

// Cell is a push-updated configuration cell.
type Cell struct {
	v atomic.Pointer[Flags]

	mu       sync.Mutex
	watchers []func(Flags)
}

// NewCell returns a cell holding initial.
func NewCell(initial Flags) *Cell {
	c := &Cell{}
	c.v.Store(&initial)
	return c
}

// Load returns the current snapshot.
func (c *Cell) Load() Flags {
	return *c.v.Load()
}

// Store replaces the flags and notifies watchers.
func (c *Cell) Store(f Flags) {
	c.v.Store(&f)

	c.mu.Lock()
	watchers := append([]func(Flags){}, c.watchers...)
	c.mu.Unlock()
	for _, fn := range watchers {
		fn(f)
	}
}

// OnChange registers fn to be called after every Store.
func (c *Cell) OnChange(fn func(Flags)) {
	c.mu.Lock()
	c.watchers = append(c.watchers, fn)
	c.mu.Unlock()
}

// LoadFile decodes flags from a TOML file. Keys missing from the file keep
// their Defaults value.
func LoadFile(path string) (Flags, error) {
	f := Defaults()
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return Defaults(), fmt.Errorf("decode flags file %s: %w", path, err)
	}
	return f, nil
}

// SaveFile writes f to path as TOML.
func SaveFile(path string, f Flags) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()
	return toml.NewEncoder(out).Encode(f)
}
