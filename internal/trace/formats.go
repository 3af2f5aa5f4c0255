// Package trace is the registry of supported trace formats.
package trace

import (
	"fmt"
	"slices"

	"github.com/roach88/pvm/internal/mapping"
	"github.com/roach88/pvm/internal/trace/cadets"
	"github.com/roach88/pvm/internal/trace/simple"
)

var formats = []mapping.Format{
	cadets.Format{},
	simple.Format{},
}

// Lookup returns the format with the given name.
func Lookup(name string) (mapping.Format, error) {
	for _, f := range formats {
		if f.Name() == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("unknown trace format %q (supported: %v)", name, Names())
}

// Names returns the supported format names, sorted.
func Names() []string {
	names := make([]string, 0, len(formats))
	for _, f := range formats {
		names = append(names, f.Name())
	}
	slices.Sort(names)
	return names
}
