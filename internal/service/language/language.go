// Package language defines the set of output languages the pipeline accepts.
package language

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Code is a BCP-47 style language tag such as "en-US".
type Code string

const (
	// English is the default output language.
	English Code = "en-US"
	// Hindi is the second language shipped with the service.
	Hindi Code = "hi-IN"
)

// Set is a closed enumeration of supported language codes.
// The enumeration can grow at startup (Register) but never silently
// accepts an unknown code.
type Set struct {
	mu    sync.RWMutex
	names map[Code]string
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{names: make(map[Code]string)}
}

// Default returns a set holding the built-in languages.
func Default() *Set {
	s := NewSet()
	s.Register(English, "English")
	s.Register(Hindi, "Hindi")
	return s
}

// Register adds a language to the set. Registering an existing code
// replaces its display name.
func (s *Set) Register(code Code, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[code] = name
}

// RegisterList parses entries of the form "es-ES:Spanish,fr-FR:French"
// and registers each of them.
func (s *Set) RegisterList(list string) error {
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		code, name, ok := strings.Cut(entry, ":")
		code, name = strings.TrimSpace(code), strings.TrimSpace(name)
		if !ok || code == "" || name == "" {
			return fmt.Errorf("invalid language entry %q (want code:name)", entry)
		}
		s.Register(Code(code), name)
	}
	return nil
}

// Supports reports whether code is part of the set.
func (s *Set) Supports(code Code) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.names[code]
	return ok
}

// Name returns the display name of code and whether it is supported.
func (s *Set) Name(code Code) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.names[code]
	return name, ok
}

// Codes returns the supported codes in lexical order.
func (s *Set) Codes() []Code {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]Code, 0, len(s.names))
	for c := range s.names {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
