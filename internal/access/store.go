// Package access stores per-guild role requirements for commands and
// actions, and exposes the /roles commands that edit them.
package access

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	yaml "go.yaml.in/yaml/v3"

	"raidbot/internal/config"
	"raidbot/internal/eventbus"
	logx "raidbot/pkg/logx"
)

// Document is the on-disk permission layout:
//
//	guilds:
//	  "1234":
//	    team:
//	      "": ["role-a"]           # the command itself
//	      team-finalize: ["role-b"]
type Document struct {
	Guilds map[string]map[string]map[string][]string `yaml:"guilds"`
}

// Store is the permission collaborator. Reads are lock-protected; every
// mutation rewrites the whole document (last writer wins).
type Store struct {
	path string
	log  logx.Logger
	bus  eventbus.Bus

	mu  sync.RWMutex
	doc Document
}

func Open(path string, log logx.Logger, bus eventbus.Bus) (*Store, error) {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Store{path: strings.TrimSpace(path), log: log, bus: bus}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the document from disk. A missing file is an empty document.
func (s *Store) Reload() error {
	doc := Document{}
	if s.path != "" {
		b, err := os.ReadFile(s.path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return err
		default:
			if err := yaml.Unmarshal(b, &doc); err != nil {
				return fmt.Errorf("access: parse %s: %w", s.path, err)
			}
		}
	}
	if doc.Guilds == nil {
		doc.Guilds = map[string]map[string]map[string][]string{}
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// Watch reloads the document when it is edited on disk, until ctx ends.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	return config.WatchFile(ctx, s.path, s.log, func() {
		if err := s.Reload(); err != nil {
			s.log.Warn("permission document reload failed", logx.Err(err))
			return
		}
		s.log.Info("permission document reloaded")
		s.bus.Publish(eventbus.Event{Type: eventbus.PermissionsReloaded})
	})
}

// RolesRequiredFor returns the role ids allowed to use (command, action) in
// guildID. Empty means everyone is allowed.
func (s *Store) RolesRequiredFor(guildID, command, action string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.doc.Guilds[guildID][command][action]...)
}

// Rule is one flattened requirement, for listings.
type Rule struct {
	Command string
	Action  string
	Roles   []string
}

// Rules lists guildID's requirements sorted by command then action.
func (s *Store) Rules(guildID string) []Rule {
	s.mu.RLock()
	var out []Rule
	for cmd, actions := range s.doc.Guilds[guildID] {
		for act, roles := range actions {
			if len(roles) == 0 {
				continue
			}
			out = append(out, Rule{Command: cmd, Action: act, Roles: append([]string(nil), roles...)})
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Command != out[j].Command {
			return out[i].Command < out[j].Command
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// AddRole appends roleID to the requirement. It reports false if already present.
func (s *Store) AddRole(guildID, command, action, roleID string) (bool, error) {
	added := false
	err := s.mutate(func(d *Document) {
		g := d.Guilds[guildID]
		if g == nil {
			g = map[string]map[string][]string{}
			d.Guilds[guildID] = g
		}
		c := g[command]
		if c == nil {
			c = map[string][]string{}
			g[command] = c
		}
		for _, r := range c[action] {
			if r == roleID {
				return
			}
		}
		c[action] = append(c[action], roleID)
		added = true
	})
	return added && err == nil, err
}

// Clear removes every role from the requirement. It reports whether anything changed.
func (s *Store) Clear(guildID, command, action string) (bool, error) {
	cleared := false
	err := s.mutate(func(d *Document) {
		c := d.Guilds[guildID][command]
		if len(c[action]) == 0 {
			return
		}
		delete(c, action)
		cleared = true
		if len(c) == 0 {
			delete(d.Guilds[guildID], command)
		}
		if len(d.Guilds[guildID]) == 0 {
			delete(d.Guilds, guildID)
		}
	})
	return cleared && err == nil, err
}

// mutate applies fn to a copy of the document and swaps it in only once the
// copy is on disk, so a failed write leaves memory matching the file.
func (s *Store) mutate(fn func(d *Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.doc.clone()
	fn(&next)
	if err := s.write(&next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (d *Document) clone() Document {
	out := Document{Guilds: make(map[string]map[string]map[string][]string, len(d.Guilds))}
	for gid, cmds := range d.Guilds {
		gc := make(map[string]map[string][]string, len(cmds))
		for cmd, acts := range cmds {
			ac := make(map[string][]string, len(acts))
			for act, roles := range acts {
				ac[act] = slices.Clone(roles)
			}
			gc[cmd] = ac
		}
		out.Guilds[gid] = gc
	}
	return out
}

func (s *Store) write(doc *Document) error {
	if s.path == "" {
		return nil
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
