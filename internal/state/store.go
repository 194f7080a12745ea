package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"steamnewsbot/internal/feeds"
)

// envelopeVersion is the on-disk format version. Anything else is from a
// different build of this program and must not be guessed at.
const envelopeVersion = 1

// ErrUnknownVersion means the state file was written by an incompatible
// version. Loading stops rather than risk clobbering it.
var ErrUnknownVersion = errors.New("unknown state file version")

type envelope struct {
	Version int             `json:"version"`
	State   json.RawMessage `json:"state"`
}

type persistedState struct {
	Servers    []persistedServer     `json:"servers"`
	Timestamps map[feeds.AppID]int64 `json:"timestamps"`
}

type persistedServer struct {
	ID         int64         `json:"id"`
	Name       string        `json:"name"`
	Channel    *Destination  `json:"channel"`
	Subscribed []feeds.AppID `json:"subscribed"`
}

// Load reads the state file at path. A missing file yields a fresh empty
// state; a file with an unrecognized version yields ErrUnknownVersion; any
// other failure (unreadable, corrupt) is returned as-is so the caller can
// abort instead of silently starting over.
func Load(path string) (*State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(path), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", path, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnknownVersion, env.Version, envelopeVersion)
	}

	var ps persistedState
	if err := json.Unmarshal(env.State, &ps); err != nil {
		return nil, fmt.Errorf("decode state payload: %w", err)
	}

	s := New(path)
	for _, srv := range ps.Servers {
		g := &group{
			id:         srv.ID,
			name:       srv.Name,
			subscribed: make(map[feeds.AppID]struct{}, len(srv.Subscribed)),
		}
		if srv.Channel != nil {
			d := *srv.Channel
			g.dest = &d
		}
		for _, app := range srv.Subscribed {
			g.subscribed[app] = struct{}{}
		}
		s.groups[srv.ID] = g
	}
	if ps.Timestamps != nil {
		s.watermarks = ps.Timestamps
	}
	return s, nil
}

func (s *State) marshal() ([]byte, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps := persistedState{
		Servers:    make([]persistedServer, 0, len(s.groups)),
		Timestamps: s.watermarks,
	}
	ids := make([]int64, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		info := s.groups[id].snapshot()
		ps.Servers = append(ps.Servers, persistedServer{
			ID:         info.ID,
			Name:       info.Name,
			Channel:    info.Dest,
			Subscribed: info.Subscribed,
		})
	}

	b, err := json.Marshal(envelope{Version: envelopeVersion, State: mustRaw(ps)})
	if err != nil {
		return nil, 0, err
	}
	return b, s.gen, nil
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// persistedState contains only marshalable types.
		panic(err)
	}
	return b
}

// Save writes the state file if there are unsaved changes. The write is
// atomic: a temp file in the same directory is fsynced then renamed over the
// target, so a crash leaves either the old or the new file, never a torn one.
func (s *State) Save() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	b, gen, err := s.marshal()
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(b); err != nil {
		cleanup()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}

	// Clear dirty only if nothing mutated while we were writing.
	s.mu.Lock()
	if s.gen == gen {
		s.dirty = false
	}
	s.mu.Unlock()
	return nil
}

// Path returns the file the state persists to.
func (s *State) Path() string { return s.path }
