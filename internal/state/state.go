// Package state holds the durable program state: subscriber groups, their
// delivery destinations and subscriptions, and per-topic watermarks. All
// mutation goes through State so a single mutex and dirty generation cover
// everything.
package state

import (
	"sort"
	"sync"

	"steamnewsbot/internal/feeds"
)

// Destination is where a group's announcements are delivered. ThreadID is the
// forum-topic thread inside the chat, 0 for plain chats.
type Destination struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

type group struct {
	id         int64
	name       string
	dest       *Destination
	subscribed map[feeds.AppID]struct{}
}

// GroupInfo is a read-only snapshot of one group. Subscribed is sorted
// ascending.
type GroupInfo struct {
	ID         int64
	Name       string
	Dest       *Destination
	Subscribed []feeds.AppID
}

func (g *group) snapshot() GroupInfo {
	info := GroupInfo{ID: g.id, Name: g.name}
	if g.dest != nil {
		d := *g.dest
		info.Dest = &d
	}
	info.Subscribed = make([]feeds.AppID, 0, len(g.subscribed))
	for id := range g.subscribed {
		info.Subscribed = append(info.Subscribed, id)
	}
	sort.Slice(info.Subscribed, func(i, j int) bool { return info.Subscribed[i] < info.Subscribed[j] })
	return info
}

// State is the in-memory registry. Safe for concurrent use.
type State struct {
	mu         sync.Mutex
	groups     map[int64]*group
	watermarks map[feeds.AppID]int64

	// gen increments on every mutation; Save uses it to decide whether a
	// successful write may clear dirty.
	gen   uint64
	dirty bool

	path string
	// saveMu serializes writers of the state file.
	saveMu sync.Mutex
}

// New creates an empty registry that persists to path.
func New(path string) *State {
	return &State{
		groups:     make(map[int64]*group),
		watermarks: make(map[feeds.AppID]int64),
		path:       path,
	}
}

func (s *State) touch() {
	s.gen++
	s.dirty = true
}

// GetOrCreateGroup returns the group's snapshot, creating it on first sight.
// An existing group's display name is refreshed when the chat was renamed.
func (s *State) GetOrCreateGroup(id int64, name string) GroupInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		g = &group{id: id, name: name, subscribed: make(map[feeds.AppID]struct{})}
		s.groups[id] = g
		s.touch()
	} else if name != "" && g.name != name {
		g.name = name
		s.touch()
	}
	return g.snapshot()
}

// Group returns a snapshot without creating anything.
func (s *State) Group(id int64) (GroupInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return GroupInfo{}, false
	}
	return g.snapshot(), true
}

// SetDestination points the group's announcements at dest. A nil dest mutes
// the group: it keeps its subscriptions but drops out of fan-out.
// Returns true if the destination actually changed.
func (s *State) SetDestination(groupID int64, dest *Destination) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return false
	}
	if destEqual(g.dest, dest) {
		return false
	}
	if dest == nil {
		g.dest = nil
	} else {
		d := *dest
		g.dest = &d
	}
	s.touch()
	return true
}

func destEqual(a, b *Destination) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// AddFeed subscribes the group to an app. When the group has no destination
// yet, candidate (the chat the command came from) becomes its destination, so
// a bare /add works without a prior /posthere.
// Returns whether the subscription was new and whether the destination was set.
func (s *State) AddFeed(groupID int64, app feeds.AppID, candidate *Destination) (added, destSet bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return false, false
	}
	if _, dup := g.subscribed[app]; !dup {
		g.subscribed[app] = struct{}{}
		added = true
		s.touch()
	}
	if g.dest == nil && candidate != nil {
		d := *candidate
		g.dest = &d
		destSet = true
		s.touch()
	}
	return added, destSet
}

// RemoveFeed unsubscribes the group from an app. Returns false if it was not
// subscribed.
func (s *State) RemoveFeed(groupID int64, app feeds.AppID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return false
	}
	if _, sub := g.subscribed[app]; !sub {
		return false
	}
	delete(g.subscribed, app)
	s.touch()
	return true
}

// PurgeFeeds drops every subscription of the group, returning how many were
// removed. The group itself and its destination survive.
func (s *State) PurgeFeeds(groupID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return 0
	}
	n := len(g.subscribed)
	if n == 0 {
		return 0
	}
	g.subscribed = make(map[feeds.AppID]struct{})
	s.touch()
	return n
}

// Watermark returns the stored watermark for a topic and whether the topic
// has ever completed a successful poll.
func (s *State) Watermark(app feeds.AppID) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.watermarks[app]
	return wm, ok
}

// AdvanceWatermark moves a topic's watermark forward. Zero and backwards
// moves are refused so replayed or undated batches can never rewind
// delivery progress. Returns true if the watermark changed.
func (s *State) AdvanceWatermark(app feeds.AppID, ts int64) bool {
	if ts <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.watermarks[app]; ok && ts <= cur {
		return false
	}
	s.watermarks[app] = ts
	s.touch()
	return true
}

// MarkSeen records that a topic completed a poll without advancing past wm.
// Used for the very first poll of a topic whose items are all undated.
func (s *State) MarkSeen(app feeds.AppID, wm int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watermarks[app]; ok {
		return
	}
	if wm < 0 {
		wm = 0
	}
	s.watermarks[app] = wm
	s.touch()
}

// ActiveFanout maps each subscribed app to the groups that should receive it.
// Only groups with a destination participate. Groups appear in ascending id
// order so delivery order is deterministic.
func (s *State) ActiveFanout() map[feeds.AppID][]GroupInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make(map[feeds.AppID][]GroupInfo)
	for _, id := range ids {
		g := s.groups[id]
		if g.dest == nil || len(g.subscribed) == 0 {
			continue
		}
		info := g.snapshot()
		for app := range g.subscribed {
			out[app] = append(out[app], info)
		}
	}
	return out
}

// Groups returns snapshots of every group, ascending by id.
func (s *State) Groups() []GroupInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GroupInfo, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dirty reports whether there are unsaved changes.
func (s *State) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}
