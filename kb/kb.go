package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/signalsfoundry/sewerflow-simulator/model"
)

var (
	// ErrSiteExists indicates a site with the same ID is already registered.
	ErrSiteExists = errors.New("site already exists")
	// ErrSiteNotFound indicates a requested site was not found.
	ErrSiteNotFound = errors.New("site not found")
	// ErrSiteInvalid indicates a site failed validation.
	ErrSiteInvalid = errors.New("invalid site")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventSiteAdded EventType = iota
	EventSiteMoved
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type EventType
	Site model.SiteDefinition
}

// KnowledgeBase is an in-memory, thread-safe catalogue of the catchment's
// sites: flow meters, the treatment plant and the overflow outfall.
type KnowledgeBase struct {
	mu sync.RWMutex

	sites map[string]*model.SiteDefinition
	// order keeps registration order so listings are deterministic.
	order []string

	subs   []subscriber
	nextID uint64
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		sites: make(map[string]*model.SiteDefinition),
	}
}

// AddSite registers a new site. It returns an error if the ID is empty or
// already exists.
func (kb *KnowledgeBase) AddSite(s *model.SiteDefinition) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: nil or empty ID", ErrSiteInvalid)
	}

	kb.mu.Lock()
	if _, exists := kb.sites[s.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSiteExists, s.ID)
	}
	cp := *s
	kb.sites[s.ID] = &cp
	kb.order = append(kb.order, s.ID)
	subs := append([]subscriber(nil), kb.subs...)
	kb.mu.Unlock()

	notify(subs, Event{Type: EventSiteAdded, Site: cp})
	return nil
}

// GetSite returns a copy of the site with the given ID.
func (kb *KnowledgeBase) GetSite(id string) (model.SiteDefinition, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	s, ok := kb.sites[id]
	if !ok {
		return model.SiteDefinition{}, fmt.Errorf("%w: %q", ErrSiteNotFound, id)
	}
	return *s, nil
}

// Location returns the location of a site and whether it is known.
func (kb *KnowledgeBase) Location(id string) (orb.Point, bool) {
	if kb == nil {
		return orb.Point{}, false
	}
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	s, ok := kb.sites[id]
	if !ok {
		return orb.Point{}, false
	}
	return s.Location, true
}

// ListSites returns a snapshot slice of all sites in registration order.
func (kb *KnowledgeBase) ListSites() []model.SiteDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.SiteDefinition, 0, len(kb.order))
	for _, id := range kb.order {
		res = append(res, *kb.sites[id])
	}
	return res
}

// ListSitesByKind returns the sites of the given kind sorted by ID.
func (kb *KnowledgeBase) ListSitesByKind(kind model.SiteKind) []model.SiteDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var res []model.SiteDefinition
	for _, s := range kb.sites {
		if s.Kind == kind {
			res = append(res, *s)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Bound returns the bounding box of every registered site.
func (kb *KnowledgeBase) Bound() orb.Bound {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	mp := make(orb.MultiPoint, 0, len(kb.sites))
	for _, id := range kb.order {
		mp = append(mp, kb.sites[id].Location)
	}
	return mp.Bound()
}

// MoveSite updates a site's location and notifies subscribers. The point
// must be a valid WGS84 longitude/latitude pair.
func (kb *KnowledgeBase) MoveSite(id string, loc orb.Point) error {
	if !validLocation(loc) {
		return fmt.Errorf("%w: location %v out of range", ErrSiteInvalid, loc)
	}
	kb.mu.Lock()
	s, ok := kb.sites[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSiteNotFound, id)
	}
	s.Location = loc
	event := Event{
		Type: EventSiteMoved,
		Site: *s, // copy for safety
	}
	subs := append([]subscriber(nil), kb.subs...)
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	notify(subs, event)
	return nil
}

func validLocation(p orb.Point) bool {
	lon, lat := p.Lon(), p.Lat()
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}

// Len returns the number of registered sites.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.sites)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.nextID++
	id := kb.nextID
	kb.subs = append(kb.subs, subscriber{id: id, fn: fn})

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		for i, s := range kb.subs {
			if s.id == id {
				kb.subs = append(kb.subs[:i:i], kb.subs[i+1:]...)
				return
			}
		}
	}
}

func notify(subs []subscriber, e Event) {
	for _, s := range subs {
		s.fn(e)
	}
}
