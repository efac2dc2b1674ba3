package api

import (
	"errors"
	"fmt"

	"github.com/gtav-tiles/server/internal/service"
)

// ErrMapNotFound is returned for map IDs that were never registered.
var ErrMapNotFound = errors.New("map not found")

// MapRegistry holds fragment services for all configured maps.
type MapRegistry struct {
	services   map[string]*service.FragmentService
	defaultMap string
	mapOrder   []string
}

// NewMapRegistry creates a new map registry.
func NewMapRegistry(defaultMap string, order []string) *MapRegistry {
	return &MapRegistry{
		services:   make(map[string]*service.FragmentService),
		defaultMap: defaultMap,
		mapOrder:   append([]string(nil), order...),
	}
}

// Register adds a fragment service for a map.
func (r *MapRegistry) Register(mapID string, svc *service.FragmentService) {
	if _, exists := r.services[mapID]; !exists && !r.ordered(mapID) {
		r.mapOrder = append(r.mapOrder, mapID)
	}
	r.services[mapID] = svc
	if r.defaultMap == "" {
		r.defaultMap = mapID
	}
}

func (r *MapRegistry) ordered(mapID string) bool {
	for _, id := range r.mapOrder {
		if id == mapID {
			return true
		}
	}
	return false
}

// Get returns the fragment service for a map.
func (r *MapRegistry) Get(mapID string) (*service.FragmentService, error) {
	svc, ok := r.services[mapID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMapNotFound, mapID)
	}
	return svc, nil
}

// Default returns the default map's fragment service.
func (r *MapRegistry) Default() (*service.FragmentService, error) {
	return r.Get(r.defaultMap)
}

// DefaultMapID returns the default map ID.
func (r *MapRegistry) DefaultMapID() string {
	return r.defaultMap
}

// MapIDs returns the registered map IDs in config order.
func (r *MapRegistry) MapIDs() []string {
	ids := make([]string, 0, len(r.mapOrder))
	for _, id := range r.mapOrder {
		if _, ok := r.services[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Maps returns map info for all registered maps.
func (r *MapRegistry) Maps() []service.MapInfo {
	ids := r.MapIDs()
	infos := make([]service.MapInfo, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, r.services[id].Info())
	}
	return infos
}
