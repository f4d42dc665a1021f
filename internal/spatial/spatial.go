// Package spatial resolves the speaker's physical area for context assembly
// and device targeting. Four signal sources are consulted in precedence
// order; when several agree the confidence rises, and an unresolved (empty)
// area is an allowed outcome — the pipeline substitutes neutral defaults.
package spatial

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Source weights. Precedence order doubles as weight order: a static
// satellite mapping is the strongest signal, a stale last-known area the
// weakest.
const (
	weightSatelliteMap = 1.0
	weightPresence     = 0.8
	weightMultiMic     = 0.6
	weightLastKnown    = 0.3
)

// lastKnownMaxAge bounds how long a remembered speaker area stays usable.
const lastKnownMaxAge = 30 * time.Minute

// Area is a resolved location with a confidence score.
type Area struct {
	// Name is the area identifier (e.g. "kitchen"). Empty means unresolved.
	Name string

	// Confidence is the weighted agreement across sources, in [0, 1].
	Confidence float64

	// Source names the highest-precedence source that voted for Name.
	Source string
}

// PresenceSource reports areas with detected presence (motion sensors,
// device trackers). Implementations are typically backed by an integration.
type PresenceSource interface {
	// OccupiedAreas returns area names with active presence.
	OccupiedAreas(ctx context.Context) ([]string, error)
}

// MicReport is one satellite's capture quality for the current utterance.
type MicReport struct {
	SatelliteID string
	// SNR is the signal-to-noise ratio in dB as reported by the satellite.
	SNR float64
}

// Resolver resolves speaker areas. Safe for concurrent use.
type Resolver struct {
	presence PresenceSource
	logger   *slog.Logger

	mu           sync.RWMutex
	satelliteMap map[string]string // satellite id → area
	lastKnown    map[string]lastSeen
}

type lastSeen struct {
	area string
	at   time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPresenceSource attaches a presence source. Without one the presence
// stage is skipped.
func WithPresenceSource(p PresenceSource) Option {
	return func(r *Resolver) { r.presence = p }
}

// WithLogger sets the resolver's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New constructs a Resolver with the given satellite→area mapping.
func New(satelliteMap map[string]string, opts ...Option) *Resolver {
	r := &Resolver{
		satelliteMap: make(map[string]string, len(satelliteMap)),
		lastKnown:    make(map[string]lastSeen),
		logger:       slog.Default(),
	}
	for id, area := range satelliteMap {
		r.satelliteMap[strings.ToLower(id)] = area
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetSatelliteArea updates the static mapping, e.g. when a satellite
// announces with a configured area.
func (r *Resolver) SetSatelliteArea(satelliteID, area string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.satelliteMap[strings.ToLower(satelliteID)] = area
}

// Observe records a speaker's confirmed area for later identity correlation.
func (r *Resolver) Observe(speakerID, area string) {
	if speakerID == "" || area == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastKnown[speakerID] = lastSeen{area: area, at: time.Now()}
}

// Resolve determines the speaker's area. satelliteID and speakerID may be
// empty; micReports may be nil. An empty Area.Name means unresolved.
func (r *Resolver) Resolve(ctx context.Context, satelliteID, speakerID string, micReports []MicReport) Area {
	votes := map[string]float64{}
	sources := map[string]string{}

	vote := func(area, source string, weight float64) {
		if area == "" {
			return
		}
		votes[area] += weight
		if _, ok := sources[area]; !ok {
			sources[area] = source
		}
	}

	r.mu.RLock()
	if satelliteID != "" {
		vote(r.satelliteMap[strings.ToLower(satelliteID)], "satellite_map", weightSatelliteMap)
	}
	if speakerID != "" {
		if seen, ok := r.lastKnown[speakerID]; ok && time.Since(seen.at) <= lastKnownMaxAge {
			vote(seen.area, "last_known", weightLastKnown)
		}
	}
	satMap := r.satelliteMap
	r.mu.RUnlock()

	if r.presence != nil {
		occupied, err := r.presence.OccupiedAreas(ctx)
		if err != nil {
			r.logger.Warn("spatial: presence source failed", "error", err)
		} else {
			for _, area := range occupied {
				vote(area, "presence", weightPresence)
			}
		}
	}

	if best := bestMic(micReports); best != "" {
		r.mu.RLock()
		vote(satMap[strings.ToLower(best)], "multi_mic", weightMultiMic)
		r.mu.RUnlock()
	}

	if len(votes) == 0 {
		return Area{}
	}

	// Highest weighted vote wins; ties resolved by name for determinism.
	names := make([]string, 0, len(votes))
	for name := range votes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if votes[names[i]] != votes[names[j]] {
			return votes[names[i]] > votes[names[j]]
		}
		return names[i] < names[j]
	})
	winner := names[0]

	area := Area{
		Name:       winner,
		Confidence: votes[winner] / maxWeight(),
		Source:     sources[winner],
	}
	if area.Confidence > 1 {
		area.Confidence = 1
	}

	// Successful resolution refreshes the identity correlation.
	if speakerID != "" {
		r.Observe(speakerID, winner)
	}
	return area
}

// bestMic returns the satellite with the highest SNR, or "" when no report
// clears the floor.
func bestMic(reports []MicReport) string {
	const snrFloor = 3.0
	best := ""
	bestSNR := snrFloor
	for _, rep := range reports {
		if rep.SNR > bestSNR {
			best = rep.SatelliteID
			bestSNR = rep.SNR
		}
	}
	return best
}

// maxWeight is the highest achievable vote total for normalising confidence.
func maxWeight() float64 {
	return weightSatelliteMap + weightPresence + weightMultiMic + weightLastKnown
}
