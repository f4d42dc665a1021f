package profile

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemStore is an in-memory [Store] for tests and storeless development runs.
type MemStore struct {
	mu        sync.RWMutex
	profiles  map[string]Profile
	prints    []SpeakerPrint
	emotional map[string]EmotionalState
	parental  map[string]ParentalControls
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		profiles:  make(map[string]Profile),
		emotional: make(map[string]EmotionalState),
		parental:  make(map[string]ParentalControls),
	}
}

func (s *MemStore) GetProfile(_ context.Context, id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (s *MemStore) UpsertProfile(_ context.Context, p *Profile) error {
	if p.ID == "" {
		return errors.New("profile: upsert: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.profiles[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.profiles[p.ID] = *p
	return nil
}

func (s *MemStore) DeleteProfile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, id)
	delete(s.emotional, id)
	delete(s.parental, id)
	kept := s.prints[:0]
	for _, p := range s.prints {
		if p.UserID != id {
			kept = append(kept, p)
		}
	}
	s.prints = kept
	return nil
}

func (s *MemStore) ListProfiles(_ context.Context) ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	return out, nil
}

func (s *MemStore) EnrollSpeaker(_ context.Context, print SpeakerPrint) error {
	if print.UserID == "" || len(print.Embedding) == 0 {
		return errors.New("profile: enroll: user id and embedding required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if print.EnrolledAt.IsZero() {
		print.EnrolledAt = time.Now()
	}
	s.prints = append(s.prints, print)
	return nil
}

func (s *MemStore) SpeakerPrints(_ context.Context) ([]SpeakerPrint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SpeakerPrint, len(s.prints))
	copy(out, s.prints)
	return out, nil
}

func (s *MemStore) GetEmotional(_ context.Context, userID string) (*EmotionalState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.emotional[userID]
	if !ok {
		return &EmotionalState{UserID: userID, Rapport: rapportDefault}, nil
	}
	cp := e
	return &cp, nil
}

func (s *MemStore) SaveEmotional(_ context.Context, state *EmotionalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emotional[state.UserID] = *state
	return nil
}

func (s *MemStore) DecayRapport(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	now := time.Now()
	for id, e := range s.emotional {
		days := now.Sub(e.LastInteraction).Hours() / 24
		if days < 1 {
			continue
		}
		e.Rapport -= RapportDecayPerDay * days
		if e.Rapport < 0 {
			e.Rapport = 0
		}
		s.emotional[id] = e
		affected++
	}
	return affected, nil
}

func (s *MemStore) GetParental(_ context.Context, childID string) (*ParentalControls, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.parental[childID]
	if !ok {
		return nil, nil
	}
	cp := c
	return &cp, nil
}

func (s *MemStore) SetParental(_ context.Context, controls *ParentalControls) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	controls.UpdatedAt = time.Now()
	s.parental[controls.ChildID] = *controls
	return nil
}
