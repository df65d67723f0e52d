package store

import (
	"context"
	"sort"

	"github.com/snarg/pi/internal/model"
)

// MemoryStore is the hand-maintained alternative to the SQL backend: a
// plain map keyed by phone. No lock guards it — per the engine's
// single-threaded cooperative model, the store is never touched from more
// than one goroutine at a time, so one isn't needed (see spec.md §9).
type MemoryStore struct {
	records map[string]*model.Record
}

// NewMemoryStore returns an empty in-memory RecordStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*model.Record)}
}

func (s *MemoryStore) Insert(_ context.Context, now int64, phone, ipAddr, region, guid, desc string) error {
	if _, ok := s.records[phone]; ok {
		return ErrDuplicateKey
	}
	s.records[phone] = &model.Record{
		Phone:       phone,
		IPAddr:      ipAddr,
		Region:      region,
		GUID:        guid,
		Description: desc,
		LastActive:  now,
		DateCreated: now,
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, phone string) (*model.Record, error) {
	r, ok := s.records[phone]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Touch(_ context.Context, now int64, phone string) error {
	if r, ok := s.records[phone]; ok {
		r.LastActive = now
	}
	return nil
}

func (s *MemoryStore) DeleteIfNotInCooldown(_ context.Context, phone string) (int, error) {
	r, ok := s.records[phone]
	if !ok || r.InCooldown() {
		return 0, nil
	}
	delete(s.records, phone)
	return 1, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now, activeTime int64) (int, error) {
	count := 0
	for phone, r := range s.records {
		if r.CooldownExpiry == nil && r.LastActive+activeTime <= now {
			delete(s.records, phone)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) DeleteFinishedCooldown(_ context.Context, now int64) (int, error) {
	count := 0
	for phone, r := range s.records {
		if r.CooldownExpiry != nil && *r.CooldownExpiry <= now {
			delete(s.records, phone)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SelectEligible(_ context.Context, now, activeTime int64) ([]*model.Record, error) {
	out := []*model.Record{}
	for _, r := range s.records {
		if r.Eligible(now, activeTime) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DateCreated != out[j].DateCreated {
			return out[i].DateCreated > out[j].DateCreated
		}
		return out[i].Phone < out[j].Phone
	})
	return out, nil
}

func (s *MemoryStore) MarkTasked(_ context.Context, now int64, phones []string) error {
	for _, phone := range phones {
		if r, ok := s.records[phone]; ok {
			tasked := now
			r.TaskedTime = &tasked
		}
	}
	return nil
}

func (s *MemoryStore) SendAllTaskedToCooldown(_ context.Context, now, cooldownTime int64) error {
	expiry := now + cooldownTime
	for _, r := range s.records {
		if r.TaskedTime != nil {
			e := expiry
			r.CooldownExpiry = &e
		}
	}
	return nil
}

func (s *MemoryStore) ReleaseRecentFromCooldown(_ context.Context, now, activeTime int64) error {
	for _, r := range s.records {
		if r.CooldownExpiry != nil && r.LastActive+activeTime > now {
			r.CooldownExpiry = nil
		}
	}
	return nil
}

func (s *MemoryStore) Size(_ context.Context) (int, error) {
	return len(s.records), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
