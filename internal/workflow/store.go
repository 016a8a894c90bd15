package workflow

import (
	"context"
	"sort"
	"sync"

	"github.com/workmesh/workmesh/internal/shared"
)

// ListFilter narrows job listings.
type ListFilter struct {
	Client int64
	Worker int64
	State  State
	Limit  int
	Offset int
}

// Store persists jobs and offers.
type Store interface {
	CreateJob(ctx context.Context, job Job) (int64, error)
	GetJob(ctx context.Context, id int64) (Job, error)
	PutJob(ctx context.Context, job Job) error
	ListJobs(ctx context.Context, f ListFilter) ([]Job, error)

	PutOffer(ctx context.Context, offer Offer) error
	GetOffer(ctx context.Context, jobID, worker int64) (Offer, error)
	ListOffers(ctx context.Context, jobID int64) ([]Offer, error)
}

type offerKey struct {
	jobID  int64
	worker int64
}

type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]Job
	offers map[offerKey]Offer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		jobs:   make(map[int64]Job),
		offers: make(map[offerKey]Offer),
	}
}

func (s *MemoryStore) CreateJob(_ context.Context, job Job) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.ID = s.nextID
	s.nextID++
	s.jobs[job.ID] = job
	return job.ID, nil
}

func (s *MemoryStore) GetJob(_ context.Context, id int64) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, shared.ErrNotFound
	}
	return job, nil
}

func (s *MemoryStore) PutJob(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return shared.ErrNotFound
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryStore) ListJobs(_ context.Context, f ListFilter) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []Job
	for _, id := range ids {
		job := s.jobs[id]
		if f.Client != 0 && job.Client != f.Client {
			continue
		}
		if f.Worker != 0 && job.Worker != f.Worker {
			continue
		}
		if f.State != "" && job.State != f.State {
			continue
		}
		out = append(out, job)
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) PutOffer(_ context.Context, offer Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[offerKey{offer.JobID, offer.Worker}] = offer
	return nil
}

func (s *MemoryStore) GetOffer(_ context.Context, jobID, worker int64) (Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offer, ok := s.offers[offerKey{jobID, worker}]
	if !ok {
		return Offer{}, shared.ErrNotFound
	}
	return offer, nil
}

func (s *MemoryStore) ListOffers(_ context.Context, jobID int64) ([]Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Offer
	for key, offer := range s.offers {
		if key.jobID == jobID {
			out = append(out, offer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostedAt.Before(out[j].PostedAt) })
	return out, nil
}
