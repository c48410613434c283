// Package memory is an in-process fake of vault.Store for tests.
package memory

import (
	"context"
	"sync"

	"github.com/lanonasis/auth-gateway/internal/vault"
)

type key struct {
	projectID string
	name      string
	env       vault.Environment
}

// Store is a map-backed vault.Store.
type Store struct {
	mu       sync.Mutex
	projects map[string]vault.Project
	keys     map[string]vault.StoredApiKey // by ID
	byLookup map[key]string                // (projectID, name, env) -> ID
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		projects: make(map[string]vault.Project),
		keys:     make(map[string]vault.StoredApiKey),
		byLookup: make(map[key]string),
	}
}

func (s *Store) CreateProject(_ context.Context, p vault.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; ok {
		return vault.ErrAlreadyExists
	}
	s.projects[p.ID] = p
	return nil
}

func (s *Store) GetProject(_ context.Context, id string) (vault.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return vault.Project{}, vault.ErrNotFound
	}
	return p, nil
}

// DeleteProject removes the project and every StoredApiKey under it
// (spec.md §4.5: "deleting a project cascades").
func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return vault.ErrNotFound
	}
	delete(s.projects, id)
	for kid, k := range s.keys {
		if k.ProjectID == id {
			delete(s.keys, kid)
			delete(s.byLookup, key{k.ProjectID, k.Name, k.Environment})
		}
	}
	return nil
}

func (s *Store) ListProjectsByOrganization(_ context.Context, organizationID string) ([]vault.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vault.Project
	for _, p := range s.projects {
		if p.OrganizationID == organizationID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) CreateStoredApiKey(_ context.Context, k vault.StoredApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk := key{k.ProjectID, k.Name, k.Environment}
	if id, ok := s.byLookup[lk]; ok {
		existing := s.keys[id]
		existing.EncryptedValue = k.EncryptedValue
		existing.UpdatedAt = k.UpdatedAt
		s.keys[id] = existing
		return nil
	}
	s.keys[k.ID] = k
	s.byLookup[lk] = k.ID
	return nil
}

func (s *Store) GetStoredApiKey(_ context.Context, id string) (vault.StoredApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return vault.StoredApiKey{}, vault.ErrNotFound
	}
	return k, nil
}

func (s *Store) FindStoredApiKey(_ context.Context, projectID, name string, env vault.Environment) (vault.StoredApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byLookup[key{projectID, name, env}]
	if !ok {
		return vault.StoredApiKey{}, vault.ErrNotFound
	}
	return s.keys[id], nil
}

func (s *Store) ListStoredApiKeysByProject(_ context.Context, projectID string) ([]vault.StoredApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vault.StoredApiKey
	for _, k := range s.keys {
		if k.ProjectID == projectID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Store) DeleteStoredApiKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return vault.ErrNotFound
	}
	delete(s.keys, id)
	delete(s.byLookup, key{k.ProjectID, k.Name, k.Environment})
	return nil
}
