package tessera

import (
	"context"
	"sync"
)

// StaticProjects is an in-memory ProjectProvider for deployments whose
// tenant set is known at startup, and for tests. Projects handed to it are
// treated as immutable.
type StaticProjects struct {
	mu       sync.RWMutex
	projects map[string]*Project
}

// NewStaticProjects creates a provider holding the given projects.
func NewStaticProjects(projects ...Project) *StaticProjects {
	s := &StaticProjects{
		projects: make(map[string]*Project, len(projects)),
	}
	for i := range projects {
		p := projects[i]
		s.projects[p.ProjectID] = &p
	}
	return s
}

// Upsert adds or replaces a project.
func (s *StaticProjects) Upsert(project Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[project.ProjectID] = &project
}

// GetProject implements ProjectProvider.
func (s *StaticProjects) GetProject(_ context.Context, projectID string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	proj, ok := s.projects[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	return proj, nil
}
