package market

import "sync"

// Registry is the profile store consumed by the state machine, the guard
// and the reward engine. Profiles are created lazily on first registration
// and never deleted.
type Registry struct {
	mu        sync.RWMutex
	students  map[string]*StudentProfile
	companies map[string]*CompanyProfile
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		students:  make(map[string]*StudentProfile),
		companies: make(map[string]*CompanyProfile),
	}
}

// AddStudent inserts a new student profile.
func (r *Registry) AddStudent(p StudentProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.students[p.ID]; ok {
		return ErrConflict
	}
	cp := p
	cp.Skills = append([]string(nil), p.Skills...)
	r.students[p.ID] = &cp
	return nil
}

// AddCompany inserts a new company profile.
func (r *Registry) AddCompany(p CompanyProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.companies[p.ID]; ok {
		return ErrConflict
	}
	cp := p
	r.companies[p.ID] = &cp
	return nil
}

// Student returns a copy of the student profile.
func (r *Registry) Student(id string) (StudentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.students[id]
	if !ok {
		return StudentProfile{}, ErrNotFound
	}
	out := *p
	out.Skills = append([]string(nil), p.Skills...)
	return out, nil
}

// Company returns a copy of the company profile.
func (r *Registry) Company(id string) (CompanyProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.companies[id]
	if !ok {
		return CompanyProfile{}, ErrNotFound
	}
	return *p, nil
}

// UpdateStudent applies fn to the stored profile under the write lock.
func (r *Registry) UpdateStudent(id string, fn func(*StudentProfile)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.students[id]
	if !ok {
		return ErrNotFound
	}
	fn(p)
	return nil
}

// UpdateCompany applies fn to the stored profile under the write lock.
func (r *Registry) UpdateCompany(id string, fn func(*CompanyProfile)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.companies[id]
	if !ok {
		return ErrNotFound
	}
	fn(p)
	return nil
}
