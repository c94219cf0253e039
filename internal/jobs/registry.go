package jobs

import "sync"

// Registry is the process-wide table of jobs, keyed by job ID. It is an
// explicit injected object: created at process start, cleared only by
// restart. Tenant isolation is not enforced here — that belongs to the
// API boundary, which knows who is asking.
type Registry struct {
	mu   sync.RWMutex
	jobs map[JobID]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[JobID]*Job)}
}

func (r *Registry) Add(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
}

// Get returns the job, or nil when unknown.
func (r *Registry) Get(id JobID) *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[id]
}

// List returns all jobs, in no particular order.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		list = append(list, j)
	}
	return list
}
