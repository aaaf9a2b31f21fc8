package usecase

import (
	"sort"
	"sync"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// MapJobRegistry is a JobRegistry backed by a map.
type MapJobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]port.Job
}

var _ JobRegistry = (*MapJobRegistry)(nil)

func NewMapJobRegistry(jobs ...port.Job) (*MapJobRegistry, error) {
	r := &MapJobRegistry{jobs: make(map[string]port.Job)}
	for _, j := range jobs {
		if err := r.Register(j); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds job. Registering a second job under the same name is an error.
func (r *MapJobRegistry) Register(job port.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.JobName()]; exists {
		return exception.NewBatchErrorf("job_registry", nil, "job '%s' is already registered", job.JobName())
	}
	r.jobs[job.JobName()] = job
	return nil
}

func (r *MapJobRegistry) GetJob(name string) (port.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[name]
	return j, ok
}

// JobNames returns the registered names in sorted order.
func (r *MapJobRegistry) JobNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
