package mirror

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/crossproc/bridge.go/lib/native"
)

// ProcessingLoop is implemented by components that need a dedicated thread
// for their processing-affine call surface. The registry starts that
// thread when the component is registered and signals stop when it is
// released.
type ProcessingLoop interface {
	ProcessLoop(stop <-chan struct{})
}

// Instance is one live component held by the registry, addressed from the
// other side of the process boundary by its id.
type Instance struct {
	ID        uint64
	Component any

	worker     *native.Thread
	workerStop chan struct{}
}

// Registry owns the real component instances living on this side of the
// boundary. Proxies on the other side hold only instance ids; an instance
// stays alive until the owning proxy's release notification arrives.
type Registry struct {
	mu        sync.Mutex
	instances map[uint64]*Instance
	nextID    atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[uint64]*Instance)}
}

// Register assigns the component a fresh id and tracks it. Components
// implementing ProcessingLoop get a dedicated pinned thread running it.
func (r *Registry) Register(component any) (*Instance, error) {
	inst := &Instance{
		ID:        r.nextID.Add(1),
		Component: component,
	}

	if loop, ok := component.(ProcessingLoop); ok {
		stop := make(chan struct{})
		thread, err := native.SpawnThread(func() { loop.ProcessLoop(stop) })
		if err != nil {
			return nil, fmt.Errorf("failed to start processing thread for instance %d: %w", inst.ID, err)
		}
		inst.worker = thread
		inst.workerStop = stop
	}

	r.mu.Lock()
	r.instances[inst.ID] = inst
	r.mu.Unlock()
	return inst, nil
}

// Resolve returns the component registered under id.
func (r *Registry) Resolve(id uint64) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, exists := r.instances[id]
	if !exists {
		return nil, false
	}
	return inst.Component, true
}

// Unregister drops the instance and stops its processing thread if it has
// one. Releasing an unknown id is an error: it means the other side's
// reference bookkeeping is broken.
func (r *Registry) Unregister(id uint64) error {
	r.mu.Lock()
	inst, exists := r.instances[id]
	delete(r.instances, id)
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("no instance registered under id %d", id)
	}
	inst.stopWorker()
	return nil
}

// Len returns the number of live instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Close releases every remaining instance. Called when the plugin group
// unloads.
func (r *Registry) Close() {
	r.mu.Lock()
	instances := r.instances
	r.instances = make(map[uint64]*Instance)
	r.mu.Unlock()

	for _, inst := range instances {
		inst.stopWorker()
	}
}

func (i *Instance) stopWorker() {
	if i.worker == nil {
		return
	}
	close(i.workerStop)
	i.worker.Release()
	i.worker = nil
}
