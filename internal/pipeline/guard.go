package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// stageGuard allows at most one running stage per project.
type stageGuard struct {
	mu      sync.Mutex
	running map[uuid.UUID]Stage
}

func newStageGuard() *stageGuard {
	return &stageGuard{running: make(map[uuid.UUID]Stage)}
}

// acquire marks stage as running for projectID. The returned release func
// must be called exactly once; ok is false if another stage holds the project.
func (g *stageGuard) acquire(projectID uuid.UUID, stage Stage) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.running[projectID]; busy {
		return nil, false
	}
	g.running[projectID] = stage

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.running, projectID)
			g.mu.Unlock()
		})
	}, true
}

func (g *stageGuard) current(projectID uuid.UUID) (Stage, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	stage, ok := g.running[projectID]
	return stage, ok
}
