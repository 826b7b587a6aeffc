package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"retro-improver-backend/internal/artifact"
	"retro-improver-backend/internal/jobs"
	"retro-improver-backend/internal/ledger"
	"retro-improver-backend/internal/models"
	"retro-improver-backend/internal/pipeline"
)

// memLedger serializes every balance change behind one mutex.
type memLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int
	debits   int
	refunds  int

	refundErr error
}

func newMemLedger() *memLedger {
	return &memLedger{balances: make(map[uuid.UUID]int)}
}

func (l *memLedger) set(userID uuid.UUID, balance int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = balance
}

func (l *memLedger) balance(userID uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

func (l *memLedger) counts() (debits, refunds int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debits, l.refunds
}

func (l *memLedger) Debit(_ context.Context, userID uuid.UUID, amount int, _ ledger.Reason, _ uuid.UUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[userID]
	if !ok {
		return 0, models.ErrNotFound
	}
	if balance < amount {
		return 0, ledger.ErrInsufficientFunds
	}
	l.balances[userID] = balance - amount
	l.debits++
	return l.balances[userID], nil
}

func (l *memLedger) Refund(_ context.Context, userID uuid.UUID, amount int, _ uuid.UUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refundErr != nil {
		return 0, l.refundErr
	}
	l.balances[userID] += amount
	l.refunds++
	return l.balances[userID], nil
}

type memProjects struct {
	mu        sync.Mutex
	projects  map[uuid.UUID]models.Project
	states    []models.ProjectState
	createErr error
}

func newMemProjects() *memProjects {
	return &memProjects{projects: make(map[uuid.UUID]models.Project)}
}

func (m *memProjects) put(p models.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
}

func (m *memProjects) get(id uuid.UUID) (models.Project, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	return p, ok
}

func (m *memProjects) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.projects)
}

func (m *memProjects) failCreate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

func (m *memProjects) CreateProject(_ context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.projects[p.ID] = *p
	return nil
}

func (m *memProjects) GetProject(_ context.Context, projectID, userID uuid.UUID) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok || p.UserID != userID {
		return nil, fmt.Errorf("project: %w", models.ErrNotFound)
	}
	p.Prompts = append([]models.BilingualPrompt(nil), p.Prompts...)
	return &p, nil
}

func (m *memProjects) ListProjects(_ context.Context, userID uuid.UUID, likedOnly bool) ([]models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Project{}
	for _, p := range m.projects {
		if p.UserID == userID && (!likedOnly || p.IsLiked) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memProjects) ListProjectsByState(_ context.Context, state models.ProjectState) ([]models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Project{}
	for _, p := range m.projects {
		if p.State == state {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memProjects) update(projectID uuid.UUID, fn func(p *models.Project)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return fmt.Errorf("project: %w", models.ErrNotFound)
	}
	fn(&p)
	m.states = append(m.states, p.State)
	m.projects[projectID] = p
	return nil
}

func (m *memProjects) SavePrompts(_ context.Context, projectID uuid.UUID, prompts []models.BilingualPrompt) error {
	return m.update(projectID, func(p *models.Project) {
		p.Prompts = prompts
		if p.State == models.StateRestored {
			p.State = models.StatePromptsReady
		}
	})
}

func (m *memProjects) SaveVideo(_ context.Context, projectID uuid.UUID, ref artifact.Reference) error {
	return m.update(projectID, func(p *models.Project) {
		p.VideoRef = ref
		p.State = models.StateVideoReady
	})
}

func (m *memProjects) SetProjectState(_ context.Context, projectID uuid.UUID, state models.ProjectState) error {
	return m.update(projectID, func(p *models.Project) { p.State = state })
}

func (m *memProjects) SetLike(_ context.Context, projectID, userID uuid.UUID, liked *bool) (bool, error) {
	var result bool
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok || p.UserID != userID {
		return false, fmt.Errorf("project: %w", models.ErrNotFound)
	}
	if liked != nil {
		p.IsLiked = *liked
	} else {
		p.IsLiked = !p.IsLiked
	}
	result = p.IsLiked
	m.projects[projectID] = p
	return result, nil
}

func (m *memProjects) DeleteProject(_ context.Context, projectID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok || p.UserID != userID {
		return fmt.Errorf("project: %w", models.ErrNotFound)
	}
	delete(m.projects, projectID)
	return nil
}

type memUsers map[uuid.UUID]string

func (u memUsers) GetUser(_ context.Context, userID uuid.UUID) (*models.User, error) {
	language, ok := u[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &models.User{ID: userID, Language: language}, nil
}

// fakeProvider implements the three job strategies.
type fakeProvider struct {
	restoreCalls atomic.Int32
	restoreErr   error
	restoreEmpty bool
	restoreGate  chan struct{}

	prompts []models.BilingualPrompt

	videoPrompt    atomic.Value
	videoPolls     atomic.Int32
	videoStartErr  error
	videoStatusErr error
	videoEmpty     bool
	videoNever     bool
	videoGate      chan struct{}
}

func (f *fakeProvider) Restore(ctx context.Context, image []byte, _ string) (*artifact.Payload, error) {
	f.restoreCalls.Add(1)
	if f.restoreGate != nil {
		<-f.restoreGate
	}
	if f.restoreErr != nil {
		return nil, f.restoreErr
	}
	if f.restoreEmpty {
		return &artifact.Payload{MimeType: "image/png"}, nil
	}
	return &artifact.Payload{Data: append([]byte("restored:"), image...), MimeType: "image/png"}, nil
}

func (f *fakeProvider) WritePrompts(context.Context, []byte, string) ([]models.BilingualPrompt, error) {
	if f.prompts == nil {
		return nil, errors.New("prompt model unavailable")
	}
	return f.prompts, nil
}

func (f *fakeProvider) StartVideo(_ context.Context, _ []byte, _ string, prompt string) (string, error) {
	f.videoPrompt.Store(prompt)
	if f.videoStartErr != nil {
		return "", f.videoStartErr
	}
	return "operations/test", nil
}

func (f *fakeProvider) VideoStatus(context.Context, string) (jobs.VideoOperation, error) {
	f.videoPolls.Add(1)
	if f.videoStatusErr != nil {
		return jobs.VideoOperation{}, f.videoStatusErr
	}
	if f.videoNever {
		return jobs.VideoOperation{}, nil
	}
	if f.videoGate != nil {
		select {
		case <-f.videoGate:
		default:
			return jobs.VideoOperation{}, nil
		}
	}
	if f.videoEmpty {
		return jobs.VideoOperation{Done: true}, nil
	}
	return jobs.VideoOperation{Done: true, Video: &artifact.Payload{Data: []byte("mp4"), MimeType: "video/mp4"}}, nil
}

func (f *fakeProvider) lastVideoPrompt() string {
	s, _ := f.videoPrompt.Load().(string)
	return s
}

func samplePrompts() []models.BilingualPrompt {
	return []models.BilingualPrompt{
		{EN: "wind in the hair", RU: "ветер в волосах"},
		{EN: "slow smile", RU: "медленная улыбка"},
		{EN: "camera push in", RU: "наезд камеры"},
		{EN: "leaves falling", RU: "падают листья"},
	}
}

// flakyArtifacts fails Ingest on demand, after the provider has already
// produced a result.
type flakyArtifacts struct {
	*artifact.Store
	ingestErr error
}

func (f *flakyArtifacts) Ingest(ctx context.Context, payload artifact.Payload, logicalName string) (artifact.Reference, error) {
	if f.ingestErr != nil {
		return artifact.Reference{}, f.ingestErr
	}
	return f.Store.Ingest(ctx, payload, logicalName)
}

type harness struct {
	orch      *pipeline.Orchestrator
	ledger    *memLedger
	projects  *memProjects
	users     memUsers
	provider  *fakeProvider
	store     *artifact.Store
	artifacts *flakyArtifacts
	ttl       time.Duration
}

func newHarness(t *testing.T, remote artifact.ObjectStore) *harness {
	t.Helper()
	return newHarnessWithPolls(t, remote, 30)
}

// newHarnessWithPolls lets gated video tests poll long enough to be released.
func newHarnessWithPolls(t *testing.T, remote artifact.ObjectStore, maxAttempts int) *harness {
	t.Helper()

	store, err := artifact.NewStore(artifact.Config{
		UploadDir:     t.TempDir(),
		PublicBaseURL: "http://localhost:8080",
	}, remote, nil)
	require.NoError(t, err)

	provider := &fakeProvider{prompts: samplePrompts()}
	client := jobs.NewClient(jobs.Config{
		SyncTimeout:  time.Second,
		PollInterval: time.Millisecond,
		MaxAttempts:  maxAttempts,
	}, provider, provider, provider, nil)

	h := &harness{
		ledger:    newMemLedger(),
		projects:  newMemProjects(),
		users:     memUsers{},
		provider:  provider,
		store:     store,
		artifacts: &flakyArtifacts{Store: store},
		ttl:       time.Minute,
	}
	h.orch = pipeline.New(pipeline.Config{SpeculativeTTL: h.ttl}, h.ledger, h.projects, h.users, h.artifacts, client, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.orch.Wait(ctx)
	})
	return h
}

func (h *harness) newUser(balance int, language string) uuid.UUID {
	id := uuid.New()
	h.ledger.set(id, balance)
	h.users[id] = language
	return id
}

// restoredProject stores a project whose restored image exists on disk.
func (h *harness) restoredProject(t *testing.T, userID uuid.UUID, prompts []models.BilingualPrompt) models.Project {
	t.Helper()
	ref, err := h.store.SaveUpload([]byte("restored-image"), "restored.png")
	require.NoError(t, err)

	state := models.StateRestored
	if prompts != nil {
		state = models.StatePromptsReady
	}
	p := models.Project{
		ID:          uuid.New(),
		UserID:      userID,
		OriginalRef: ref,
		RestoredRef: ref,
		Prompts:     prompts,
		State:       state,
		CreatedAt:   time.Now(),
	}
	h.projects.put(p)
	return p
}

func upload() pipeline.Upload {
	return pipeline.Upload{Data: []byte("old-photo"), Filename: "grandma.jpg", MimeType: "image/jpeg"}
}

type failingRemote struct{}

func (failingRemote) Upload(context.Context, string, []byte, string) (string, error) {
	return "", errors.New("bucket unreachable")
}

func (failingRemote) Delete(context.Context, string) error { return nil }

func (failingRemote) KeyForURL(string) (string, bool) { return "", false }

const bucketBase = "https://cdn.example.com/"

type bucketRemote struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newBucketRemote() *bucketRemote {
	return &bucketRemote{objects: make(map[string][]byte)}
}

func (b *bucketRemote) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return bucketBase + key, nil
}

func (b *bucketRemote) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *bucketRemote) KeyForURL(url string) (string, bool) {
	if !strings.HasPrefix(url, bucketBase) {
		return "", false
	}
	return strings.TrimPrefix(url, bucketBase), true
}

func (b *bucketRemote) has(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[strings.TrimPrefix(url, bucketBase)]
	return ok
}
