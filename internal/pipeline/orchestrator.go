// Package pipeline sequences the paid generation stages of a project:
// restoration, prompt writing and video generation. It is the only caller of
// the ledger on the generation path and decides when a debit is refunded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"retro-improver-backend/internal/artifact"
	"retro-improver-backend/internal/jobs"
	"retro-improver-backend/internal/ledger"
	"retro-improver-backend/internal/models"
)

type Ledger interface {
	Debit(ctx context.Context, userID uuid.UUID, amount int, reason ledger.Reason, projectID uuid.UUID) (int, error)
	Refund(ctx context.Context, userID uuid.UUID, amount int, projectID uuid.UUID) (int, error)
}

type Projects interface {
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, projectID, userID uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context, userID uuid.UUID, likedOnly bool) ([]models.Project, error)
	ListProjectsByState(ctx context.Context, state models.ProjectState) ([]models.Project, error)
	SavePrompts(ctx context.Context, projectID uuid.UUID, prompts []models.BilingualPrompt) error
	SaveVideo(ctx context.Context, projectID uuid.UUID, videoRef artifact.Reference) error
	SetProjectState(ctx context.Context, projectID uuid.UUID, state models.ProjectState) error
	SetLike(ctx context.Context, projectID, userID uuid.UUID, liked *bool) (bool, error)
	DeleteProject(ctx context.Context, projectID, userID uuid.UUID) error
}

type Users interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

type Artifacts interface {
	SaveUpload(data []byte, name string) (artifact.Reference, error)
	ResolveToLocal(ctx context.Context, ref artifact.Reference) (string, error)
	ReadAll(ctx context.Context, ref artifact.Reference) ([]byte, error)
	Ingest(ctx context.Context, payload artifact.Payload, logicalName string) (artifact.Reference, error)
	Publish(ctx context.Context, localPath, logicalName string) artifact.Reference
	Release(ctx context.Context, ref artifact.Reference)
	Discard(localPath string)
	PublicURL(ref artifact.Reference) string
}

type Jobs interface {
	Submit(ctx context.Context, req jobs.Request) (jobs.Handle, error)
	Await(ctx context.Context, h jobs.Handle) jobs.Result
}

// EventPublisher receives stage transitions for live clients.
type EventPublisher interface {
	PublishProjectEvent(ctx context.Context, projectID uuid.UUID, event string, payload map[string]any) error
}

// Stage events.
const (
	EventRestored     = "restored"
	EventPromptsReady = "prompts_ready"
	EventVideoPending = "video_pending"
	EventVideoReady   = "video_ready"
	EventVideoFailed  = "video_failed"
)

// Upload is an image received from a client.
type Upload struct {
	Data     []byte
	Filename string
	MimeType string
}

type RestoreOutcome struct {
	Project     *models.Project
	CreditsLeft int
}

type PromptsOutcome struct {
	Prompts []models.BilingualPrompt
	// Display holds the prompts in the user's language.
	Display []string
}

type VideoOutcome struct {
	Project     *models.Project
	VideoURL    string
	CreditsLeft int
}

type StatusOutcome struct {
	Project  *models.Project
	InFlight Stage
}

type Config struct {
	SpeculativeTTL  time.Duration
	JanitorInterval time.Duration
}

type Orchestrator struct {
	ledger    Ledger
	projects  Projects
	users     Users
	artifacts Artifacts
	jobs      Jobs
	events    EventPublisher
	log       *slog.Logger

	guard        *stageGuard
	speculations *speculations
	janitorEvery time.Duration
	inflight     sync.WaitGroup
}

func New(cfg Config, l Ledger, projects Projects, users Users, artifacts Artifacts, j Jobs, events EventPublisher, log *slog.Logger) *Orchestrator {
	if cfg.SpeculativeTTL <= 0 {
		cfg.SpeculativeTTL = 30 * time.Minute
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		ledger:       l,
		projects:     projects,
		users:        users,
		artifacts:    artifacts,
		jobs:         j,
		events:       events,
		log:          log,
		guard:        newStageGuard(),
		speculations: newSpeculations(cfg.SpeculativeTTL),
		janitorEvery: cfg.JanitorInterval,
	}
}

// Restore charges one credit and restores the uploaded photo into a new
// project. A failed restoration is refunded before Restore returns.
func (o *Orchestrator) Restore(ctx context.Context, userID uuid.UUID, upload Upload) (*RestoreOutcome, error) {
	if err := validateUpload(upload); err != nil {
		return nil, err
	}

	original, err := o.artifacts.SaveUpload(upload.Data, upload.Filename)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	projectID := uuid.New()
	balance, err := o.ledger.Debit(ctx, userID, ledger.RestoreCost, ledger.ReasonRestore, projectID)
	if err != nil {
		o.artifacts.Release(ctx, original)
		return nil, err
	}
	o.log.Info("credits debited", "user_id", userID, "project_id", projectID, "amount", ledger.RestoreCost, "reason", ledger.ReasonRestore, "balance", balance)

	return detach(ctx, &o.inflight, func(ctx context.Context) (*RestoreOutcome, error) {
		restored, err := o.restore(ctx, upload)
		if err != nil {
			o.artifacts.Release(ctx, original)
			return nil, o.refund(ctx, userID, ledger.RestoreCost, projectID, StageRestore, err)
		}

		project := &models.Project{
			ID:          projectID,
			UserID:      userID,
			OriginalRef: o.artifacts.Publish(ctx, original.Location, "originals/"+filepath.Base(upload.Filename)),
			RestoredRef: restored,
			State:       models.StateRestored,
		}
		if err := o.projects.CreateProject(ctx, project); err != nil {
			o.releaseAll(ctx, original, project.OriginalRef, restored)
			return nil, o.refund(ctx, userID, ledger.RestoreCost, projectID, StageRestore, err)
		}

		o.publish(ctx, projectID, EventRestored, map[string]any{"restoredUrl": o.artifacts.PublicURL(restored)})
		return &RestoreOutcome{Project: project, CreditsLeft: balance}, nil
	})
}

// restore runs the restoration job and persists its result.
func (o *Orchestrator) restore(ctx context.Context, upload Upload) (artifact.Reference, error) {
	h, err := o.jobs.Submit(ctx, jobs.Request{Kind: jobs.KindRestore, Image: upload.Data, MimeType: upload.MimeType})
	if err != nil {
		return artifact.Reference{}, err
	}
	res := o.jobs.Await(ctx, h)
	if res.Status != jobs.StatusDone {
		return artifact.Reference{}, res.Err
	}
	return o.artifacts.Ingest(ctx, *res.Artifact, "restored/"+restoredName(upload.Filename, res.Artifact.MimeType))
}

// GeneratePrompts writes a fresh bilingual prompt set for a restored project.
// The stage is free, so failures leave the project as it was.
func (o *Orchestrator) GeneratePrompts(ctx context.Context, userID, projectID uuid.UUID) (*PromptsOutcome, error) {
	project, err := o.projects.GetProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if project.RestoredRef.IsZero() {
		return nil, ErrRestoreNotReady
	}

	release, ok := o.guard.acquire(projectID, StagePrompts)
	if !ok {
		return nil, ErrConflict
	}
	language := o.language(ctx, userID)

	return detach(ctx, &o.inflight, func(ctx context.Context) (*PromptsOutcome, error) {
		defer release()

		image, err := o.artifacts.ReadAll(ctx, project.RestoredRef)
		if err != nil {
			return nil, &StageError{Stage: StagePrompts, Err: err}
		}

		h, err := o.jobs.Submit(ctx, jobs.Request{Kind: jobs.KindPrompts, Image: image, MimeType: mimeFor(project.RestoredRef)})
		if err != nil {
			return nil, &StageError{Stage: StagePrompts, Err: err}
		}
		res := o.jobs.Await(ctx, h)
		if res.Status != jobs.StatusDone {
			o.log.Warn("prompt generation failed", "project_id", projectID, "err", res.Err)
			return nil, &StageError{Stage: StagePrompts, Err: res.Err}
		}

		if err := o.projects.SavePrompts(ctx, projectID, res.Prompts); err != nil {
			return nil, fmt.Errorf("save prompts: %w", err)
		}

		o.publish(ctx, projectID, EventPromptsReady, nil)
		return &PromptsOutcome{Prompts: res.Prompts, Display: DisplayPrompts(res.Prompts, language)}, nil
	})
}

// GenerateVideo charges three credits and animates the restored image with
// the English phrasing of the selected prompts. Failures and timeouts are
// refunded and the project returns to the state it had before.
func (o *Orchestrator) GenerateVideo(ctx context.Context, userID, projectID uuid.UUID, selected []string) (*VideoOutcome, error) {
	selected = nonEmpty(selected)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: select at least one prompt", ErrValidation)
	}

	project, err := o.projects.GetProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if project.RestoredRef.IsZero() {
		return nil, ErrRestoreNotReady
	}
	if !project.HasPrompts() {
		return nil, ErrPromptsNotReady
	}

	release, ok := o.guard.acquire(projectID, StageVideo)
	if !ok {
		return nil, ErrConflict
	}

	english := make([]string, len(selected))
	for i, s := range selected {
		english[i] = project.EnglishPrompt(s)
	}

	balance, err := o.ledger.Debit(ctx, userID, ledger.VideoCost, ledger.ReasonVideo, projectID)
	if err != nil {
		release()
		return nil, err
	}
	o.log.Info("credits debited", "user_id", userID, "project_id", projectID, "amount", ledger.VideoCost, "reason", ledger.ReasonVideo, "balance", balance)

	previous := project.State
	if previous == models.StateVideoPending {
		previous = models.StatePromptsReady
	}
	if err := o.projects.SetProjectState(ctx, projectID, models.StateVideoPending); err != nil {
		release()
		return nil, o.refund(context.WithoutCancel(ctx), userID, ledger.VideoCost, projectID, StageVideo, err)
	}
	o.publish(ctx, projectID, EventVideoPending, nil)

	return detach(ctx, &o.inflight, func(ctx context.Context) (*VideoOutcome, error) {
		defer release()

		videoRef, err := o.video(ctx, project, english)
		if err == nil {
			err = o.projects.SaveVideo(ctx, projectID, videoRef)
			if err != nil {
				o.artifacts.Release(ctx, videoRef)
			}
		}
		if err != nil {
			if stateErr := o.projects.SetProjectState(ctx, projectID, previous); stateErr != nil {
				o.log.Error("failed to restore project state", "project_id", projectID, "state", previous, "err", stateErr)
			}
			stageErr := o.refund(ctx, userID, ledger.VideoCost, projectID, StageVideo, err)
			o.publish(ctx, projectID, EventVideoFailed, map[string]any{"error": err.Error(), "refunded": stageErr.Refunded})
			return nil, stageErr
		}

		if !project.VideoRef.IsZero() && project.VideoRef != videoRef {
			o.artifacts.Release(ctx, project.VideoRef)
		}
		project.VideoRef = videoRef
		project.State = models.StateVideoReady

		url := o.artifacts.PublicURL(videoRef)
		o.publish(ctx, projectID, EventVideoReady, map[string]any{"videoUrl": url})
		return &VideoOutcome{Project: project, VideoURL: url, CreditsLeft: balance}, nil
	})
}

func (o *Orchestrator) video(ctx context.Context, project *models.Project, english []string) (artifact.Reference, error) {
	image, err := o.artifacts.ReadAll(ctx, project.RestoredRef)
	if err != nil {
		return artifact.Reference{}, err
	}

	h, err := o.jobs.Submit(ctx, jobs.Request{
		Kind:     jobs.KindVideo,
		Image:    image,
		MimeType: mimeFor(project.RestoredRef),
		Prompt:   VideoPrompt(english),
	})
	if err != nil {
		return artifact.Reference{}, err
	}

	res := o.jobs.Await(ctx, h)
	if res.Status != jobs.StatusDone {
		return artifact.Reference{}, res.Err
	}
	return o.artifacts.Ingest(ctx, *res.Artifact, "videos/"+project.ID.String()+".mp4")
}

// ToggleLike flips the like flag, or sets it when liked is non-nil, and
// returns the updated project.
func (o *Orchestrator) ToggleLike(ctx context.Context, userID, projectID uuid.UUID, liked *bool) (*models.Project, error) {
	if _, err := o.projects.SetLike(ctx, projectID, userID, liked); err != nil {
		return nil, err
	}
	return o.projects.GetProject(ctx, projectID, userID)
}

// DeleteProject removes the project and releases all of its artifacts.
// Release failures are logged only.
func (o *Orchestrator) DeleteProject(ctx context.Context, userID, projectID uuid.UUID) error {
	project, err := o.projects.GetProject(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if _, busy := o.guard.current(projectID); busy {
		return ErrConflict
	}

	if err := o.projects.DeleteProject(ctx, projectID, userID); err != nil {
		return err
	}

	o.releaseAll(ctx, project.OriginalRef, project.RestoredRef, project.VideoRef)
	o.log.Info("project deleted", "project_id", projectID, "user_id", userID)
	return nil
}

func (o *Orchestrator) Status(ctx context.Context, userID, projectID uuid.UUID) (*StatusOutcome, error) {
	project, err := o.projects.GetProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	stage, _ := o.guard.current(projectID)
	return &StatusOutcome{Project: project, InFlight: stage}, nil
}

func (o *Orchestrator) ListProjects(ctx context.Context, userID uuid.UUID, likedOnly bool) ([]models.Project, error) {
	return o.projects.ListProjects(ctx, userID, likedOnly)
}

func (o *Orchestrator) PublicURL(ref artifact.Reference) string {
	return o.artifacts.PublicURL(ref)
}

// OpenArtifact resolves one artifact of the caller's project to a local file.
// cleanup removes any scratch copy and must be called when done.
func (o *Orchestrator) OpenArtifact(ctx context.Context, userID, projectID uuid.UUID, kind string) (path string, cleanup func(), err error) {
	project, err := o.projects.GetProject(ctx, projectID, userID)
	if err != nil {
		return "", nil, err
	}

	var ref artifact.Reference
	switch kind {
	case "original":
		ref = project.OriginalRef
	case "restored", "":
		ref = project.RestoredRef
	case "video":
		ref = project.VideoRef
	default:
		return "", nil, fmt.Errorf("%w: unknown artifact kind %q", ErrValidation, kind)
	}
	if ref.IsZero() {
		return "", nil, fmt.Errorf("%s: %w", kind, ErrNotFound)
	}

	path, err = o.artifacts.ResolveToLocal(ctx, ref)
	if err != nil {
		return "", nil, err
	}
	return path, func() { o.artifacts.Discard(path) }, nil
}

// RecoverInterrupted refunds video jobs that were running when the process
// last stopped. Only one process runs the pipeline, so every video_pending
// row at startup is orphaned.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	pending, err := o.projects.ListProjectsByState(ctx, models.StateVideoPending)
	if err != nil {
		return 0, fmt.Errorf("list interrupted projects: %w", err)
	}

	recovered := 0
	for _, project := range pending {
		state := models.StatePromptsReady
		if !project.VideoRef.IsZero() {
			state = models.StateVideoReady
		}
		// The row stays video_pending until the refund lands, so a failed
		// refund is retried on the next start.
		balance, err := o.ledger.Refund(ctx, project.UserID, ledger.VideoCost, project.ID)
		if err != nil {
			o.log.Error("failed to refund interrupted video", "project_id", project.ID, "user_id", project.UserID, "err", err)
			continue
		}
		o.log.Warn("interrupted video refunded", "project_id", project.ID, "user_id", project.UserID, "amount", ledger.VideoCost, "balance", balance)
		recovered++
		if err := o.projects.SetProjectState(ctx, project.ID, state); err != nil {
			o.log.Error("failed to reset interrupted project", "project_id", project.ID, "state", state, "err", err)
		}
	}
	return recovered, nil
}

// Wait blocks until every detached stage has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) refund(ctx context.Context, userID uuid.UUID, amount int, projectID uuid.UUID, stage Stage, cause error) *StageError {
	balance, err := o.ledger.Refund(ctx, userID, amount, projectID)
	if err != nil {
		o.log.Error("refund failed", "user_id", userID, "project_id", projectID, "amount", amount, "stage", stage, "cause", cause, "err", err)
		return &StageError{Stage: stage, Err: cause}
	}
	o.log.Warn("stage failed, credits refunded", "user_id", userID, "project_id", projectID, "amount", amount, "stage", stage, "balance", balance, "err", cause)
	return &StageError{Stage: stage, Err: cause, Refunded: true, CreditsLeft: balance}
}

func (o *Orchestrator) releaseAll(ctx context.Context, refs ...artifact.Reference) {
	seen := make(map[artifact.Reference]bool, len(refs))
	for _, ref := range refs {
		if ref.IsZero() || seen[ref] {
			continue
		}
		seen[ref] = true
		o.artifacts.Release(ctx, ref)
	}
}

func (o *Orchestrator) publish(ctx context.Context, projectID uuid.UUID, event string, payload map[string]any) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishProjectEvent(context.WithoutCancel(ctx), projectID, event, payload); err != nil {
		o.log.Warn("failed to publish project event", "project_id", projectID, "event", event, "err", err)
	}
}

func (o *Orchestrator) language(ctx context.Context, userID uuid.UUID) string {
	if o.users == nil {
		return models.LanguageEN
	}
	user, err := o.users.GetUser(ctx, userID)
	if err != nil {
		return models.LanguageEN
	}
	return user.Language
}

// detach runs fn on a context that ignores ctx's cancellation and waits for
// it. If ctx ends first the caller gets ctx.Err() while fn keeps running to
// completion in the background.
func detach[T any](ctx context.Context, wg *sync.WaitGroup, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	out := make(chan result, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := fn(context.WithoutCancel(ctx))
		out <- result{v, err}
	}()

	select {
	case r := <-out:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// DisplayPrompts returns the phrasing of each prompt in language.
func DisplayPrompts(prompts []models.BilingualPrompt, language string) []string {
	display := make([]string, len(prompts))
	for i, p := range prompts {
		if language == models.LanguageRU {
			display[i] = p.RU
		} else {
			display[i] = p.EN
		}
	}
	return display
}

// VideoPrompt joins the selected English prompts into one video direction.
func VideoPrompt(english []string) string {
	return "Cinematic shot, " + strings.Join(english, ", ") + ", high quality, smooth motion, professional cinematography, 4K"
}

func validateUpload(u Upload) error {
	if len(u.Data) == 0 {
		return fmt.Errorf("%w: no image uploaded", ErrValidation)
	}
	return nil
}

func nonEmpty(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func restoredName(original, mimeType string) string {
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	if base == "" || base == "." {
		base = "photo"
	}
	switch mimeType {
	case "image/jpeg":
		return base + ".jpg"
	case "image/webp":
		return base + ".webp"
	default:
		return base + ".png"
	}
}

func mimeFor(ref artifact.Reference) string {
	switch strings.ToLower(filepath.Ext(ref.Location)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}

// IsRefundable reports whether err is a stage failure whose debit was
// credited back.
func IsRefundable(err error) bool {
	var stageErr *StageError
	return errors.As(err, &stageErr) && stageErr.Refunded
}
