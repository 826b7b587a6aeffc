package models

import (
	"time"

	"github.com/google/uuid"
	"retro-improver-backend/internal/artifact"
)

// ProjectState is the persisted rest state of a project in the pipeline.
type ProjectState string

const (
	StateRestored     ProjectState = "restored"
	StatePromptsReady ProjectState = "prompts_ready"
	StateVideoPending ProjectState = "video_pending"
	StateVideoReady   ProjectState = "video_ready"
)

// BilingualPrompt is one animation idea phrased in English and Russian.
// Video generation always uses EN.
type BilingualPrompt struct {
	EN string `json:"en"`
	RU string `json:"ru"`
}

// PromptCount is the number of entries in a complete prompt set.
const PromptCount = 4

type Project struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	OriginalRef artifact.Reference
	RestoredRef artifact.Reference
	VideoRef    artifact.Reference
	Prompts     []BilingualPrompt
	State       ProjectState
	IsLiked     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasPrompts reports whether stage 2 has completed for the project.
func (p *Project) HasPrompts() bool {
	return len(p.Prompts) == PromptCount
}

// EnglishPrompt maps a displayed prompt string back to the English phrasing
// of the same entry. Strings that match no entry are returned unchanged.
func (p *Project) EnglishPrompt(displayed string) string {
	for _, prompt := range p.Prompts {
		if displayed == prompt.EN || displayed == prompt.RU {
			return prompt.EN
		}
	}
	return displayed
}
