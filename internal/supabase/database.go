package supabase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"retro-improver-backend/internal/artifact"
	"retro-improver-backend/internal/models"
)

// ErrEmailTaken is returned by CreateUser when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(db *sql.DB) *DatabaseClient {
	return &DatabaseClient{db: db}
}

func (d *DatabaseClient) DB() *sql.DB {
	return d.db
}

const userColumns = `id, email, password_hash, credits, language, is_subscribed, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Credits,
		&user.Language, &user.IsSubscribed, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a user with a zero balance. Starting credits are granted
// through the ledger so they leave an audit row.
func (d *DatabaseClient) CreateUser(ctx context.Context, email, passwordHash, language string) (*models.User, error) {
	if language == "" {
		language = models.LanguageEN
	}

	user, err := scanUser(d.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, password_hash, credits, language)
		VALUES ($1, $2, $3, 0, $4)
		RETURNING `+userColumns,
		uuid.New(), strings.ToLower(email), passwordHash, language,
	))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (d *DatabaseClient) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := scanUser(d.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, userID))
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

func (d *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(d.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, strings.ToLower(email)))
	if err != nil {
		return nil, notFound("user", err)
	}
	return user, nil
}

const projectColumns = `id, user_id, original_ref, restored_ref, video_ref, prompts, state, is_liked, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	var (
		project models.Project
		prompts []byte
	)
	err := row.Scan(
		&project.ID, &project.UserID, &project.OriginalRef, &project.RestoredRef,
		&project.VideoRef, &prompts, &project.State, &project.IsLiked,
		&project.CreatedAt, &project.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(prompts) > 0 {
		if err := json.Unmarshal(prompts, &project.Prompts); err != nil {
			return nil, fmt.Errorf("failed to decode prompts: %w", err)
		}
	}
	return &project, nil
}

func (d *DatabaseClient) CreateProject(ctx context.Context, project *models.Project) error {
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	if project.State == "" {
		project.State = models.StateRestored
	}

	err := d.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, user_id, original_ref, restored_ref, state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, project.ID, project.UserID, project.OriginalRef, project.RestoredRef, project.State,
	).Scan(&project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (d *DatabaseClient) GetProject(ctx context.Context, projectID, userID uuid.UUID) (*models.Project, error) {
	project, err := scanProject(d.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE id = $1 AND user_id = $2
	`, projectID, userID))
	if err != nil {
		return nil, notFound("project", err)
	}
	return project, nil
}

func (d *DatabaseClient) ListProjects(ctx context.Context, userID uuid.UUID, likedOnly bool) ([]models.Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects
		WHERE user_id = $1`
	if likedOnly {
		query += ` AND is_liked`
	}
	query += ` ORDER BY created_at DESC`

	return d.queryProjects(ctx, query, userID)
}

// ListProjectsByState returns projects of every user in the given state.
func (d *DatabaseClient) ListProjectsByState(ctx context.Context, state models.ProjectState) ([]models.Project, error) {
	return d.queryProjects(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE state = $1
		ORDER BY updated_at
	`, state)
}

func (d *DatabaseClient) queryProjects(ctx context.Context, query string, args ...any) ([]models.Project, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// SavePrompts stores a complete prompt set and moves the project to
// prompts_ready. An existing video is left untouched.
func (d *DatabaseClient) SavePrompts(ctx context.Context, projectID uuid.UUID, prompts []models.BilingualPrompt) error {
	encoded, err := json.Marshal(prompts)
	if err != nil {
		return fmt.Errorf("failed to encode prompts: %w", err)
	}

	return d.execOne(ctx, `
		UPDATE projects
		SET prompts = $1, state = CASE WHEN state = 'restored' THEN 'prompts_ready' ELSE state END, updated_at = NOW()
		WHERE id = $2
	`, encoded, projectID)
}

func (d *DatabaseClient) SaveVideo(ctx context.Context, projectID uuid.UUID, videoRef artifact.Reference) error {
	return d.execOne(ctx, `
		UPDATE projects
		SET video_ref = $1, state = $2, updated_at = NOW()
		WHERE id = $3
	`, videoRef, models.StateVideoReady, projectID)
}

func (d *DatabaseClient) SetProjectState(ctx context.Context, projectID uuid.UUID, state models.ProjectState) error {
	return d.execOne(ctx, `
		UPDATE projects
		SET state = $1, updated_at = NOW()
		WHERE id = $2
	`, state, projectID)
}

// SetLike sets is_liked to liked, or flips it when liked is nil, and returns
// the stored value.
func (d *DatabaseClient) SetLike(ctx context.Context, projectID, userID uuid.UUID, liked *bool) (bool, error) {
	var isLiked bool
	err := d.db.QueryRowContext(ctx, `
		UPDATE projects
		SET is_liked = COALESCE($3::boolean, NOT is_liked), updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING is_liked
	`, projectID, userID, liked).Scan(&isLiked)
	if err != nil {
		return false, notFound("project", err)
	}
	return isLiked, nil
}

func (d *DatabaseClient) DeleteProject(ctx context.Context, projectID, userID uuid.UUID) error {
	return d.execOne(ctx, `
		DELETE FROM projects
		WHERE id = $1 AND user_id = $2
	`, projectID, userID)
}

func (d *DatabaseClient) execOne(ctx context.Context, query string, args ...any) error {
	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("project: %w", models.ErrNotFound)
	}
	return nil
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}
