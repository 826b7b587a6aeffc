package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrArtifactMissing is returned when a local reference points at a file
	// that no longer exists.
	ErrArtifactMissing = errors.New("artifact missing")
	// ErrArtifactUnavailable is returned when a remote artifact cannot be
	// fetched (network error, timeout, non-2xx).
	ErrArtifactUnavailable = errors.New("artifact unavailable")
)

// ObjectStore is a remote backing store for published artifacts.
type ObjectStore interface {
	// Upload stores data under key and returns its public URL.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	// KeyForURL maps a public URL produced by Upload back to its key.
	KeyForURL(publicURL string) (string, bool)
}

// Payload is a job result handed to the store: raw bytes or a fetchable URI.
type Payload struct {
	Data     []byte
	URI      string
	MimeType string
}

type Config struct {
	UploadDir       string
	ScratchDir      string
	PublicBaseURL   string
	DownloadTimeout time.Duration
}

type Store struct {
	uploadDir  string
	scratchDir string
	baseURL    string
	remote     ObjectStore
	httpClient *http.Client
	log        *slog.Logger
}

// NewStore prepares the local directories. remote may be nil, in which case
// every artifact is served from local disk.
func NewStore(cfg Config, remote ObjectStore, log *slog.Logger) (*Store, error) {
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("upload dir is required")
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(cfg.UploadDir, "tmp")
	}
	if filepath.Clean(cfg.ScratchDir) == filepath.Clean(cfg.UploadDir) {
		return nil, fmt.Errorf("scratch dir must differ from upload dir %s", cfg.UploadDir)
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 30 * time.Second
	}
	for _, dir := range []string{cfg.UploadDir, cfg.ScratchDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Store{
		uploadDir:  cfg.UploadDir,
		scratchDir: cfg.ScratchDir,
		baseURL:    strings.TrimRight(cfg.PublicBaseURL, "/"),
		remote:     remote,
		httpClient: &http.Client{Timeout: cfg.DownloadTimeout},
		log:        log,
	}, nil
}

// HasRemote reports whether a remote backing store is configured.
func (s *Store) HasRemote() bool {
	return s.remote != nil
}

// SaveUpload writes bytes into the upload directory under a unique name that
// keeps the extension of name.
func (s *Store) SaveUpload(data []byte, name string) (Reference, error) {
	if len(data) == 0 {
		return Reference{}, fmt.Errorf("no data to save")
	}
	filename := uniqueName(name)
	dest := filepath.Join(s.uploadDir, filename)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return Reference{}, fmt.Errorf("write %s: %w", dest, err)
	}
	return Local(dest), nil
}

// ResolveToLocal returns a path on local disk holding the artifact bytes.
// Remote artifacts are downloaded into the scratch directory; callers release
// those copies with Discard.
func (s *Store) ResolveToLocal(ctx context.Context, ref Reference) (string, error) {
	switch {
	case ref.IsLocal():
		info, err := os.Stat(ref.Location)
		if err != nil || info.IsDir() {
			return "", fmt.Errorf("%w: %s", ErrArtifactMissing, ref.Location)
		}
		return ref.Location, nil
	case ref.IsRemote():
		return s.download(ctx, ref.Location)
	default:
		return "", fmt.Errorf("%w: empty reference", ErrArtifactMissing)
	}
}

// ReadAll resolves ref and returns its bytes, discarding any scratch copy.
func (s *Store) ReadAll(ctx context.Context, ref Reference) ([]byte, error) {
	localPath, err := s.ResolveToLocal(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer s.Discard(localPath)

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactMissing, err)
	}
	return data, nil
}

// Ingest persists a job result locally and then publishes it.
func (s *Store) Ingest(ctx context.Context, payload Payload, logicalName string) (Reference, error) {
	var localPath string
	switch {
	case len(payload.Data) > 0:
		ref, err := s.SaveUpload(payload.Data, logicalName)
		if err != nil {
			return Reference{}, err
		}
		localPath = ref.Location
	case payload.URI != "":
		scratch, err := s.download(ctx, payload.URI)
		if err != nil {
			return Reference{}, err
		}
		defer s.Discard(scratch)
		data, err := os.ReadFile(scratch)
		if err != nil {
			return Reference{}, fmt.Errorf("read %s: %w", scratch, err)
		}
		ref, err := s.SaveUpload(data, logicalName)
		if err != nil {
			return Reference{}, err
		}
		localPath = ref.Location
	default:
		return Reference{}, fmt.Errorf("%w: empty payload", ErrArtifactMissing)
	}

	return s.Publish(ctx, localPath, logicalName), nil
}

// Publish uploads the file at localPath to the remote store. Any failure is
// logged and the local reference is returned instead, so callers never fail
// because of remote storage. After a successful upload the local copy is
// removed and the remote object is the only one.
func (s *Store) Publish(ctx context.Context, localPath, logicalName string) Reference {
	local := Local(localPath)
	if s.remote == nil {
		return local
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		s.log.Warn("publish: read local artifact failed, serving locally", "path", localPath, "err", err)
		return local
	}

	key := objectKey(logicalName)
	publicURL, err := s.remote.Upload(ctx, key, data, contentTypeFor(localPath))
	if err != nil {
		s.log.Warn("publish: remote upload failed, serving locally", "key", key, "err", err)
		return local
	}

	if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("publish: remove local copy failed", "path", localPath, "err", err)
	}
	s.log.Info("artifact published", "key", key, "url", publicURL)
	return Remote(publicURL)
}

// Release deletes the artifact from whichever store holds it. Failures are
// logged only.
func (s *Store) Release(ctx context.Context, ref Reference) {
	switch {
	case ref.IsLocal():
		if err := os.Remove(ref.Location); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("release: remove local artifact failed", "path", ref.Location, "err", err)
		}
	case ref.IsRemote():
		if s.remote == nil {
			s.log.Warn("release: remote artifact but no remote store configured", "url", ref.Location)
			return
		}
		key, ok := s.remote.KeyForURL(ref.Location)
		if !ok {
			s.log.Warn("release: url does not belong to the remote store", "url", ref.Location)
			return
		}
		if err := s.remote.Delete(ctx, key); err != nil {
			s.log.Warn("release: remote delete failed", "key", key, "err", err)
		}
	}
}

// Discard removes path if it is a scratch copy made by ResolveToLocal.
func (s *Store) Discard(localPath string) {
	if filepath.Dir(localPath) != filepath.Clean(s.scratchDir) || !strings.HasPrefix(filepath.Base(localPath), scratchPrefix) {
		return
	}
	if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("discard scratch copy failed", "path", localPath, "err", err)
	}
}

// PublicURL returns the URL a client uses to fetch the artifact.
func (s *Store) PublicURL(ref Reference) string {
	switch {
	case ref.IsRemote():
		return ref.Location
	case ref.IsLocal():
		return s.baseURL + "/uploads/" + url.PathEscape(filepath.Base(ref.Location))
	default:
		return ""
	}
}

func (s *Store) download(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactUnavailable, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArtifactUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: GET %s returned status %d", ErrArtifactUnavailable, rawURL, resp.StatusCode)
	}

	ext := extensionFor(rawURL, resp.Header.Get("Content-Type"))
	f, err := os.CreateTemp(s.scratchDir, scratchPrefix+"*"+ext)
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("%w: %v", ErrArtifactUnavailable, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close scratch file: %w", err)
	}
	return f.Name(), nil
}

const scratchPrefix = "download-"

func uniqueName(name string) string {
	return uuid.NewString() + strings.ToLower(filepath.Ext(name))
}

// objectKey places name under a dated folder, e.g. images/2026/10/14/<uuid>.jpg.
func objectKey(logicalName string) string {
	folder, file := path.Split(filepath.ToSlash(logicalName))
	folder = strings.Trim(folder, "/")
	if folder == "" {
		folder = "artifacts"
	}
	now := time.Now().UTC()
	return path.Join(folder, now.Format("2006/01/02"), uniqueName(file))
}

func extensionFor(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return strings.ToLower(ext)
		}
	}
	if contentType != "" {
		mediaType, _, _ := mime.ParseMediaType(contentType)
		if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return ".bin"
}

func contentTypeFor(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	default:
		return "application/octet-stream"
	}
}
