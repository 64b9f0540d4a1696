package resource

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	_ "modernc.org/sqlite"

	storagefs "notekit/internal/storage/fs"
)

// Store keeps resource metadata in SQLite and payloads as <id>.<ext> files
// in a single resource directory. Payloads are deduplicated by SHA-256.
type Store struct {
	db          *sql.DB
	resourceDir string
	lockPath    string
	lockTimeout time.Duration
	locker      *storagefs.Locker
}

type OpenOptions struct {
	ResourceDir string
	BusyTimeout time.Duration
	// LockTimeout bounds busy retries and the cross-process create lock.
	LockTimeout time.Duration
}

type CreateOptions struct {
	// Title defaults to the base name of the source path.
	Title             string
	ResizeLargeImages bool
	MaxImageDim       int
}

func Open(path string, opts OpenOptions) (*Store, error) {
	if strings.TrimSpace(opts.ResourceDir) == "" {
		return nil, errors.New("resource dir is required")
	}
	resourceDir, err := filepath.Abs(opts.ResourceDir)
	if err != nil {
		return nil, err
	}
	opts.ResourceDir = resourceDir
	if err := os.MkdirAll(opts.ResourceDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)", path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:          db,
		resourceDir: opts.ResourceDir,
		lockPath:    path + ".lock",
		lockTimeout: opts.LockTimeout,
		locker:      storagefs.NewLocker(),
	}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return err
	}
	var version int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.ExecContext(ctx, "INSERT INTO schema_version(version) VALUES(?)", schemaVersion)
		return err
	}
	if err != nil {
		return err
	}
	if version != schemaVersion {
		return fmt.Errorf("unsupported schema version %d", version)
	}
	return nil
}

func (s *Store) ResourceDir() string {
	return s.resourceDir
}

func (s *Store) FullPath(r Resource) string {
	return filepath.Join(s.resourceDir, r.Filename())
}

const resourceColumns = "id, title, mime, file_extension, size, sha256, created_at, updated_at"

func scanResource(row rowScanner) (Resource, error) {
	var r Resource
	var created, updated int64
	if err := row.Scan(&r.ID, &r.Title, &r.Mime, &r.FileExtension, &r.Size, &r.SHA256, &created, &updated); err != nil {
		return Resource{}, err
	}
	r.CreatedAt = time.UnixMilli(created)
	r.UpdatedAt = time.UnixMilli(updated)
	return r, nil
}

func (s *Store) Load(ctx context.Context, id string) (Resource, error) {
	id = strings.TrimSpace(id)
	r, err := scanResource(s.queryRowContext(ctx, "SELECT "+resourceColumns+" FROM resources WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Resource{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Resource{}, err
	}
	return r, nil
}

func (s *Store) findBySHA256(ctx context.Context, sum string) (Resource, bool, error) {
	r, err := scanResource(s.queryRowContext(ctx, "SELECT "+resourceColumns+" FROM resources WHERE sha256 = ? ORDER BY created_at DESC LIMIT 1", sum))
	if errors.Is(err, sql.ErrNoRows) {
		return Resource{}, false, nil
	}
	if err != nil {
		return Resource{}, false, err
	}
	return r, true, nil
}

// CreateFromPath copies the file at path into the store. When a resource
// with identical content already exists and its payload is present, that
// resource is returned instead of a new one.
func (s *Store) CreateFromPath(ctx context.Context, path string, opts CreateOptions) (Resource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Resource{}, err
	}
	if !info.Mode().IsRegular() {
		return Resource{}, fmt.Errorf("not a regular file: %s", path)
	}
	sum, err := fileSHA256(path)
	if err != nil {
		return Resource{}, err
	}

	unlock := s.locker.Lock(sum)
	defer unlock()
	lock, err := storagefs.AcquireFileLock(s.lockPath, s.lockTimeout)
	if err != nil {
		return Resource{}, fmt.Errorf("acquire store lock: %w", err)
	}
	defer lock.Release()

	if existing, ok, err := s.findBySHA256(ctx, sum); err != nil {
		return Resource{}, err
	} else if ok {
		if _, statErr := os.Stat(s.FullPath(existing)); statErr == nil {
			slog.Debug("resource dedup", "path", path, "id", existing.ID)
			return existing, nil
		}
	}

	mime, ext := detectType(path)
	now := time.Now()
	r := Resource{
		ID:            NewID(),
		Title:         strings.TrimSpace(opts.Title),
		Mime:          mime,
		FileExtension: ext,
		SHA256:        sum,
		CreatedAt:     time.UnixMilli(now.UnixMilli()),
		UpdatedAt:     time.UnixMilli(now.UnixMilli()),
	}
	if r.Title == "" {
		r.Title = filepath.Base(path)
	}
	dst := s.FullPath(r)
	size, err := storagefs.CopyFileAtomic(path, dst, 0o644)
	if err != nil {
		return Resource{}, fmt.Errorf("copy payload: %w", err)
	}
	r.Size = size
	if opts.ResizeLargeImages && isResizable(r.Mime) {
		resized, err := ResizeLargeImage(dst, opts.MaxImageDim)
		if err != nil {
			slog.Warn("resize image", "path", path, "err", err)
		} else if resized {
			if st, err := os.Stat(dst); err == nil {
				r.Size = st.Size()
			}
		}
	}

	if err := s.insert(ctx, r, StatusReady); err != nil {
		_ = os.Remove(dst)
		return Resource{}, err
	}
	slog.Info("resource created", "id", r.ID, "title", r.Title, "mime", r.Mime, "size", r.Size)
	return r, nil
}

// Register records metadata for a resource whose payload is not local yet,
// such as one learned about from a sync.
func (s *Store) Register(ctx context.Context, r Resource) error {
	if !IsValidID(r.ID) {
		return fmt.Errorf("invalid resource id %q", r.ID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	return s.insert(ctx, r, StatusNotDownloaded)
}

func (s *Store) insert(ctx context.Context, r Resource, status FetchStatus) error {
	tx, start, err := s.beginTx(ctx, "resource-insert")
	if err != nil {
		return err
	}
	defer s.rollbackTx(tx, "resource-insert", start)
	if _, err := s.execContextTx(ctx, tx, `
		INSERT INTO resources(`+resourceColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Title, r.Mime, r.FileExtension, r.Size, r.SHA256, r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(),
	); err != nil {
		return err
	}
	if _, err := s.execContextTx(ctx, tx, `
		INSERT INTO resource_local_states(resource_id, fetch_status, fetch_error, updated_at)
		VALUES(?, ?, '', ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			fetch_status = excluded.fetch_status,
			fetch_error = '',
			updated_at = excluded.updated_at`,
		r.ID, string(status), time.Now().UnixMilli(),
	); err != nil {
		return err
	}
	return s.commitTx(tx, "resource-insert", start)
}

// LocalState reports the fetch status of r. Without a recorded state the
// presence of the payload file decides between ready and not-downloaded.
func (s *Store) LocalState(ctx context.Context, r Resource) (LocalState, error) {
	state := LocalState{ResourceID: r.ID}
	var status, fetchErr string
	var updated int64
	err := s.queryRowContext(ctx, `
		SELECT fetch_status, fetch_error, updated_at
		FROM resource_local_states
		WHERE resource_id = ?`, r.ID).Scan(&status, &fetchErr, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		state.FetchStatus = StatusNotDownloaded
		if _, statErr := os.Stat(s.FullPath(r)); statErr == nil {
			state.FetchStatus = StatusReady
		}
		return state, nil
	}
	if err != nil {
		return LocalState{}, err
	}
	parsed, ok := ParseFetchStatus(status)
	if !ok {
		parsed = StatusError
	}
	state.FetchStatus = parsed
	state.FetchError = fetchErr
	state.UpdatedAt = time.UnixMilli(updated)
	return state, nil
}

func (s *Store) SetLocalState(ctx context.Context, id string, status FetchStatus, fetchErr string) error {
	_, err := s.execContext(ctx, `
		INSERT INTO resource_local_states(resource_id, fetch_status, fetch_error, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			fetch_status = excluded.fetch_status,
			fetch_error = excluded.fetch_error,
			updated_at = excluded.updated_at`,
		id, string(status), fetchErr, time.Now().UnixMilli(),
	)
	return err
}

// MarkForDownload queues the given ids ahead of anything queued earlier.
// Resources that are already ready are skipped.
func (s *Store) MarkForDownload(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var top int
	if err := s.queryRowContext(ctx, "SELECT COALESCE(MAX(priority), 0) FROM download_queue").Scan(&top); err != nil {
		return err
	}
	tx, start, err := s.beginTx(ctx, "download-mark")
	if err != nil {
		return err
	}
	defer s.rollbackTx(tx, "download-mark", start)
	now := time.Now().UnixMilli()
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, err := s.execContextTx(ctx, tx, `
			INSERT INTO download_queue(resource_id, priority, queued_at)
			SELECT ?, ?, ?
			WHERE NOT EXISTS (
				SELECT 1 FROM resource_local_states
				WHERE resource_id = ? AND fetch_status = ?
			)
			ON CONFLICT(resource_id) DO UPDATE SET
				priority = excluded.priority,
				queued_at = excluded.queued_at`,
			id, top+1, now, id, string(StatusReady),
		); err != nil {
			return err
		}
	}
	return s.commitTx(tx, "download-mark", start)
}

// PendingDownloads lists queued ids, highest priority first.
func (s *Store) PendingDownloads(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.queryContext(ctx, `
		SELECT resource_id FROM download_queue
		ORDER BY priority DESC, queued_at ASC, resource_id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// detectType sniffs the MIME type from content and prefers the source file's
// own extension when it has one.
func detectType(path string) (string, string) {
	mime := "application/octet-stream"
	ext := ""
	if m, err := mimetype.DetectFile(path); err == nil {
		mime = m.String()
		if i := strings.Index(mime, ";"); i >= 0 {
			mime = strings.TrimSpace(mime[:i])
		}
		ext = strings.TrimPrefix(m.Extension(), ".")
	}
	if own := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."); own != "" && isSafeExtension(own) {
		ext = own
	}
	return mime, ext
}

func isSafeExtension(ext string) bool {
	if len(ext) > 10 {
		return false
	}
	for _, c := range ext {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
