// Package session persists append-only design sessions, one JSON file each.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pario-ai/meshbridge/pkg/models"
)

// ErrNotFound is returned for unknown or malformed session ids.
var ErrNotFound = errors.New("session not found")

// DefaultTitle is used when a session is created without a title.
const DefaultTitle = "Untitled Session"

var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, title string, defaults models.Params) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Append(ctx context.Context, id string, item models.SessionItem) (*models.Session, error)
	Update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error)
	List(ctx context.Context) ([]models.SessionSummary, error)
}

// FileStore keeps each session in <dir>/<id>.json. Writers to the same
// session are serialized; different sessions proceed independently.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &FileStore{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// NewID returns a fresh dashless uuid.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Now returns the current time as float Unix seconds.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Create allocates and persists an empty session.
func (s *FileStore) Create(_ context.Context, title string, defaults models.Params) (*models.Session, error) {
	if title == "" {
		title = DefaultTitle
	}
	sess := &models.Session{
		ID:        NewID(),
		Title:     title,
		CreatedAt: Now(),
		Defaults:  defaults,
		Items:     []models.SessionItem{},
	}
	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session.
func (s *FileStore) Get(_ context.Context, id string) (*models.Session, error) {
	if !idPattern.MatchString(id) {
		return nil, ErrNotFound
	}
	return s.load(id)
}

// Append adds item to the end of the session's items.
func (s *FileStore) Append(ctx context.Context, id string, item models.SessionItem) (*models.Session, error) {
	return s.Update(ctx, id, func(sess *models.Session) error {
		sess.Items = append(sess.Items, item)
		return nil
	})
}

// Update loads the session, applies fn and writes the result, all under the
// session's lock. If fn fails nothing is written.
func (s *FileStore) Update(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	if !idPattern.MatchString(id) {
		return nil, ErrNotFound
	}
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, err := s.load(id)
	if err != nil {
		return nil, err
	}
	before := len(sess.Items)
	if err := fn(sess); err != nil {
		return nil, err
	}
	if len(sess.Items) < before {
		return nil, fmt.Errorf("update session %s: items are append-only", id)
	}
	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns a summary of every session, newest first.
func (s *FileStore) List(_ context.Context) ([]models.SessionSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []models.SessionSummary
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok || !idPattern.MatchString(id) {
			continue
		}
		sess, err := s.load(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, models.SessionSummary{
			ID:        sess.ID,
			Title:     sess.Title,
			CreatedAt: sess.CreatedAt,
			ItemCount: len(sess.Items),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (s *FileStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) load(id string) (*models.Session, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if sess.ID != id {
		return nil, fmt.Errorf("decode session %s: id mismatch %q", id, sess.ID)
	}
	if sess.Items == nil {
		sess.Items = []models.SessionItem{}
	}
	return &sess, nil
}

func (s *FileStore) save(sess *models.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+sess.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("write session %s: %w", sess.ID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write session %s: %w", sess.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write session %s: %w", sess.ID, err)
	}
	if err := os.Rename(tmpName, s.path(sess.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write session %s: %w", sess.ID, err)
	}
	return nil
}
