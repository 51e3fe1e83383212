package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"reelvault/internal/faults"
	"reelvault/internal/fileutil"
	"reelvault/internal/logging"
)

// FileName is the advisory marker written into a project directory.
const FileName = ".lock"

// DefaultStaleAfter is the marker age past which a lock no longer counts.
const DefaultStaleAfter = time.Hour

// Stale reasons reported by Check.
const (
	StaleProcessGone = "process_gone"
	StaleExpired     = "expired"
	StaleUnreadable  = "unreadable"
)

// Info is the content of a lock marker.
type Info struct {
	User     string    `json:"user"`
	Hostname string    `json:"hostname"`
	PID      int       `json:"pid"`
	OpenedAt time.Time `json:"opened_at"`
}

// Status describes the lock state of a project. A stale marker has already
// been purged when Stale is set, so Exists is false in that case.
type Status struct {
	Exists      bool   `json:"exists"`
	Stale       bool   `json:"stale,omitempty"`
	StaleReason string `json:"stale_reason,omitempty"`
	OwnedBySelf bool   `json:"owned_by_self"`
	*Info
}

// LockedError reports a valid lock held by another process.
type LockedError struct {
	Path string
	Info Info
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("project %s locked by %s@%s (pid %d) since %s",
		filepath.Base(e.Path), e.Info.User, e.Info.Hostname, e.Info.PID,
		e.Info.OpenedAt.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool { return target == faults.ErrLocked }

// Manager controls the single-writer lock of project directories. Backends
// differ in how exclusivity is enforced; all of them keep the marker file
// readable by Check.
type Manager interface {
	// Acquire takes the lock for the calling process. A valid lock held by
	// another process yields *LockedError unless force is set.
	Acquire(projectPath string, force bool) (Info, error)
	// Release drops the lock. Releasing an unlocked project is not an error.
	Release(projectPath string) error
	// Check reports the lock state, purging a stale marker.
	Check(projectPath string) (Status, error)
}

// Option configures a lock manager.
type Option func(*settings)

type settings struct {
	staleAfter time.Duration
	now        func() time.Time
	alive      func(pid int) bool
	owner      Info
	logger     *slog.Logger
}

// WithStaleAfter overrides the staleness threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithClock replaces the time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLiveness replaces the process liveness probe (primarily for tests).
func WithLiveness(alive func(pid int) bool) Option {
	return func(s *settings) {
		if alive != nil {
			s.alive = alive
		}
	}
}

// WithOwner overrides the identity written into markers.
func WithOwner(info Info) Option {
	return func(s *settings) {
		s.owner = info
	}
}

// WithLogger attaches a logger for purge and acquisition events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		alive:      processAlive,
		owner:      currentOwner(),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "lock")
	return s
}

// New returns the manager for backend ("marker" or "flock").
func New(backend string, opts ...Option) (Manager, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "marker":
		return NewMarker(opts...), nil
	case "flock":
		return NewFlock(opts...), nil
	default:
		return nil, faults.Wrap(faults.ErrValidation, "lock", "new", fmt.Sprintf("unknown backend %q", backend), nil)
	}
}

// MarkerManager implements the advisory, self-healing marker lock.
type MarkerManager struct {
	settings
}

// NewMarker constructs a marker-file lock manager.
func NewMarker(opts ...Option) *MarkerManager {
	return &MarkerManager{settings: newSettings(opts)}
}

// Owner returns the identity this manager writes into markers.
func (m *MarkerManager) Owner() Info { return m.owner }

func markerPath(projectPath string) string {
	return filepath.Join(projectPath, FileName)
}

func (m *MarkerManager) Check(projectPath string) (Status, error) {
	path := markerPath(projectPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Status{}, nil
		}
		return Status{}, faults.Wrap(faults.ErrIO, "lock", "check", "read marker", err)
	}
	info, err := decodeMarker(data)
	if err != nil {
		m.purge(projectPath, nil, StaleUnreadable)
		return Status{Stale: true, StaleReason: StaleUnreadable}, nil
	}
	if info.OpenedAt.IsZero() {
		// Undated markers age from their last write.
		if st, err := os.Stat(path); err == nil {
			info.OpenedAt = st.ModTime().UTC()
		}
	}

	if reason := m.staleReason(info); reason != "" {
		m.purge(projectPath, &info, reason)
		return Status{Stale: true, StaleReason: reason, Info: &info}, nil
	}
	return Status{Exists: true, OwnedBySelf: m.ownedBySelf(info), Info: &info}, nil
}

// decodeMarker parses a marker, accepting the camelCase openedAt key of
// markers written by older editor builds.
func decodeMarker(data []byte) (Info, error) {
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, err
	}
	if info.OpenedAt.IsZero() {
		var legacy struct {
			OpenedAt *time.Time `json:"openedAt"`
		}
		if err := json.Unmarshal(data, &legacy); err != nil {
			return Info{}, err
		}
		if legacy.OpenedAt != nil {
			info.OpenedAt = legacy.OpenedAt.UTC()
		}
	}
	return info, nil
}

func (m *MarkerManager) Acquire(projectPath string, force bool) (Info, error) {
	if info, err := os.Stat(projectPath); err != nil || !info.IsDir() {
		return Info{}, faults.Wrap(faults.ErrNotFound, "lock", "acquire", "project directory missing", err)
	}
	status, err := m.Check(projectPath)
	if err != nil {
		return Info{}, err
	}
	if status.Exists && !status.OwnedBySelf {
		if !force {
			return Info{}, &LockedError{Path: projectPath, Info: *status.Info}
		}
		logging.WarnWithContext(m.logger, "overriding foreign project lock", "lock_forced",
			logging.Project(projectPath),
			logging.String("holder", status.User+"@"+status.Hostname),
			logging.Int("holder_pid", status.PID),
			logging.String(logging.FieldImpact, "the other session may overwrite changes"),
			logging.String(logging.FieldErrorHint, "close the project in the other session"),
		)
	}

	info := m.owner
	info.OpenedAt = m.now().UTC()
	if err := fileutil.WriteJSONAtomic(markerPath(projectPath), info); err != nil {
		return Info{}, faults.Wrap(faults.ErrIO, "lock", "acquire", "write marker", err)
	}
	m.logger.Debug("project lock acquired", logging.Project(projectPath), logging.Int("pid", info.PID))
	return info, nil
}

func (m *MarkerManager) Release(projectPath string) error {
	if err := os.Remove(markerPath(projectPath)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return faults.Wrap(faults.ErrIO, "lock", "release", "remove marker", err)
	}
	return nil
}

func (m *MarkerManager) ownedBySelf(info Info) bool {
	return info.PID == m.owner.PID && info.Hostname == m.owner.Hostname
}

// staleReason returns why info no longer protects the project, or "" when
// the lock is valid. Liveness is only meaningful for markers from this host.
func (m *MarkerManager) staleReason(info Info) string {
	if m.ownedBySelf(info) {
		return ""
	}
	if info.PID > 0 && info.Hostname == m.owner.Hostname && !m.alive(info.PID) {
		return StaleProcessGone
	}
	if info.OpenedAt.IsZero() || m.now().Sub(info.OpenedAt) > m.staleAfter {
		return StaleExpired
	}
	return ""
}

func (m *MarkerManager) purge(projectPath string, info *Info, reason string) {
	attrs := []logging.Attr{
		logging.Project(projectPath),
		logging.String("reason", reason),
		logging.String(logging.FieldImpact, "stale lock removed; project is writable again"),
	}
	if info != nil {
		attrs = append(attrs, logging.Int("holder_pid", info.PID), logging.String("holder", info.User+"@"+info.Hostname))
	}
	if err := os.Remove(markerPath(projectPath)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.WarnWithContext(m.logger, "stale lock could not be removed", "lock_purge_failed",
			append(attrs, logging.Error(err), logging.String(logging.FieldErrorHint, "remove the .lock file manually"))...)
		return
	}
	logging.WarnWithContext(m.logger, "stale project lock purged", "lock_stale", attrs...)
}

func currentOwner() Info {
	name := os.Getenv("USER")
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	if name == "" {
		name = "unknown"
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return Info{User: name, Hostname: host, PID: os.Getpid()}
}
