package lock

import (
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"reelvault/internal/faults"
	"reelvault/internal/logging"
)

// KernelLockName is the file the flock backend holds an exclusive lock on.
const KernelLockName = ".lock.flock"

// FlockManager pairs the marker with an exclusive flock(2) lock held for as
// long as the project is open. The marker still carries owner details for
// Check and for processes that only understand markers.
type FlockManager struct {
	marker *MarkerManager

	mu   sync.Mutex
	held map[string]*flock.Flock
}

// NewFlock constructs a kernel-lock-backed manager.
func NewFlock(opts ...Option) *FlockManager {
	return &FlockManager{
		marker: NewMarker(opts...),
		held:   make(map[string]*flock.Flock),
	}
}

func (f *FlockManager) Check(projectPath string) (Status, error) {
	return f.marker.Check(projectPath)
}

func (f *FlockManager) Acquire(projectPath string, force bool) (Info, error) {
	key := filepath.Clean(projectPath)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.held[key]; !ok {
		fl := flock.New(filepath.Join(key, KernelLockName))
		locked, err := fl.TryLock()
		if err != nil {
			return Info{}, faults.Wrap(faults.ErrIO, "lock", "acquire", "kernel lock", err)
		}
		if !locked && !force {
			status, checkErr := f.marker.Check(key)
			if checkErr == nil && status.Info != nil {
				return Info{}, &LockedError{Path: key, Info: *status.Info}
			}
			return Info{}, &LockedError{Path: key}
		}
		if locked {
			f.held[key] = fl
		} else {
			logging.WarnWithContext(f.marker.logger, "kernel lock held elsewhere; continuing with marker only", "lock_forced",
				logging.Project(key),
				logging.String(logging.FieldImpact, "another process may still write to this project"),
			)
		}
	}

	info, err := f.marker.Acquire(key, force)
	if err != nil {
		if fl, ok := f.held[key]; ok {
			_ = fl.Unlock()
			delete(f.held, key)
		}
		return Info{}, err
	}
	return info, nil
}

func (f *FlockManager) Release(projectPath string) error {
	key := filepath.Clean(projectPath)

	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.marker.Release(key)
	if fl, ok := f.held[key]; ok {
		if unlockErr := fl.Unlock(); unlockErr != nil && err == nil {
			err = faults.Wrap(faults.ErrIO, "lock", "release", "kernel unlock", unlockErr)
		}
		delete(f.held, key)
	}
	return err
}
