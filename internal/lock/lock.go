// Package lock keeps a single talkd per session directory.
package lock

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file created inside the session directory.
const FileName = "talkd.lock"

// Holder describes the process that owns a session lock.
type Holder struct {
	PID     int
	Started time.Time
}

// LockHeldError is returned when another daemon already serves the session.
type LockHeldError struct {
	Holder
	Path string
}

func (e *LockHeldError) Error() string {
	if e.Started.IsZero() {
		return fmt.Sprintf("talkd already running for this session (pid %d, %s)", e.PID, e.Path)
	}
	return fmt.Sprintf("talkd already running for this session (pid %d since %s, %s)",
		e.PID, e.Started.Local().Format(time.DateTime), e.Path)
}

// Lock is an acquired session lock. The flock is dropped when the file closes,
// so a crashed daemon never leaves the session locked.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock for sessionDir without blocking.
func Acquire(sessionDir string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(sessionDir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		h, _ := ReadHolder(sessionDir)
		return nil, &LockHeldError{Holder: h, Path: path}
	}

	if err := writeHolder(f, Holder{PID: os.Getpid(), Started: time.Now().UTC()}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock. It is safe on a nil or released lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadHolder returns what the current owner wrote into the lock file.
func ReadHolder(sessionDir string) (Holder, error) {
	f, err := os.Open(filepath.Join(sessionDir, FileName))
	if err != nil {
		return Holder{}, err
	}
	defer func() { _ = f.Close() }()

	var h Holder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(val)
		case "started":
			h.Started, _ = time.Parse(time.RFC3339, val)
		}
	}
	return h, sc.Err()
}

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nstarted=%s\n", h.PID, h.Started.Format(time.RFC3339))
	return err
}
