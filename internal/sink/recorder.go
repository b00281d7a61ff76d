package sink

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"
)

var (
	// ErrAlreadyRecording is returned by Start during an active session.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording is returned by Stop without an active session.
	ErrNotRecording = errors.New("not recording")
)

// RecorderStatus describes the current or last recording session.
type RecorderStatus struct {
	Recording    bool      `json:"recording"`
	Session      string    `json:"session,omitempty"`
	FrameCount   uint64    `json:"frame_count"`
	BytesWritten uint64    `json:"bytes_written"`
	StartedAt    time.Time `json:"started_at,omitempty"`
}

// Recorder archives every emitted composite as a numbered image under a
// per-session prefix, e.g. recordings/20250101_120000/000042.jpg.
type Recorder struct {
	mu     sync.Mutex
	store  Store
	prefix string
	ext    string
	ctype  string
	status RecorderStatus
}

// NewRecorder returns an idle recorder writing under prefix.
func NewRecorder(store Store, prefix, ext, contentType string) *Recorder {
	return &Recorder{store: store, prefix: prefix, ext: ext, ctype: contentType}
}

// Start opens a new session and returns its name.
func (r *Recorder) Start(session string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Recording {
		return "", ErrAlreadyRecording
	}
	now := time.Now()
	if session == "" {
		session = now.Format("20060102_150405")
	}
	r.status = RecorderStatus{
		Recording: true,
		Session:   session,
		StartedAt: now,
	}
	return session, nil
}

// Stop ends the session and returns its final status.
func (r *Recorder) Stop() (RecorderStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.status.Recording {
		return r.status, ErrNotRecording
	}
	r.status.Recording = false
	return r.status, nil
}

// IsRecording reports whether a session is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Recording
}

// Status returns a snapshot of the session.
func (r *Recorder) Status() RecorderStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Write stores one encoded frame if a session is active. It returns false
// when idle.
func (r *Recorder) Write(ctx context.Context, data []byte) (bool, error) {
	r.mu.Lock()
	if !r.status.Recording {
		r.mu.Unlock()
		return false, nil
	}
	seq := r.status.FrameCount
	r.status.FrameCount++
	r.status.BytesWritten += uint64(len(data))
	key := path.Join(r.prefix, r.status.Session, fmt.Sprintf("%06d.%s", seq, r.ext))
	r.mu.Unlock()

	if err := r.store.Put(ctx, key, data, r.ctype); err != nil {
		return true, fmt.Errorf("record frame %d: %w", seq, err)
	}
	return true, nil
}
