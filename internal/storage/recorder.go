package storage

import (
	"bytes"
	"io"
	"sync"
	"time"

	apperrors "learnhub-chat/pkg/errors"
)

// Recorder accumulates an audio recording in memory. The flow is
// record -> preview -> upload on send; Cancel at any point discards the
// buffered audio so nothing is ever uploaded for an abandoned recording.
type Recorder struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	recording bool
	startedAt time.Time
}

// NewRecorder creates an idle recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start begins a new recording, discarding any previous buffered audio
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return apperrors.InvalidInputError("recording already in progress")
	}

	r.buf.Reset()
	r.recording = true
	r.startedAt = time.Now()
	return nil
}

// Write appends a chunk of captured audio
func (r *Recorder) Write(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return apperrors.InvalidInputError("no recording in progress")
	}

	_, err := r.buf.Write(chunk)
	return err
}

// Recording reports whether a recording is in progress
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Stop finishes the recording and returns the captured clip for preview
// and upload. An empty recording is an error.
func (r *Recorder) Stop() (*Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return nil, apperrors.InvalidInputError("no recording in progress")
	}
	r.recording = false

	if r.buf.Len() == 0 {
		return nil, apperrors.UploadFailed("recording is empty", nil)
	}

	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	r.buf.Reset()

	return &Clip{data: data, recordedAt: r.startedAt}, nil
}

// Cancel aborts the recording mid-flight and discards all captured audio
func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recording = false
	r.buf.Reset()
}

// Clip is a finished in-memory audio recording
type Clip struct {
	data       []byte
	recordedAt time.Time
}

// Bytes exposes the raw audio for playback preview
func (c *Clip) Bytes() []byte {
	return c.data
}

// Reader returns a fresh reader over the clip data
func (c *Clip) Reader() io.Reader {
	return bytes.NewReader(c.data)
}

// Size returns the clip length in bytes
func (c *Clip) Size() int64 {
	return int64(len(c.data))
}

// RecordedAt returns when the recording started
func (c *Clip) RecordedAt() time.Time {
	return c.recordedAt
}
