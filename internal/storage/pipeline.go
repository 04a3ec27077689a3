package storage

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"learnhub-chat/internal/domain"
	apperrors "learnhub-chat/pkg/errors"
	"learnhub-chat/pkg/logger"
)

// PipelineState is the explicit state of an upload-then-send operation
type PipelineState string

const (
	PipelineIdle      PipelineState = "idle"
	PipelineUploading PipelineState = "uploading"
	PipelineUploaded  PipelineState = "uploaded"
	PipelineSending   PipelineState = "sending"
	PipelineSent      PipelineState = "sent"
	PipelineFailed    PipelineState = "failed"
)

// SendFunc delivers the uploaded attachment as a chat message
type SendFunc func(ctx context.Context, att domain.Attachment) error

// SendPipeline runs the attachment send flow as a short state machine:
// idle -> uploading -> uploaded -> sending -> sent | failed. Cancellation
// and failure are explicit states, so a half-completed attachment can never
// be referenced by a sent message.
type SendPipeline struct {
	uploader *Uploader
	send     SendFunc
	log      *zap.Logger

	mu     sync.Mutex
	state  PipelineState
	err    error
	cancel context.CancelFunc
}

// NewSendPipeline creates an idle pipeline
func NewSendPipeline(uploader *Uploader, send SendFunc) *SendPipeline {
	return &SendPipeline{
		uploader: uploader,
		send:     send,
		state:    PipelineIdle,
		log:      logger.With(zap.String("component", "send_pipeline")),
	}
}

// State returns the current pipeline state
func (p *SendPipeline) State() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the failure cause once the pipeline is in the failed state
func (p *SendPipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Cancel aborts an in-flight upload or send. The pipeline lands in the
// failed state with a cancellation cause; no message is sent.
func (p *SendPipeline) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Run executes the full flow. It may be called once per pipeline; a pipeline
// that failed can be retried by constructing a fresh one, which keeps state
// transitions one-directional.
func (p *SendPipeline) Run(ctx context.Context, filename string, r io.Reader, size int64, progress func(int)) error {
	p.mu.Lock()
	if p.state != PipelineIdle {
		p.mu.Unlock()
		return apperrors.InvalidInputError("pipeline already ran")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = PipelineUploading
	p.mu.Unlock()
	defer cancel()

	att, err := p.uploader.Upload(runCtx, filename, r, size, progress)
	if err != nil {
		return p.fail(err)
	}
	p.setState(PipelineUploaded)

	// A cancel that lands between upload and send must still win
	if runCtx.Err() != nil {
		return p.fail(apperrors.UploadFailed("send canceled", runCtx.Err()))
	}

	p.setState(PipelineSending)
	if err := p.send(runCtx, att); err != nil {
		return p.fail(err)
	}

	p.setState(PipelineSent)
	return nil
}

func (p *SendPipeline) setState(s PipelineState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *SendPipeline) fail(err error) error {
	p.mu.Lock()
	p.state = PipelineFailed
	p.err = err
	p.mu.Unlock()

	p.log.Warn("attachment send failed", zap.Error(err))
	return err
}
