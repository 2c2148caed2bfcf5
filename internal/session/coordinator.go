package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medscribe/go-scribe/internal/domain/apperror"
	"github.com/medscribe/go-scribe/internal/transcribe"
	"github.com/medscribe/go-scribe/pkg/workerpool"
)

// ConsultationDirectory is the slice of the consultation store the
// coordinator needs.
type ConsultationDirectory interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Topic returns the hub topic for a consultation's live updates.
func Topic(consultationID string) string {
	return "consultation:" + consultationID
}

// liveSession is the in-memory state of one running consultation. It is
// never persisted; teardown discards everything.
type liveSession struct {
	consultationID string
	participants   map[string]struct{}
	transcript     []string
	startedAt      time.Time
	chunks         int
	closed         bool
}

// chunkJob is one audio chunk queued for transcription.
type chunkJob struct {
	sess     *liveSession
	speaker  string
	language string
	audio    []byte
}

// Coordinator owns live sessions. Audio chunks run through a bounded worker
// pool; the resulting text goes out as an advisory broadcast with no
// ordering guarantee, and results that land after teardown are dropped.
type Coordinator struct {
	store       ConsultationDirectory
	transcriber transcribe.Transcriber
	hub         *Hub
	pool        *workerpool.Pool
	logger      *zap.Logger

	mu       sync.Mutex
	sessions map[string]*liveSession
}

// NewCoordinator creates a new coordinator with its own worker pool.
func NewCoordinator(store ConsultationDirectory, transcriber transcribe.Transcriber, hub *Hub, poolCfg workerpool.Config, logger *zap.Logger) (*Coordinator, error) {
	if store == nil || transcriber == nil || hub == nil {
		return nil, fmt.Errorf("store, transcriber and hub are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Coordinator{
		store:       store,
		transcriber: transcriber,
		hub:         hub,
		logger:      logger,
		sessions:    make(map[string]*liveSession),
	}

	pool, err := workerpool.New(poolCfg, c.processChunk, logger.Named("chunk-pool"))
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return c, nil
}

// Start launches the chunk workers.
func (c *Coordinator) Start() {
	c.pool.Start()
	go c.drainResults()
}

// Stop tears down all sessions and stops the workers.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	for id, s := range c.sessions {
		s.closed = true
		delete(c.sessions, id)
	}
	c.mu.Unlock()
	return c.pool.Stop()
}

// Join attaches a participant to the consultation's session, creating it on
// first join. Joining a consultation that does not exist is rejected.
func (c *Coordinator) Join(ctx context.Context, consultationID, clientID string) error {
	if consultationID == "" {
		return apperror.Validationf("consultation id is required")
	}

	c.mu.Lock()
	s, active := c.sessions[consultationID]
	c.mu.Unlock()

	if !active {
		exists, err := c.store.Exists(ctx, consultationID)
		if err != nil {
			return fmt.Errorf("check consultation: %w", err)
		}
		if !exists {
			return apperror.NotFound("consultation", consultationID)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check under lock; another participant may have raced us here.
	s, active = c.sessions[consultationID]
	if !active {
		s = &liveSession{
			consultationID: consultationID,
			participants:   make(map[string]struct{}),
			startedAt:      time.Now().UTC(),
		}
		c.sessions[consultationID] = s
		c.logger.Info("session started", zap.String("consultation_id", consultationID))
	}
	s.participants[clientID] = struct{}{}
	return nil
}

// SubmitAudioChunk queues one chunk for transcription. The session must be
// live; chunks for unknown sessions are rejected rather than silently eaten.
func (c *Coordinator) SubmitAudioChunk(ctx context.Context, consultationID, clientID, speaker, language string, audio []byte) error {
	if len(audio) == 0 {
		return apperror.Validationf("audio chunk is empty")
	}

	c.mu.Lock()
	s, active := c.sessions[consultationID]
	if active {
		if _, member := s.participants[clientID]; !member {
			active = false
		}
	}
	if active {
		s.chunks++
	}
	c.mu.Unlock()

	if !active {
		return apperror.Validationf("no active session for consultation %s", consultationID)
	}

	task := &workerpool.Task{
		ID:      uuid.NewString(),
		Context: ctx,
		Payload: &chunkJob{sess: s, speaker: speaker, language: language, audio: audio},
	}
	if err := c.pool.Submit(task); err != nil {
		return apperror.External("transcription", fmt.Errorf("queue chunk: %w", err))
	}
	return nil
}

// Leave detaches a participant. The last participant leaving tears the
// session down and discards its transcript buffer.
func (c *Coordinator) Leave(consultationID, clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, active := c.sessions[consultationID]
	if !active {
		return
	}
	delete(s.participants, clientID)
	if len(s.participants) > 0 {
		return
	}

	s.closed = true
	delete(c.sessions, consultationID)
	c.logger.Info("session ended",
		zap.String("consultation_id", consultationID),
		zap.Int("chunks", s.chunks),
		zap.Duration("duration", time.Since(s.startedAt)))
}

// Transcript returns the accumulated live transcript for a running session.
// The order follows transcription completion, not capture.
func (c *Coordinator) Transcript(consultationID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, active := c.sessions[consultationID]
	if !active {
		return "", false
	}
	return strings.Join(s.transcript, " "), true
}

// ActiveSessions returns the number of live sessions.
func (c *Coordinator) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// PoolStats exposes the chunk pool counters.
func (c *Coordinator) PoolStats() workerpool.Stats {
	return c.pool.Stats()
}

// processChunk is the worker function: transcribe, then deliver.
func (c *Coordinator) processChunk(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	job := task.Payload.(*chunkJob)

	res, err := c.transcriber.Transcribe(ctx, job.audio, job.language)
	if err != nil {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err}
	}

	c.deliver(job, res.Transcription)
	return &workerpool.Result{TaskID: task.ID, Success: true}
}

// deliver appends the text and broadcasts it, unless the session closed
// while the chunk was in flight.
func (c *Coordinator) deliver(job *chunkJob, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	c.mu.Lock()
	if job.sess.closed {
		c.mu.Unlock()
		c.logger.Debug("dropping late transcription result",
			zap.String("consultation_id", job.sess.consultationID))
		return
	}
	job.sess.transcript = append(job.sess.transcript, text)
	consultationID := job.sess.consultationID
	c.mu.Unlock()

	c.hub.Broadcast(Topic(consultationID), Event{
		Type:           "transcription-update",
		ConsultationID: consultationID,
		Text:           text,
		Speaker:        job.speaker,
		Timestamp:      time.Now().UTC(),
	})
}

// drainResults consumes the pool's result channel so failed chunk errors are
// logged and the channel never fills.
func (c *Coordinator) drainResults() {
	for result := range c.pool.Results() {
		if !result.Success && result.Error != nil {
			c.logger.Warn("chunk transcription failed",
				zap.String("task_id", result.TaskID),
				zap.Error(result.Error))
		}
	}
}
