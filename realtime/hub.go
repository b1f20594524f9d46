// Package realtime implements the WebSocket sync channel: connection
// admission, the single mutation dispatcher, and scoped fan-out of applied
// changes.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"websocket-kanban/domain"
)

const (
	defaultQueueSize      = 1024
	defaultHandoffTimeout = 25 * time.Millisecond
	defaultClientBuffer   = 64
	defaultWriteTimeout   = 5 * time.Second
	defaultPingInterval   = 30 * time.Second
)

var (
	errHubClosed = errors.New("sync hub is not running")
	errQueueFull = errors.New("sync queue saturated")
)

// TaskStore is the subset of the task store the dispatcher drives.
type TaskStore interface {
	Create(draft domain.TaskDraft, ownerID string) (domain.Task, error)
	Update(patch domain.TaskPatch) (domain.Task, bool, error)
	Move(id, column string) (domain.Task, bool, error)
	Delete(id string) (domain.Task, bool)
	Get(id string) (domain.Task, bool)
	Visible(id domain.Identity) []domain.Task
}

// Mirror receives every applied change frame. Publish must not block.
type Mirror interface {
	Publish(frame []byte)
}

// Config configures a Hub. Zero values fall back to defaults.
type Config struct {
	Store   TaskStore
	Deduper Deduper
	Mirror  Mirror
	Logger  *log.Logger

	QueueSize      int
	HandoffTimeout time.Duration
	ClientBuffer   int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	// OriginPatterns is passed to the WebSocket handshake. Empty means
	// same-origin only.
	OriginPatterns []string
}

// Hub owns live connections and applies client mutations in arrival order
// on a single dispatcher goroutine.
type Hub struct {
	store  TaskStore
	dedupe Deduper
	mirror Mirror
	logger *log.Logger
	cfg    Config

	broker *broker
	queue  *commandQueue

	mu      sync.RWMutex
	clients map[string]*client

	done chan struct{}
}

type commandKind int

const (
	cmdAdmit commandKind = iota
	cmdCreate
	cmdUpdate
	cmdMove
	cmdDelete
)

type command struct {
	kind   commandKind
	client *client

	draft  domain.TaskDraft
	patch  domain.TaskPatch
	taskID string
	column string
	key    string

	enqueued time.Time
	metrics  *syncEventMetrics
	admitted chan struct{}
}

// NewHub creates a hub. Run must be called for it to process anything.
func NewHub(cfg Config) *Hub {
	if cfg.Store == nil {
		panic("realtime.NewHub: store is nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	if cfg.Deduper == nil {
		cfg.Deduper = nopDeduper{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.HandoffTimeout < 0 {
		cfg.HandoffTimeout = 0
	} else if cfg.HandoffTimeout == 0 {
		cfg.HandoffTimeout = defaultHandoffTimeout
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = defaultClientBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	return &Hub{
		store:   cfg.Store,
		dedupe:  cfg.Deduper,
		mirror:  cfg.Mirror,
		logger:  cfg.Logger,
		cfg:     cfg,
		broker:  newBroker(),
		queue:   newCommandQueue(cfg.QueueSize, cfg.HandoffTimeout),
		clients: make(map[string]*client),
		done:    make(chan struct{}),
	}
}

// Connections returns the number of admitted connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run dispatches commands until ctx is done, then closes every connection
// with a going-away status.
func (h *Hub) Run(ctx context.Context) {
	h.logger.WithFields(log.Fields{
		"queue":        h.cfg.QueueSize,
		"handoff":      h.cfg.HandoffTimeout,
		"clientBuffer": h.cfg.ClientBuffer,
	}).Info("sync dispatcher started")

	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case cmd := <-h.queue.ch:
			h.dispatch(cmd)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			c.close(closeGoingAway, "server shutting down")
		}(c)
	}
	wg.Wait()
	h.logger.WithField("connections", len(clients)).Info("sync dispatcher stopped")
}

// admit registers c, subscribes it to its scopes, and queues the snapshot of
// its visible tasks, all on the dispatcher so no change can fall between the
// snapshot and the subscription.
func (h *Hub) admit(ctx context.Context, c *client) error {
	admitted := make(chan struct{})
	cmd := command{kind: cmdAdmit, client: c, admitted: admitted}

	select {
	case h.queue.ch <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return errHubClosed
	}

	select {
	case <-admitted:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return errHubClosed
	}
}

// leave unregisters c. Safe to call more than once and before admission
// completed.
func (h *Hub) leave(c *client) {
	h.mu.Lock()
	c.left = true
	delete(h.clients, c.id)
	h.broker.unsubscribe(c)
	h.mu.Unlock()
}

func (h *Hub) dispatch(cmd command) {
	if cmd.kind == cmdAdmit {
		h.applyAdmit(cmd)
		return
	}

	m := cmd.metrics
	m.ObserveQueue(time.Since(cmd.enqueued))
	start := time.Now()
	outcome, recipients, err := h.applyMutation(cmd)
	m.ObserveApply(time.Since(start))
	m.SetRecipients(recipients)
	m.Finish(outcome, err)
}

func (h *Hub) applyAdmit(cmd command) {
	c := cmd.client
	defer close(cmd.admitted)

	h.mu.Lock()
	if c.left {
		h.mu.Unlock()
		return
	}
	h.clients[c.id] = c
	h.broker.subscribe(c, topicsFor(c.identity)...)
	h.mu.Unlock()

	frame, err := encodeFrame(EventSyncTasks, h.store.Visible(c.identity))
	if err != nil {
		h.logger.WithField("conn", c.id).WithError(err).Error("encode snapshot")
		c.deliver(errorFrame("failed to load tasks"))
		return
	}
	c.deliver(frame)
}

func (h *Hub) applyMutation(cmd command) (string, int, error) {
	c := cmd.client

	switch cmd.kind {
	case cmdCreate:
		task, err := h.store.Create(cmd.draft, c.identity.UserID)
		if err != nil {
			h.releaseKey(c, cmd.key)
			c.deliver(errorFrame(clientMessage(err)))
			return outcomeInvalid, 0, err
		}
		cmd.metrics.SetTask(task.ID)
		return outcomeApplied, h.publish(EventTaskCreated, task.UserID, task), nil

	case cmdUpdate, cmdMove, cmdDelete:
		existing, ok := h.store.Get(cmd.taskID)
		if !ok {
			h.logger.WithFields(log.Fields{
				"conn": c.id,
				"task": cmd.taskID,
			}).Debug("ignoring change to unknown task")
			return outcomeIgnored, 0, nil
		}
		if !c.identity.CanModify(existing) {
			c.deliver(errorFrame(domain.ErrForbidden.Error()))
			return outcomeForbidden, 0, domain.ErrForbidden
		}
		return h.applyOwned(cmd)
	}
	return outcomeFailed, 0, errUnknownEvent
}

func (h *Hub) applyOwned(cmd command) (string, int, error) {
	c := cmd.client

	var (
		task  domain.Task
		ok    bool
		err   error
		event string
	)
	switch cmd.kind {
	case cmdUpdate:
		if cmd.patch.Empty() {
			return outcomeIgnored, 0, nil
		}
		event = EventTaskUpdated
		task, ok, err = h.store.Update(cmd.patch)
	case cmdMove:
		event = EventTaskMoved
		task, ok, err = h.store.Move(cmd.taskID, cmd.column)
	case cmdDelete:
		removed, deleted := h.store.Delete(cmd.taskID)
		if !deleted {
			return outcomeIgnored, 0, nil
		}
		return outcomeApplied, h.publish(EventTaskDeleted, removed.UserID, removed.ID), nil
	}
	if err != nil {
		c.deliver(errorFrame(clientMessage(err)))
		return outcomeInvalid, 0, err
	}
	if !ok {
		return outcomeIgnored, 0, nil
	}
	return outcomeApplied, h.publish(event, task.UserID, task), nil
}

// publish sends the change to the owner's scope and the admin scope.
func (h *Hub) publish(event, ownerID string, data any) int {
	frame, err := encodeFrame(event, data)
	if err != nil {
		h.logger.WithField("event", event).WithError(err).Error("encode event")
		return 0
	}
	n := h.broker.publish(frame, taskTopics(ownerID)...)
	if h.mirror != nil {
		h.mirror.Publish(frame)
	}
	return n
}

// handleFrame decodes and validates one client message on the reader
// goroutine and hands it to the dispatcher.
func (h *Hub) handleFrame(ctx context.Context, c *client, raw []byte) {
	frame, err := decodeFrame(raw)
	if err != nil {
		c.deliver(errorFrame(clientMessage(err)))
		return
	}

	m := newSyncEventMetrics(ctx, h.logger, frame.Event, c.id, c.identity.UserID)
	cmd := command{client: c, metrics: m}

	switch frame.Event {
	case EventTaskCreate:
		cmd.kind = cmdCreate
		cmd.draft, err = decodeDraft(frame.Data)
		cmd.key = frame.Key
	case EventTaskUpdate:
		cmd.kind = cmdUpdate
		cmd.patch, err = decodePatch(frame.Data)
		cmd.taskID = cmd.patch.ID
	case EventTaskMove:
		var mv movePayload
		cmd.kind = cmdMove
		mv, err = decodeMove(frame.Data)
		cmd.taskID, cmd.column = mv.TaskID, mv.NewColumn
	case EventTaskDelete:
		cmd.kind = cmdDelete
		cmd.taskID, err = decodeDelete(frame.Data)
	default:
		err = errUnknownEvent
	}
	m.SetTask(cmd.taskID)
	if err != nil {
		c.deliver(errorFrame(clientMessage(err)))
		m.Finish(outcomeInvalid, err)
		return
	}

	if cmd.key != "" {
		added, derr := h.dedupe.Add(ctx, c.identity.UserID, cmd.key)
		switch {
		case derr != nil:
			h.logger.WithField("conn", c.id).WithError(derr).Warn("dedupe check failed; applying event")
			cmd.key = ""
		case !added:
			m.Finish(outcomeDuplicate, nil)
			return
		}
	}

	cmd.enqueued = time.Now()
	if !h.queue.trySend(cmd) {
		h.releaseKey(c, cmd.key)
		c.deliver(errorFrame("server busy"))
		m.Finish(outcomeBusy, errQueueFull)
	}
}

func (h *Hub) releaseKey(c *client, key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.dedupe.Remove(ctx, c.identity.UserID, key); err != nil {
		h.logger.WithFields(log.Fields{
			"user": c.identity.UserID,
			"key":  key,
		}).WithError(err).Error("dedupe rollback failed")
	}
}
