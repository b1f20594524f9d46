// Package subscription mirrors applied sync events to a Redis pub/sub
// channel and follows that channel for out-of-process consumers.
package subscription

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultChannel = "kanban:events"
	defaultBuffer  = 256
	publishTimeout = 2 * time.Second
	reconnectDelay = time.Second
)

// Mirror publishes sync event frames to Redis without blocking the caller.
// Frames are dropped with a warning when the buffer is full.
type Mirror struct {
	rc      *redis.Client
	channel string
	logger  *log.Logger
	frames  chan []byte
	dropped atomic.Int64
}

func NewMirror(rc *redis.Client, channel string, buffer int, logger *log.Logger) *Mirror {
	if channel == "" {
		channel = DefaultChannel
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Mirror{
		rc:      rc,
		channel: channel,
		logger:  logger,
		frames:  make(chan []byte, buffer),
	}
}

// Publish queues frame for the Redis channel.
func (m *Mirror) Publish(frame []byte) {
	select {
	case m.frames <- frame:
	default:
		n := m.dropped.Add(1)
		m.logger.WithFields(log.Fields{
			"channel": m.channel,
			"dropped": n,
		}).Warn("event mirror buffer full, dropping event")
	}
}

// Dropped returns how many frames were discarded so far.
func (m *Mirror) Dropped() int64 { return m.dropped.Load() }

// Run forwards queued frames until ctx is done.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-m.frames:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := m.rc.Publish(pctx, m.channel, frame).Err()
			cancel()
			if err != nil && ctx.Err() == nil {
				m.logger.WithField("channel", m.channel).WithError(err).Warn("publish mirrored event")
			}
		}
	}
}

// Follow subscribes to channel and calls handle for every payload until ctx
// is done. The subscription is re-established if the channel closes.
func Follow(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, handle func(payload []byte)) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				handle([]byte(msg.Payload))
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}
