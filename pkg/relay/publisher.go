package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/inkwell/pkg/protocol"
)

// DefaultChannelPrefix prefixes every room channel.
const DefaultChannelPrefix = "inkwell:room:"

// Channel returns the pub/sub channel of roomID.
func Channel(prefix, roomID string) string {
	return prefix + roomID
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// ChannelPrefix prefixes room channels. Default: DefaultChannelPrefix.
	ChannelPrefix string

	// QueueSize is the number of frames buffered before new frames are
	// dropped. Default: 1024.
	QueueSize int

	// PublishTimeout bounds one publish call. Default: 2s.
	PublishTimeout time.Duration

	// Registerer receives relay_published_total. When nil the metric is
	// kept in a private registry.
	Registerer prometheus.Registerer

	// Namespace is the metrics namespace. Default: "inkwell".
	Namespace string

	// Logger receives publish failures. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultPublisherConfig returns a PublisherConfig with sensible defaults.
func DefaultPublisherConfig() *PublisherConfig {
	return &PublisherConfig{
		ChannelPrefix:  DefaultChannelPrefix,
		QueueSize:      1024,
		PublishTimeout: 2 * time.Second,
		Namespace:      "inkwell",
	}
}

func (c *PublisherConfig) withDefaults() *PublisherConfig {
	def := DefaultPublisherConfig()
	if c == nil {
		c = def
	} else {
		clone := *c
		c = &clone
	}
	if c.ChannelPrefix == "" {
		c.ChannelPrefix = def.ChannelPrefix
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = def.PublishTimeout
	}
	if c.Namespace == "" {
		c.Namespace = def.Namespace
	}
	if c.Registerer == nil {
		c.Registerer = prometheus.NewRegistry()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type envelope struct {
	channel string
	frame   []byte
}

// Publisher republishes room broadcasts on a Broker. It implements
// room.Mirror. Publish never blocks the caller: frames go through a bounded
// queue drained by one worker, which keeps per-room order.
type Publisher struct {
	broker    Broker
	config    *PublisherConfig
	logger    *slog.Logger
	published *prometheus.CounterVec

	mu     sync.RWMutex
	queue  chan envelope
	closed bool
	wg     sync.WaitGroup
}

// NewPublisher creates a Publisher and starts its worker.
func NewPublisher(broker Broker, config *PublisherConfig) *Publisher {
	config = config.withDefaults()
	p := &Publisher{
		broker: broker,
		config: config,
		logger: config.Logger.With("component", "relay_publisher"),
		published: promauto.With(config.Registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "relay_published_total",
			Help:      "Frames handed to the relay by result",
		}, []string{"result"}),
		queue: make(chan envelope, config.QueueSize),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Publish queues frame for the channel of roomID. The frame is copied with
// the mirrored flag set; the caller's slice is not modified.
func (p *Publisher) Publish(roomID string, frame []byte) {
	if len(frame) < protocol.FrameHeaderSize {
		p.published.WithLabelValues("invalid").Inc()
		return
	}
	mirrored := make([]byte, len(frame))
	copy(mirrored, frame)
	mirrored[1] |= byte(protocol.FlagMirrored)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.published.WithLabelValues("closed").Inc()
		return
	}
	select {
	case p.queue <- envelope{channel: Channel(p.config.ChannelPrefix, roomID), frame: mirrored}:
	default:
		p.published.WithLabelValues("dropped").Inc()
		p.logger.Warn("relay queue full, frame dropped", "room", roomID)
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for env := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
		err := p.broker.Publish(ctx, env.channel, env.frame)
		cancel()
		if err != nil {
			p.published.WithLabelValues("error").Inc()
			p.logger.Error("relay publish failed", "channel", env.channel, "error", err)
			continue
		}
		p.published.WithLabelValues("ok").Inc()
	}
}

// Close stops accepting frames, waits for queued frames to be published
// and stops the worker.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}
