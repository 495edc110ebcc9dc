package notify

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisHubConfig configures the Redis Streams notifier.
type RedisHubConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	Stream       string
	Group        string
	Logger       *slog.Logger
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BlockTimeout time.Duration
	Buffer       int
	PoolSize     int
	MasterName   string
	TLS          RedisTLSConfig
}

// NewRedisHub initialises a notifier backed by Redis Streams so events reach
// subscribers in every process sharing the stream. Each subscription owns a
// private consumer group, so every event fans out to every observer instead
// of being load-balanced across them; cfg.Group only prefixes the generated
// group names. The caller is responsible for ensuring the Redis instance is
// reachable.
func NewRedisHub(cfg RedisHubConfig) (Notifier, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "edgeriver:notifications"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "notification-workers"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 128
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
		// CLIENT SETINFO is not universally supported.
		DisableIndentity: true,
	})
	hub := &redisHub{
		client:       client,
		stream:       stream,
		groupPrefix:  group,
		blockTimeout: cfg.BlockTimeout,
		logger:       cfg.Logger,
		buffer:       cfg.Buffer,
	}
	if hub.logger == nil {
		hub.logger = slog.Default()
	}
	if hub.blockTimeout <= 0 {
		hub.blockTimeout = 2 * time.Second
	}
	if err := client.Do(context.Background(), "PING").Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return hub, nil
}

type redisHub struct {
	client       redis.UniversalClient
	stream       string
	groupPrefix  string
	blockTimeout time.Duration
	logger       *slog.Logger
	buffer       int
}

func (h *redisHub) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return errors.New("event type is required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return h.client.Do(ctx, "XADD", h.stream, "*", "payload", string(payload)).Err()
}

// Subscribe registers a new observer. The subscription reads the stream
// through its own consumer group, created here at the stream tail so the
// observer sees every event published after Subscribe returns and no event
// is split between observers.
func (h *redisHub) Subscribe() Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		hub:      h,
		group:    fmt.Sprintf("%s-%s", h.groupPrefix, randomConsumerID()),
		consumer: randomConsumerID(),
		cancel:   cancel,
		ch:       make(chan Event, h.buffer),
	}
	if err := sub.ensureGroup(ctx); err != nil {
		h.logger.Error("redis hub group setup failed", "group", sub.group, "error", err)
	}
	go sub.run(ctx)
	return sub
}

// Close releases the underlying Redis connections. Open subscriptions keep
// draining until their own Close is called.
func (h *redisHub) Close(ctx context.Context) error {
	return h.client.Close()
}

type redisSubscription struct {
	hub      *redisHub
	group    string
	consumer string
	cancel   context.CancelFunc

	groupReady bool

	once sync.Once
	ch   chan Event
}

// ensureGroup creates the subscription's private group at "$". Only Subscribe
// and the run goroutine call it, never concurrently.
func (s *redisSubscription) ensureGroup(ctx context.Context) error {
	if s.groupReady {
		return nil
	}
	err := s.hub.client.Do(ctx, "XGROUP", "CREATE", s.hub.stream, s.group, "$", "MKSTREAM").Err()
	if err != nil && !isBusyGroup(err) {
		return err
	}
	s.groupReady = true
	return nil
}

// dropGroup removes the private group so closed observers do not accumulate
// in Redis.
func (s *redisSubscription) dropGroup() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.hub.client.Do(ctx, "XGROUP", "DESTROY", s.hub.stream, s.group).Err(); err != nil {
		s.hub.logger.Warn("redis hub group teardown failed", "group", s.group, "error", err)
	}
}

func (s *redisSubscription) Events() <-chan Event {
	return s.ch
}

// Close stops the consumer loop. The events channel closes once the loop
// drains; only the loop goroutine closes it, so Close never races a send.
func (s *redisSubscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.ch)
	defer s.dropGroup()
	defer s.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := s.ensureGroup(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.hub.logger.Warn("redis hub group ensure failed", "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		entries, err := s.read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.hub.logger.Warn("redis hub read failed", "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, entry := range entries {
			var event Event
			if err := json.Unmarshal(entry.Payload, &event); err != nil {
				s.hub.logger.Error("redis hub decode failed", "error", err)
				s.ack(ctx, entry.ID)
				continue
			}
			select {
			case s.ch <- event:
				s.ack(ctx, entry.ID)
			case <-ctx.Done():
				// At-most-once: the entry is acked, not requeued.
				s.ack(context.Background(), entry.ID)
				return
			}
		}
	}
}

func (s *redisSubscription) ack(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := s.hub.client.Do(ctx, "XACK", s.hub.stream, s.group, id).Err(); err != nil {
		s.hub.logger.Warn("redis ack failed", "id", id, "error", err)
	}
}

type redisStreamEntry struct {
	ID      string
	Payload []byte
}

func (s *redisSubscription) read(ctx context.Context) ([]redisStreamEntry, error) {
	blockMs := int(math.Max(float64(s.hub.blockTimeout.Milliseconds()), 1))
	reply, err := s.hub.client.Do(
		ctx,
		"XREADGROUP",
		"GROUP",
		s.group,
		s.consumer,
		"COUNT",
		"32",
		"BLOCK",
		strconv.Itoa(blockMs),
		"STREAMS",
		s.hub.stream,
		">",
	).Result()
	if err != nil {
		if isNilReply(err) {
			return nil, nil
		}
		return nil, err
	}
	streams, ok := reply.([]interface{})
	if !ok || len(streams) == 0 {
		return nil, nil
	}
	var entries []redisStreamEntry
	for _, stream := range streams {
		parts, ok := stream.([]interface{})
		if !ok || len(parts) != 2 {
			continue
		}
		records, _ := parts[1].([]interface{})
		for _, record := range records {
			tuple, ok := record.([]interface{})
			if !ok || len(tuple) != 2 {
				continue
			}
			id, _ := asString(tuple[0])
			fields, _ := tuple[1].([]interface{})
			payload := extractPayload(fields)
			if id == "" || len(payload) == 0 {
				continue
			}
			entries = append(entries, redisStreamEntry{ID: id, Payload: payload})
		}
	}
	return entries, nil
}

func extractPayload(fields []interface{}) []byte {
	for i := 0; i < len(fields); i += 2 {
		key, _ := asString(fields[i])
		if strings.EqualFold(key, "payload") && i+1 < len(fields) {
			value, _ := asString(fields[i+1])
			if value != "" {
				return []byte(value)
			}
		}
	}
	return nil
}

func asString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return "", false
	}
}

func isBusyGroup(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "busygroup")
}

func isNilReply(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nil reply") || strings.Contains(msg, "timeout")
}

func randomConsumerID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("consumer-%s", hex.EncodeToString(buf))
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		pemData, err := os.ReadFile(filepath.Clean(cfg.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(cfg.CertFile), filepath.Clean(cfg.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
