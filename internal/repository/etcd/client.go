// Package etcd provides etcd client functionality for distributed coordination.
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/config"
	"github.com/limiquantix/planner/internal/instance"
)

// ErrKeyNotFound indicates the key was not found in etcd.
var ErrKeyNotFound = errors.New("key not found")

// Client wraps an etcd client with leader election and snapshot publication.
type Client struct {
	client  *clientv3.Client
	session *concurrency.Session
	prefix  string
	logger  *zap.Logger
}

// NewClient creates a new etcd client.
func NewClient(cfg config.EtcdConfig, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	session, err := concurrency.NewSession(client, concurrency.WithTTL(cfg.LeaseTTL))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints))

	return &Client{
		client:  client,
		session: session,
		prefix:  cfg.Prefix,
		logger:  logger.With(zap.String("component", "etcd")),
	}, nil
}

// Close closes the etcd client and session.
func (c *Client) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

// Health checks if etcd is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

func (c *Client) key(parts ...string) string {
	return path.Join(append([]string{c.prefix}, parts...)...)
}

// Put stores a JSON value in etcd.
func (c *Client) Put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if _, err := c.client.Put(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}
	return nil
}

// Get retrieves a JSON value from etcd.
func (c *Client) Get(ctx context.Context, key string, dest any) error {
	resp, err := c.client.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get key: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return ErrKeyNotFound
	}

	return json.Unmarshal(resp.Kvs[0].Value, dest)
}

// Snapshot is the inventory model the leader last planned from.
type Snapshot struct {
	PlanID string            `json:"plan_id,omitempty"`
	Model  instance.ModelDoc `json:"model"`
	At     time.Time         `json:"at"`
}

// PublishSnapshot stores the model of the last DRS run so that followers and
// operators can inspect it.
func (c *Client) PublishSnapshot(ctx context.Context, s Snapshot) error {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	return c.Put(ctx, c.key("drs", "snapshot"), s)
}

// LatestSnapshot returns the last published snapshot.
func (c *Client) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var s Snapshot
	if err := c.Get(ctx, c.key("drs", "snapshot"), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Leader represents a leader election participant.
type Leader struct {
	election *concurrency.Election
	client   *Client
	name     string
	isLeader atomic.Bool
	mu       sync.Mutex
}

// LeaderCallback is called when leadership status changes.
type LeaderCallback func(isLeader bool)

// CampaignForLeader starts a leader election campaign in the background.
func (c *Client) CampaignForLeader(ctx context.Context, name string, callback LeaderCallback) *Leader {
	leader := &Leader{
		election: concurrency.NewElection(c.session, c.key("leaders", name)),
		client:   c,
		name:     name,
	}

	go func() {
		for {
			if err := leader.election.Campaign(ctx, strconv.FormatInt(int64(c.session.Lease()), 10)); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("Leader campaign failed, retrying", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
				continue
			}

			leader.set(true, callback)
			c.logger.Info("Became leader", zap.String("name", name))

			select {
			case <-ctx.Done():
			case <-c.session.Done():
				c.logger.Info("Lost leadership", zap.String("name", name))
			}
			leader.set(false, callback)
			return
		}
	}()

	return leader
}

func (l *Leader) set(v bool, callback LeaderCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isLeader.Swap(v) != v && callback != nil {
		callback(v)
	}
}

// IsLeader returns true if this instance is currently the leader.
func (l *Leader) IsLeader() bool {
	return l.isLeader.Load()
}

// Resign resigns from leadership.
func (l *Leader) Resign(ctx context.Context) error {
	if !l.IsLeader() {
		return nil
	}

	if err := l.election.Resign(ctx); err != nil {
		return fmt.Errorf("failed to resign: %w", err)
	}

	l.set(false, nil)
	l.client.logger.Info("Resigned from leadership", zap.String("name", l.name))
	return nil
}

// GetLeader returns the current leader's value.
func (c *Client) GetLeader(ctx context.Context, name string) (string, error) {
	election := concurrency.NewElection(c.session, c.key("leaders", name))

	resp, err := election.Leader(ctx)
	if err != nil {
		if errors.Is(err, concurrency.ErrElectionNoLeader) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get leader: %w", err)
	}

	return string(resp.Kvs[0].Value), nil
}
