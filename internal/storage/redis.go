package storage

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"

	logx "durasched/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// redisStore keeps one hash per namespace: field = job id, value = JSON record.
// HSETNX provides the uniqueness guarantee for Insert.
type redisStore struct {
	rdb    *redis.Client
	prefix string
	log    logx.Logger
}

func redisAddr(cfg Config) string {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port <= 0 {
		port = 6379
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "durasched"
	}
	opts := &redis.Options{
		Addr:     redisAddr(cfg),
		Username: cfg.Login,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis ping %s", opts.Addr)
	}
	log.Debug("redis connected", logx.String("addr", opts.Addr), logx.Int("db", cfg.DB))
	return &redisStore{rdb: rdb, prefix: prefix, log: log}, nil
}

func (s *redisStore) key(namespace string) string {
	return s.prefix + ":jobs:" + namespace
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *redisStore) Insert(ctx context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ok, err := s.rdb.HSetNX(ctx, s.key(job.Namespace), job.ID, b).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateID
	}
	return nil
}

func (s *redisStore) FindByID(ctx context.Context, namespace, id string) (Job, bool, error) {
	raw, err := s.rdb.HGet(ctx, s.key(namespace), id).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return s.decode(namespace, id, raw), true, nil
}

func (s *redisStore) FindAll(ctx context.Context, namespace string) ([]Job, error) {
	m, err := s.rdb.HGetAll(ctx, s.key(namespace)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(m))
	for id, raw := range m {
		out = append(out, s.decode(namespace, id, raw))
	}
	return out, nil
}

// decode never fails: an unreadable record comes back with its key fields
// only, so the caller sees an undecodable action and can purge it.
func (s *redisStore) decode(namespace, id, raw string) Job {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		s.log.Warn("unreadable job record", logx.String("namespace", namespace), logx.String("id", id), logx.Err(err))
		return Job{ID: id, Namespace: namespace}
	}
	j.ID = id
	j.Namespace = namespace
	return j
}

func (s *redisStore) DeleteByID(ctx context.Context, namespace, id string) error {
	return s.rdb.HDel(ctx, s.key(namespace), id).Err()
}

func (s *redisStore) DeleteAll(ctx context.Context, namespace string) error {
	return s.rdb.Del(ctx, s.key(namespace)).Err()
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}
