package storage

import (
	"context"
	"path"
	"sort"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	directoryPrefix string = "__dir__"
	filePrefix      string = "__file__"

	// directoryMarker is the member that makes an empty directory set exist.
	directoryMarker = "."

	defaultRedisAddress = "localhost:6379"
)

// RedisProvider implements the Provider API for redis.
//
// A file is stored as a string under "__file__<path>". A directory is a set under "__dir__<dir>"
// holding the names of its files and subdirectories.
type RedisProvider struct {
	*baseProvider

	databaseIndex int
	password      string

	redisClient *redis.Client
}

func NewRedisProvider(hostname string, logger *zap.Logger) *RedisProvider {
	if hostname == "" {
		hostname = defaultRedisAddress
	}

	return &RedisProvider{
		baseProvider:  newBaseProvider(hostname, logger),
		databaseIndex: 0,
		password:      "",
	}
}

func (p *RedisProvider) Name() string {
	return Redis
}

func (p *RedisProvider) Close() error {
	p.status = Disconnected

	if p.redisClient == nil {
		return nil
	}

	return p.redisClient.Close()
}

// SetDatabase sets the database number to use when connecting to Redis.
//
// If the RedisProvider is already connected to Redis, then changing the database number will not have an effect
// unless the RedisProvider reconnects to Redis.
func (p *RedisProvider) SetDatabase(db int) {
	p.databaseIndex = db
}

// SetRedisPassword sets the password to use when connecting to Redis.
//
// If the RedisProvider is already connected to Redis, then changing the password will not have an effect
// unless the RedisProvider attempts to reconnect to Redis.
func (p *RedisProvider) SetRedisPassword(password string) {
	p.password = password
}

func (p *RedisProvider) Connect(ctx context.Context) error {
	p.status = Connecting

	p.redisClient = redis.NewClient(&redis.Options{
		Addr:     p.hostname,
		Password: p.password,
		DB:       p.databaseIndex,
	})

	if err := p.redisClient.Ping(ctx).Err(); err != nil {
		p.logger.Error("Failed to ping Redis.", zap.String("hostname", p.hostname), zap.Error(err))
		p.status = Disconnected
		return errors.Wrapf(err, "failed to connect to redis at %s", p.hostname)
	}

	p.status = Connected
	p.sugaredLogger.Debugf("Successfully connected to Redis at '%s'", p.hostname)

	return nil
}

func cleanPath(name string) string {
	return path.Clean("/" + name)
}

func (p *RedisProvider) MkdirAll(ctx context.Context, dir string) error {
	if err := p.checkConnected(); err != nil {
		return err
	}

	dir = cleanPath(dir)

	pipe := p.redisClient.TxPipeline()
	for d := dir; ; d = path.Dir(d) {
		pipe.SAdd(ctx, directoryPrefix+d, directoryMarker)
		if d == "/" {
			break
		}
		pipe.SAdd(ctx, directoryPrefix+path.Dir(d), path.Base(d))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "failed to create directory \"%s\"", dir)
	}

	return nil
}

func (p *RedisProvider) WriteFile(ctx context.Context, name string, data []byte) error {
	if err := p.checkConnected(); err != nil {
		return err
	}

	name = cleanPath(name)
	dir := path.Dir(name)

	exists, err := p.redisClient.Exists(ctx, directoryPrefix+dir).Result()
	if err != nil {
		return errors.Wrapf(err, "failed to look up directory \"%s\"", dir)
	} else if exists == 0 {
		return errors.Wrapf(ErrNotExist, "directory \"%s\"", dir)
	}

	created, err := p.redisClient.SetNX(ctx, filePrefix+name, data, 0).Result()
	if err != nil {
		return errors.Wrapf(err, "failed to write file \"%s\"", name)
	} else if !created {
		return errors.Wrapf(ErrExist, "file \"%s\"", name)
	}

	if err = p.redisClient.SAdd(ctx, directoryPrefix+dir, path.Base(name)).Err(); err != nil {
		return errors.Wrapf(err, "failed to add file \"%s\" to its directory", name)
	}

	p.logger.Debug("Wrote file to Redis.", zap.String("path", name), zap.Int("num_bytes", len(data)))
	return nil
}

func (p *RedisProvider) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := p.checkConnected(); err != nil {
		return nil, err
	}

	name = cleanPath(name)
	data, err := p.redisClient.Get(ctx, filePrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.Wrapf(ErrNotExist, "file \"%s\"", name)
	} else if err != nil {
		p.logger.Error("Failed to read file from Redis.", zap.String("redis_key", filePrefix+name), zap.Error(err))
		return nil, errors.Wrapf(err, "failed to read file \"%s\"", name)
	}

	return data, nil
}

func (p *RedisProvider) ListDir(ctx context.Context, dir string) ([]string, error) {
	if err := p.checkConnected(); err != nil {
		return nil, err
	}

	dir = cleanPath(dir)
	members, err := p.redisClient.SMembers(ctx, directoryPrefix+dir).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list directory \"%s\"", dir)
	}

	if len(members) == 0 {
		return nil, errors.Wrapf(ErrNotExist, "directory \"%s\"", dir)
	}

	names := make([]string, 0, len(members))
	for _, member := range members {
		if member == directoryMarker {
			continue
		}

		n, err := p.redisClient.Exists(ctx, filePrefix+path.Join(dir, member)).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to stat \"%s\"", path.Join(dir, member))
		}
		if n > 0 {
			names = append(names, member)
		}
	}
	sort.Strings(names)

	return names, nil
}
