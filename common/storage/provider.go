package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

const (
	Connected    ConnectionStatus = "CONNECTED"
	Connecting   ConnectionStatus = "CONNECTING"
	Disconnected ConnectionStatus = "DISCONNECTED"

	Local = "local"
	S3    = "s3"
	Redis = "redis"
	HDFS  = "hdfs"
)

var (
	ErrNotConnected    = errors.New("storage provider is not connected")
	ErrUnknownProvider = errors.New("unknown storage provider")

	// ErrNotExist is wrapped by errors about missing files and directories.
	ErrNotExist = os.ErrNotExist

	// ErrExist is wrapped by errors about files that would be overwritten.
	ErrExist = os.ErrExist
)

// ConnectionStatus indicates the status of the connection with the storage.
type ConnectionStatus string

// Provider is a generic API for writing dumped results to a storage medium such as the local
// file system, AWS S3, Redis, or HDFS. Paths are slash-separated.
type Provider interface {
	Connect(ctx context.Context) error

	Close() error

	// ConnectionStatus returns the current ConnectionStatus of the Provider.
	ConnectionStatus() ConnectionStatus

	// Name returns the kind of the Provider, e.g. "s3".
	Name() string

	// MkdirAll creates dir along with any missing parents.
	MkdirAll(ctx context.Context, dir string) error

	// WriteFile creates a new file at path. It fails if the file exists or, where the medium has
	// directories, if the parent directory does not.
	WriteFile(ctx context.Context, path string, data []byte) error

	ReadFile(ctx context.Context, path string) ([]byte, error)

	// ListDir returns the names of the files directly inside dir, sorted.
	ListDir(ctx context.Context, dir string) ([]string, error)
}

// Options configures the remote providers. Fields that do not apply to a provider are ignored.
type Options struct {
	// Endpoint is the host:port of the Redis server or HDFS NameNode, or a custom S3 endpoint.
	Endpoint string

	Bucket        string
	RedisDatabase int
	RedisPassword string
	HdfsUsername  string

	Logger *zap.Logger
}

// NewProvider creates a Provider of the given kind. The Provider must be connected before use.
func NewProvider(kind string, opts Options) (Provider, error) {
	switch kind {
	case Local, "":
		return NewLocalProvider(opts.Logger), nil
	case S3:
		return NewS3Provider(opts.Endpoint, opts.Bucket, opts.Logger), nil
	case Redis:
		provider := NewRedisProvider(opts.Endpoint, opts.Logger)
		provider.SetDatabase(opts.RedisDatabase)
		provider.SetRedisPassword(opts.RedisPassword)
		return provider, nil
	case HDFS:
		provider := NewHdfsProvider(opts.Endpoint, opts.Logger)
		if opts.HdfsUsername != "" {
			provider.SetHdfsUsername(opts.HdfsUsername)
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("%w: \"%s\"", ErrUnknownProvider, kind)
	}
}

type baseProvider struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger

	status   ConnectionStatus
	hostname string
}

func newBaseProvider(hostname string, logger *zap.Logger) *baseProvider {
	provider := &baseProvider{
		hostname: hostname,
		status:   Disconnected,
	}

	if logger == nil {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "[ERROR] Failed to create Zap Development logger because: %v\n", err)
			logger = zap.NewNop()
		}
	}

	provider.logger = logger
	provider.sugaredLogger = logger.Sugar()

	return provider
}

// ConnectionStatus returns the current ConnectionStatus of the Provider.
func (p *baseProvider) ConnectionStatus() ConnectionStatus {
	return p.status
}

func (p *baseProvider) checkConnected() error {
	if p.status != Connected {
		return ErrNotConnected
	}
	return nil
}
