package storage

import (
	"context"
	"io"
	"net"
	"path"
	"sort"
	"time"

	"github.com/colinmarc/hdfs/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultHdfsUsername string = "jovyan"
)

// HdfsProvider implements the Provider API for HDFS.
type HdfsProvider struct {
	*baseProvider

	hdfsUsername string
	hdfsClient   *hdfs.Client
}

func NewHdfsProvider(hostname string, logger *zap.Logger) *HdfsProvider {
	return &HdfsProvider{
		baseProvider: newBaseProvider(hostname, logger),
		hdfsUsername: defaultHdfsUsername,
	}
}

func (p *HdfsProvider) Name() string {
	return HDFS
}

// SetHdfsUsername sets the username to use when connecting to HDFS.
//
// If the HdfsProvider is already connected to HDFS, then changing the username will not have an effect
// unless the HdfsProvider reconnects to HDFS.
func (p *HdfsProvider) SetHdfsUsername(user string) {
	p.hdfsUsername = user
}

func (p *HdfsProvider) Connect(_ context.Context) error {
	p.logger.Debug("Connecting to remote storage",
		zap.String("remote_storage", "hdfs"),
		zap.String("hostname", p.hostname))

	p.status = Connecting

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	hdfsClient, err := hdfs.NewClient(hdfs.ClientOptions{
		Addresses: []string{p.hostname},
		User:      p.hdfsUsername,
		NamenodeDialFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, address)
			if err != nil {
				p.sugaredLogger.Errorf("Failed to dial HDFS NameNode at address '%s' with network '%s' because: %v", address, network, err)
				return nil, err
			}
			return conn, nil
		},
		DatanodeDialFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			p.logger.Debug("Dialing HDFS DataNode.", zap.String("datanode_address", address))

			conn, err := dialer.DialContext(ctx, network, address)
			if err != nil {
				p.sugaredLogger.Errorf("Failed to dial HDFS DataNode at address '%s' because: %v", address, err)
				return nil, err
			}
			return conn, nil
		},
	})
	if err != nil {
		p.logger.Error("Failed to create HDFS client.", zap.String("remote_storage_hostname", p.hostname), zap.Error(err))
		p.status = Disconnected
		return errors.Wrapf(err, "failed to connect to HDFS at %s", p.hostname)
	}

	p.hdfsClient = hdfsClient
	p.status = Connected
	p.sugaredLogger.Infof("Successfully connected to HDFS at '%s'", p.hostname)

	return nil
}

func (p *HdfsProvider) Close() error {
	p.status = Disconnected

	if p.hdfsClient == nil {
		return nil
	}

	return p.hdfsClient.Close()
}

func (p *HdfsProvider) MkdirAll(_ context.Context, dir string) error {
	if err := p.checkConnected(); err != nil {
		return err
	}

	if err := p.hdfsClient.MkdirAll(path.Clean("/"+dir), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory \"%s\"", dir)
	}

	return nil
}

// WriteFile creates the file with hdfs.Client.Create, which fails if it exists or its parent is missing.
func (p *HdfsProvider) WriteFile(_ context.Context, name string, data []byte) error {
	if err := p.checkConnected(); err != nil {
		return err
	}

	name = path.Clean("/" + name)

	if _, err := p.hdfsClient.Stat(path.Dir(name)); err != nil {
		return errors.Wrapf(err, "failed to stat directory \"%s\"", path.Dir(name))
	}

	writer, err := p.hdfsClient.Create(name)
	if err != nil {
		return errors.Wrapf(err, "failed to create file \"%s\"", name)
	}

	if _, err = writer.Write(data); err != nil {
		_ = writer.Close()
		return errors.Wrapf(err, "failed to write file \"%s\"", name)
	}

	if err = writer.Close(); err != nil {
		return errors.Wrapf(err, "failed to close file \"%s\"", name)
	}

	p.logger.Debug("Wrote file to HDFS.", zap.String("path", name), zap.Int("num_bytes", len(data)))
	return nil
}

func (p *HdfsProvider) ReadFile(_ context.Context, name string) ([]byte, error) {
	if err := p.checkConnected(); err != nil {
		return nil, err
	}

	reader, err := p.hdfsClient.Open(path.Clean("/" + name))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file \"%s\"", name)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file \"%s\"", name)
	}

	return data, nil
}

func (p *HdfsProvider) ListDir(_ context.Context, dir string) ([]string, error) {
	if err := p.checkConnected(); err != nil {
		return nil, err
	}

	infos, err := p.hdfsClient.ReadDir(path.Clean("/" + dir))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list directory \"%s\"", dir)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)

	return names, nil
}
