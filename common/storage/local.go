package storage

import (
	"context"
	"os"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// writeData writes the contents of a new file.
var writeData = func(f *os.File, data []byte) error {
	_, err := f.Write(data)
	return err
}

// LocalProvider implements the Provider API for the local file system.
type LocalProvider struct {
	*baseProvider
}

func NewLocalProvider(logger *zap.Logger) *LocalProvider {
	return &LocalProvider{
		baseProvider: newBaseProvider("", logger),
	}
}

func (p *LocalProvider) Name() string {
	return Local
}

func (p *LocalProvider) Connect(_ context.Context) error {
	p.status = Connected
	return nil
}

func (p *LocalProvider) Close() error {
	p.status = Disconnected
	return nil
}

func (p *LocalProvider) MkdirAll(_ context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory \"%s\"", dir)
	}
	return nil
}

// WriteFile creates path exclusively. The parent directory is not created.
// A file that could not be written completely is removed.
func (p *LocalProvider) WriteFile(_ context.Context, path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to create file \"%s\"", path)
	}

	if err = writeData(f, data); err != nil {
		_ = f.Close()
		p.removePartial(path)
		return errors.Wrapf(err, "failed to write file \"%s\"", path)
	}

	if err = f.Close(); err != nil {
		p.removePartial(path)
		return errors.Wrapf(err, "failed to close file \"%s\"", path)
	}

	p.logger.Debug("Wrote file.", zap.String("path", path), zap.Int("num_bytes", len(data)))
	return nil
}

func (p *LocalProvider) removePartial(path string) {
	if err := os.Remove(path); err != nil {
		p.logger.Warn("Failed to remove partially written file.", zap.String("path", path), zap.Error(err))
	}
}

func (p *LocalProvider) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file \"%s\"", path)
	}
	return data, nil
}

func (p *LocalProvider) ListDir(_ context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list directory \"%s\"", dir)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	return names, nil
}
