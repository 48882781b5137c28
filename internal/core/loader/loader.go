package loader

import (
	"context"
	"io"
	"log/slog"

	"github.com/solatis/relaykit/internal/tenant"
)

// Source records where a configuration came from.
type Source int

const (
	SourceNone Source = iota
	SourceRemote
	SourceLocal
)

func (s Source) String() string {
	switch s {
	case SourceRemote:
		return "remote"
	case SourceLocal:
		return "local"
	default:
		return "none"
	}
}

// Loader resolves the tenant configuration for one token/version pair.
type Loader struct {
	fetcher     Fetcher
	cache       Cache
	tenantToken string
	version     string
	logger      *slog.Logger
}

// New creates a Loader. A nil logger discards output.
func New(fetcher Fetcher, cache Cache, tenantToken, version string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Loader{
		fetcher:     fetcher,
		cache:       cache,
		tenantToken: tenantToken,
		version:     version,
		logger:      logger.With("component", "loader", "version", version),
	}
}

// Load returns the remote configuration, or the cached copy when the remote
// one cannot be fetched or parsed. Returns false when neither is available.
func (l *Loader) Load(ctx context.Context) (*tenant.Configuration, bool) {
	cfg, src := l.LoadWithSource(ctx)
	return cfg, src != SourceNone
}

// LoadWithSource is Load, also reporting which source won.
func (l *Loader) LoadWithSource(ctx context.Context) (*tenant.Configuration, Source) {
	if cfg, ok := l.loadRemote(ctx); ok {
		return cfg, SourceRemote
	}
	if cfg, ok := l.LoadLocal(ctx); ok {
		return cfg, SourceLocal
	}
	l.logger.Warn("configuration not available from any source")
	return nil, SourceNone
}

// LoadLocal reads only the cached copy. Used on paths that must not wait on
// the network, such as handling an inbound notification.
func (l *Loader) LoadLocal(_ context.Context) (*tenant.Configuration, bool) {
	data, err := l.cache.Read(l.version)
	if err != nil {
		l.logger.Debug("cached configuration unavailable", "error", err)
		return nil, false
	}
	cfg, err := tenant.Parse(data)
	if err != nil {
		l.logger.Warn("cached configuration malformed", "error", err)
		return nil, false
	}
	l.logger.Debug("configuration loaded", "source", SourceLocal)
	return cfg, true
}

func (l *Loader) loadRemote(ctx context.Context) (*tenant.Configuration, bool) {
	data, err := l.fetcher.Fetch(ctx, l.tenantToken, l.version)
	if err != nil {
		l.logger.Info("remote configuration fetch failed, trying local", "error", err)
		return nil, false
	}
	cfg, err := tenant.Parse(data)
	if err != nil {
		l.logger.Warn("remote configuration malformed, trying local", "error", err)
		return nil, false
	}
	if err := l.cache.Write(l.version, data); err != nil {
		l.logger.Warn("failed to cache configuration", "error", err)
	}
	l.logger.Debug("configuration loaded", "source", SourceRemote)
	return cfg, true
}
