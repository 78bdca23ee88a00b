package cli

import (
	"sync"

	"github.com/rs/zerolog"

	"storefront/internal/config"
	"storefront/internal/identity"
	"storefront/internal/storage"
	"storefront/pkg/logger"
)

// CLIContext carries what the subcommands share for one invocation.
type CLIContext struct {
	Config      *config.Config
	ConfigPath  string
	StoragePath string
	Verbose     bool
	Quiet       bool

	storageOnce sync.Once
	storage     *storage.DB
	storageErr  error
}

// NewCLIContext creates a context. Storage is opened on first use.
func NewCLIContext(cfg *config.Config, configPath, storagePath string, verbose, quiet bool) *CLIContext {
	return &CLIContext{
		Config:      cfg,
		ConfigPath:  configPath,
		StoragePath: storagePath,
		Verbose:     verbose,
		Quiet:       quiet,
	}
}

// GetStorage opens the profile database lazily.
func (c *CLIContext) GetStorage() (*storage.DB, error) {
	c.storageOnce.Do(func() {
		c.storage, c.storageErr = storage.Open(c.StoragePath)
	})
	return c.storage, c.storageErr
}

// Identity returns the session id provider for this profile. With
// ephemeral set, or when the profile database cannot be opened, ids live
// only as long as the process.
func (c *CLIContext) Identity(ephemeral bool) *identity.Provider {
	if ephemeral {
		return identity.NewProvider(identity.NewMemoryStore())
	}
	db, err := c.GetStorage()
	if err != nil {
		c.Log().Warn().Err(err).Str("path", c.StoragePath).Msg("profile storage unavailable, session id will not persist")
		return identity.NewProvider(nil)
	}
	return identity.NewProvider(identity.NewDBStore(db))
}

// Close releases the storage handle if it was opened.
func (c *CLIContext) Close() error {
	if c.storage != nil {
		return c.storage.Close()
	}
	return nil
}

// Log returns the process logger.
func (c *CLIContext) Log() *zerolog.Logger {
	return logger.Get()
}
