// Package shroud is the client core for anonymous end-to-end encrypted
// messaging. It ties together the identity lifecycle, the contact and
// group directories, the key rotation scheduler, and decentralized
// relay discovery behind one Client type.
//
// Basic usage:
//
//	client, err := shroud.New(shroud.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if _, err := client.Identity().Generate(ctx, "alice", password); err != nil {
//		log.Fatal(err)
//	}
//	if err := client.Start(ctx, password); err != nil {
//		log.Fatal(err)
//	}
//	defer client.Stop()
package shroud

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shroud/config"
	"github.com/opd-ai/shroud/contact"
	"github.com/opd-ai/shroud/crypto"
	"github.com/opd-ai/shroud/discovery"
	"github.com/opd-ai/shroud/errs"
	"github.com/opd-ai/shroud/group"
	"github.com/opd-ai/shroud/identity"
	"github.com/opd-ai/shroud/rotation"
	"github.com/opd-ai/shroud/storage"
)

// Options configures a Client. Every field is optional; zero values
// select the defaults.
type Options struct {
	// Config overrides the default configuration.
	Config *config.Config
	// Vault overrides the software key vault, for callers backing key
	// wrapping with hardware.
	Vault crypto.KeyVault
	// Store overrides the backend the Config would select.
	Store storage.Gateway
	// Fetcher supplies peer keys to the rotation scheduler. Without
	// one, rotation stays disabled.
	Fetcher rotation.KeyFetcher
}

// Client is the assembled messaging core.
type Client struct {
	cfg *config.Config

	identity  *identity.Manager
	contacts  *contact.Directory
	groups    *group.Directory
	rotation  *rotation.Scheduler
	discovery *discovery.Discovery
	store     storage.Gateway

	mu         sync.Mutex
	started    bool
	privateKey *rsa.PrivateKey
}

// New assembles a client from the options. The client starts stopped;
// call Start once an identity exists.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = openStore(cfg)
		if err != nil {
			return nil, err
		}
	}

	vault := opts.Vault
	if vault == nil {
		vault = crypto.NewSoftwareVault()
	}

	c := &Client{
		cfg:      cfg,
		store:    store,
		identity: identity.NewManager(vault, store),
		contacts: contact.NewDirectory(store, cfg.Limits.MaxContacts),
		groups:   group.NewDirectory(store, cfg.Limits.MaxGroupMembers),
	}
	if opts.Fetcher != nil {
		c.rotation = rotation.NewScheduler(c.contacts, c.groups, opts.Fetcher, cfg.Rotation.Interval.Std())
	}
	return c, nil
}

func openStore(cfg *config.Config) (storage.Gateway, error) {
	switch cfg.Storage.Backend {
	case "", "memory":
		return storage.NewMemoryStore(), nil
	case "redis":
		return storage.NewRedisStore(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", errs.ErrValidation, cfg.Storage.Backend)
	}
}

// Start loads the identity with the given password, hydrates the
// directories, and launches discovery and rotation. Fails with
// ErrNotFound when no identity exists yet.
func (c *Client) Start(ctx context.Context, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	id, priv, err := c.identity.Load(ctx, password)
	if err != nil {
		return err
	}
	c.privateKey = priv

	if err := c.contacts.Hydrate(ctx); err != nil {
		return err
	}
	if err := c.groups.Hydrate(ctx); err != nil {
		return err
	}

	c.discovery = discovery.New(discovery.Config{
		ListenAddr:        c.cfg.Discovery.ListenAddr,
		Trackers:          c.cfg.Discovery.Trackers,
		BootstrapNodes:    c.cfg.Discovery.BootstrapNodes,
		RelayTTL:          c.cfg.Discovery.RelayTTL.Std(),
		SweepInterval:     c.cfg.Discovery.SweepInterval.Std(),
		PexInterval:       c.cfg.Discovery.PexInterval.Std(),
		BootstrapInterval: c.cfg.Discovery.BootstrapInterval.Std(),
	}, id.Hash)
	if err := c.discovery.Start(ctx); err != nil {
		return err
	}
	if c.rotation != nil {
		c.rotation.Start(ctx)
	}
	c.started = true

	logrus.WithFields(logrus.Fields{
		"function":      "Start",
		"identity_hash": id.Hash.String(),
	}).Info("Client started")

	return nil
}

// Stop shuts down discovery and rotation. Idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	if c.rotation != nil {
		c.rotation.Stop()
	}
	c.discovery.Stop()
	c.privateKey = nil
	c.started = false

	logrus.WithField("function", "Stop").Info("Client stopped")
}

// DecryptMessage opens an envelope addressed to the local identity.
// Only callable while the client is started.
func (c *Client) DecryptMessage(env *crypto.EncryptedEnvelope) ([]byte, error) {
	c.mu.Lock()
	priv := c.privateKey
	c.mu.Unlock()

	if priv == nil {
		return nil, fmt.Errorf("%w: client is not started", errs.ErrPermission)
	}
	return crypto.Open(env, priv)
}

// Identity returns the identity manager.
func (c *Client) Identity() *identity.Manager {
	return c.identity
}

// Contacts returns the contact directory.
func (c *Client) Contacts() *contact.Directory {
	return c.contacts
}

// Groups returns the group directory.
func (c *Client) Groups() *group.Directory {
	return c.groups
}

// Discovery returns the discovery subsystem, or nil before Start.
func (c *Client) Discovery() *discovery.Discovery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discovery
}
