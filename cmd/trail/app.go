package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/cuemby/trail/pkg/auth"
	"github.com/cuemby/trail/pkg/classify"
	"github.com/cuemby/trail/pkg/config"
	"github.com/cuemby/trail/pkg/events"
	"github.com/cuemby/trail/pkg/pin"
	"github.com/cuemby/trail/pkg/sampler"
	"github.com/cuemby/trail/pkg/security"
	"github.com/cuemby/trail/pkg/session"
	"github.com/cuemby/trail/pkg/storage"
	"github.com/cuemby/trail/pkg/syncer"
	"github.com/cuemby/trail/pkg/transport"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const (
	// keyDeviceID names the per-installation id in the credential store
	keyDeviceID = "device_id"
	// envPassphrase replaces the generated key file when set
	envPassphrase = "TRAIL_STORE_PASSPHRASE"
)

// app holds the wired pipeline for one command invocation
type app struct {
	cfg      *config.Config
	store    *storage.BoltStore
	creds    storage.CredentialStore
	session  *session.Session
	broker   *events.Broker
	coord    *auth.Coordinator
	engine   *syncer.Engine
	gate     *pin.Gate
	sampler  *sampler.Sampler
	deviceID string
}

// newApp loads the configuration and opens the store. Commands that only
// touch local state pass online=false and get no network components.
func newApp(cmd *cobra.Command, online bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewBoltStore(cfg.DataDir, cfg.Queue.Capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to open store in %s (is `trail run` using it?): %w", cfg.DataDir, err)
	}

	creds, err := sealedCredentials(cfg.DataDir, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	sess, err := session.New(creds)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	// Offline commands only use the gate to manage the PIN hash.
	a := &app{cfg: cfg, store: store, creds: creds, session: sess, gate: pin.NewGate(sess, nil, nil, nil, nil)}
	if !online {
		return a, nil
	}

	if err := cfg.Validate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := a.wire(); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

// sealedCredentials encrypts the credential bucket with the passphrase from
// the environment or the key file in dataDir
func sealedCredentials(dataDir string, store *storage.BoltStore) (storage.CredentialStore, error) {
	var sealer *security.Sealer
	var err error
	if passphrase := os.Getenv(envPassphrase); passphrase != "" {
		sealer, err = security.NewSealerFromPassphrase(passphrase)
	} else {
		var key []byte
		key, err = security.LoadOrCreateKey(dataDir)
		if err == nil {
			sealer, err = security.NewSealer(key)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set up credential encryption: %w", err)
	}
	return security.NewSealedStore(store, sealer), nil
}

func (a *app) wire() error {
	deviceID, err := a.ensureDeviceID()
	if err != nil {
		return err
	}
	a.deviceID = deviceID

	a.broker = events.NewBroker()

	coord, err := auth.NewCoordinator(a.session, auth.Config{
		BaseURL:     a.cfg.API.BaseURL,
		RefreshPath: a.cfg.API.RefreshPath,
		AuthPrefix:  a.cfg.API.AuthPrefix,
		Base:        http.DefaultTransport,
		RefreshClient: &http.Client{
			Timeout:   a.cfg.HTTP.Timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		Broker: a.broker,
	})
	if err != nil {
		return fmt.Errorf("failed to create auth coordinator: %w", err)
	}
	a.coord = coord

	client, err := transport.NewClient(transport.Config{
		BaseURL:       a.cfg.API.BaseURL,
		TelemetryPath: a.cfg.API.TelemetryPath,
		DeviceID:      deviceID,
		HTTPClient:    coord.Client(a.cfg.HTTP.Timeout),
	})
	if err != nil {
		return fmt.Errorf("failed to create telemetry client: %w", err)
	}

	reporter := classify.NewReporter(a.cfg.Classify.ReportWindow)
	a.engine = syncer.NewEngine(a.store, client, a.session, reporter, a.broker)
	a.gate = pin.NewGate(a.session, coord, a.engine, coord.Escalation(), a.broker).WithBatchSize(a.cfg.Sync.BatchSize)
	a.sampler = sampler.NewSampler(sampler.Config{
		MinInterval:       a.cfg.Sampler.MinInterval,
		MaxAccuracyMeters: a.cfg.Sampler.MaxAccuracyMeters,
		MaxSpeedMPS:       a.cfg.Sampler.MaxSpeedMPS,
	}, a.session)
	return nil
}

// ensureDeviceID returns the configured device id, or the one generated on
// first use and kept in the credential store
func (a *app) ensureDeviceID() (string, error) {
	if a.cfg.DeviceID != "" {
		return a.cfg.DeviceID, nil
	}
	id, found, err := a.creds.Get(keyDeviceID)
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	if found && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := a.creds.Set(map[string]string{keyDeviceID: id}); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}

func (a *app) close() {
	if a.broker != nil {
		a.broker.Stop()
	}
	if err := a.store.Close(); err != nil {
		fmt.Printf("Warning: failed to close store: %v\n", err)
	}
}
