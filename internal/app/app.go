// Package app wires the sync core together from a Config: stores, backend
// client, queues, connectivity source, processor and tracker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tonero-cloud/safeguard/internal/api"
	"github.com/tonero-cloud/safeguard/internal/config"
	"github.com/tonero-cloud/safeguard/internal/credentials"
	"github.com/tonero-cloud/safeguard/internal/kv"
	"github.com/tonero-cloud/safeguard/internal/media"
	"github.com/tonero-cloud/safeguard/internal/models"
	"github.com/tonero-cloud/safeguard/internal/netstate"
	"github.com/tonero-cloud/safeguard/internal/processor"
	"github.com/tonero-cloud/safeguard/internal/queue"
	"github.com/tonero-cloud/safeguard/internal/secure"
	"github.com/tonero-cloud/safeguard/internal/tracking"
)

// App holds every long-lived component.
type App struct {
	Config      *config.Config
	KV          kv.Store
	Credentials *credentials.Store
	API         *api.Client
	Media       media.Store
	Queue       *queue.Queue
	Pings       *queue.PingQueue
	Location    *tracking.Latest
	Tracker     *tracking.Tracker
	Net         netstate.Source
	Processor   *processor.Processor

	prober *netstate.Prober
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

type options struct {
	secure     secure.Store
	net        netstate.Source
	media      media.Store
	httpClient *http.Client
	logger     *slog.Logger
}

// Option overrides a component New would otherwise build from the config.
type Option func(*options)

// WithSecureStore replaces the configured secure store.
func WithSecureStore(s secure.Store) Option {
	return func(o *options) { o.secure = s }
}

// WithNetSource replaces the connectivity prober, for hosts that push
// connectivity changes themselves.
func WithNetSource(s netstate.Source) Option {
	return func(o *options) { o.net = s }
}

// WithMediaStore replaces the configured media backend.
func WithMediaStore(s media.Store) Option {
	return func(o *options) { o.media = s }
}

// WithHTTPClient sets the client used for backend calls and probes.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds the app. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := openKV(cfg)
	if err != nil {
		return nil, err
	}

	sec := o.secure
	if sec == nil {
		sec = openSecure(cfg)
	}

	a := &App{Config: cfg, KV: store, Location: &tracking.Latest{}, logger: o.logger}
	a.Credentials = credentials.New(sec, store, credentials.WithLogger(o.logger))

	apiOpts := []api.Option{
		api.WithTimeouts(cfg.RequestTimeout.Duration, cfg.UploadTimeout.Duration),
		api.WithUnauthorizedHook(a.Credentials.HandleUnauthorized),
		api.WithLogger(o.logger),
	}
	if o.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(o.httpClient))
	}
	a.API = api.New(cfg.ServerURL, apiOpts...)

	a.Media = o.media
	if a.Media == nil {
		a.Media, err = media.New(ctx, cfg.Media)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("media store: %w", err)
		}
	}

	a.Queue = queue.New(store, a.API,
		queue.WithMedia(a.Media),
		queue.WithMaxRetries(cfg.MaxRetries),
		queue.WithLogger(o.logger))
	a.Pings = queue.NewPingQueue(store, a.API,
		queue.WithMaxRetries(cfg.MaxRetries),
		queue.WithLogger(o.logger))

	a.Net = o.net
	if a.Net == nil {
		probeOpts := []netstate.ProberOption{
			netstate.WithInterval(cfg.ProbeInterval.Duration),
			netstate.WithLogger(o.logger),
		}
		if o.httpClient != nil {
			probeOpts = append(probeOpts, netstate.WithHTTPClient(o.httpClient))
		}
		a.prober = netstate.NewProber(cfg.ServerURL, probeOpts...)
		a.Net = a.prober
	}

	a.Processor = processor.New(a.Queue, a.Credentials, a.Net,
		processor.WithDebounce(cfg.Debounce.Duration),
		processor.WithGap(cfg.Gap.Duration),
		processor.WithPings(a.Pings),
		processor.WithLogger(o.logger))

	a.Tracker = tracking.New(a.API, a.Credentials, a.Pings, a.Location,
		tracking.WithInterval(cfg.PingInterval.Duration),
		tracking.WithLogger(o.logger))

	return a, nil
}

func openKV(cfg *config.Config) (kv.Store, error) {
	switch cfg.KVBackend {
	case config.KVFile:
		return kv.OpenFile(filepath.Join(cfg.DataDir, "store.json"))
	default:
		return kv.OpenSQLite(filepath.Join(cfg.DataDir, "safeguard.db"))
	}
}

func openSecure(cfg *config.Config) secure.Store {
	switch cfg.SecureBackend {
	case config.SecureVault:
		return secure.NewVault(filepath.Join(cfg.DataDir, "vault.json"), cfg.VaultPassphrase())
	case config.SecureNone:
		return secure.Unavailable{}
	default:
		return secure.NewKeyring(cfg.KeyringService)
	}
}

// Start runs the connectivity prober, when the app owns one, and the queue
// processor.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	if a.prober != nil {
		a.running.Add(1)
		go func() {
			defer a.running.Done()
			a.prober.Run(ctx)
		}()
	}
	a.Processor.Start(ctx)
}

// Reconfigure applies the settings that can change without a restart.
func (a *App) Reconfigure(cfg *config.Config) {
	if strings.TrimRight(cfg.ServerURL, "/") != a.API.BaseURL() {
		a.API.SetBaseURL(cfg.ServerURL)
		if a.prober != nil {
			a.prober.SetURL(cfg.ServerURL)
		}
		a.logger.Info("backend url changed", "url", cfg.ServerURL)
	}
}

// Close stops background work and closes the store.
func (a *App) Close() error {
	a.Tracker.Close()
	a.Processor.Stop()
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
	a.running.Wait()
	return a.KV.Close()
}

// Login authenticates against the backend and stores the session.
func (a *App) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	resp, err := a.API.Login(ctx, models.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	if !a.Credentials.SaveSession(ctx, resp.Session()) {
		return nil, errors.New("login succeeded but the session could not be stored")
	}
	a.logger.Info("logged in", "user_id", resp.UserID, "role", resp.Role)
	return resp, nil
}

// Register creates an account and stores the returned session.
func (a *App) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	resp, err := a.API.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	if !a.Credentials.SaveSession(ctx, resp.Session()) {
		return nil, errors.New("registered but the session could not be stored")
	}
	a.logger.Info("registered", "user_id", resp.UserID, "role", resp.Role)
	return resp, nil
}

// Logout ends any tracking session and clears the stored credentials.
func (a *App) Logout(ctx context.Context) bool {
	a.Tracker.Close()
	return a.Credentials.ClearSession(ctx)
}

// Submission is the result of SubmitReport.
type Submission struct {
	ID       string         `json:"id"`
	Uploaded bool           `json:"uploaded"`
	Attempt  *queue.Attempt `json:"-"`
}

// SubmitReport stores the report in the queue and, when online with a
// session, uploads it right away. A report that cannot be uploaded now stays
// queued for the processor.
func (a *App) SubmitReport(ctx context.Context, r models.NewReport) (Submission, error) {
	id, err := a.Queue.Enqueue(ctx, r)
	if err != nil {
		return Submission{}, err
	}
	sub := Submission{ID: id}

	token, ok := a.Credentials.ValidToken(ctx)
	if !ok || !a.Net.Current(ctx).Online() {
		return sub, nil
	}
	item, ok := a.Queue.Get(ctx, id)
	if !ok {
		return sub, nil
	}
	attempt := a.Queue.AttemptUpload(ctx, item, token)
	sub.Attempt = &attempt
	sub.Uploaded = attempt.OK()
	return sub, nil
}
