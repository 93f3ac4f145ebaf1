package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Tayen15/KZT-sub000/pkg/control"
	"github.com/Tayen15/KZT-sub000/pkg/discord/interactions"
	"github.com/Tayen15/KZT-sub000/pkg/discord/message"
	"github.com/Tayen15/KZT-sub000/pkg/discord/notify"
	"github.com/Tayen15/KZT-sub000/pkg/errors"
	"github.com/Tayen15/KZT-sub000/pkg/files"
	"github.com/Tayen15/KZT-sub000/pkg/log"
	"github.com/Tayen15/KZT-sub000/pkg/monitor"
	"github.com/Tayen15/KZT-sub000/pkg/providers"
	"github.com/Tayen15/KZT-sub000/pkg/providers/gameserver"
	"github.com/Tayen15/KZT-sub000/pkg/providers/panel"
	"github.com/Tayen15/KZT-sub000/pkg/providers/prayer"
	"github.com/Tayen15/KZT-sub000/pkg/runtimeapply"
	"github.com/Tayen15/KZT-sub000/pkg/service"
	"github.com/Tayen15/KZT-sub000/pkg/sessions"
	"github.com/Tayen15/KZT-sub000/pkg/storage"
)

// Deps are the outside collaborators of a Bot.
type Deps struct {
	Config *files.Config
	// ConfigPath is re-read by Reload. Empty disables reloading.
	ConfigPath string

	Backend   storage.Backend // initialized
	Messenger message.Messenger
	Voice     sessions.ResourceAdapter
	// Session receives the interaction handler. May be nil.
	Session      *discordgo.Session
	HTTPClient   *http.Client
	ErrorHandler *errors.ErrorHandler
}

// Bot wires the monitors, control path and voice sessions together and runs
// them as managed services.
type Bot struct {
	cfg        *files.Config
	configPath string
	services   *service.ServiceManager
	reload     *runtimeapply.Manager

	scheduler *monitor.Scheduler
	monitors  *monitor.Service
	notifier  *notify.Notifier
	bindings  map[monitor.Kind]monitor.Binding

	actions     *control.Handler
	router      *interactions.Router
	session     *discordgo.Session
	server      *control.Server
	stopActions context.CancelFunc
	actionsDone chan struct{}

	voice    *sessions.Manager
	recovery *sessions.RecoveryManager
}

// NewBot assembles a Bot. Nothing runs until Start.
func NewBot(d Deps) (*Bot, error) {
	if d.Config == nil || d.Backend == nil || d.Messenger == nil || d.Voice == nil {
		return nil, fmt.Errorf("bot needs config, backend, messenger and voice adapter")
	}
	cfg := d.Config
	client := providers.NewClient(d.HTTPClient)

	scheduler := monitor.NewScheduler(monitor.SchedulerConfig{
		TickTimeout: max(monitor.DefaultSchedulerConfig().TickTimeout, 3*cfg.CallTimeout),
	})
	notifier := notify.NewNotifier(d.Messenger, cfg.NotifyChannel, notify.DefaultQueueConfig())
	monitors := monitor.NewService(scheduler, message.NewSyncEngine(d.Backend, d.Messenger), monitor.ServiceOptions{
		CallTimeout: cfg.CallTimeout,
		Notifier:    notifier,
	})

	actions := control.NewHandler(monitors, control.Config{
		RefreshDelay:     cfg.RefreshDelay,
		CallTimeout:      cfg.CallTimeout,
		ActionsPerMinute: cfg.Control.ActionsPerMinute,
	})
	actions.RegisterAdapter(monitor.KindPanelResource, panel.NewPowerAdapter(client))

	store := sessions.NewStore(d.Backend)
	voice := sessions.NewManager(store, d.Voice)

	b := &Bot{
		cfg:        cfg,
		configPath: d.ConfigPath,
		services:   service.NewServiceManager(d.ErrorHandler),
		scheduler:  scheduler,
		monitors:   monitors,
		notifier:   notifier,
		bindings: map[monitor.Kind]monitor.Binding{
			monitor.KindServerStatus:  {Provider: gameserver.New(client), Renderer: gameserver.Renderer{}},
			monitor.KindSchedule:      {Provider: prayer.New(client), Renderer: prayer.Renderer{}},
			monitor.KindPanelResource: {Provider: panel.New(client), Renderer: panel.Renderer{}},
		},
		actions:  actions,
		router:   interactions.NewRouter(actions, 2*cfg.CallTimeout),
		session:  d.Session,
		server:   control.NewServer(cfg.Control.Addr, monitors, actions, voice),
		voice:    voice,
		recovery: sessions.NewRecoveryManager(store, d.Voice, voice, sessions.RecoveryConfig{}),
	}
	b.reload = runtimeapply.New(b.services, monitors, b.binding)
	b.reload.SetInitial(cfg)
	b.server.SetReloader(b)
	b.server.SetServices(b.services)
	if err := b.register(); err != nil {
		return nil, err
	}
	return b, nil
}

// Monitors exposes the monitor service.
func (b *Bot) Monitors() *monitor.Service { return b.monitors }

// Services exposes the service manager.
func (b *Bot) Services() *service.ServiceManager { return b.services }

// Reload re-reads the monitors file and applies the difference to the
// running monitors.
func (b *Bot) Reload(ctx context.Context) (runtimeapply.Result, error) {
	if b.configPath == "" {
		return runtimeapply.Result{}, fmt.Errorf("reload: no monitors file configured")
	}
	cfg, err := files.LoadConfig(b.configPath)
	if err != nil {
		return runtimeapply.Result{}, err
	}
	return b.reload.Apply(ctx, cfg)
}

// ApplyConfig applies cfg to the running monitors.
func (b *Bot) ApplyConfig(ctx context.Context, cfg *files.Config) (runtimeapply.Result, error) {
	return b.reload.Apply(ctx, cfg)
}

func (b *Bot) binding(kind monitor.Kind) (monitor.Binding, bool) {
	binding, ok := b.bindings[kind]
	return binding, ok
}

// Start starts every service. Sessions are recovered before any monitor
// ticks.
func (b *Bot) Start() error { return b.services.StartAll() }

// Stop stops every service in reverse order.
func (b *Bot) Stop() error { return b.services.StopAll() }

func (b *Bot) register() error {
	wrappers := []*service.ServiceWrapper{
		service.NewServiceWrapper("recovery", service.TypeRecovery, service.PriorityHigh, nil,
			b.startRecovery,
			func(ctx context.Context) error { b.voice.StopAll(ctx); return nil },
		),
		service.NewServiceWrapper("notifier", service.TypeNotifier, service.PriorityHigh, nil,
			nil,
			func(context.Context) error { b.notifier.Close(); return nil },
		),
		service.NewServiceWrapper("monitoring", service.TypeMonitoring, service.PriorityNormal, []string{"recovery", "notifier"},
			b.startMonitors,
			b.scheduler.Shutdown,
		).WithHealthCheck(b.monitorHealth),
		service.NewServiceWrapper("interactions", service.TypeInteractions, service.PriorityNormal, []string{"monitoring"},
			b.startInteractions,
			b.stopInteractions,
		),
	}
	if b.server != nil {
		wrappers = append(wrappers, service.NewServiceWrapper("control", service.TypeControl, service.PriorityLow, []string{"monitoring", "interactions"},
			func(context.Context) error { return b.server.Start() },
			b.server.Stop,
		))
	}
	for _, w := range wrappers {
		if err := b.services.Register(w); err != nil {
			return fmt.Errorf("register %s service: %w", w.Name(), err)
		}
	}
	return nil
}

func (b *Bot) startRecovery(ctx context.Context) error {
	if _, err := b.recovery.RecoverAll(ctx); err != nil {
		return err
	}

	// Configured sessions that were not recorded as active start fresh.
	running := make(map[string]bool)
	for _, h := range b.voice.Handles() {
		running[h.OwnerKey] = true
	}
	for _, vs := range b.cfg.Voice.Sessions {
		if running[vs.Guild] {
			continue
		}
		if _, err := b.voice.Start(ctx, vs.Guild, vs.Channel); err != nil {
			log.ErrorLoggerRaw().Error("Configured voice session failed to start", "guild", vs.Guild, "channel", vs.Channel, "err", err)
		}
	}
	return nil
}

func (b *Bot) startMonitors(context.Context) error {
	for _, target := range b.reload.Applied().Targets() {
		binding, ok := b.binding(target.Kind)
		if !ok {
			return fmt.Errorf("monitor %s: no provider for kind %q", target.MonitorKey, target.Kind)
		}
		if err := b.monitors.Enable(target, binding); err != nil {
			return fmt.Errorf("enable monitor %s: %w", target.MonitorKey, err)
		}
	}
	log.ApplicationLogger().Info("Monitors enabled", "count", len(b.monitors.Targets()))
	return nil
}

func (b *Bot) monitorHealth(context.Context) service.HealthStatus {
	want := len(b.reload.Applied().Targets())
	got := len(b.monitors.Targets())
	return service.HealthStatus{
		Healthy:   got == want,
		Message:   fmt.Sprintf("%d of %d monitors active", got, want),
		LastCheck: time.Now(),
	}
}

func (b *Bot) startInteractions(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.stopActions, b.actionsDone = cancel, done
	go func() {
		defer close(done)
		_ = b.actions.Run(ctx)
	}()
	b.router.Attach(b.session)
	return nil
}

func (b *Bot) stopInteractions(ctx context.Context) error {
	b.router.Detach()
	if b.stopActions == nil {
		return nil
	}
	b.stopActions()
	select {
	case <-b.actionsDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
