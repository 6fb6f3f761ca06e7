package commands

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/api"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/config"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/dnscheck"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/metrics"
	"github.com/maksimkurb/vpnc-enforcer/src/internal/service"
)

func CreateServiceCommand() *ServiceCommand {
	sc := &ServiceCommand{
		fs:     flag.NewFlagSet("service", flag.ExitOnError),
		hasher: config.NewConfigHasher(),
	}

	sc.fs.BoolVar(&sc.UndoOnExit, "undo-on-exit", false, "Remove strict locks and release routing tables on shutdown")
	sc.fs.IntVar(&sc.PollInterval, "poll-interval", 0, "Override general.poll_interval_seconds")

	return sc
}

// ServiceCommand supervises every enabled VPN client profile and serves the control API.
type ServiceCommand struct {
	fs     *flag.FlagSet
	ctx    *AppContext
	cfg    *config.Config
	b      *backend
	hasher *config.ConfigHasher

	UndoOnExit   bool
	PollInterval int

	supervisor *service.Supervisor
	supRunner  *RestartableRunner

	httpServer *http.Server
	apiRunner  *RestartableRunner
}

func (s *ServiceCommand) Name() string {
	return s.fs.Name()
}

func (s *ServiceCommand) Init(args []string, ctx *AppContext) error {
	s.ctx = ctx

	if err := s.fs.Parse(args); err != nil {
		return err
	}
	if s.PollInterval < 0 {
		return fmt.Errorf("-poll-interval must not be negative")
	}

	return s.load()
}

// load reads the configuration and builds a fresh backend from it.
func (s *ServiceCommand) load() error {
	cfg, err := loadAndValidateConfigOrFail(s.ctx.ConfigPath)
	if err != nil {
		return err
	}
	if s.PollInterval > 0 {
		cfg.General.PollIntervalSeconds = s.PollInterval
	}
	log.SetVerbose(s.ctx.Verbose || cfg.General.Verbose)

	b, err := newBackend(cfg)
	if err != nil {
		return err
	}
	s.cfg, s.b = cfg, b
	return nil
}

func (s *ServiceCommand) Run() error {
	log.Infof("Starting vpnc-enforcer service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigChan)

	if err := s.start(ctx); err != nil {
		return err
	}

	log.Infof("Service started successfully.")
	log.Infof("Send SIGHUP to reload configuration, SIGUSR1 to re-enforce every VPN client")

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			log.Infof("Received SIGHUP signal, reloading configuration...")
			if err := s.reload(ctx); err != nil {
				log.Errorf("Failed to reload configuration: %v", err)
			} else {
				log.Infof("Configuration reloaded successfully")
			}

		case syscall.SIGUSR1:
			log.Infof("Received SIGUSR1 signal, re-enforcing VPN clients...")
			s.supervisor.Refresh()

		case syscall.SIGINT, syscall.SIGTERM:
			log.Infof("Received signal %v, shutting down...", sig)
			return s.shutdown()
		}
	}
	return nil
}

// start brings up the supervisor and, when configured, the API server.
func (s *ServiceCommand) start(ctx context.Context) error {
	if s.cfg.Netfilter.ManageChains {
		if err := ensureChains(s.b.filter, s.cfg.Netfilter); err != nil {
			log.Errorf("Failed to create enforcer chains: %v", err)
			log.Warnf("Service will continue; rules in missing chains will fail until they exist")
		}
	}

	if hash, err := s.hasher.CalculateHash(s.cfg); err != nil {
		log.Warnf("Failed to fingerprint configuration: %v", err)
	} else {
		s.hasher.SetActiveHash(hash)
		log.Debugf("Active configuration hash: %s", hash)
	}

	s.supervisor = service.NewSupervisor(s.b.enforcer, s.b.clients(), s.cfg.PollInterval(), service.WithMetrics(metrics.Get()))
	s.supRunner = NewRestartableRunner(RunnerConfig{Name: "Supervisor"}, s.supervisor.Run)
	if err := s.supRunner.Start(ctx); err != nil {
		return err
	}

	if s.cfg.General.APIListen == "" {
		log.Infof("Control API is disabled")
		return nil
	}
	if err := s.startAPIServer(ctx, s.cfg.General.APIListen); err != nil {
		log.Errorf("Failed to start API server: %v", err)
		log.Warnf("Control API will not be available")
	}
	return nil
}

// stop halts the API server and the supervisor, then withdraws what the supervisor
// enforced.
func (s *ServiceCommand) stop(undo bool) error {
	s.stopAPIServer()

	if s.supRunner != nil {
		if err := s.supRunner.Stop(); err != nil {
			log.Errorf("Failed to stop supervisor: %v", err)
		}
	}
	if s.supervisor == nil {
		return nil
	}
	return s.supervisor.Shutdown(undo)
}

// reload swaps in a new configuration. A configuration that fails to load leaves the
// running supervisor untouched; an unchanged one only re-enforces.
func (s *ServiceCommand) reload(ctx context.Context) error {
	oldCfg, oldBackend := s.cfg, s.b
	if err := s.load(); err != nil {
		s.cfg, s.b = oldCfg, oldBackend
		return err
	}
	newCfg, newBackend := s.cfg, s.b

	if changed, _, err := s.hasher.Changed(newCfg); err == nil && !changed {
		s.cfg, s.b = oldCfg, oldBackend
		log.Infof("Configuration unchanged, re-enforcing VPN clients")
		s.supervisor.Refresh()
		return nil
	}

	s.cfg, s.b = oldCfg, oldBackend
	if err := s.stop(false); err != nil {
		log.Errorf("Failed to withdraw VPN clients before reload: %v", err)
	}

	s.cfg, s.b = newCfg, newBackend
	return s.start(ctx)
}

func (s *ServiceCommand) startAPIServer(ctx context.Context, bindAddr string) error {
	log.Infof("Starting control API on %s", bindAddr)
	log.Infof("Access restricted to private subnets only:")
	log.Infof("  IPv4: 10.0.0.0/8, 172.16.0.0/12, 192.168.0.0/16, 127.0.0.0/8")
	log.Infof("  IPv6: fc00::/7, fe80::/10, ::1/128")

	version := api.VersionInfo{Version: s.ctx.Version, Commit: s.ctx.Commit, Date: s.ctx.Date}
	probers := func(mark uint32) api.Prober {
		return dnscheck.NewProber(dnscheck.WithMark(mark), dnscheck.WithMetrics(metrics.Get()))
	}
	handler := api.NewHandler(s.b.enforcer, s.supervisor, probers, version)

	srv := &http.Server{
		Addr:         bindAddr,
		Handler:      api.NewRouter(handler, metrics.Get()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.httpServer = srv

	s.apiRunner = NewRestartableRunner(RunnerConfig{
		Name:           "API server",
		RestartBackoff: 2 * time.Second,
	}, func(runCtx context.Context) error {
		log.Infof("API server listening on http://%s", bindAddr)
		err := srv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	return s.apiRunner.Start(ctx)
}

func (s *ServiceCommand) stopAPIServer() {
	if s.httpServer != nil {
		log.Infof("Stopping API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Error during API server shutdown: %v", err)
			s.httpServer.Close()
		}
		s.httpServer = nil
	}
	if s.apiRunner != nil {
		if err := s.apiRunner.Stop(); err != nil {
			log.Errorf("Failed to stop API runner: %v", err)
		}
		s.apiRunner = nil
	}
}

func (s *ServiceCommand) shutdown() error {
	log.Infof("Shutting down vpnc-enforcer service...")

	err := s.stop(s.UndoOnExit)
	if err != nil {
		log.Errorf("Failed to withdraw VPN clients: %v", err)
	}

	if s.UndoOnExit && s.cfg.Netfilter.ManageChains {
		if terr := teardownChains(s.b.filter, s.cfg.Netfilter); terr != nil {
			log.Errorf("Failed to remove enforcer chains: %v", terr)
		}
	}

	log.Infof("Service stopped")
	return err
}
