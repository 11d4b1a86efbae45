package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/arzzra/confbridge/internal/api"
	"github.com/arzzra/confbridge/internal/config"
	"github.com/arzzra/confbridge/pkg/bridge"
	"github.com/arzzra/confbridge/pkg/endpoint"
	"github.com/arzzra/confbridge/pkg/logging"
	"github.com/arzzra/confbridge/pkg/player"
)

func main() {
	var (
		configPath = flag.String("config", "", "Путь к YAML файлу конфигурации")
		listen     = flag.String("listen", "", "Адрес административного API")
		logLevel   = flag.String("log-level", "", "Уровень логирования: debug, info, warn, error")
		sound      = flag.String("sound", "", "Звуковое устройство: null, nodev")
		play       = flag.String("play", "", "WAV файл, проигрываемый в звуковое устройство")
	)
	flag.Parse()

	overrides := config.Config{
		Log: config.LogConfig{Level: *logLevel},
		API: config.APIConfig{Listen: *listen},
	}
	overrides.Endpoint.Sound = endpoint.SoundMode(*sound)

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "confbridge: %v\n", err)
		os.Exit(1)
	}
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		fmt.Fprintf(os.Stderr, "confbridge: некорректный уровень логирования: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *play); err != nil {
		logging.NewLogger("main").Error(err, "confbridge завершен с ошибкой")
		os.Exit(1)
	}
}

func run(cfg config.Config, playFile string) error {
	logger := logging.NewLogger("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ep, err := endpoint.New(cfg.Endpoint)
	if err != nil {
		return err
	}
	defer ep.Close()

	if playFile != "" {
		p, err := player.CreatePlayer(ep.Bridge(), playFile, 0)
		if err != nil {
			return err
		}
		defer p.Close()
		if err := p.StartTransmit(ep.Devices().PlaybackDevMedia()); err != nil {
			return err
		}
		logger.Info("проигрывание файла", "file", playFile, "port_id", p.PortID())
	}

	srv := api.NewServer(cfg.API.Listen, ep, logging.NewLogger("api"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx, cfg.API.ShutdownTimeout)
	})
	if cfg.Endpoint.Sound == endpoint.SoundNoDev {
		// Без устройства такты выполняет программный таймер процесса
		g.Go(func() error {
			return ep.Bridge().Run(ctx, bridge.NewTickerClock(ep.Bridge().Format().FrameTime()))
		})
	}

	logger.Info("confbridge запущен", "api", cfg.API.Listen, "sound", string(cfg.Endpoint.Sound))
	err = g.Wait()
	logger.Info("confbridge остановлен")
	return err
}
