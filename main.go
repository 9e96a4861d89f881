// Command promptparty starts the party-game server.
//
// Players connect over WebSocket, form coded sessions, vote on a mini-game
// script, and the server drives one or more generative-image backends on
// their behalf. Flags overlay the YAML config file; a .env file in the
// working directory is loaded first.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/promptparty/promptparty/api"
	"github.com/promptparty/promptparty/config"
	"github.com/promptparty/promptparty/game/script"
	"github.com/promptparty/promptparty/game/session"
	"github.com/promptparty/promptparty/imagegen"
	"github.com/promptparty/promptparty/transport/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env file")
	}

	cmd := &cli.Command{
		Name:  "promptparty",
		Usage: "multiplayer party-game server for collaborative generative imaging",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to the YAML config file"},
			&cli.StringFlag{Name: "host", Usage: "listen address"},
			&cli.IntFlag{Name: "port", Usage: "listen port"},
			&cli.BoolFlag{Name: "local", Usage: "use a single image backend on 127.0.0.1"},
			&cli.IntFlag{Name: "local-port", Usage: "port of the local image backend"},
			&cli.StringSliceFlag{Name: "upstream", Usage: "image backend as host:port, repeatable"},
			&cli.StringFlag{Name: "scripts-dir", Usage: "directory of mini-game scripts"},
			&cli.StringFlag{Name: "assets-dir", Usage: "directory of depth template assets"},
			&cli.StringFlag{Name: "placeholder-dir", Usage: "directory of fallback images"},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("promptparty: %v", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	scripts, err := script.NewManager(cfg.ScriptsDir)
	if err != nil {
		return fmt.Errorf("script manager: %w", err)
	}

	pool := cfg.UpstreamPool()
	if len(pool) == 0 {
		log.Println("Warning: no image backends configured, every render will use placeholders")
	}
	upstreams := make([]*imagegen.Upstream, 0, len(pool))
	for _, addr := range pool {
		upstreams = append(upstreams, imagegen.NewUpstream(addr.Host, addr.Port))
		log.Printf("Using image backend %s:%d", addr.Host, addr.Port)
	}

	dispatcher := imagegen.NewDispatcher(upstreams, cfg.Models, cfg.AssetsDir)
	if err := dispatcher.LoadPlaceholders(cfg.PlaceholderDir); err != nil {
		log.Printf("Warning: %v, using the built-in placeholder", err)
	}
	go dispatcher.Run()
	defer dispatcher.Stop()

	sessions := session.NewManager(scripts, dispatcher)
	hub := websocket.NewHub(sessions)

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: api.NewServer(scripts, hub),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", cfg.Addr())
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

// loadConfig reads the YAML file and overlays any flags that were set.
func loadConfig(cmd *cli.Command) (config.Server, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return cfg, err
	}

	if cmd.IsSet("host") {
		cfg.BindAddress = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("local") {
		cfg.Local = cmd.Bool("local")
	}
	if cmd.IsSet("local-port") {
		cfg.LocalPort = int(cmd.Int("local-port"))
	}
	if cmd.IsSet("scripts-dir") {
		cfg.ScriptsDir = cmd.String("scripts-dir")
	}
	if cmd.IsSet("assets-dir") {
		cfg.AssetsDir = cmd.String("assets-dir")
	}
	if cmd.IsSet("placeholder-dir") {
		cfg.PlaceholderDir = cmd.String("placeholder-dir")
	}
	if cmd.IsSet("upstream") {
		cfg.Upstreams = cfg.Upstreams[:0]
		for _, raw := range cmd.StringSlice("upstream") {
			addr, err := parseUpstream(raw)
			if err != nil {
				return cfg, err
			}
			cfg.Upstreams = append(cfg.Upstreams, addr)
		}
	}
	return cfg, nil
}

func parseUpstream(raw string) (config.UpstreamAddr, error) {
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return config.UpstreamAddr{}, fmt.Errorf("upstream %q: %w", raw, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return config.UpstreamAddr{}, fmt.Errorf("upstream %q: bad port: %w", raw, err)
	}
	return config.UpstreamAddr{Host: host, Port: port}, nil
}
