package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/klauern/rowsync/internal/config"
	"github.com/klauern/rowsync/internal/interceptor"
	"github.com/klauern/rowsync/internal/logging"
	"github.com/klauern/rowsync/internal/scope"
	"github.com/klauern/rowsync/internal/sync"
	"github.com/klauern/rowsync/internal/web"
)

const shutdownTimeout = 15 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the configured scope to sync clients over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (overrides server.listen)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFrom(ctx)
			if v := cmd.String("listen"); v != "" {
				cfg.Server.Listen = v
			}
			return Serve(ctx, cfg, os.Stdout)
		},
	}
}

// Serve provisions the server scope and serves it on cfg.Server.Listen until
// ctx is done. The listen address is announced on out.
func Serve(ctx context.Context, cfg *config.Config, out io.Writer) error {
	o, err := openOrchestrator(cfg, interceptor.Server)
	if err != nil {
		return err
	}
	defer o.Provider.Close()

	// Provision up front so the first client does not pay for it.
	if _, err := o.EnsureServerScope(ctx, cfg.Scope.Name); err != nil {
		return err
	}

	sessions := scope.NewSessionStore(cfg.Options.SessionTTL)
	remote := sync.NewRemoteOrchestrator(o.Provider, o.Setup, cfg.SyncOptions(), sessions)

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Listen, err)
	}
	fmt.Fprintf(out, "Serving scope %s on http://%s%s\n", cfg.Scope.Name, ln.Addr(), cfg.Server.Path)

	return serve(ctx, ln, cfg.Server.Path, remote, sessions)
}

// serve runs the HTTP endpoint and the session sweeper until ctx is done,
// then shuts the server down gracefully.
func serve(ctx context.Context, ln net.Listener, path string, remote sync.Remote, sessions *scope.SessionStore) error {
	mux := http.NewServeMux()
	mux.Handle(path, web.NewHandler(remote))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sessions.Run(gctx, 0)
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down sync server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
