package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// serve runs the http server, the hub and the clock ticker until ctx is
// cancelled, then shuts everything down gracefully
func (app *application) serve(ctx context.Context) error {
	app.Server = &http.Server{
		Addr:         ":" + app.Config.Port,
		Handler:      app.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.Hub.Run(gctx)
	})

	g.Go(func() error {
		return app.Manager.Run(gctx)
	})

	g.Go(func() error {
		app.Logger.Info("Starting server", zap.String("address", app.Server.Addr))
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.Logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := app.Server.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error("Server forced to shutdown", zap.Error(err))
			return err
		}
		return nil
	})

	err := g.Wait()

	// Shut down components
	app.Shutdown()

	if err != nil {
		return err
	}

	app.Logger.Info("Server stopped gracefully")
	return nil
}
