/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meriley/lingua-nexus-sub001/internal/server"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the translation gateway HTTP server",
	Long: `Start the HTTP API: /translate, /translate/adaptive,
/translate/adaptive/progressive, model lifecycle endpoints, language
listings, /health and /metrics.

Backends named in LOADED_BACKENDS are registered and loaded at startup;
no other backends are registered. A registered backend that is not ready
(after an unload or a failed load) can be loaded again at runtime via
POST /models/{name}/load.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildCore()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		loadConfiguredBackends(ctx, c)

		addr := listenAddr
		if addr == "" {
			addr = c.Config.ListenAddr
		}

		srv := server.New(c.Config, c.Controller, c.Registry, c.Languages, c.Cache, c.Logger,
			server.WithMetrics(c.Metrics))

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(addr)
		}()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
			c.Logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Listen address (default from LISTEN_ADDR, :8080)")
}
