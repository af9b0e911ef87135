package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acksell/slotdb/httpapi"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the item API for every configured entity.

Routes:
  POST   /entities/{entity}/items        create (body: {"item": ..., "replace": bool})
  GET    /entities/{entity}/items        find (?filter=JSON, or ?first=N&after=cursor for a page)
  GET    /entities/{entity}/items/{id}   read by identity
  PATCH  /entities/{entity}/items        update (body: {"filter": ..., "update": ..., "upsert": bool})
  DELETE /entities/{entity}/items        delete (?filter=JSON)
  GET    /entities/{entity}/explain      show the compiled filter
  GET    /metrics                        Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				e.cfg.HTTP.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := newRegistry()
			t, err := e.transporter(ctx, reg)
			if err != nil {
				return err
			}
			defer t.Close()

			h := httpapi.NewHandler(t, e.catalogs, e.log)
			srv := httpapi.NewServer(httpapi.ServerConfig{
				Port:     e.cfg.HTTP.Port,
				Gatherer: reg,
			}, h)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override http.port")
	return cmd
}
