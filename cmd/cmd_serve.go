// cmd_serve.go - serve Command: Server-Bootstrap und Default-Model-Laden
package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/infermesh/infermesh/envconfig"
	"github.com/infermesh/infermesh/mockmodel"
	"github.com/infermesh/infermesh/server"
)

// RunServer builds the Server, registers and loads the bundled demo
// model (so a fresh checkout has something to serve against), and
// blocks until shutdown.
func RunServer(_ *cobra.Command, _ []string) error {
	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	addr := ln.Addr()
	srv, err := server.NewServer(addr)
	if err != nil {
		return err
	}

	if err := bootstrapDemoModel(srv); err != nil {
		return err
	}

	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func bootstrapDemoModel(srv *server.Server) error {
	if err := srv.Registry.RegisterLoader("echo", mockmodel.Loader, false); err != nil {
		return err
	}

	cfg := server.ModelConfig{
		Name:         "echo",
		Version:      "v1",
		WarmupTokens: 1,
	}
	if _, err := srv.Registry.Load(context.Background(), cfg); err != nil {
		return err
	}
	if err := srv.Registry.SetActiveVersion("echo", "v1"); err != nil {
		return err
	}
	srv.Runners.Ensure("echo")
	return nil
}

// newServeCmd - Erstellt den serve Command
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the inference server",
		Args:  cobra.ExactArgs(0),
		RunE:  RunServer,
	}
}
