// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ttbt-io/lineup/backend"
)

var (
	configPath string
	dataDir    string
	debugMode  bool

	cfg    *backend.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "lineup",
	Short: "Softball lineup keeper",
	Long: `lineup keeps the batting order and field positions of a seven-inning
softball game, enforces the substitution and re-entry rules, and shares the
live lineup with every connected browser.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = backend.LoadConfig(configPath); err != nil {
			return err
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.DataDir = dataDir
		}
		if debugMode {
			cfg.Debug = true
		}
		logger, err = backend.NewLogger(cfg.Debug)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// serveCmd runs the web server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lineup server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var serveFlags struct {
	addr          string
	authMode      string
	raftEnabled   bool
	raftNodeID    string
	raftBind      string
	raftAdvertise string
	raftBootstrap bool
	raftJoin      string
	raftSecret    string
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "lineup.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "data", "Directory for lineup data")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	f := serveCmd.Flags()
	f.StringVar(&serveFlags.addr, "addr", ":8080", "The TCP address to listen to")
	f.StringVar(&serveFlags.authMode, "auth-mode", backend.AuthModePassword, "Edit authorization: password, sso, or mock (testing only)")
	f.BoolVar(&serveFlags.raftEnabled, "raft", false, "Enable Raft replication")
	f.StringVar(&serveFlags.raftNodeID, "raft-node-id", "", "Raft node id (default: generated and kept in the data dir)")
	f.StringVar(&serveFlags.raftBind, "raft-bind", "127.0.0.1:8081", "Address for Raft TCP transport")
	f.StringVar(&serveFlags.raftAdvertise, "raft-advertise", "", "Public address for Raft traffic")
	f.BoolVar(&serveFlags.raftBootstrap, "raft-bootstrap", false, "Bootstrap the Raft cluster (only for first node)")
	f.StringVar(&serveFlags.raftJoin, "raft-join", "", "HTTP URL of a cluster member to join")
	f.StringVar(&serveFlags.raftSecret, "raft-secret", "", "Shared secret for cluster authentication")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}

// applyServeFlags lets explicit flags win over the file and environment.
func applyServeFlags(cmd *cobra.Command, c *backend.Config) {
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("addr", func() { c.Addr = serveFlags.addr })
	set("auth-mode", func() { c.AuthMode = serveFlags.authMode })
	set("raft", func() { c.Raft.Enabled = serveFlags.raftEnabled })
	set("raft-node-id", func() { c.Raft.NodeID = serveFlags.raftNodeID })
	set("raft-bind", func() { c.Raft.Bind = serveFlags.raftBind })
	set("raft-advertise", func() { c.Raft.Advertise = serveFlags.raftAdvertise })
	set("raft-bootstrap", func() { c.Raft.Bootstrap = serveFlags.raftBootstrap })
	set("raft-join", func() { c.Raft.Join = serveFlags.raftJoin })
	set("raft-secret", func() { c.Raft.Secret = serveFlags.raftSecret })
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, masterKey, err := backend.OpenStorage(cfg.DataDir, os.Getenv(backend.MasterKeyEnv))
	if err != nil {
		return err
	}
	opts := cfg.Options()
	opts.Storage = store
	opts.MasterKey = masterKey
	opts.UseProductionTimeouts = true

	server, err := backend.StartServer(opts)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if opts.RaftEnabled && opts.RaftJoin != "" {
		g.Go(func() error {
			joinCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			defer cancel()
			return server.RaftManager().JoinCluster(joinCtx, opts.RaftJoin)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		zap.S().Infof("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		zap.S().Infof("Gracefully stopped.")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
