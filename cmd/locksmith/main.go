// Locksmith: a local ledger node running the Locksmith token time-lock
// program on an embedded native runtime.
//
// The node keeps accounts in BadgerDB, journals every submitted transaction
// and serves the ledger over JSON-RPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/locksmith/pkg/config"
	"github.com/fortiblox/locksmith/pkg/logger"
	"github.com/fortiblox/locksmith/pkg/node"
	"github.com/fortiblox/locksmith/pkg/rpc"
	"github.com/fortiblox/locksmith/pkg/svm/programs/locksmith"
)

// Version information
var (
	Version   = "1.0.0"
	GitCommit = "dev"
)

// Configuration flags. Empty values leave the loaded configuration alone.
var (
	configPath  = flag.String("config", "", "Path to a YAML config file")
	envFile     = flag.String("env-file", ".env", "Path to a .env file with LOCKSMITH_* overrides")
	dataDir     = flag.String("data-dir", "", "Data directory for accounts and the journal")
	rpcAddr     = flag.String("rpc-addr", "", "RPC server listen address")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFile     = flag.String("log-file", "", "Also write logs to this file, with rotation")
	snapshotIn  = flag.String("snapshot-in", "", "Seed an empty ledger from this snapshot")
	snapshotOut = flag.String("snapshot-out", "", "Write a snapshot here on shutdown")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("locksmith %s (%s) program %s\n", Version, GitCommit, locksmith.ProgramID)
		os.Exit(0)
	}

	if err := run(); err != nil {
		logrus.WithError(err).Error("locksmith exited")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		return err
	}
	applyFlags(cfg)

	closer, err := logger.Init(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	log := logrus.StandardLogger().WithField("type", "main")
	log.WithFields(logrus.Fields{
		"version": Version,
		"commit":  GitCommit,
		"program": locksmith.ProgramID.String(),
	}).Info("starting locksmith")

	nodeConfig, err := cfg.NodeConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	n, err := node.New(nodeConfig)
	if err != nil {
		return err
	}
	if err := n.Start(ctx); err != nil {
		return err
	}

	if nodeConfig.RPCEnabled {
		log.WithField("addr", nodeConfig.RPC.Addr).Infof("serving json-rpc (%s)", rpc.NodeVersion)
	}

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("shutting down")
	cancel()

	status := n.Status()
	if err := n.Stop(); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"slot":         status.Slot,
		"transactions": status.TxsProcessed,
		"failed":       status.TxsFailed,
	}).Info("locksmith stopped")
	return nil
}

// applyFlags overrides configuration with explicitly set flags.
func applyFlags(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.DataDir, *dataDir)
	set(&cfg.RPC.Addr, *rpcAddr)
	set(&cfg.Log.Level, *logLevel)
	set(&cfg.Log.File, *logFile)
	set(&cfg.Snapshot.In, *snapshotIn)
	set(&cfg.Snapshot.Out, *snapshotOut)
}
