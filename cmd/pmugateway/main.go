package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NodePath81/pmugateway/internal/app"
	"github.com/NodePath81/pmugateway/internal/config"
	"github.com/NodePath81/pmugateway/internal/util"
	"github.com/NodePath81/pmugateway/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runCmd := flag.NewFlagSet("run", flag.ExitOnError)
			configPath := runCmd.String("config", "config.yaml", "Path to config file")
			_ = runCmd.Parse(os.Args[2:])
			if *configPath == "config.yaml" && runCmd.NArg() > 0 {
				*configPath = runCmd.Arg(0)
			}
			runGateway(*configPath)
			return
		case "check":
			checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
			configPath := checkCmd.String("config", "config.yaml", "Path to config file")
			_ = checkCmd.Parse(os.Args[2:])
			if *configPath == "config.yaml" && checkCmd.NArg() > 0 {
				*configPath = checkCmd.Arg(0)
			}
			checkConfig(*configPath)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		case "version", "-v", "--version":
			fmt.Println(version.Version)
			return
		}
	}

	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()
	if *configPath == "config.yaml" && len(flag.Args()) > 0 {
		*configPath = flag.Arg(0)
	}
	runGateway(*configPath)
}

func runGateway(configPath string) {
	logger := util.NewLogger("info", "text")
	supervisor := app.NewSupervisor(configPath, logger)
	if err := supervisor.Start(); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			if err := supervisor.Restart(); err != nil {
				logger.Error("restart failed", "error", err)
				os.Exit(1)
			}
			continue
		}
		break
	}
	logger.Info("shutdown requested")
	supervisor.Stop()
}

func checkConfig(path string) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("config valid: listening on %s, websocket %t, estimator %s\n",
		util.NetJoin(cfg.Server.BindAddr, cfg.Server.BindPort), cfg.WebSocket.IsEnabled(), cfg.Estimator.Kind)
	os.Exit(0)
}

func printHelp() {
	fmt.Print(`pmugateway - PMU estimation gateway (REST and WebSocket)

Usage:
  pmugateway run --config <path>   Start the gateway
  pmugateway check --config <path> Validate config file
  pmugateway help                  Show this help
  pmugateway version               Print version

Signals:
  SIGHUP reloads the config file and restarts the gateway.

Legacy:
  pmugateway --config <path>
  pmugateway <config-path>
`)
}
