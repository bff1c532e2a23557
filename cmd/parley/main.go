package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/parleyhq/parley/internal/app"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", "", "path to config.toml (default ~/.parley/config.toml)")
	uidFlag := flag.String("uid", "", "act as this user id (overrides config identity)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = session.ConfigPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	sessionName := session.Resolve(*sessionFlag, *configFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *uidFlag == "" && cfg.Identity.UID == "" {
		fmt.Fprintln(os.Stderr, "error: no identity configured; set [identity] uid in config.toml or pass --uid")
		os.Exit(1)
	}

	fxApp := fx.New(
		app.Module(app.Params{
			SessionName: sessionName,
			Config:      cfg,
			UIDOverride: *uidFlag,
		}),
	)

	fxApp.Run()
}
