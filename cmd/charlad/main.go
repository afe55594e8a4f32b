package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charla-social/charla/internal/daemon"
	"github.com/charla-social/charla/internal/paths"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", paths.DefaultProfile, "profile name")
	configFlag := flag.String("config", "", "config file path (overrides default location)")
	flag.Parse()

	if err := paths.ValidateProfile(*profileFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: *profileFlag, ConfigPath: *configFlag}),
	)

	app.Run()
}
