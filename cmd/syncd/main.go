package main

import (
	"context"
	"log"
	"os"

	"github.com/okutins/plansync/internal/buildinfo"
	"github.com/okutins/plansync/internal/config"
	"github.com/okutins/plansync/internal/daemon"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := daemon.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
