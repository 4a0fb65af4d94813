package main

import (
	"flag"

	"github.com/ralph-groupscholar/slack/internal/app"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default: <data dir>/config.toml)")
	benchFlag := flag.Bool("bench", false, "render one frame and exit, for cold-start timing")
	flag.Parse()

	fx.New(
		app.Module(app.Params{ConfigPath: *configFlag, Bench: *benchFlag}),
	).Run()
}
