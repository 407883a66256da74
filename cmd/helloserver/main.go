package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/urfave/cli/v2"
	"github.com/wricardo/helloserver/log2"
	"github.com/wricardo/helloserver/server"
)

var version = "dev"

func main() {
	// Initialize logger
	log2.Configure()

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("helloserver failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:            "helloserver",
		Usage:           "Answer every GET on port 58000 with Hello world",
		HideHelpCommand: true,
		Action: func(*cli.Context) error {
			serv := server.NewServer(server.NewServerOptions())
			return serv.Start()
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(cCtx *cli.Context) error {
					fmt.Fprintln(cCtx.App.Writer, version)
					return nil
				},
			},
		},
	}
}
