package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()
	app.Name = "Constitution"
	app.Usage = "Tiered governance daemon for wallet-authenticated agents"
	app.Compiled = time.Now()

	cli.VersionPrinter = func(c *cli.Context) {
		printVersion()
	}

	// global flags
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "repo",
			Usage: "Constitution storage repo path",
		},
	}

	app.Commands = []*cli.Command{
		configCMD,
		{
			Name:   "start",
			Usage:  "Start a long-running daemon process",
			Action: start,
		},
		{
			Name:   "sweep",
			Usage:  "Resolve promotions whose voting window has closed, once",
			Action: sweep,
		},
		tierCMD,
		agentCMD,
		promotionCMD,
		constitutionCMD,
		{
			Name:    "version",
			Aliases: []string{"v"},
			Usage:   "Constitution version",
			Action: func(ctx *cli.Context) error {
				printVersion()
				return nil
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
