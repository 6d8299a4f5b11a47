package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/axiomesh/constitution/core"
	"github.com/axiomesh/constitution/sweeper"
)

var tierCMD = &cli.Command{
	Name:  "tier",
	Usage: "Inspect trust tiers",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List the tiers of a constitution",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "constitution",
					Usage: "constitution id, defaults to the configured one",
				},
			},
			Action: listTiers,
		},
	},
}

var agentCMD = &cli.Command{
	Name:  "agent",
	Usage: "Inspect registered agents",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List the agents of a constitution",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "constitution",
					Usage: "constitution id, defaults to the configured one",
				},
				&cli.IntFlag{
					Name:  "tier",
					Usage: "only agents of this tier, 0 for all",
				},
				&cli.BoolFlag{
					Name:  "include-exited",
					Usage: "also list agents that left",
				},
				&cli.IntFlag{
					Name: "limit",
				},
			},
			Action: listAgents,
		},
	},
}

var promotionCMD = &cli.Command{
	Name:  "promotion",
	Usage: "Inspect promotions",
	Subcommands: []*cli.Command{
		{
			Name:      "show",
			Usage:     "Show a promotion with its votes",
			ArgsUsage: "<promotion-id>",
			Action:    showPromotion,
		},
	},
}

var constitutionCMD = &cli.Command{
	Name:  "constitution",
	Usage: "Manage constitutions",
	Subcommands: []*cli.Command{
		{
			Name:  "create",
			Usage: "Store a constitution",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "id", Required: true},
				&cli.StringFlag{Name: "name", Required: true},
				&cli.StringFlag{Name: "description"},
			},
			Action: createConstitution,
		},
		{
			Name:   "list",
			Usage:  "List stored constitutions",
			Action: listConstitutions,
		},
	},
}

func withNode(ctx *cli.Context, fn func(n *node) error) error {
	r, err := loadRepo(ctx)
	if err != nil {
		return err
	}
	n, err := newNode(r, nil)
	if err != nil {
		return err
	}
	defer n.close()
	return fn(n)
}

func sweep(ctx *cli.Context) error {
	return withNode(ctx, func(n *node) error {
		state, err := sweeper.OpenState(n.repo.SweeperStateDir())
		if err != nil {
			return fmt.Errorf("%w (is the daemon running?)", err)
		}
		defer state.Close()

		sw := sweeper.NewSweeper(sweeper.Config{
			Resolver: n.engine,
			State:    state,
			Logger:   n.logger,
		})
		resolved, err := sw.RunOnce(ctx.Context)
		if err != nil {
			return err
		}
		_, total, _ := sw.LastSweep()
		fmt.Printf("resolved %d promotions (%d in total)\n", resolved, total)
		return nil
	})
}

func listTiers(ctx *cli.Context) error {
	return withNode(ctx, func(n *node) error {
		scope := ctx.String("constitution")
		if scope == "" {
			scope = n.repo.Config.Governance.DefaultConstitution
		}
		tiers, err := n.engine.Tiers().ListTiers(ctx.Context, scope)
		if err != nil {
			return err
		}
		return printJSON(tiers)
	})
}

func listAgents(ctx *cli.Context) error {
	return withNode(ctx, func(n *node) error {
		scope := ctx.String("constitution")
		if scope == "" {
			scope = n.repo.Config.Governance.DefaultConstitution
		}
		agents, err := n.engine.ListAgents(ctx.Context, core.AgentFilter{
			ConstitutionID: scope,
			Tier:           ctx.Int("tier"),
			IncludeExited:  ctx.Bool("include-exited"),
			Limit:          ctx.Int("limit"),
		})
		if err != nil {
			return err
		}
		return printJSON(agents)
	})
}

func showPromotion(ctx *cli.Context) error {
	id := ctx.Args().First()
	if id == "" {
		return fmt.Errorf("promotion id is required")
	}
	return withNode(ctx, func(n *node) error {
		details, err := n.engine.GetPromotionWithDetails(ctx.Context, id)
		if err != nil {
			return err
		}
		return printJSON(details)
	})
}

func createConstitution(ctx *cli.Context) error {
	return withNode(ctx, func(n *node) error {
		c := &core.Constitution{
			ID:          ctx.String("id"),
			Name:        ctx.String("name"),
			Description: ctx.String("description"),
			CreatedAt:   time.Now(),
		}
		if err := n.store.InsertConstitution(ctx.Context, c); err != nil {
			return err
		}
		fmt.Printf("constitution %s created\n", c.ID)
		return nil
	})
}

func listConstitutions(ctx *cli.Context) error {
	return withNode(ctx, func(n *node) error {
		list, err := n.store.ListConstitutions(ctx.Context)
		if err != nil {
			return err
		}
		return printJSON(list)
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
