package main

import (
	"fmt"
	"log"
	"os"

	"github.com/meshtower/overlay-provisioning-backend/httpserver"
	"github.com/urfave/cli/v2"
)

var flagServer = &cli.StringFlag{
	Name:    "server-addr",
	Value:   "http://127.0.0.1:8080",
	Usage:   "Provisioning server address to request",
	EnvVars: []string{"SERVER_ADDR"},
}

var flagOrg = &cli.StringFlag{
	Name:     "org",
	Required: true,
	Usage:    "Organization name",
}

func main() {
	app := &cli.App{
		Name:  "provisioning admin client",
		Usage: "Manage the provisioning server: CA, organizations, hosts and invites",
		Commands: []*cli.Command{
			{
				Name:  "init-ca",
				Usage: "Initialize the certificate authority",
				Flags: []cli.Flag{
					flagServer,
					&cli.StringFlag{
						Name:     "name",
						Required: true,
						Usage:    "CA certificate subject name",
					},
				},
				Action: func(cCtx *cli.Context) error {
					client := httpserver.NewClient(cCtx.String(flagServer.Name))
					status, err := client.InitCA(cCtx.String("name"))
					if err != nil {
						return err
					}
					fmt.Println(status.Cert)
					return nil
				},
			},
			{
				Name:  "org",
				Usage: "Manage organizations",
				Subcommands: []*cli.Command{
					{
						Name:  "new",
						Usage: "Register an organization and allocate its subnet",
						Flags: []cli.Flag{flagServer, flagOrg},
						Action: func(cCtx *cli.Context) error {
							client := httpserver.NewClient(cCtx.String(flagServer.Name))
							resp, err := client.CreateOrg(cCtx.String(flagOrg.Name))
							if err != nil {
								return err
							}
							fmt.Printf("%s\t%s\n", resp.Org, resp.Subnet)
							return nil
						},
					},
				},
			},
			{
				Name:  "host",
				Usage: "Manage hosts",
				Subcommands: []*cli.Command{
					{
						Name:  "new",
						Usage: "Provision a host directly, without an invitation",
						Flags: []cli.Flag{
							flagServer,
							flagOrg,
							&cli.StringFlag{
								Name:     "name",
								Required: true,
								Usage:    "Host display name",
							},
							&cli.StringSliceFlag{
								Name:  "tag",
								Usage: "Firewall group tag, repeatable",
							},
						},
						Action: func(cCtx *cli.Context) error {
							client := httpserver.NewClient(cCtx.String(flagServer.Name))
							result, err := client.CreateHost(
								cCtx.String(flagOrg.Name),
								cCtx.String("name"),
								cCtx.StringSlice("tag"),
							)
							if err != nil {
								return err
							}
							fmt.Printf("%s\t%s\t%s\n", result.Org, result.Host.Name, result.Host.Address)
							return nil
						},
					},
				},
			},
			{
				Name:  "invite",
				Usage: "Manage invitation codes",
				Subcommands: []*cli.Command{
					{
						Name:  "new",
						Usage: "Generate an invitation code for an organization",
						Flags: []cli.Flag{
							flagServer,
							flagOrg,
							&cli.IntFlag{
								Name:  "days",
								Value: 7,
								Usage: "Days until the invite expires",
							},
							&cli.IntFlag{
								Name:  "uses",
								Value: 1,
								Usage: "Number of redemptions allowed",
							},
						},
						Action: func(cCtx *cli.Context) error {
							client := httpserver.NewClient(cCtx.String(flagServer.Name))
							invite, err := client.GenerateInvite(
								cCtx.String(flagOrg.Name),
								cCtx.Int("days"),
								cCtx.Int("uses"),
							)
							if err != nil {
								return err
							}
							fmt.Println(invite.Code)
							return nil
						},
					},
					{
						Name:  "list",
						Usage: "List invitation codes",
						Flags: []cli.Flag{
							flagServer,
							&cli.StringFlag{
								Name:  "org",
								Usage: "Filter by organization",
							},
							&cli.BoolFlag{
								Name:  "active",
								Usage: "Only list active invites",
							},
						},
						Action: func(cCtx *cli.Context) error {
							client := httpserver.NewClient(cCtx.String(flagServer.Name))
							var active *bool
							if cCtx.IsSet("active") {
								v := cCtx.Bool("active")
								active = &v
							}
							list, err := client.ListInvites(cCtx.String("org"), active)
							if err != nil {
								return err
							}
							for _, inv := range list {
								fmt.Printf("%s\t%s\tuses=%d\tactive=%t\texpires=%s\n",
									inv.Code, inv.Org, inv.AvailableUses, inv.Active,
									inv.ExpiresAt.Format("2006-01-02"))
							}
							return nil
						},
					},
					{
						Name:  "revoke",
						Usage: "Deactivate an invitation code",
						Flags: []cli.Flag{
							flagServer,
							&cli.StringFlag{
								Name:     "code",
								Required: true,
								Usage:    "Invitation code to deactivate",
							},
						},
						Action: func(cCtx *cli.Context) error {
							client := httpserver.NewClient(cCtx.String(flagServer.Name))
							return client.DeactivateInvite(cCtx.String("code"))
						},
					},
					{
						Name:  "redeem",
						Usage: "Redeem an invitation code and save the credential bundle",
						Flags: []cli.Flag{
							flagServer,
							&cli.StringFlag{
								Name:     "code",
								Required: true,
								Usage:    "Invitation code",
							},
							&cli.StringFlag{
								Name:     "name",
								Required: true,
								Usage:    "Host display name",
							},
							&cli.StringSliceFlag{
								Name:  "tag",
								Usage: "Firewall group tag, repeatable",
							},
							&cli.StringFlag{
								Name:  "out",
								Value: "bundle.zip",
								Usage: "Path to write the credential bundle archive",
							},
						},
						Action: func(cCtx *cli.Context) error {
							client := httpserver.NewClient(cCtx.String(flagServer.Name))
							data, err := client.RedeemInvite(
								cCtx.String("code"),
								cCtx.String("name"),
								cCtx.StringSlice("tag"),
							)
							if err != nil {
								return err
							}
							out := cCtx.String("out")
							if err := os.WriteFile(out, data, 0600); err != nil {
								return fmt.Errorf("failed to write bundle: %w", err)
							}
							fmt.Println(out)
							return nil
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
