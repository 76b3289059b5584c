package main

import (
	"errors"
	"fmt"
	"log"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/meshtower/overlay-provisioning-backend/certsigner"
	"github.com/meshtower/overlay-provisioning-backend/cmd/flags"
	"github.com/meshtower/overlay-provisioning-backend/httpserver"
	"github.com/meshtower/overlay-provisioning-backend/interfaces"
	"github.com/meshtower/overlay-provisioning-backend/invites"
	"github.com/meshtower/overlay-provisioning-backend/issuer"
	"github.com/meshtower/overlay-provisioning-backend/provisioner"
	"github.com/meshtower/overlay-provisioning-backend/registry"
	"github.com/meshtower/overlay-provisioning-backend/supervisor"
	"github.com/urfave/cli/v2"
)

var serverFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.DataDirFlag,
	flags.SignerPathFlag,
	flags.DaemonPathFlag,
	flags.LighthouseEndpointFlag,
}, flags.CommonFlags...)

func main() {
	// Optional .env file for deployments configured via environment.
	godotenv.Load()

	app := &cli.App{
		Name:  "provisioning-server",
		Usage: "Serve the overlay network provisioning API",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			dataDir := cCtx.String(flags.DataDirFlag.Name)
			signerPath := cCtx.String(flags.SignerPathFlag.Name)
			daemonPath := cCtx.String(flags.DaemonPathFlag.Name)
			lighthouseEndpoint := cCtx.String(flags.LighthouseEndpointFlag.Name)

			if lighthouseEndpoint == "" {
				logger.Error("lighthouse-endpoint is required")
				return fmt.Errorf("lighthouse-endpoint is required")
			}
			// Accept a bare IP and default to the daemon's standard port.
			if addr, err := netip.ParseAddr(lighthouseEndpoint); err == nil {
				lighthouseEndpoint = netip.AddrPortFrom(addr, 4242).String()
			} else if _, err := netip.ParseAddrPort(lighthouseEndpoint); err != nil {
				logger.Error("Invalid lighthouse-endpoint, expected ip or ip:port", "value", lighthouseEndpoint, "err", err)
				return fmt.Errorf("invalid lighthouse-endpoint %q: %w", lighthouseEndpoint, err)
			}

			store, err := registry.NewStore(dataDir, logger)
			if err != nil {
				logger.Error("Failed to open registry", "err", err)
				return err
			}
			ledger := invites.NewLedger(dataDir, store, logger)
			signer := certsigner.New(signerPath, logger)
			iss := issuer.New(dataDir, signer, store, lighthouseEndpoint, logger)
			prov := provisioner.New(store, ledger, iss, logger)
			sup := supervisor.New(daemonPath, logger)

			handler := httpserver.NewHandler(prov, store, ledger, iss, sup, logger)

			cfg := flags.ConfigureServer(cCtx, logger)
			server, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server",
				"listenAddr", cfg.ListenAddr,
				"dataDir", dataDir,
				"lighthouseEndpoint", lighthouseEndpoint,
			)
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			if err := sup.Stop(cCtx.Context); err != nil && !errors.Is(err, interfaces.ErrAlreadyStopped) {
				logger.Error("Failed to stop overlay daemon", "err", err)
			}
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
