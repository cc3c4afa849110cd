// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-webauthn-rp.
//
// go-webauthn-rp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package cli implements the rp-server command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	// configPath is the --config persistent flag value
	configPath string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rp-server",
	Short: "WebAuthn relying-party server",
	Long: `rp-server is a WebAuthn relying party: it issues registration and
authentication challenges, verifies attestation and assertion responses,
and manages registered security keys for each user.

The bundled server keeps credentials in memory and is intended for
development and integration testing. Production deployments embed the
webauthn package against their own credential storage and user
directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/webauthn-rp/config.yaml",
		"path to the configuration file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
