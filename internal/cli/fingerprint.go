package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tOgg1/infco/internal/ssh"
)

var (
	fingerprintUser string
	fingerprintPort int
)

func init() {
	rootCmd.AddCommand(fingerprintCmd)

	fingerprintCmd.Flags().StringVarP(&fingerprintUser, "user", "u", "", "SSH username")
	fingerprintCmd.Flags().IntVar(&fingerprintPort, "port", 0, "SSH port (default from config)")
	_ = fingerprintCmd.MarkFlagRequired("user")
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <host>",
	Short: "Print a server's public key fingerprint",
	Long: `Connect to a host and print the SHA-256 fingerprint of its public key in
the form used for serverPublicKeyHash. Nothing is authenticated.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg := GetConfig()

		port := fingerprintPort
		if port == 0 {
			port = cfg.SSH.Port
		}

		fingerprint, err := ssh.FetchFingerprint(ctx, args[0], port, fingerprintUser, cfg.SSH.ConnectTimeout)
		if err != nil {
			return err
		}

		if IsJSONOutput() {
			return WriteOutput(cmd.OutOrStdout(), map[string]any{
				"host":        args[0],
				"port":        port,
				"fingerprint": fingerprint,
			})
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), fingerprint)
		return err
	},
}
