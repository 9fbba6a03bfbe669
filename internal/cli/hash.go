package cli

import (
	"fmt"

	"github.com/nhirsama/rmcs-client/internal/service"
	"github.com/spf13/cobra"
)

var hashCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Print an argon2id hash for server.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readSecret("Password: ")
		if err != nil {
			return err
		}
		defer clear(password)
		hash, err := service.HashPassword(password, service.DefaultHashParams)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashCmd)
}
