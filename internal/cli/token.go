package cli

import (
	"fmt"
	"intranet-assistant-go/pkg/hash"
	"intranet-assistant-go/pkg/token"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Operator token helpers",
}

var flagTokenSubject string

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a signed operator token for the maintenance api",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tok, err := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours).GenerateToken(flagTokenSubject)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key <api-key>",
	Short: "Print the bcrypt hash to put in maintenance.update_api_key_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hashed, err := hash.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hashed)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&flagTokenSubject, "subject", "", "operator name stored in the token")
	_ = tokenIssueCmd.MarkFlagRequired("subject")
	tokenCmd.AddCommand(tokenIssueCmd)
	rootCmd.AddCommand(tokenCmd, hashKeyCmd)
}
