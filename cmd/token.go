package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"vale/internal/auth"
)

var (
	tokenSecret string
	tokenIssuer string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a device credential for a user",
	Long: `Generates a signed credential a device presents on its AUTH and RESULT
frames. The secret must match the bridge's configured auth secret.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service := auth.NewTokenService(tokenSecret, tokenIssuer, tokenTTL)

		token, err := service.Issue(args[0])
		if err != nil {
			return err
		}

		cmd.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenSecret, "secret", "s", "access-token-secret", "signing secret shared with the bridge")
	tokenCmd.Flags().StringVarP(&tokenIssuer, "issuer", "i", "", "token issuer (empty disables issuer validation)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "credential lifetime")
}
