package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/emarzona/backend/internal/models"
	"github.com/emarzona/backend/internal/server/auth"
)

// NewTokenCommand creates the command that mints development bearer tokens.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var secret, userID, role, storeID string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		Long: `Mint an HS256 bearer token accepted by a sync endpoint sharing the
same JWT_SECRET. Intended for local development and testing.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatterFor(rootOpts, cmd)
			if secret == "" {
				return f.Fail(ExitCommandError, "--secret or JWT_SECRET is required", nil)
			}
			r := models.Role(role)
			if !r.Valid() {
				return f.Fail(ExitCommandError, fmt.Sprintf("unknown role %q", role), nil)
			}

			token, err := auth.NewIssuer([]byte(secret)).Issue(models.ActionContext{
				UserID:  userID,
				Role:    r,
				StoreID: storeID,
			}, ttl)
			if err != nil {
				return f.Fail(ExitFailure, "issue token", err)
			}
			return f.Success(map[string]string{"token": token}, func(w io.Writer) {
				fmt.Fprintln(w, token)
			})
		},
	}

	cmd.Flags().StringVar(&secret, "secret", envOr("JWT_SECRET", ""), "HMAC secret")
	cmd.Flags().StringVar(&userID, "user", "", "subject user id")
	cmd.Flags().StringVar(&role, "role", string(models.RoleCustomer), "role (admin|seller|customer)")
	cmd.Flags().StringVar(&storeID, "store", "", "store id claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
