package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/sanctuary/pkg/middleware"
)

func newTokenCmd(opts *options) *cobra.Command {
	var (
		userID string
		email  string
		role   string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development JWT",
		Long:  "Sign a JWT with the shared secret. The token is accepted by every service that uses the same JWT_SECRET.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if role != middleware.RoleAdmin && role != middleware.RoleMember {
				return fmt.Errorf("unknown role %q: use admin or member", role)
			}
			token, err := middleware.GenerateJWT(opts.secret(), userID, email, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "dev-user", "user id claim")
	cmd.Flags().StringVar(&email, "email", "dev@localhost", "email claim")
	cmd.Flags().StringVar(&role, "role", middleware.RoleAdmin, "role claim (admin or member)")
	return cmd
}
