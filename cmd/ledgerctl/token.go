package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mwork/booking-ledger/internal/pkg/jwt"
)

func tokenCmd(a *app) *cobra.Command {
	var (
		userID string
		role   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := uuid.New()
			if userID != "" {
				parsed, err := uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				id = parsed
			}
			if role != jwt.RoleCustomer && role != jwt.RoleOps {
				return fmt.Errorf("invalid --role %q", role)
			}

			svc := jwt.NewService(a.cfg.JWTSecret, a.cfg.JWTAccessTTL)
			tok, err := svc.GenerateAccessToken(id, role)
			if err != nil {
				return err
			}
			if asJSON {
				return a.printJSON(map[string]any{
					"accessToken": tok,
					"expiresIn":   int(svc.GetAccessTTL().Seconds()),
				})
			}
			fmt.Fprintln(a.out, tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject user id, random when empty")
	cmd.Flags().StringVar(&role, "role", jwt.RoleOps, "customer or ops")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print token and lifetime as JSON")
	return cmd
}
