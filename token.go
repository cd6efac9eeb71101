package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	deliveryhttp "github.com/egannguyen/go-kafka-ecommerce/storefront/internal/delivery/http"
)

func tokenCmd(load loadFunc) *cobra.Command {
	var (
		email string
		admin bool
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Mint a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("JWT_SECRET must be set")
			}
			role := "customer"
			if admin {
				role = deliveryhttp.RoleAdmin
			}
			tok, err := deliveryhttp.NewAuthenticator(cfg.Auth.JWTSecret).IssueToken(args[0], email, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin role")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
