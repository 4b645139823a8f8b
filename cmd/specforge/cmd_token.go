package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/specforge/internal/auth"
	"github.com/suPer8Hu/specforge/internal/config"
)

var (
	tokenUserID uint64
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a bearer token for local development",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		tok, err := auth.SignJWT(cfg.JWTSecret, tokenUserID, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Uint64Var(&tokenUserID, "user", 1, "User ID to embed")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}
