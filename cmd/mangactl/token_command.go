package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"manga-server/internal/authutils"
	"manga-server/internal/models"
)

func newTokenCommand() *cobra.Command {
	var (
		secretFile string
		userID     uint64
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin access token signed with the server JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("MANGACTL_JWT_SECRET")
			if secretFile != "" {
				raw, err := os.ReadFile(secretFile)
				if err != nil {
					return fmt.Errorf("read secret file: %w", err)
				}
				secret = strings.TrimSpace(string(raw))
			}
			verifier, err := authutils.NewJWTVerifier(secret, nil)
			if err != nil {
				return err
			}

			now := time.Now()
			token, err := verifier.IssueToken(models.Claims{
				UserID: userID,
				Roles:  []string{models.RoleAdmin},
				RegisteredClaims: jwt.RegisteredClaims{
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secretFile, "secret-file", "", "File with the JWT secret (default: MANGACTL_JWT_SECRET)")
	cmd.Flags().Uint64Var(&userID, "user", 1, "User id to put into the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
