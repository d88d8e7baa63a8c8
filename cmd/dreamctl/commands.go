package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"dreamsense/internal/adapter/repo"
	"dreamsense/internal/bootstrap"
	"dreamsense/internal/domain"
	"dreamsense/internal/entitlement"
	"dreamsense/internal/infra"
	gcp "dreamsense/internal/infra/google"
	"dreamsense/internal/middleware"
)

type resolver interface {
	Resolve(ctx context.Context, userID, purchaseToken string, usageCount int) entitlement.Verdict
}

type usageCounter interface {
	CountByUser(ctx context.Context, userID string) (int, error)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dreamctl",
		Short:         "DreamSense operator commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newEntitlementCmd(), newCredentialCmd(), newPromptCmd(), newTokenCmd())
	return root
}

func cliLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()
}

func newEntitlementCmd() *cobra.Command {
	var userID, token string
	var count int
	cmd := &cobra.Command{
		Use:   "entitlement",
		Short: "Resolve a user's entitlement and print the verdict",
		Example: `  dreamctl entitlement --user 5b0c... --token <purchase token>
  dreamctl entitlement --user 5b0c... --count 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			logger := cliLogger()
			ent, err := bootstrap.NewEntitlement(cfg, logger, nil)
			if err != nil {
				return err
			}
			var counter usageCounter
			if count < 0 {
				pool, err := infra.NewDBPool(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer pool.Close()
				counter = repo.NewDreamRepository(infra.NewSQLRunner(pool, logger))
			}
			return runEntitlement(cmd.Context(), cmd.OutOrStdout(), ent.Resolver, counter, userID, token, count)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&token, "token", "", "Play purchase token")
	cmd.Flags().IntVar(&count, "count", -1, "usage count; read from the database when omitted")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runEntitlement(ctx context.Context, out io.Writer, r resolver, counter usageCounter, userID, token string, count int) error {
	if count < 0 {
		if counter == nil {
			return errors.New("usage count unavailable")
		}
		n, err := counter.CountByUser(ctx, userID)
		if err != nil {
			return err
		}
		count = n
	}
	v := r.Resolve(ctx, userID, token, count)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entitlement.Present(v)); err != nil {
		return err
	}
	if v.Kind.IsError() {
		return fmt.Errorf("resolution failed: %s", v.Kind)
	}
	return nil
}

type credentialSource interface {
	Credential(ctx context.Context) (*gcp.Credential, error)
}

func newCredentialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credential",
		Short: "Check that the Play service account can issue an access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			logger := cliLogger()
			creds := gcp.NewCredentialProvider(gcp.CredentialOptions{SecretB64: cfg.GoogleServiceAccountB64, Logger: &logger})
			return runCredential(cmd.Context(), cmd.OutOrStdout(), creds)
		},
	}
}

func runCredential(ctx context.Context, out io.Writer, src credentialSource) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	cred, err := src.Credential(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "token:   %s\n", infra.TokenPrefix(cred.AccessToken))
	fmt.Fprintf(out, "type:    %s\n", cred.TokenType)
	if !cred.Expiry.IsZero() {
		fmt.Fprintf(out, "expires: %s\n", cred.Expiry.UTC().Format(time.RFC3339))
	}
	return nil
}

func newPromptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Manage the system prompts stored in daily_read",
	}
	var title, file string
	set := &cobra.Command{
		Use:     "set",
		Short:   "Replace the prompt stored under a title",
		Example: `  dreamctl prompt set --title PROMPT --file prompts/interpret.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			pool, err := infra.NewDBPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			prompts := repo.NewPromptRepository(infra.NewSQLRunner(pool, cliLogger()))
			return runPromptSet(cmd.Context(), cmd.OutOrStdout(), prompts, title, file)
		},
	}
	set.Flags().StringVar(&title, "title", domain.PromptTitleInterpretation, "prompt title (PROMPT or IMAGE)")
	set.Flags().StringVar(&file, "file", "", "file holding the prompt text (required)")
	_ = set.MarkFlagRequired("file")
	cmd.AddCommand(set)
	return cmd
}

func runPromptSet(ctx context.Context, out io.Writer, prompts domain.PromptRepository, title, file string) error {
	title = strings.ToUpper(strings.TrimSpace(title))
	if title != domain.PromptTitleInterpretation && title != domain.PromptTitleImage {
		return fmt.Errorf("unknown prompt title %q", title)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read prompt file: %w", err)
	}
	if err := prompts.SetContents(ctx, title, string(data)); err != nil {
		return err
	}
	fmt.Fprintf(out, "updated %s (%d bytes)\n", title, len(data))
	return nil
}

func newTokenCmd() *cobra.Command {
	var userID, secret, audience string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an HS256 access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("SUPABASE_JWT_SECRET")
			}
			if secret == "" {
				return errors.New("--secret or SUPABASE_JWT_SECRET is required")
			}
			tok, err := middleware.SignJWT(secret, userID, audience, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject user id (required)")
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 secret; defaults to SUPABASE_JWT_SECRET")
	cmd.Flags().StringVar(&audience, "audience", "authenticated", "aud claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
