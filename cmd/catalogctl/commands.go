package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mysterybooks/storefront/internal/catalog"
	"github.com/mysterybooks/storefront/internal/domain"
	"github.com/mysterybooks/storefront/internal/platform/auth"
	"github.com/mysterybooks/storefront/internal/platform/config"
	"github.com/mysterybooks/storefront/internal/platform/secrets"
	"github.com/mysterybooks/storefront/internal/sequencer"
)

const defaultFallbackPrice = "5.00"

func validateCmd() *cobra.Command {
	var price string
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check that a catalog file parses and has at least one book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fallback, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("invalid --price %q: %w", price, err)
			}
			c, err := readCatalog(args[0], fallback)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, genre := range c.Genres() {
				fmt.Fprintf(out, "%-12s %d\n", sequencer.GenreDisplayName(genre), len(c.Books(genre)))
			}
			fmt.Fprintf(out, "ok: %d genres, %d books\n", len(c.Genres()), c.Count())
			return nil
		},
	}
	cmd.Flags().StringVar(&price, "price", defaultFallbackPrice, "Price applied to rows without one")
	return cmd
}

func convertCmd() *cobra.Command {
	var price string
	cmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Convert a catalog between csv, yaml and json",
		Long: `Convert reads <in> and writes <out>, choosing both encodings from the file
extensions (.csv, .yaml/.yml, .json). Use "-" as <out> to print JSON to stdout.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fallback, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("invalid --price %q: %w", price, err)
			}
			c, err := readCatalog(args[0], fallback)
			if err != nil {
				return err
			}
			if args[1] == "-" {
				return catalog.Encode(cmd.OutOrStdout(), catalog.FormatJSON, c)
			}
			if err := writeCatalog(args[1], c); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d books to %s\n", c.Count(), args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&price, "price", defaultFallbackPrice, "Price applied to rows without one")
	return cmd
}

func defaultCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "default",
		Short: "Print the embedded catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := catalog.Format(strings.ToLower(strings.TrimSpace(format)))
			return catalog.Encode(cmd.OutOrStdout(), f, domain.NormalizeCatalog(catalog.Default()))
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(catalog.FormatJSON), "Output format (csv, yaml, json)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		secret  string
		issuer  string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin token for the catalog maintenance endpoints",
		Long: `Token signs a bearer token with STOREFRONT_ADMIN_TOKEN_SECRET (read from the
environment, .env or .secrets.local) unless --secret is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			adminCfg := config.AdminConfig{TokenSecret: secret, Issuer: issuer, TokenTTL: ttl}
			if strings.TrimSpace(secret) == "" {
				loaded, err := loadAdminConfig(cmd.Context())
				if err != nil {
					return err
				}
				adminCfg.TokenSecret = loaded.TokenSecret
				if !cmd.Flags().Changed("issuer") {
					adminCfg.Issuer = loaded.Issuer
				}
				if ttl <= 0 {
					adminCfg.TokenTTL = loaded.TokenTTL
				}
			}
			tokens, err := auth.NewAdminTokens(adminCfg.TokenSecret, adminCfg.Issuer, adminCfg.TokenTTL)
			if err != nil {
				return err
			}
			token, expires, err := tokens.Issue(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "catalogctl", "Token subject recorded in admin logs")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (skips configuration)")
	cmd.Flags().StringVar(&issuer, "issuer", "mysterybooks-storefront", "Token issuer")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to STOREFRONT_ADMIN_TOKEN_TTL)")
	return cmd
}

func loadAdminConfig(ctx context.Context) (config.AdminConfig, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	fetcher, err := secrets.NewFetcher(ctx, secrets.WithOffline())
	if err != nil {
		return config.AdminConfig{}, err
	}
	defer fetcher.Close()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		return config.AdminConfig{}, fmt.Errorf("load configuration: %w", err)
	}
	return cfg.Admin, nil
}

func readCatalog(path string, fallback decimal.Decimal) (domain.Catalog, error) {
	format, err := catalog.FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := catalog.Decode(f, format, fallback)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c = domain.NormalizeCatalog(c)
	if len(c) == 0 {
		return nil, fmt.Errorf("%s: %w", path, catalog.ErrEmptyCatalog)
	}
	return c, nil
}

func writeCatalog(path string, c domain.Catalog) (err error) {
	format, err := catalog.FormatFromPath(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return catalog.Encode(f, format, c)
}
