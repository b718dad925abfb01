package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"cartsync/internal/cart"
	"cartsync/internal/cart/facade"
	"cartsync/internal/cart/gateway"
	"cartsync/internal/dto"
	"cartsync/internal/infrastructure/logger"
)

type cliOptions struct {
	baseURL   string
	userID    string
	sessionID string
	jwtSecret string
	logLevel  string
	timeout   time.Duration
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the cartctl command tree. Every command loads the cart
// first, runs its mutation through the engine and prints the resulting view.
// Flags win over the environment: CART_API_URL and AUTH_JWT_SECRET, or
// CARTCTL_<FLAG> for the rest.
func newRootCmd(out io.Writer) *cobra.Command {
	opts := &cliOptions{}
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:          "cartctl",
		Short:        "Drive a cart through the reconciliation engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.baseURL = v.GetString("base-url")
			opts.userID = v.GetString("user")
			opts.sessionID = v.GetString("session")
			opts.jwtSecret = v.GetString("jwt-secret")
			opts.logLevel = v.GetString("log-level")
			opts.timeout = v.GetDuration("timeout")

			if opts.userID == "" && opts.sessionID == "" {
				return fmt.Errorf("one of --user or --session is required")
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("base-url", "http://localhost:3001", "Cart API base URL")
	flags.String("user", "", "Authenticated user id")
	flags.String("session", "", "Anonymous session id")
	flags.String("jwt-secret", "", "Sign bearer tokens with this secret")
	flags.String("log-level", "", "Log level (default warn)")
	flags.Duration("timeout", 10*time.Second, "Upstream request timeout")

	v.SetEnvPrefix("cartctl")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("base-url", "CART_API_URL")
	_ = v.BindEnv("jwt-secret", "AUTH_JWT_SECRET")
	for _, name := range []string{"base-url", "user", "session", "jwt-secret", "log-level", "timeout"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, out, nil)
		},
	}

	var quantity int
	addCmd := &cobra.Command{
		Use:   "add <vehicle-id> <configuration-id>",
		Short: "Add a configured vehicle to the cart",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, out, func(ctx context.Context, f *facade.Facade) error {
				return f.AddToCart(ctx, dto.AddToCartRequest{
					VehicleID:       args[0],
					ConfigurationID: args[1],
					Quantity:        quantity,
				})
			})
		},
	}
	addCmd.Flags().IntVarP(&quantity, "quantity", "q", 1, "Quantity to add")

	updateCmd := &cobra.Command{
		Use:   "update <item-id> <quantity>",
		Short: "Change the quantity of a cart item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			return run(cmd.Context(), opts, out, func(ctx context.Context, f *facade.Facade) error {
				return f.UpdateQuantity(ctx, args[0], qty)
			})
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <item-id>",
		Short: "Remove an item from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, out, func(ctx context.Context, f *facade.Facade) error {
				return f.RemoveItem(ctx, args[0])
			})
		},
	}

	promoCmd := &cobra.Command{
		Use:   "promo",
		Short: "Manage the promotional code",
	}
	promoApplyCmd := &cobra.Command{
		Use:   "apply <code>",
		Short: "Apply a promotional code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, out, func(ctx context.Context, f *facade.Facade) error {
				return f.ApplyPromotionalCode(ctx, args[0])
			})
		},
	}
	promoRemoveCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove the promotional code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, out, func(ctx context.Context, f *facade.Facade) error {
				return f.RemovePromotionalCode(ctx)
			})
		},
	}
	promoCmd.AddCommand(promoApplyCmd)
	promoCmd.AddCommand(promoRemoveCmd)

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(promoCmd)

	return rootCmd
}

// run loads the cart, applies mutate when given and prints the view. The view
// is printed even when the mutation fails so the rolled back state and the
// error are visible.
func run(ctx context.Context, opts *cliOptions, out io.Writer, mutate func(context.Context, *facade.Facade) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	zapLogger, err := logger.NewCLI(opts.logLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer zapLogger.Sync()

	tokens, err := gateway.TokenSourceFor(opts.jwtSecret, 15*time.Minute, "cartctl")
	if err != nil {
		return err
	}
	httpClient, err := gateway.NewHTTPClient(opts.timeout)
	if err != nil {
		return err
	}

	identity := gateway.Identity{UserID: opts.userID, SessionID: opts.sessionID}
	f := cart.NewModule(cart.ModuleConfig{BaseURL: opts.baseURL, Tokens: tokens}, httpClient, identity, zapLogger)
	defer f.Close()

	if err := f.Load(ctx); err != nil {
		zapLogger.Debug("load failed", zap.Error(err))
		printView(out, f.View())
		return err
	}

	var mutateErr error
	if mutate != nil {
		mutateErr = mutate(ctx, f)
	}

	if err := printView(out, f.View()); err != nil {
		return err
	}
	return mutateErr
}

func printView(out io.Writer, view dto.CartView) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
