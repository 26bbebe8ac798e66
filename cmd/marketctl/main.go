package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"greendrake/housemarket/internal/feed"
	"greendrake/housemarket/internal/form"
	"greendrake/housemarket/internal/logger"
	"greendrake/housemarket/internal/models"
	"greendrake/housemarket/internal/services"
)

var (
	serverURL string
	authToken string
	verbose   bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "marketctl: %s\n", describeError(err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marketctl",
		Short: "House marketplace command-line client",
		Long: `marketctl browses offers and the recommended slider, signs users up or in, and
submits listings with images to a running housemarket API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if verbose {
				level = "debug"
			}
			logger.Init(level, "text")
		},
	}
	cmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("MARKETCTL_SERVER", "http://localhost:8080"), "API base URL")
	cmd.PersistentFlags().StringVarP(&authToken, "token", "t", os.Getenv("MARKETCTL_TOKEN"), "Bearer token for authenticated commands")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log API requests")
	cmd.AddCommand(
		newOffersCmd(),
		newRecommendedCmd(),
		newSignUpCmd(),
		newSignInCmd(),
		newSubmitCmd(),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func newOffersCmd() *cobra.Command {
	var limit, maxPages int
	cmd := &cobra.Command{
		Use:   "offers",
		Short: "Page through listings on offer, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			offer := true
			f := feed.New(newAPIClient(serverURL, ""), services.ListingQuery{Offer: &offer, Limit: limit})
			items, err := loadAll(cmd.Context(), f, maxPages)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "There are no current offers")
				return nil
			}
			printListings(cmd.OutOrStdout(), items)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", models.DefaultLimit, "Listings per page")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "Stop after this many pages (0 for all)")
	return cmd
}

// loadAll loads the first page and keeps loading more while the feed allows it.
func loadAll(ctx context.Context, f *feed.Feed, maxPages int) ([]models.Listing, error) {
	defer f.Detach()
	items, err := f.Load(ctx)
	if err != nil {
		return nil, err
	}
	for pages := 1; f.CanLoadMore() && (maxPages <= 0 || pages < maxPages); pages++ {
		if items, err = f.LoadMore(ctx); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func newRecommendedCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "recommended",
		Short: "Show the recommended listings slider",
		RunE: func(cmd *cobra.Command, args []string) error {
			listings, err := newAPIClient(serverURL, "").Recommended(cmd.Context(), count)
			if err != nil {
				return err
			}
			printListings(cmd.OutOrStdout(), listings)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Number of listings (server default when 0)")
	return cmd
}

func newSignUpCmd() *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and print its token",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newAPIClient(serverURL, "").SignUp(cmd.Context(), name, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newSignInCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and print the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newAPIClient(serverURL, "").SignIn(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newSubmitCmd() *cobra.Command {
	var listingID string
	values := map[string]*string{}
	cmd := &cobra.Command{
		Use:   "submit [image...]",
		Short: "Create a listing, or edit one with --id",
		Long: `Create a listing from flags and local image files. The first image is the cover.
With --id only the flags that are set are sent and, when no images are given, the
listing keeps its current images.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if authToken == "" {
				return fmt.Errorf("a token is required; run signin and pass --token")
			}
			fields := map[string]string{}
			for field, v := range values {
				if cmd.Flags().Changed(field) {
					fields[field] = *v
				}
			}
			// Decode locally so type errors are reported before anything is sent.
			if _, err := form.Decode(form.Default(), func(field string) (string, bool) {
				v, ok := fields[field]
				return v, ok
			}); err != nil {
				return err
			}

			listing, err := newAPIClient(serverURL, authToken).Submit(cmd.Context(), listingID, fields, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d images)\n", listing.ID.Hex(), listing.Name, len(listing.ImageURLs))
			return nil
		},
	}
	cmd.Flags().StringVar(&listingID, "id", "", "Edit this listing instead of creating one")
	for _, field := range form.Fields() {
		kind, _ := form.KindOf(field)
		values[field] = cmd.Flags().String(field, "", fmt.Sprintf("Listing %s (%s)", field, kind))
	}
	return cmd
}

func printListings(out io.Writer, listings []models.Listing) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tPRICE\tLOCATION")
	for _, l := range listings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", l.ID.Hex(), l.Name, l.Type, strconv.FormatFloat(l.DisplayPrice(), 'f', 2, 64), l.Location)
	}
	if err := tw.Flush(); err != nil {
		logrus.WithError(err).Warn("Failed to write listings")
	}
}
