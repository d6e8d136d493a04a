package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jamibilling/rdn-billing/internal/app"
)

var errNoDatabase = errors.New("database is not configured or not reachable")

func newLookupCmd(g *globalOptions) *cobra.Command {
	var client, lienholder, feeType string

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Look up the contracted repossession fee",
		Long: "Look up the fee for a client, lienholder and fee type. An unknown lienholder " +
			"falls back to the client's standard rate.",
		Example: `  rdnctl lookup --client "Acme Recovery" --lienholder "First Bank" --fee-type "Involuntary Repo"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(cmd.Context(), g, client, lienholder, feeType, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&client, "client", "c", "", "Client name (required)")
	cmd.Flags().StringVarP(&lienholder, "lienholder", "l", "", "Lienholder name")
	cmd.Flags().StringVarP(&feeType, "fee-type", "t", "", "Fee type (defaults to the configured order type)")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func newFeesCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fees",
		Short: "Manage contracted fee rates",
	}
	cmd.AddCommand(newFeesListCmd(g))
	cmd.AddCommand(newFeesSetCmd(g))
	return cmd
}

func newFeesListCmd(g *globalOptions) *cobra.Command {
	var client string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the rates of a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeesList(cmd.Context(), g, client, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&client, "client", "c", "", "Client name (required)")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func newFeesSetCmd(g *globalOptions) *cobra.Command {
	var client, lienholder, feeType, amount string

	cmd := &cobra.Command{
		Use:     "set",
		Short:   "Create or update a rate",
		Example: `  rdnctl fees set --client "Acme Recovery" --lienholder Standard --fee-type "Involuntary Repo" --amount 375`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeesSet(cmd.Context(), g, client, lienholder, feeType, amount, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&client, "client", "c", "", "Client name (required)")
	cmd.Flags().StringVarP(&lienholder, "lienholder", "l", "", "Lienholder name (required)")
	cmd.Flags().StringVarP(&feeType, "fee-type", "t", "", "Fee type (required)")
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "Amount in dollars (required)")
	for _, f := range []string{"client", "lienholder", "fee-type", "amount"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func runLookup(ctx context.Context, g *globalOptions, client, lienholder, feeType string, out io.Writer) error {
	rt, err := setup(ctx, g, app.Options{Database: true, Redis: true})
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.app.Fees.Lookup(ctx, client, lienholder, feeType)
	if err != nil {
		return err
	}

	if g.JSON {
		return printJSON(out, res)
	}
	renderLookup(out, res)
	return nil
}

func runFeesList(ctx context.Context, g *globalOptions, client string, out io.Writer) error {
	rt, err := setup(ctx, g, app.Options{Database: true})
	if err != nil {
		return err
	}
	defer rt.close()

	repo := rt.app.FeeRepo
	if repo == nil {
		return errNoDatabase
	}

	c, err := repo.FindClient(ctx, client)
	if err != nil {
		return err
	}
	details, err := repo.ListFeeDetails(ctx, c.ID)
	if err != nil {
		return err
	}

	if g.JSON {
		return printJSON(out, details)
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle(c.Name)
	t.AppendHeader(table.Row{"Fee ID", "Lienholder", "Fee Type", "Amount"})
	for _, fd := range details {
		t.AppendRow(table.Row{fd.ID, fd.LienholderName, fd.FeeTypeName, "$" + fd.Amount.StringFixed(2)})
	}
	t.AppendFooter(table.Row{"", "", "Rates", len(details)})
	t.SetStyle(table.StyleRounded)
	t.Render()
	return nil
}

func runFeesSet(ctx context.Context, g *globalOptions, client, lienholder, feeType, amount string, out io.Writer) error {
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if value.IsNegative() {
		return fmt.Errorf("amount must not be negative: %s", amount)
	}

	rt, err := setup(ctx, g, app.Options{Database: true, Redis: true})
	if err != nil {
		return err
	}
	defer rt.close()

	if rt.app.FeeRepo == nil {
		return errNoDatabase
	}

	fd, err := rt.app.FeeRepo.UpsertFeeDetail(ctx, client, lienholder, feeType, value)
	if err != nil {
		return err
	}

	// Cached lookups may still hold the previous rate.
	if rt.app.Cache != nil {
		if n, err := rt.app.Cache.InvalidateAll(ctx); err != nil {
			rt.log.WithError(err).Warn("failed to invalidate lookup cache")
		} else {
			rt.log.Debug("lookup cache invalidated", "keys", n)
		}
	}

	if g.JSON {
		return printJSON(out, fd)
	}
	fmt.Fprintf(out, "Saved fee %d: %s / %s / %s = $%s\n",
		fd.ID, fd.ClientName, fd.LienholderName, fd.FeeTypeName, fd.Amount.StringFixed(2))
	return nil
}
