package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jamibilling/rdn-billing/internal/app"
	"github.com/jamibilling/rdn-billing/internal/casework"
	"github.com/jamibilling/rdn-billing/internal/export"
	"github.com/jamibilling/rdn-billing/internal/history"
	"github.com/jamibilling/rdn-billing/internal/models"
)

// credentialOptions are the portal login flags. Empty flags fall back to
// RDN_USERNAME, RDN_PASSWORD and RDN_SECURITY_CODE.
type credentialOptions struct {
	Username         string
	Password         string
	SecurityCode     string
	VerificationCode string
}

func (c *credentialOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&c.Username, "username", "u", "", "Portal username (default $RDN_USERNAME)")
	cmd.Flags().StringVarP(&c.Password, "password", "p", "", "Portal password (default $RDN_PASSWORD)")
	cmd.Flags().StringVar(&c.SecurityCode, "security-code", "", "Portal security code (default $RDN_SECURITY_CODE)")
	cmd.Flags().StringVar(&c.VerificationCode, "verification-code", "", "Second-factor code, prompted for when required")
}

func (c *credentialOptions) credentials() models.Credentials {
	return models.Credentials{
		Username:     firstNonEmpty(c.Username, os.Getenv("RDN_USERNAME")),
		Password:     firstNonEmpty(c.Password, os.Getenv("RDN_PASSWORD")),
		SecurityCode: firstNonEmpty(c.SecurityCode, os.Getenv("RDN_SECURITY_CODE")),
	}
}

// ExtractOptions holds options for the extract command.
type ExtractOptions struct {
	SessionID  string
	OutputDir  string
	Upload     bool
	NoProgress bool
	Creds      credentialOptions
}

func newLoginCmd(g *globalOptions) *cobra.Command {
	var sessionID string
	creds := &credentialOptions{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the RDN portal",
		Long: "Log in to the RDN portal and print the session ID. The session outlives the " +
			"command only when sessions are kept in Redis (SESSION_BACKEND=redis).",
		Example: `  # Log in with credentials from the environment
  rdnctl login

  # Finish a second-factor login started earlier
  rdnctl login --session 6f1c... --verification-code 123456`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), g, sessionID, creds, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Existing session ID")
	creds.bind(cmd)
	return cmd
}

func newExtractCmd(g *globalOptions) *cobra.Command {
	opts := &ExtractOptions{}

	cmd := &cobra.Command{
		Use:   "extract CASE_ID",
		Short: "Extract the fees of one case",
		Long:  "Open a case on the RDN portal, harvest its fees, walk the update history and look up the contracted repossession fee.",
		Example: `  # Extract a case, logging in first
  rdnctl extract 2051447 -u jdoe -p secret --security-code 0000

  # Reuse a Redis-backed session and write the CSV sheets
  rdnctl extract 2051447 --session 6f1c... --out ./exports

  # Upload the sheets to object storage
  rdnctl extract 2051447 --upload`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.Context(), g, args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.SessionID, "session", "", "Existing session ID; logs in when empty")
	cmd.Flags().StringVarP(&opts.OutputDir, "out", "o", "", "Write the CSV sheets to this directory")
	cmd.Flags().BoolVar(&opts.Upload, "upload", false, "Upload the CSV sheets to object storage")
	cmd.Flags().BoolVar(&opts.NoProgress, "no-progress", false, "Hide the history progress bar")
	opts.Creds.bind(cmd)
	return cmd
}

func newExportCmd(g *globalOptions) *cobra.Command {
	var sessionID, sheet, outputDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the last extracted case of a session as CSV",
		Example: `  # Print the fee sheet
  rdnctl export --session 6f1c... --sheet fees

  # Write every sheet
  rdnctl export --session 6f1c... --out ./exports`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), g, sessionID, sheet, outputDir, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID (required)")
	cmd.Flags().StringVarP(&sheet, "sheet", "s", "", "Sheet to print: summary, fees, updates or fee-summary")
	cmd.Flags().StringVarP(&outputDir, "out", "o", "", "Write every sheet to this directory")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func runLogin(ctx context.Context, g *globalOptions, sessionID string, creds *credentialOptions, out io.Writer) error {
	rt, err := setup(ctx, g, app.Options{Redis: true, ObjectStorage: true, Events: true})
	if err != nil {
		return err
	}
	defer rt.close()

	if !strings.EqualFold(rt.cfg.Session.Backend, "redis") || rt.app.Redis == nil {
		rt.log.Warn("sessions are kept in memory and end with this command")
	}

	cases := rt.app.Cases(nil)
	res, sid, err := login(ctx, cases, sessionID, creds, os.Stdin, out)
	if err != nil {
		return err
	}

	if g.JSON {
		return printJSON(out, map[string]any{"session_id": sid, "result": res})
	}
	fmt.Fprintf(out, "Logged in. Session: %s\n", sid)
	return nil
}

// login authenticates, prompting for a second-factor code when the portal
// asks for one and none was given.
func login(ctx context.Context, cases *casework.Service, sessionID string, opts *credentialOptions, in io.Reader, out io.Writer) (models.AuthResult, string, error) {
	creds := opts.credentials()
	if opts.VerificationCode != "" && sessionID != "" {
		creds = models.Credentials{VerificationCode: opts.VerificationCode, IsSecondStep: true}
	} else if !creds.Complete() {
		return models.AuthResult{}, "", errors.New("username, password and security code are required")
	}

	res, sid, err := cases.Login(ctx, sessionID, creds)
	if err != nil {
		return res, sid, err
	}

	if res.RequiresSecondFactor {
		code := opts.VerificationCode
		if code == "" {
			if code, err = prompt(in, out, "Verification code: "); err != nil {
				return res, sid, err
			}
		}
		res, sid, err = cases.Login(ctx, sid, models.Credentials{VerificationCode: code, IsSecondStep: true})
		if err != nil {
			return res, sid, err
		}
	}

	if !res.Success {
		return res, sid, fmt.Errorf("login failed: %s", res.Message)
	}
	return res, sid, nil
}

func runExtract(ctx context.Context, g *globalOptions, caseID string, opts *ExtractOptions, out io.Writer) error {
	rt, err := setup(ctx, g, app.AllServices())
	if err != nil {
		return err
	}
	defer rt.close()

	cases := rt.app.Cases(nil)

	sid := opts.SessionID
	if sid == "" {
		if _, sid, err = login(ctx, cases, "", &opts.Creds, os.Stdin, out); err != nil {
			return err
		}
	}

	var progress func(history.Progress)
	var bar *progressbar.ProgressBar
	if !opts.NoProgress && !g.JSON {
		bar = newHistoryBar(rt.cfg.Extraction.MaxHistoryPages)
		progress = func(p history.Progress) {
			bar.Describe(fmt.Sprintf("History page %d (%d records)", p.Page, p.Total))
			_ = bar.Set(p.Page)
		}
	}

	start := time.Now()
	rec, err := cases.ExtractCase(ctx, sid, caseID, progress)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	if g.JSON {
		if err := printJSON(out, rec); err != nil {
			return err
		}
	} else {
		if err := renderCase(out, rec); err != nil {
			return err
		}
		fmt.Fprintf(out, "Total fees: $%s  (%s)\n", rec.TotalFees().StringFixed(2), time.Since(start).Round(time.Millisecond))
	}

	if opts.OutputDir != "" {
		paths, err := export.WriteDir(opts.OutputDir, rec, time.Now())
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintf(os.Stderr, "wrote %s\n", p)
		}
	}

	if opts.Upload {
		if rt.app.Exporter == nil {
			return errors.New("object storage is not configured")
		}
		files, err := rt.app.Exporter.Publish(ctx, rec)
		if err != nil {
			return err
		}
		renderUploads(out, files)
	}
	return nil
}

func runExport(ctx context.Context, g *globalOptions, sessionID, sheetName, outputDir string, out io.Writer) error {
	rt, err := setup(ctx, g, app.Options{Redis: true})
	if err != nil {
		return err
	}
	defer rt.close()

	rec, err := rt.app.Cases(nil).Result(ctx, sessionID)
	if err != nil {
		return err
	}

	if outputDir != "" {
		paths, err := export.WriteDir(outputDir, rec, time.Now())
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintln(out, p)
		}
		return nil
	}

	sheet, err := export.ParseSheet(sheetName)
	if err != nil {
		return err
	}
	t, err := export.Build(rec, sheet)
	if err != nil {
		return err
	}
	if g.JSON {
		return printJSON(out, t)
	}
	return export.WriteCSV(out, t)
}

func newHistoryBar(maxPages int) *progressbar.ProgressBar {
	if maxPages <= 0 {
		maxPages = -1
	}
	return progressbar.NewOptions(maxPages,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Walking update history"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func renderUploads(w io.Writer, files []export.File) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Sheet", "Rows", "Object", "URL"})
	for _, f := range files {
		t.AppendRow(table.Row{f.Sheet, f.Rows, f.Path, f.URL})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func prompt(in io.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no verification code given")
	}
	return line, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
