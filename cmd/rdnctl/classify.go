package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jamibilling/rdn-billing/internal/app"
	"github.com/jamibilling/rdn-billing/internal/classifier"
	"github.com/jamibilling/rdn-billing/internal/config"
)

type classification struct {
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Color      string  `json:"color"`
	Status     string  `json:"status"`
}

func newClassifyCmd(g *globalOptions) *cobra.Command {
	var showCategories bool

	cmd := &cobra.Command{
		Use:   "classify [TEXT...]",
		Short: "Classify fee descriptions",
		Long:  "Classify each argument, or each line of stdin when no argument is given, with the configured fee categories.",
		Example: `  rdnctl classify "Storage fee 5 days" "Keys fee - approved"
  rdnctl classify --categories`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			clf, err := app.NewClassifier(cfg.Extraction)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if showCategories {
				return printCategories(out, g, clf.Categories())
			}

			if len(args) == 0 {
				if args, err = readLines(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			return printClassifications(out, g, classifyAll(clf, args))
		},
	}

	cmd.Flags().BoolVar(&showCategories, "categories", false, "Print the category mapping instead")
	return cmd
}

func classifyAll(clf *classifier.Classifier, texts []string) []classification {
	out := make([]classification, 0, len(texts))
	for _, t := range texts {
		r := clf.Classify(t)
		out = append(out, classification{
			Text:       t,
			Category:   r.Category,
			Confidence: r.Confidence,
			Color:      r.Color,
			Status:     clf.ClassifyStatus(t),
		})
	}
	return out
}

func printClassifications(w io.Writer, g *globalOptions, results []classification) error {
	if g.JSON {
		return printJSON(w, results)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Text", "Category", "Confidence", "Status"})
	for _, r := range results {
		t.AppendRow(table.Row{r.Text, r.Category, fmt.Sprintf("%.2f", r.Confidence), r.Status})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
	return nil
}

func printCategories(w io.Writer, g *globalOptions, cats []classifier.Category) error {
	if g.JSON {
		return printJSON(w, cats)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Category", "Color", "Keywords"})
	for i, c := range cats {
		t.AppendRow(table.Row{i + 1, c.Name, c.Color, strings.Join(c.Keywords, ", ")})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
	return nil
}

func readLines(r io.Reader) ([]string, error) {
	if f, ok := r.(*os.File); ok {
		if fi, err := f.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
			return nil, fmt.Errorf("no text given; pass arguments or pipe lines on stdin")
		}
	}

	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return lines, nil
}
