package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/pavelanni/mathbench/internal/model"
	"github.com/pavelanni/mathbench/internal/store"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed evaluations",
		RunE:  runList,
	}
	f := cmd.Flags()
	f.String("db", "mathbench.db", "SQLite result index")
	f.StringP("model", "m", "", "Only this model")
	f.StringP("profile", "p", "", "Only this learner profile")
	f.IntP("group", "g", 0, "Only this prompt group (1-4)")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export indexed evaluations as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "mathbench.db", "SQLite result index")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func runList(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	filter := model.EvaluationFilter{
		Model:   v.GetString("model"),
		Profile: v.GetString("profile"),
		Group:   model.PromptGroup(v.GetInt("group")),
	}
	if filter.Group != 0 && !filter.Group.Valid() {
		return fmt.Errorf("invalid --group %d (must be 1, 2, 3, or 4)", filter.Group)
	}
	cmd.SilenceUsage = true

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	evals, err := db.ListEvaluations(filter)
	if err != nil {
		return fmt.Errorf("list evaluations: %w", err)
	}
	printEvaluations(cmd.OutOrStdout(), evals)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	cmd.SilenceUsage = true

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportAll()
	if err != nil {
		return fmt.Errorf("export evaluations: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

func styledTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func printEvaluations(w io.Writer, evals []model.StoredEvaluation) {
	if len(evals) == 0 {
		fmt.Fprintln(w, "no evaluations indexed")
		return
	}
	t := styledTable("ID", "Model", "Profile", "Question", "Group", "Tokens", "Created")
	for _, e := range evals {
		tokens := "-"
		if e.TokensUsed != nil {
			tokens = strconv.Itoa(*e.TokensUsed)
		}
		t.Row(
			strconv.FormatInt(e.ID, 10),
			e.Model,
			e.LearnerProfile,
			e.QuestionID,
			strconv.Itoa(int(e.Group)),
			tokens,
			e.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	fmt.Fprintln(w, t.Render())
}

// printSummary reports a finished batch: counts first, then every failed
// combination.
func printSummary(w io.Writer, s model.Summary) {
	fmt.Fprintf(w, "run %s: %d evaluations saved, %d failed\n", s.RunID, s.TotalEvaluations, s.FailedEvaluations)
	if len(s.Failures) == 0 {
		return
	}
	t := styledTable("Model", "Profile", "Question", "Group", "Error")
	for _, f := range s.Failures {
		t.Row(f.Model, f.Learner, f.Question, strconv.Itoa(int(f.Group)), f.Error)
	}
	fmt.Fprintln(w, t.Render())
}
