package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/mathbench/internal/bench"
	"github.com/pavelanni/mathbench/internal/catalog"
	"github.com/pavelanni/mathbench/internal/model"
	"github.com/pavelanni/mathbench/internal/store"
)

// addBatchFlags registers the flags shared by every command that calls
// models.
func addBatchFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("output", "o", "results", "Directory for result files and summary.json")
	f.String("db", "", "SQLite result index to update (optional)")
	f.String("image-dir", "", "Directory prepended to relative question image paths")
	f.StringSliceP("group", "g", nil, "Prompt groups 1-4, comma or space separated (default all)")
	f.Int("max-new-tokens", model.DefaultMaxNewTokens, "Maximum tokens to generate")
	f.Float64("temperature", model.DefaultTemperature, "Sampling temperature")
	f.Float64("top-p", 0, "Nucleus sampling threshold (unset if not given)")
	f.Int("top-k", 0, "Top-k sampling (unset if not given)")
	f.Float64("frequency-penalty", 0, "Frequency penalty (unset if not given)")
	f.Float64("presence-penalty", 0, "Presence penalty (unset if not given)")
	f.Float64("repetition-penalty", 0, "Repetition penalty for local models (unset if not given)")
	f.Int("num-beams", 0, "Beam count for local models (unset if not given)")
	f.StringSlice("stop", nil, "Stop sequences")
	f.String("openai-base-url", "", "Override the OpenAI API base URL")
	f.String("anthropic-base-url", "", "Override the Anthropic API base URL")
	f.String("local-url", "", "Local model runtime URL (default http://localhost:11434)")
	addLogFlags(cmd)
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate one model on selected profiles, questions and groups",
		Example: `  mathbench run --model gpt-4o --profile grade4_low --question G4Q1 --group 4
  mathbench run -m claude-sonnet-4-20250514 -p "grade8_high grade8_middle" -g 1,2`,
		RunE: runRun,
	}
	f := cmd.Flags()
	f.StringP("model", "m", "", "Model name from the registry (required)")
	f.StringSliceP("profile", "p", nil, "Learner profile ids, comma or space separated (required)")
	f.StringSliceP("question", "q", nil, "Question ids (default all questions of each profile's grade)")
	addBatchFlags(cmd)
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Evaluate models on every profile and question of one grade",
		RunE:  runGrade,
	}
	f := cmd.Flags()
	f.Int("grade", 0, "Grade to run (4 or 8)")
	f.StringSlice("models", nil, "Model names, comma or space separated (required)")
	addBatchFlags(cmd)
	_ = cmd.MarkFlagRequired("grade")
	_ = cmd.MarkFlagRequired("models")
	return cmd
}

func fullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "full",
		Short: "Evaluate models on every profile and question",
		RunE:  runFull,
	}
	cmd.Flags().StringSlice("models", nil, "Model names, comma or space separated (required)")
	addBatchFlags(cmd)
	_ = cmd.MarkFlagRequired("models")
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <file>",
		Short: "Run the evaluations described in a YAML plan file",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlan,
	}
	addBatchFlags(cmd)
	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	groups, err := parseGroups(v.GetStringSlice("group"))
	if err != nil {
		return err
	}
	plan := bench.Plan{
		Models:    []string{v.GetString("model")},
		Profiles:  splitList(v.GetStringSlice("profile")),
		Questions: splitList(v.GetStringSlice("question")),
		Groups:    groups,
	}
	if len(plan.Profiles) == 0 {
		return fmt.Errorf("at least one --profile is required")
	}
	return executeBatch(cmd, v, plan, v.GetString("output"))
}

func runGrade(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	grade := v.GetInt("grade")
	profiles := catalog.ProfilesByGrade(grade)
	if len(profiles) == 0 {
		return fmt.Errorf("invalid --grade %d (must be 4 or 8)", grade)
	}
	groups, err := parseGroups(v.GetStringSlice("group"))
	if err != nil {
		return err
	}
	plan := bench.Plan{
		Models:   splitList(v.GetStringSlice("models")),
		Profiles: profiles,
		Groups:   groups,
	}
	return executeBatch(cmd, v, plan, v.GetString("output"))
}

func runFull(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	groups, err := parseGroups(v.GetStringSlice("group"))
	if err != nil {
		return err
	}
	plan := bench.Plan{
		Models: splitList(v.GetStringSlice("models")),
		Groups: groups,
	}
	return executeBatch(cmd, v, plan, v.GetString("output"))
}

func runPlan(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	path := args[0]
	plan, err := bench.LoadPlan(path)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("group") {
		if plan.Groups, err = parseGroups(v.GetStringSlice("group")); err != nil {
			return err
		}
	}
	out := v.GetString("output")
	if plan.OutputDir != "" && !cmd.Flags().Changed("output") {
		out = plan.OutputDir
	}

	if db := v.GetString("db"); db != "" {
		s, err := store.New(db)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		prev, err := s.PlanHash(path)
		if err == nil && prev != "" && prev != plan.Hash {
			slog.Warn("plan file changed since its last run; results will be overwritten", "path", path)
		}
		err = s.SetPlanHash(path, plan.Hash)
		s.Close()
		if err != nil {
			return fmt.Errorf("record plan hash: %w", err)
		}
	}
	return executeBatch(cmd, v, *plan, out)
}

// executeBatch runs a plan, writes summary.json and prints the outcome.
// Usage has been validated by the time it runs, so usage output is
// silenced for batch failures.
func executeBatch(cmd *cobra.Command, v *viper.Viper, plan bench.Plan, outDir string) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	params := plan.Params.Apply(generationParams(cmd, v))

	db, err := openStore(v.GetString("db"))
	if err != nil {
		return err
	}
	cfg := bench.Config{
		OutputDir:   outDir,
		ImageDir:    v.GetString("image-dir"),
		Params:      params,
		Credentials: credentials(v),
	}
	if db != nil {
		defer db.Close()
		cfg.Index = db
	}
	runner, err := bench.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	batchErr := runner.RunBatch(ctx, plan)
	summaryPath, err := runner.SaveSummary()
	if err != nil {
		batchErr = errors.Join(batchErr, err)
	} else {
		slog.Info("summary written", "path", summaryPath, "run_id", runner.RunID())
	}
	printSummary(cmd.OutOrStdout(), runner.Summary())
	return batchErr
}

// generationParams builds sampling settings from flags. Optional settings
// are only set when given on the command line, in the environment or in
// the config file.
func generationParams(cmd *cobra.Command, v *viper.Viper) model.GenerationParams {
	p := model.DefaultGenerationParams()
	if n := v.GetInt("max-new-tokens"); n > 0 {
		p.MaxNewTokens = n
	}
	p.Temperature = v.GetFloat64("temperature")
	if v.IsSet("top-p") {
		x := v.GetFloat64("top-p")
		p.TopP = &x
	}
	if v.IsSet("top-k") {
		x := v.GetInt("top-k")
		p.TopK = &x
	}
	if v.IsSet("frequency-penalty") {
		x := v.GetFloat64("frequency-penalty")
		p.FrequencyPenalty = &x
	}
	if v.IsSet("presence-penalty") {
		x := v.GetFloat64("presence-penalty")
		p.PresencePenalty = &x
	}
	if v.IsSet("repetition-penalty") {
		x := v.GetFloat64("repetition-penalty")
		p.RepetitionPenalty = &x
	}
	if v.IsSet("num-beams") {
		x := v.GetInt("num-beams")
		p.NumBeams = &x
	}
	if cmd.Flags().Changed("stop") || v.IsSet("stop") {
		p.Stop = v.GetStringSlice("stop")
	}
	return p
}

// parseGroups converts group flag values to prompt groups. No values
// means every group.
func parseGroups(values []string) ([]model.PromptGroup, error) {
	var groups []model.PromptGroup
	for _, s := range splitList(values) {
		n, err := strconv.Atoi(s)
		if err != nil || !model.PromptGroup(n).Valid() {
			return nil, fmt.Errorf("invalid group %q (must be 1, 2, 3, or 4)", s)
		}
		groups = append(groups, model.PromptGroup(n))
	}
	return groups, nil
}
