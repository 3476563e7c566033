// ruleforgectl drives the rule-search engine from the command line:
// corpus import, evolution runs and run inspection against a memory or
// sqlite store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/logrusorgru/aurora"

	"ruleforge/internal/evo"
	"ruleforge/internal/storage"
	api "ruleforge/pkg/ruleforge"
)

const defaultDBPath = "ruleforge.db"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:], out)
	case "corpus":
		return runCorpus(ctx, args[1:], out)
	case "run":
		return runRun(ctx, args[1:], out)
	case "runs":
		return runRuns(ctx, args[1:], out)
	case "fitness":
		return runFitness(ctx, args[1:], out)
	case "diagnostics":
		return runDiagnostics(ctx, args[1:], out)
	case "top":
		return runTop(ctx, args[1:], out)
	case "export":
		return runExport(ctx, args[1:], out)
	case "genome":
		return runGenome(ctx, args[1:], out)
	case "operators":
		return runOperators(ctx, args[1:], out)
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: ruleforgectl <init|corpus|run|runs|fitness|diagnostics|top|export|genome|operators> [flags]", msg)
}

func addStoreFlags(fs *flag.FlagSet) (storeKind, dbPath *string) {
	storeKind = fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath = fs.String("db-path", defaultDBPath, "sqlite database path")
	return storeKind, dbPath
}

func newClient(ctx context.Context, storeKind, dbPath string, workers int) (*api.Client, error) {
	client, err := api.New(api.Options{
		StoreKind: storeKind,
		DBPath:    dbPath,
		Workers:   workers,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Start(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func runInit(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind, dbPath := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(ctx, *storeKind, *dbPath, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	fmt.Fprintf(out, "initialized store=%s\n", *storeKind)
	return nil
}

func runCorpus(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("corpus", flag.ContinueOnError)
	importPath := fs.String("import", "", "test-case group JSON file to import")
	deleteID := fs.String("delete", "", "test-case group id to delete")
	jsonOut := fs.Bool("json", false, "emit groups as JSON")
	storeKind, dbPath := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *importPath != "" && *deleteID != "" {
		return errors.New("use either -import or -delete, not both")
	}

	client, err := newClient(ctx, *storeKind, *dbPath, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if *deleteID != "" {
		if err := client.DeleteCorpus(ctx, *deleteID); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted group=%s\n", *deleteID)
		return nil
	}
	if *importPath != "" {
		summary, err := client.ImportCorpus(ctx, *importPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "imported group=%s name=%q cases=%s transitions=%s\n",
			summary.GroupID,
			summary.Name,
			humanize.Comma(int64(summary.Cases)),
			humanize.Comma(int64(summary.Transitions)),
		)
		return nil
	}

	groups, err := client.Groups(ctx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Fprintln(out, "no test-case groups")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(groups)
	}
	for _, group := range groups {
		fmt.Fprintf(out, "group=%s name=%q cases=%s transitions=%s\n",
			group.GroupID,
			group.Name,
			humanize.Comma(int64(group.Cases)),
			humanize.Comma(int64(group.Transitions)),
		)
	}
	return nil
}

func runRun(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config JSON path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	groupID := fs.String("group", "", "test-case group id")
	population := fs.Int("pop", 50, "population size")
	generations := fs.Int("gens", 100, "generation count")
	seed := fs.Int64("seed", 1, "rng seed")
	spacing := fs.Int("spacing", 0, "atlas gutter width in cells (0 derives it from the corpus)")
	eliteCount := fs.Int("elite", 0, "elite count carried unchanged per generation (0 uses the default)")
	crossoverRate := fs.Float64("crossover-rate", 0.3, "probability an offspring is bred by crossover")
	mutationRate := fs.Float64("mutation-rate", 1, "probability an offspring is mutated (negative disables mutation)")
	mutationsPerChild := fs.Int("mutations-per-child", 1, "mutation operators applied once an offspring mutates")
	wildcardBias := fs.Float64("wildcard-bias", 0.5, "probability a mutated pattern slot becomes a wildcard")
	rulesPerCategory := fs.Int("rules-per-category", 3, "rules per category in seeded genomes")
	maxRulesPerCategory := fs.Int("max-rules-per-category", 8, "rule cap per category for append mutations")
	selectionName := fs.String("selection", "elite", "parent selection strategy: elite|tournament")
	tournamentPool := fs.Int("tournament-pool", 0, "limit tournament draws to the fittest N genomes (0 uses the whole population)")
	tournamentSize := fs.Int("tournament-size", 0, "candidates per tournament (0 uses the default of 3)")
	operatorList := fs.String("operators", "", "comma-separated operator names (empty uses the default mix)")
	workers := fs.Int("workers", 0, "device worker count (0 uses all cores)")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	storeKind, dbPath := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req, err := loadOrDefaultRunRequest(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" {
		req = api.RunRequest{
			RunID:               *runID,
			GroupID:             *groupID,
			Population:          *population,
			Generations:         *generations,
			Seed:                *seed,
			Spacing:             *spacing,
			EliteCount:          *eliteCount,
			CrossoverRate:       *crossoverRate,
			MutationRate:        *mutationRate,
			MutationsPerChild:   *mutationsPerChild,
			WildcardBias:        *wildcardBias,
			RulesPerCategory:    *rulesPerCategory,
			MaxRulesPerCategory: *maxRulesPerCategory,
			Selection:           *selectionName,
			TournamentPool:      *tournamentPool,
			TournamentSize:      *tournamentSize,
			Operators:           splitOperatorList(*operatorList),
		}
	} else {
		overrideRunRequest(&req, setFlags, map[string]any{
			"run-id":                 *runID,
			"group":                  *groupID,
			"pop":                    *population,
			"gens":                   *generations,
			"seed":                   *seed,
			"spacing":                *spacing,
			"elite":                  *eliteCount,
			"crossover-rate":         *crossoverRate,
			"mutation-rate":          *mutationRate,
			"mutations-per-child":    *mutationsPerChild,
			"wildcard-bias":          *wildcardBias,
			"rules-per-category":     *rulesPerCategory,
			"max-rules-per-category": *maxRulesPerCategory,
			"selection":              *selectionName,
			"tournament-pool":        *tournamentPool,
			"tournament-size":        *tournamentSize,
			"operators":              splitOperatorList(*operatorList),
		})
	}
	if req.GroupID == "" {
		return errors.New("run requires -group (or group_id in the config file)")
	}

	client, err := newClient(ctx, *storeKind, *dbPath, *workers)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Fprintf(out, "run=%s group=%s generations=%s best_fitness=%.6f best_generation=%s reason=%s\n",
		summary.RunID,
		summary.GroupID,
		humanize.Comma(int64(summary.GenerationsRun)),
		summary.BestFitness,
		humanize.Ordinal(summary.BestGeneration),
		colorReason(summary.TerminationReason),
	)
	return nil
}

func overrideRunRequest(req *api.RunRequest, set map[string]bool, values map[string]any) {
	for name, value := range values {
		if !set[name] {
			continue
		}
		switch name {
		case "run-id":
			req.RunID = value.(string)
		case "group":
			req.GroupID = value.(string)
		case "pop":
			req.Population = value.(int)
		case "gens":
			req.Generations = value.(int)
		case "seed":
			req.Seed = value.(int64)
		case "spacing":
			req.Spacing = value.(int)
		case "elite":
			req.EliteCount = value.(int)
		case "crossover-rate":
			req.CrossoverRate = value.(float64)
		case "mutation-rate":
			req.MutationRate = value.(float64)
		case "mutations-per-child":
			req.MutationsPerChild = value.(int)
		case "wildcard-bias":
			req.WildcardBias = value.(float64)
		case "rules-per-category":
			req.RulesPerCategory = value.(int)
		case "max-rules-per-category":
			req.MaxRulesPerCategory = value.(int)
		case "selection":
			req.Selection = value.(string)
		case "tournament-pool":
			req.TournamentPool = value.(int)
		case "tournament-size":
			req.TournamentSize = value.(int)
		case "operators":
			req.Operators = value.([]string)
		}
	}
}

func runRuns(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit runs as JSON")
	storeKind, dbPath := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(ctx, *storeKind, *dbPath, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	limitValue := *limit
	if limitValue < 0 {
		limitValue = 0
	}
	runs, err := client.Runs(ctx, api.RunsRequest{Limit: limitValue})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	for _, item := range runs {
		fmt.Fprintf(out, "run=%s created=%s group=%s seed=%d pop=%d gens=%d/%d best_fitness=%.6f reason=%s\n",
			item.RunID,
			item.CreatedAtUTC,
			item.GroupID,
			item.Seed,
			item.Population,
			item.GenerationsRun,
			item.Generations,
			item.BestFitness,
			colorReason(item.TerminationReason),
		)
	}
	return nil
}

func runFitness(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("fitness", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show fitness history for the most recent run")
	limit := fs.Int("limit", 50, "max generations to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit fitness history as JSON")
	storeKind, dbPath := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either -run-id or -latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("fitness requires -run-id or -latest")
	}

	client, err := newClient(ctx, *storeKind, *dbPath, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.FitnessHistory(ctx, api.FitnessHistoryRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(out, "no fitness history")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}
	for i, best := range history {
		fmt.Fprintf(out, "generation=%d best_fitness=%.6f\n", i+1, best)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show diagnostics for the most recent run")
	limit := fs.Int("limit", 50, "max generations to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	storeKind, dbPath := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either -run-id or -latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("diagnostics requires -run-id or -latest")
	}

	client, err := newClient(ctx, *storeKind, *dbPath, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	diagnostics, err := client.Diagnostics(ctx, api.DiagnosticsRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(diagnostics) == 0 {
		fmt.Fprintln(out, "no diagnostics")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(diagnostics)
	}
	for _, d := range diagnostics {
		fmt.Fprintf(out, "generation=%d best=%.6f mean=%.6f min=%.6f fingerprints=%d mean_rules=%.2f\n",
			d.Generation,
			d.BestFitness,
			d.MeanFitness,
			d.MinFitness,
			d.FingerprintDiversity,
			d.MeanRuleCount,
		)
	}
	return nil
}

func runTop(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show top genomes for the most recent run")
	limit := fs.Int("limit", 5, "max top genomes to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit top genomes as JSON")
	storeKind, dbPath := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either -run-id or -latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("top requires -run-id or -latest")
	}

	client, err := newClient(ctx, *storeKind, *dbPath, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	top, err := client.TopGenomes(ctx, api.TopGenomesRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(top) == 0 {
		fmt.Fprintln(out, "no top genomes")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(top)
	}
	for _, item := range top {
		fmt.Fprintf(out, "rank=%d fitness=%.6f genome_id=%s categories=%d rules=%s\n",
			item.Rank,
			item.Fitness,
			item.Genome.ID,
			len(item.Genome.Categories),
			humanize.Comma(int64(item.Genome.RuleCount())),
		)
	}
	return nil
}

func runExport(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", "exports", "output directory")
	storeKind, dbPath := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either -run-id or -latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires -run-id or -latest")
	}

	client, err := newClient(ctx, *storeKind, *dbPath, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, api.ExportRequest{
		RunID:  *runID,
		Latest: *latest,
		OutDir: *outDir,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported run=%s dir=%s\n", summary.RunID, summary.Directory)
	return nil
}

func runGenome(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("genome", flag.ContinueOnError)
	genomeID := fs.String("id", "", "genome id (a run's best genome is stored under its id)")
	jsonOut := fs.Bool("json", false, "emit the full genome as JSON")
	storeKind, dbPath := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *genomeID == "" {
		return errors.New("genome requires -id")
	}

	client, err := newClient(ctx, *storeKind, *dbPath, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	g, err := client.Genome(ctx, *genomeID)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(g)
	}
	fmt.Fprintf(out, "genome=%s categories=%d rules=%s\n",
		g.ID,
		len(g.Categories),
		humanize.Comma(int64(g.RuleCount())),
	)
	return nil
}

func runOperators(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("operators", flag.ContinueOnError)
	storeKind, dbPath := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(ctx, *storeKind, *dbPath, 0)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	for _, name := range client.Operators() {
		fmt.Fprintln(out, name)
	}
	return nil
}

func colorReason(reason string) string {
	switch reason {
	case evo.TerminationPerfect:
		return aurora.Green(reason).String()
	case evo.TerminationCancelled:
		return aurora.Red(reason).String()
	default:
		return aurora.Yellow(reason).String()
	}
}
