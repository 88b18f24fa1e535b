package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"

	likeapi "likeness/pkg/likeness"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:])
	case "batch":
		return runBatch(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "import":
		return runImport(ctx, args[1:])
	case "report":
		return runReport(ctx, args[1:])
	case "info":
		return runInfo(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: likenessctl <run|batch|export|import|report|info> [flags]", msg)
}

func commonFlags(fs *flag.FlagSet) (storeKind, dbPath, knowledgePath, logLevel *string, console *bool) {
	storeKind = fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath = fs.String("db-path", "likeness.db", "sqlite database path")
	knowledgePath = fs.String("knowledge", "likeness.lknw", "portable knowledge file path")
	logLevel = fs.String("log-level", "info", "log level: debug|info|warn|error")
	console = fs.Bool("console", false, "human-readable log output")
	return
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML profile path")
	storeKind, dbPath, knowledgePath, logLevel, console := commonFlags(fs)
	targetID := fs.String("target-id", "target", "target identifier")
	gender := fs.String("gender", "", "target gender tag")
	ageBucket := fs.String("age-bucket", "", "target age bucket tag")
	skinTone := fs.String("skin-tone", "", "target skin tone tag")
	iterations := fs.Int("iterations", 0, "iteration budget (0 uses the engine default)")
	seed := fs.Int64("seed", 1, "search rng seed")
	oracleSeed := fs.Int64("oracle-seed", 1, "synthetic oracle seed")
	truthSeed := fs.Int64("truth-seed", 2, "synthetic ground-truth seed")
	noise := fs.Float64("noise", 0, "synthetic landmark noise amplitude")
	jsonOut := fs.Bool("json", false, "emit the run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := visitedFlags(fs)

	profile, err := loadProfile(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" {
		profile = Profile{
			Store:         *storeKind,
			DBPath:        *dbPath,
			KnowledgePath: *knowledgePath,
			LogLevel:      *logLevel,
			Console:       *console,
			TargetID:      *targetID,
			Gender:        *gender,
			AgeBucket:     *ageBucket,
			SkinTone:      *skinTone,
			Iterations:    *iterations,
			Seed:          *seed,
			OracleSeed:    *oracleSeed,
			TruthSeed:     *truthSeed,
			Noise:         *noise,
		}
	} else {
		overrideFromFlags(&profile, setFlags, map[string]any{
			"store": *storeKind, "db-path": *dbPath, "knowledge": *knowledgePath,
			"log-level": *logLevel, "console": *console,
			"target-id": *targetID, "gender": *gender,
			"age-bucket": *ageBucket, "skin-tone": *skinTone,
			"iterations": *iterations, "seed": *seed,
			"oracle-seed": *oracleSeed, "truth-seed": *truthSeed, "noise": *noise,
		})
	}

	client, err := likeapi.New(profile.clientOptions())
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	summary, err := client.Run(ctx, profile.runRequest())
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("run completed session=%s target=%s iterations=%d phase=%s\n",
		summary.SessionID, summary.TargetID, summary.Iterations, summary.FinalPhase)
	fmt.Printf("baseline=%.4f best=%.4f improvement=%.4f\n",
		summary.BaselineScore, summary.BestScore, summary.BestScore-summary.BaselineScore)
	printWorstFeatures(summary.PerFeature, 5)
	return nil
}

func runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML profile path with a targets list (required)")
	storeKind, dbPath, knowledgePath, logLevel, console := commonFlags(fs)
	snapshotEvery := fs.Int("snapshot-every", 0, "save a knowledge snapshot every N targets (0 means only at the end)")
	jsonOut := fs.Bool("json", false, "emit the batch summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return errors.New("batch requires --config with a targets list")
	}
	setFlags := visitedFlags(fs)

	profile, err := loadProfile(*configPath)
	if err != nil {
		return err
	}
	overrideFromFlags(&profile, setFlags, map[string]any{
		"store": *storeKind, "db-path": *dbPath, "knowledge": *knowledgePath,
		"log-level": *logLevel, "console": *console,
		"snapshot-every": *snapshotEvery,
	})
	if len(profile.Targets) == 0 {
		return errors.New("profile has no targets")
	}

	client, err := likeapi.New(profile.clientOptions())
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	batch, err := client.Batch(ctx, likeapi.BatchRequest{
		Targets:       profile.batchRequests(),
		SnapshotEvery: profile.SnapshotEvery,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(batch)
	}

	fmt.Printf("batch completed targets=%d succeeded=%d failed=%d\n",
		len(profile.Targets), batch.Succeeded, batch.Failed)
	for _, r := range batch.Runs {
		fmt.Printf("target=%s iterations=%d baseline=%.4f best=%.4f phase=%s\n",
			r.TargetID, r.Iterations, r.BaselineScore, r.BestScore, r.FinalPhase)
	}
	for _, e := range batch.Errors {
		fmt.Printf("failed: %v\n", e)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	storeKind, dbPath, knowledgePath, logLevel, console := commonFlags(fs)
	out := fs.String("out", "", "output knowledge file path (defaults to the knowledge path)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := likeapi.New(likeapi.Options{
		StoreKind: *storeKind, DBPath: *dbPath, KnowledgePath: *knowledgePath,
		LogLevel: *logLevel, LogConsole: *console,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	summary, err := client.ExportKnowledge(*out)
	if err != nil {
		return err
	}
	fmt.Printf("exported path=%s nodes=%s experiments=%s\n",
		summary.Path, humanize.Comma(int64(summary.Nodes)), humanize.Comma(int64(summary.Experiments)))
	return nil
}

func runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	storeKind, dbPath, knowledgePath, logLevel, console := commonFlags(fs)
	in := fs.String("in", "", "knowledge file to merge (required)")
	trust := fs.Float64("trust", 0.5, "trust level in (0,1] applied to the imported knowledge")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("import requires --in")
	}

	client, err := likeapi.New(likeapi.Options{
		StoreKind: *storeKind, DBPath: *dbPath, KnowledgePath: *knowledgePath,
		LogLevel: *logLevel, LogConsole: *console,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	merged, err := client.ImportKnowledge(*in, *trust)
	if err != nil {
		return err
	}
	fmt.Println(merged.Text)
	return nil
}

func runReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	storeKind, dbPath, knowledgePath, logLevel, console := commonFlags(fs)
	out := fs.String("out", "influence.txt", "report output path")
	topN := fs.Int("top", 5, "affected features kept per axis")
	oracleSeed := fs.Int64("oracle-seed", 1, "synthetic oracle seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := likeapi.New(likeapi.Options{
		StoreKind: *storeKind, DBPath: *dbPath, KnowledgePath: *knowledgePath,
		LogLevel: *logLevel, LogConsole: *console,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	summary, err := client.MorphReport(likeapi.ReportRequest{
		Path: *out, TopN: *topN, OracleSeed: *oracleSeed,
	})
	if err != nil {
		return err
	}
	fmt.Printf("report written path=%s oracle=%s axes=%s\n",
		summary.Path, summary.Oracle, humanize.Comma(int64(summary.Axes)))
	return nil
}

func runInfo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	storeKind, dbPath, knowledgePath, logLevel, console := commonFlags(fs)
	jsonOut := fs.Bool("json", false, "emit info as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := likeapi.New(likeapi.Options{
		StoreKind: *storeKind, DBPath: *dbPath, KnowledgePath: *knowledgePath,
		LogLevel: *logLevel, LogConsole: *console,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	info, err := client.Info(ctx)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Printf("store=%s knowledge=%s\n", *storeKind, info.KnowledgePath)
	fmt.Printf("sessions=%s nodes=%s experiments=%s\n",
		humanize.Comma(int64(info.Sessions)),
		humanize.Comma(int64(info.Nodes)),
		humanize.Comma(int64(info.Experiments)))
	if info.LatestSnapshot != nil {
		fmt.Printf("latest_snapshot=%s\n", humanize.Time(*info.LatestSnapshot))
	} else {
		fmt.Println("latest_snapshot=none")
	}
	return nil
}

func visitedFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func printWorstFeatures(perFeature map[string]float64, n int) {
	if len(perFeature) == 0 {
		return
	}
	type entry struct {
		name  string
		score float64
	}
	entries := make([]entry, 0, len(perFeature))
	for name, score := range perFeature {
		entries = append(entries, entry{name, score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score < entries[j].score
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	fmt.Println("weakest features:")
	for _, e := range entries {
		fmt.Printf("  %-24s %.4f\n", e.name, e.score)
	}
}
