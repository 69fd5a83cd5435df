package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"framerecorder/internal/backend"
	"framerecorder/internal/bootstrap"
	"framerecorder/internal/config"
	"framerecorder/internal/domain"
	"framerecorder/internal/history"
	"framerecorder/internal/metrics"
)

var (
	// Access these variables only from a main package:

	Root = &cobra.Command{
		Use: "framerecorder",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("log-level") {
				if level, err := bootstrap.ParseLevel(os.Getenv("FRAMEREC_LOG_LEVEL")); err == nil {
					LoggerLevel = level
				}
			}
			l := logger.FromCtx(ctx).WithLevel(LoggerLevel)
			ctx = logger.CtxWithLogger(ctx, l)
			cmd.SetContext(ctx)
			logger.Debugf(ctx, "log-level: %v", LoggerLevel)

			metricsAddr, err := cmd.Flags().GetString("metrics-addr")
			if err != nil {
				l.Errorf("unable to get the value of the flag 'metrics-addr': %v", err)
			}
			if metricsAddr != "" {
				registry := prometheus.NewRegistry()
				metricsRegistry = registry
				go func() {
					if err := metrics.Serve(ctx, metricsAddr, registry); err != nil {
						l.Errorf("metrics server: %v", err)
					}
				}()
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			logger.Debug(ctx, "end")
		},
	}

	Record = &cobra.Command{
		Use:   "record",
		Short: "connect to a frame channel, record and write an MP4",
		Args:  cobra.ExactArgs(0),
		Run:   record,
	}

	Analyze = &cobra.Command{
		Use:   "analyze <video.mp4>",
		Short: "upload a recording to the backend and wait for the analysis",
		Args:  cobra.ExactArgs(1),
		Run:   analyze,
	}

	Scene = &cobra.Command{
		Use: "scene",
	}

	SceneCheck = &cobra.Command{
		Use:   "check <scene.yaml>",
		Short: "validate a scene description",
		Args:  cobra.ExactArgs(1),
		Run:   sceneCheck,
	}

	Entries = &cobra.Command{
		Use: "entries",
	}

	EntriesList = &cobra.Command{
		Use:  "list",
		Args: cobra.ExactArgs(0),
		Run:  entriesList,
	}

	EntriesGet = &cobra.Command{
		Use:  "get <id>",
		Args: cobra.ExactArgs(1),
		Run:  entriesGet,
	}

	EntriesUpdate = &cobra.Command{
		Use:  "update <id> <json>",
		Args: cobra.ExactArgs(2),
		Run:  entriesUpdate,
	}

	EntriesDelete = &cobra.Command{
		Use:  "delete <id>",
		Args: cobra.ExactArgs(1),
		Run:  entriesDelete,
	}

	EntriesScene = &cobra.Command{
		Use:   "scene <id>",
		Short: "regenerate and validate the scene description of a saved entry",
		Args:  cobra.ExactArgs(1),
		Run:   entriesScene,
	}

	EntriesResult = &cobra.Command{
		Use:  "result <id>",
		Args: cobra.ExactArgs(1),
		Run:  entriesResult,
	}

	Job = &cobra.Command{
		Use: "job",
	}

	JobStatus = &cobra.Command{
		Use:  "status <id>",
		Args: cobra.ExactArgs(1),
		Run:  jobStatus,
	}

	JobGame = &cobra.Command{
		Use:  "game <id>",
		Args: cobra.ExactArgs(1),
		Run:  jobGame,
	}

	History = &cobra.Command{
		Use:   "history",
		Short: "list recent recordings stored in PostgreSQL",
		Args:  cobra.ExactArgs(0),
		Run:   historyList,
	}

	LoggerLevel = logger.LevelWarning

	metricsRegistry *prometheus.Registry
)

func init() {
	Root.AddCommand(Record)
	Root.AddCommand(Analyze)

	Root.AddCommand(Scene)
	Scene.AddCommand(SceneCheck)

	Root.AddCommand(Entries)
	Entries.AddCommand(EntriesList)
	Entries.AddCommand(EntriesGet)
	Entries.AddCommand(EntriesUpdate)
	Entries.AddCommand(EntriesDelete)
	Entries.AddCommand(EntriesScene)
	Entries.AddCommand(EntriesResult)

	Root.AddCommand(Job)
	Job.AddCommand(JobStatus)
	Job.AddCommand(JobGame)

	Root.AddCommand(History)

	Root.PersistentFlags().Var(&LoggerLevel, "log-level", "")
	Root.PersistentFlags().String("metrics-addr", "", "address to serve Prometheus metrics at, e.g. localhost:9090")
	Root.PersistentFlags().String("backend-url", "", "analysis backend base url (default $FRAMEREC_BACKEND_URL)")
	Root.PersistentFlags().Bool("json", false, "use JSON output format")
	Root.PersistentFlags().String("json-indent", " ", "indentation of JSON output")

	Record.Flags().String("url", "", "frame channel url (default $FRAMEREC_CHANNEL_URL)")
	Record.Flags().Duration("duration", 0, "stop after this long; 0 records until interrupted")
	Record.Flags().String("out", "", "output file or directory (default: the result filename in the current directory)")

	Analyze.Flags().Bool("scene", false, "also generate and validate the scene description")

	History.Flags().Int("limit", 20, "number of recordings to list")
}

func assertNoError(ctx context.Context, err error) {
	if err != nil {
		logger.Panic(ctx, err)
	}
}

func loadConfig(cmd *cobra.Command) config.Config {
	ctx := cmd.Context()
	cfg, err := config.Load()
	assertNoError(ctx, err)

	backendURL, err := cmd.Flags().GetString("backend-url")
	assertNoError(ctx, err)
	if backendURL != "" {
		cfg.Backend.BaseURL = backendURL
	}
	return cfg
}

func backendClient(cmd *cobra.Command) *backend.Client {
	cfg := loadConfig(cmd)
	client, err := backend.NewClient(backend.Config{BaseURL: cfg.Backend.BaseURL, PollInterval: cfg.Backend.PollInterval})
	assertNoError(cmd.Context(), err)
	return client
}

func isJSON(cmd *cobra.Command) bool {
	v, err := cmd.Flags().GetBool("json")
	assertNoError(cmd.Context(), err)
	return v
}

func record(cmd *cobra.Command, args []string) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	cfg := loadConfig(cmd)

	url, err := cmd.Flags().GetString("url")
	assertNoError(ctx, err)
	duration, err := cmd.Flags().GetDuration("duration")
	assertNoError(ctx, err)
	out, err := cmd.Flags().GetString("out")
	assertNoError(ctx, err)

	opts := bootstrap.Options{}
	if metricsRegistry != nil {
		opts.Metrics = metricsRegistry
	}
	sink := newProgressSink(cmd.ErrOrStderr())
	services, err := bootstrap.BuildWithConfig(ctx, cfg, sink, opts)
	assertNoError(ctx, err)
	defer func() {
		if err := services.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warnf(ctx, "close: %v", err)
		}
	}()

	// Interrupts stop the recording; the channel itself stays up until Disconnect.
	stopCtx := context.WithoutCancel(ctx)
	controller := services.Controller
	assertNoError(ctx, controller.Connect(stopCtx, url))
	assertNoError(ctx, controller.StartRecording(stopCtx))

	var timeout <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		timeout = timer.C
	}
	var result *domain.Result
	select {
	case <-ctx.Done():
		result, err = controller.StopRecording(stopCtx)
	case <-timeout:
		result, err = controller.StopRecording(stopCtx)
	case <-sink.Lost():
		if <-sink.Finished() == domain.SessionStateReady {
			result = controller.Result()
		} else {
			err = fmt.Errorf("recording failed after the channel was lost: %s", sink.LastError())
		}
	}
	assertNoError(ctx, err)
	if result == nil {
		assertNoError(ctx, fmt.Errorf("recording produced no result"))
	}

	obj, err := services.Store.Open(result.URL)
	assertNoError(ctx, err)
	path := outputPath(out, result.Filename)
	assertNoError(ctx, os.WriteFile(path, obj.Data, 0o644))
	_, _ = controller.Disconnect(stopCtx)

	stats := controller.Status().Stats
	if isJSON(cmd) {
		jsonOutput(cmd, map[string]any{
			"path":   path,
			"result": result,
			"stats":  stats,
		})
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %s recorded, %d frames)\n",
		path, humanize.IBytes(uint64(result.Size)), stats.ElapsedLabel(), stats.Frames)
}

func outputPath(out string, filename string) string {
	if out == "" {
		return filename
	}
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		return filepath.Join(out, filename)
	}
	return out
}

func analyze(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	client := backendClient(cmd)

	f, err := os.Open(args[0])
	assertNoError(ctx, err)
	defer f.Close()

	upload, err := client.UploadVideo(ctx, filepath.Base(args[0]), f)
	assertNoError(ctx, err)
	logger.Infof(ctx, "uploaded %s: task %s", args[0], upload.TaskID)

	_, err = client.WaitForTask(ctx, upload.TaskID)
	assertNoError(ctx, err)
	result, err := client.Result(ctx, upload.TaskID)
	assertNoError(ctx, err)

	withScene, err := cmd.Flags().GetBool("scene")
	assertNoError(ctx, err)
	report := map[string]any{"task": upload, "result": result}
	if withScene {
		generated, err := client.GenerateScene(ctx, upload.TaskID)
		assertNoError(ctx, err)
		report["scene"] = checkScene(ctx, []byte(generated.SceneSource))
	}

	if isJSON(cmd) {
		jsonOutput(cmd, report)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "task %s: %s\n", upload.TaskID, result.Description)
	if s, ok := report["scene"].(sceneReport); ok {
		printSceneReport(cmd, s)
	}
}

func sceneCheck(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	data, err := os.ReadFile(args[0])
	assertNoError(ctx, err)

	report := checkScene(ctx, data)
	if isJSON(cmd) {
		jsonOutput(cmd, report)
		return
	}
	printSceneReport(cmd, report)
}

func entriesList(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	entries, err := backendClient(cmd).ListEntries(ctx)
	assertNoError(ctx, err)

	if isJSON(cmd) {
		jsonOutput(cmd, entries)
		return
	}
	for _, e := range entries {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", e.ID, e.CreatedAt, truncate(e.Description, 60))
	}
}

func entriesGet(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	entry, err := backendClient(cmd).GetEntry(ctx, args[0])
	assertNoError(ctx, err)
	jsonOutput(cmd, entry)
}

func entriesUpdate(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	updates := jsonArg[map[string]any](cmd, args[1])

	entry, err := backendClient(cmd).UpdateEntry(ctx, args[0], updates)
	assertNoError(ctx, err)
	jsonOutput(cmd, entry)
}

func entriesDelete(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	assertNoError(ctx, backendClient(cmd).DeleteEntry(ctx, args[0]))
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
}

func entriesScene(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	generated, err := backendClient(cmd).GenerateSceneFromEntry(ctx, args[0])
	assertNoError(ctx, err)

	report := checkScene(ctx, []byte(generated.SceneSource))
	if isJSON(cmd) {
		jsonOutput(cmd, report)
		return
	}
	printSceneReport(cmd, report)
}

func entriesResult(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	result, err := backendClient(cmd).ResultFromEntry(ctx, args[0])
	assertNoError(ctx, err)
	jsonOutput(cmd, result)
}

func jobStatus(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	status, err := backendClient(cmd).JobStatus(ctx, args[0])
	assertNoError(ctx, err)

	if isJSON(cmd) {
		jsonOutput(cmd, status)
		return
	}
	line := fmt.Sprintf("%s: %s (%s, %d%%)", status.JobID, status.Status, status.Step, status.Percent)
	if status.Error != "" {
		line += ": " + status.Error
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}

func jobGame(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	game, err := backendClient(cmd).Game(ctx, args[0])
	assertNoError(ctx, err)
	jsonOutput(cmd, game)
}

func historyList(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	cfg := loadConfig(cmd)
	limit, err := cmd.Flags().GetInt("limit")
	assertNoError(ctx, err)

	repo, err := history.Open(ctx, cfg.History.PostgresDSN)
	assertNoError(ctx, err)
	defer repo.Close()

	recent, err := repo.Recent(ctx, limit)
	assertNoError(ctx, err)
	if isJSON(cmd) {
		jsonOutput(cmd, recent)
		return
	}
	for _, s := range recent {
		line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s", s.FinishedAt.Format(time.RFC3339), s.Status,
			humanize.IBytes(uint64(s.Size)), s.Duration.Round(time.Second), s.Filename)
		if s.Error != "" {
			line += "\t" + s.Error
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
