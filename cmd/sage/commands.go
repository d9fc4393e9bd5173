package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/quantive/sage/internal/answer"
	"github.com/quantive/sage/internal/ingest"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest content into the knowledge base",
	Long: `Ingest content into the knowledge base.

Examples:
  sage ingest --text "Retention compounds faster than acquisition"
  sage ingest --file ./playbook.pdf --wait
  sage ingest --url https://example.com/pricing-strategy
  sage ingest --video dQw4w9WgXcQ`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		pageURL, _ := cmd.Flags().GetString("url")
		video, _ := cmd.Flags().GetString("video")
		wait, _ := cmd.Flags().GetBool("wait")
		noEmbeddings, _ := cmd.Flags().GetBool("no-embeddings")
		robots, _ := cmd.Flags().GetBool("robots")

		req := map[string]any{
			"options": map[string]any{
				"generate_embeddings": !noEmbeddings,
				"respect_robots":      robots,
			},
		}
		switch {
		case text != "":
			req["source_type"] = "text"
			req["content"] = text
		case file != "":
			abs, err := filepath.Abs(file)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			req["source_type"] = "file"
			req["source"] = abs
		case pageURL != "":
			req["source_type"] = "url"
			req["source"] = pageURL
		case video != "":
			req["source_type"] = "video"
			req["source"] = video
		default:
			return fmt.Errorf("one of --text, --file, --url, or --video is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/ingest", req)
		if err != nil {
			return err
		}
		var job ingest.Job
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		printSuccess("Queued job %s (%s)", job.ID, job.SourceType)

		if !wait {
			return nil
		}
		failed, err := waitForJobs(cmd.Context(), client, []string{job.ID})
		if err != nil {
			return err
		}
		if len(failed) > 0 {
			printError("Job %s failed: %s", failed[0].ID, failed[0].Error)
			return fmt.Errorf("ingestion failed")
		}
		printSuccess("Done")
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "inline text to ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest (pdf, txt, md)")
	ingestCmd.Flags().String("url", "", "web page to fetch and ingest")
	ingestCmd.Flags().String("video", "", "video id to ingest via the transcript service")
	ingestCmd.Flags().Bool("wait", false, "wait for the job to finish")
	ingestCmd.Flags().Bool("no-embeddings", false, "skip embedding generation")
	ingestCmd.Flags().Bool("robots", false, "respect robots.txt for web fetches")
}

// --- batch ---

var batchCmd = &cobra.Command{
	Use:   "batch <manifest>",
	Short: "Ingest every source listed in a manifest file",
	Long: `Ingest every source listed in a manifest file, one source per line.

Lines starting with http:// or https:// are fetched as web pages, lines
starting with video: are resolved through the transcript service, and
everything else is treated as a local file path. Blank lines and lines
starting with # are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := readManifest(args[0])
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			return fmt.Errorf("manifest %s lists no sources", args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Submitting %d source(s)...", len(sources))
		ids := make([]string, 0, len(sources))
		for _, src := range sources {
			sourceType, source := classifySource(src)
			resp, err := client.post(cmd.Context(), "/ingest", map[string]any{
				"source_type": sourceType,
				"source":      source,
			})
			if err != nil {
				return err
			}
			var job ingest.Job
			if err := decodeJSON(resp, &job); err != nil {
				return err
			}
			ids = append(ids, job.ID)
		}

		failed, err := waitForJobs(cmd.Context(), client, ids)
		if err != nil {
			return err
		}
		for _, job := range failed {
			printError("%s (%s): %s", job.Source, job.ID, job.Error)
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d of %d sources failed", len(failed), len(ids))
		}
		printSuccess("Ingested %d source(s)", len(ids))
		return nil
	},
}

// readManifest returns the non-blank, non-comment lines of path.
func readManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer f.Close()

	var sources []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sources = append(sources, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return sources, nil
}

func classifySource(line string) (sourceType, source string) {
	switch {
	case strings.HasPrefix(line, "http://"), strings.HasPrefix(line, "https://"):
		return "url", line
	case strings.HasPrefix(line, "video:"):
		return "video", strings.TrimPrefix(line, "video:")
	default:
		if abs, err := filepath.Abs(line); err == nil {
			return "file", abs
		}
		return "file", line
	}
}

// waitForJobs polls until every job reaches a terminal state and returns
// the failed ones. The bar advances once per settled job.
func waitForJobs(ctx context.Context, client *apiClient, ids []string) ([]ingest.Job, error) {
	bar := progressbar.NewOptions(len(ids),
		progressbar.OptionSetDescription("processing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionShowCount(),
	)

	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}

	var failed []ingest.Job
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}

		for id := range pending {
			resp, err := client.get(ctx, "/jobs/"+id)
			if err != nil {
				return nil, err
			}
			var job ingest.Job
			if err := decodeJSON(resp, &job); err != nil {
				return nil, err
			}
			if !job.Terminal() {
				continue
			}
			delete(pending, id)
			bar.Add(1)
			if job.Status == ingest.JobFailed {
				failed = append(failed, job)
			}
		}
	}
	bar.Finish()
	return failed, nil
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question against the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")
		industry, _ := cmd.Flags().GetString("industry")
		stage, _ := cmd.Flags().GetString("stage")
		function, _ := cmd.Flags().GetString("function")
		sourceTypes, _ := cmd.Flags().GetStringSlice("source-type")
		frameworks, _ := cmd.Flags().GetStringSlice("framework")
		prose, _ := cmd.Flags().GetBool("prose")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/ask", map[string]any{
			"query":        question,
			"max_results":  limit,
			"source_types": sourceTypes,
			"frameworks":   frameworks,
			"render_prose": prose,
			"industry":     industry,
			"stage":        stage,
			"function":     function,
		})
		if err != nil {
			return err
		}

		var ans answer.Answer
		if err := decodeJSON(resp, &ans); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ans)
		}
		renderAnswer(os.Stdout, ans)
		return nil
	},
}

func init() {
	askCmd.Flags().Int("limit", 0, "maximum number of sources to consider")
	askCmd.Flags().String("industry", "", "industry context, overrides inference")
	askCmd.Flags().String("stage", "", "business stage context, overrides inference")
	askCmd.Flags().String("function", "", "business function context, overrides inference")
	askCmd.Flags().StringSlice("source-type", nil, "restrict to source types (text, file, url, video)")
	askCmd.Flags().StringSlice("framework", nil, "restrict to sources mentioning these frameworks")
	askCmd.Flags().Bool("prose", false, "render the answer as prose through the language model")
	askCmd.Flags().Bool("json", false, "print the full answer as JSON")
}

func renderAnswer(w io.Writer, ans answer.Answer) {
	fmt.Fprintf(w, "\n%s\n", colorize(labelColor, ans.Response.Summary))
	fmt.Fprintf(w, "  intent: %s", ans.Context.Intent)
	if ans.Context.Industry != "" {
		fmt.Fprintf(w, "  industry: %s", ans.Context.Industry)
	}
	fmt.Fprintln(w)

	if ans.Prose != "" {
		fmt.Fprintf(w, "\n%s\n", ans.Prose)
	} else if ans.Response.Explanation != "" {
		fmt.Fprintf(w, "\n%s\n", ans.Response.Explanation)
	}

	if len(ans.Response.Insights) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorize(labelColor, "Actions"))
		for i, insight := range ans.Response.Insights {
			fmt.Fprintf(w, "  %d. [%s] %s (%s)\n", i+1, insight.Priority, insight.Action, insight.Timeframe)
		}
	}

	if len(ans.Response.Evidence) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorize(labelColor, "Sources"))
		for _, ev := range ans.Response.Evidence {
			fmt.Fprintf(w, "  - %s\n", ev.Citation)
		}
	}

	if len(ans.Response.Conflicts) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorize(labelColor, "Conflicting guidance"))
		for _, c := range ans.Response.Conflicts {
			fmt.Fprintf(w, "  - %s (%s): %s\n", c.Topic, c.Resolution, c.Note)
		}
	}

	if len(ans.Response.Limitations) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorize(labelColor, "Limitations"))
		for _, l := range ans.Response.Limitations {
			fmt.Fprintf(w, "  - %s\n", l)
		}
	}

	fmt.Fprintf(w, "\nquality %.2f  confidence %.2f  (%d ms)\n",
		ans.Response.Quality.Overall,
		ans.Response.Confidence.SourceReliability,
		ans.Timings.TotalMs,
	)
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List ingestion jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/jobs")
		if err != nil {
			return err
		}
		var jobs []ingest.Job
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		for _, job := range jobs {
			source := job.Source
			if source == "" {
				source = "(inline)"
			}
			fmt.Printf("%s  %-10s  %5.1f%%  %-5s  %s\n",
				colorize(stepColor, job.ID[:8]),
				job.Status,
				job.Progress,
				job.SourceType,
				source,
			)
		}
		return nil
	},
}
