package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/transcript-chat/internal/app"
	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/embedding"
	"github.com/tbourn/transcript-chat/internal/repo"
	"github.com/tbourn/transcript-chat/internal/services"
	"github.com/tbourn/transcript-chat/internal/transcript"
)

type ingestOpts struct {
	user        string
	channel     string
	name        string
	apiKey      string
	includes    []string
	excludes    []string
	reingest    bool
	parallelism int
	noProgress  bool
}

// ingestResult is the per-file outcome.
type ingestResult struct {
	path    string
	videoID string
	chunks  int
	skipped bool
	err     error
}

func newIngestCmd(e *env) *cobra.Command {
	o := &ingestOpts{}
	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Ingest transcript files of one channel",
		Long: `Ingest every transcript file under <dir> into a channel. SRT and WebVTT
files are named after the video id (abc123.srt); YAML and JSON manifests
carry the video metadata and segments.

The channel is created on first use. Videos already indexed are skipped
unless --reingest is given.

Examples:
  ytchat ingest ./transcripts --user me --channel UC123
  ytchat ingest ./t --user me --channel UC123 --include "2024/**/*.srt" --reingest`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), e, o, args[0], cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.user, "user", "", "owner user id (required)")
	f.StringVar(&o.channel, "channel", "", "channel source id, e.g. the YouTube channel id (required)")
	f.StringVar(&o.name, "name", "", "channel display name when creating it (default: --channel)")
	f.StringVar(&o.apiKey, "api-key", os.Getenv("OPENAI_API_KEY"), "provider API key (default $OPENAI_API_KEY, then the stored key)")
	f.StringSliceVar(&o.includes, "include", nil, "doublestar include pattern (repeatable)")
	f.StringSliceVar(&o.excludes, "exclude", nil, "doublestar exclude pattern (repeatable)")
	f.BoolVar(&o.reingest, "reingest", false, "replace the chunks of already indexed videos")
	f.IntVarP(&o.parallelism, "parallel", "p", 2, "videos ingested at once")
	f.BoolVar(&o.noProgress, "no-progress", false, "disable the progress bar")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func runIngest(ctx context.Context, e *env, o *ingestOpts, dir string, out io.Writer) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", dir)
	}
	files, err := transcript.NewFinder(o.includes, o.excludes).Find(dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		fmt.Fprintf(out, "No transcript files under %s\n", dir)
		return nil
	}

	a, err := e.open(ctx, out)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	ch, err := ensureChannel(ctx, a, o.user, o.channel, o.name)
	if err != nil {
		return err
	}
	p, err := principalFor(ctx, a, o.user)
	if err != nil {
		return err
	}
	cred, err := credentialFor(ctx, a, o.user, o.apiKey)
	if err != nil {
		return err
	}
	existing, err := videosBySource(ctx, a, p, ch.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Ingesting %d files into channel %s (%s)\n", len(files), ch.Name, ch.ID)
	bar := newBar(len(files), "Ingesting", o.noProgress, out)

	var (
		mu      sync.Mutex
		results = make([]ingestResult, 0, len(files))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(o.parallelism, 1))
	for _, path := range files {
		g.Go(func() error {
			res := ingestFile(gctx, a, p, cred, ch.ID, path, existing, o.reingest)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			_ = bar.Add(1)
			// a canceled run stops the rest; per-file failures do not
			if errors.Is(res.err, context.Canceled) {
				return res.err
			}
			return nil
		})
	}
	waitErr := g.Wait()
	_ = bar.Finish()

	return report(out, dir, results, waitErr)
}

func ingestFile(ctx context.Context, a *app.App, p services.Principal, cred embedding.Credential, channelID, path string, existing map[string]domain.Video, reingest bool) ingestResult {
	res := ingestResult{path: path}
	f, err := transcript.Load(path)
	if err != nil {
		res.err = err
		return res
	}

	v, known := existing[f.Video.SourceID]
	if !known {
		nv, err := a.Videos.Add(ctx, p, channelID, services.NewVideoInput{
			SourceID:        f.Video.SourceID,
			Title:           f.Video.Title,
			UploadedAt:      f.Video.UploadedAt,
			DurationSeconds: durationOf(f),
		})
		if err != nil {
			res.err = err
			return res
		}
		v = *nv
	}
	res.videoID = v.ID

	run := a.Ingestor.Ingest
	switch {
	case v.IngestState == domain.StateIndexed && !reingest:
		res.skipped = true
		return res
	case v.IngestState == domain.StateIndexed:
		run = a.Ingestor.Reingest
	}
	rep, err := run(ctx, p, cred, v.ID, f.Segments)
	if err != nil {
		res.err = err
		return res
	}
	res.chunks = rep.Chunks
	return res
}

// durationOf prefers the manifest duration, else the last segment end.
func durationOf(f *transcript.File) float64 {
	if f.Video.DurationSeconds > 0 {
		return f.Video.DurationSeconds
	}
	var end float64
	for _, s := range f.Segments {
		end = max(end, s.End)
	}
	return end
}

func report(out io.Writer, root string, results []ingestResult, waitErr error) error {
	var indexed, skipped, chunks int
	var failed []ingestResult
	for _, r := range results {
		switch {
		case r.err != nil:
			failed = append(failed, r)
		case r.skipped:
			skipped++
		default:
			indexed++
			chunks += r.chunks
		}
	}

	fmt.Fprintf(out, "\nIngestion complete:\n")
	fmt.Fprintf(out, "  Videos indexed: %d\n", indexed)
	fmt.Fprintf(out, "  Videos skipped: %d (already indexed)\n", skipped)
	fmt.Fprintf(out, "  Chunks created: %d\n", chunks)
	if len(failed) > 0 {
		fmt.Fprintf(out, "\nFailures:\n")
		for _, r := range failed {
			rel, err := filepath.Rel(root, r.path)
			if err != nil {
				rel = r.path
			}
			fmt.Fprintf(out, "  - %s: %v\n", rel, r.err)
		}
	}
	if waitErr != nil {
		return waitErr
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d files failed", len(failed), len(results))
	}
	return nil
}

func ensureChannel(ctx context.Context, a *app.App, userID, sourceID, name string) (*domain.Channel, error) {
	chs, err := a.Channels.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range chs {
		if chs[i].SourceID == sourceID {
			return &chs[i], nil
		}
	}
	if strings.TrimSpace(name) == "" {
		name = sourceID
	}
	return a.Channels.Register(ctx, userID, name, sourceID)
}

// findChannel resolves ref as a channel id or source id of userID.
func findChannel(ctx context.Context, a *app.App, userID, ref string) (*domain.Channel, error) {
	chs, err := a.Channels.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range chs {
		if chs[i].ID == ref || chs[i].SourceID == ref {
			return &chs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", services.ErrChannelNotFound, ref)
}

func principalFor(ctx context.Context, a *app.App, userID string) (services.Principal, error) {
	ids, err := repo.OwnedChannelIDs(ctx, a.DB, userID)
	if err != nil {
		return services.Principal{}, err
	}
	return services.NewPrincipal(userID, ids), nil
}

// credentialFor prefers an explicit key over the stored one.
func credentialFor(ctx context.Context, a *app.App, userID, apiKey string) (embedding.Credential, error) {
	if k := strings.TrimSpace(apiKey); k != "" {
		return embedding.Credential{UserID: userID, APIKey: k}, nil
	}
	return a.Credentials.Resolve(ctx, userID)
}

func videosBySource(ctx context.Context, a *app.App, p services.Principal, channelID string) (map[string]domain.Video, error) {
	vs, err := a.Videos.List(ctx, p, channelID)
	if err != nil {
		return nil, err
	}
	m := make(map[string]domain.Video, len(vs))
	for _, v := range vs {
		m[v.SourceID] = v
	}
	return m, nil
}

func newBar(total int, what string, silent bool, out io.Writer) *progressbar.ProgressBar {
	if silent {
		return progressbar.DefaultSilent(int64(total))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetDescription("[cyan]"+what+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(out) }),
	)
}
