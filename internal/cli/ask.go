package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tbourn/transcript-chat/internal/embedding"
	"github.com/tbourn/transcript-chat/internal/services"
)

// fixedCredential resolves every user to the key given on the command line.
type fixedCredential struct{ key string }

func (f fixedCredential) Resolve(_ context.Context, userID string) (embedding.Credential, error) {
	return embedding.Credential{UserID: userID, APIKey: strings.TrimSpace(f.key)}, nil
}

type askOpts struct {
	user    string
	channel string
	apiKey  string
	topK    int
	verbose bool
}

func newAskCmd(e *env) *cobra.Command {
	o := &askOpts{}
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from a channel's transcripts",
		Long: `Answer a question using only the indexed transcripts of one channel.
The answer cites the video and timestamp it was grounded on; --verbose also
prints every retrieved chunk with its score.

Examples:
  ytchat ask --user me --channel UC123 "what flour do you use?"
  ytchat ask --user me --channel UC123 -k 8 -v "oven temperature"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), e, o, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.user, "user", "", "user id owning the channel (required)")
	f.StringVar(&o.channel, "channel", "", "channel id or source id (required)")
	f.StringVar(&o.apiKey, "api-key", os.Getenv("OPENAI_API_KEY"), "provider API key (default $OPENAI_API_KEY, then the stored key)")
	f.IntVarP(&o.topK, "top-k", "k", 0, "chunks to retrieve (default TOP_K)")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "print retrieved chunks")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func runAsk(ctx context.Context, e *env, o *askOpts, question string, out io.Writer) error {
	a, err := e.open(ctx, io.Discard)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	ch, err := findChannel(ctx, a, o.user, o.channel)
	if err != nil {
		return err
	}
	p, err := principalFor(ctx, a, o.user)
	if err != nil {
		return err
	}

	answers := *a.Answers
	if o.topK > 0 {
		answers.TopK = o.topK
	}
	if strings.TrimSpace(o.apiKey) != "" {
		answers.Credentials = fixedCredential{key: o.apiKey}
	}

	res, err := answers.Answer(ctx, p, ch.ID, question)
	if err != nil {
		return err
	}
	printAnswer(out, res, o.verbose)
	return nil
}

func printAnswer(out io.Writer, res *services.AnswerResult, verbose bool) {
	fmt.Fprintln(out, res.Text)
	if c := res.Citation; c != nil {
		fmt.Fprintf(out, "\nSource: %s at %s\n  %s\n", c.Title, c.Timestamp, c.URL)
	}
	if !verbose || len(res.Chunks) == 0 {
		return
	}
	fmt.Fprintf(out, "\nRetrieved %d chunks:\n", len(res.Chunks))
	fmt.Fprintln(out, strings.Repeat("-", 70))
	for i, g := range res.Chunks {
		preview := strings.ReplaceAll(g.Text, "\n", " ")
		if r := []rune(preview); len(r) > 150 {
			preview = string(r[:150]) + "..."
		}
		fmt.Fprintf(out, "%d. [%.3f] %s %.0fs-%.0fs\n   %s\n", i+1, g.Score, g.VideoTitle, g.StartSeconds, g.EndSeconds, preview)
	}
}
