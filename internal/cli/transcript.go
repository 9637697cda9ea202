package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rajeee/chatdf/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	transcriptFormat       string
	transcriptConversation string
	transcriptOutput       string
)

var transcriptCmd = &cobra.Command{
	Use:   "transcript <message>",
	Short: "Ask a question and dump the finalized messages",
	Long: `Ask a question, wait for the answer and write the conversation's
messages (your question and the finalized answer, including SQL
executions, reasoning and tool-call trace) as YAML or JSON.

Examples:
  chatdf transcript "How many rows are in sales?"
  chatdf transcript "Top regions" --format json -o answer.json`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscript,
}

func init() {
	transcriptCmd.Flags().StringVarP(&transcriptFormat, "format", "f", "yaml", "output format (yaml or json)")
	transcriptCmd.Flags().StringVarP(&transcriptConversation, "conversation", "c", "", "reuse an existing conversation")
	transcriptCmd.Flags().StringVarP(&transcriptOutput, "output", "o", "", "write output to file")
}

func runTranscript(cmd *cobra.Command, args []string) error {
	if transcriptFormat != "yaml" && transcriptFormat != "json" {
		return fmt.Errorf("unknown format %q (want yaml or json)", transcriptFormat)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	if _, err := chat(ctx, rt, chatOptions{conversationID: transcriptConversation}, args[0], io.Discard); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if transcriptOutput != "" {
		f, err := os.Create(transcriptOutput)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	return writeTranscript(out, transcriptFormat, rt.state().Store().Messages())
}

// writeTranscript encodes msgs in format ("yaml" or "json").
func writeTranscript(w io.Writer, format string, msgs []models.Message) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(msgs); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(msgs); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return nil
}
