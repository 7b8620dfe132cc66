package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/postsecret-pipeline/internal/platform/qdrant"
)

var (
	classifyBack  string
	classifyForce bool
	similarLimit  int
	similarMin    float64
	similarFilter string
)

var classifyCmd = &cobra.Command{
	Use:   "classify <subject-id>",
	Short: "Run classification, embedding and mirroring for one subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid subject id: %w", err)
		}
		var back *uuid.UUID
		if classifyBack != "" {
			b, err := uuid.Parse(classifyBack)
			if err != nil {
				return fmt.Errorf("invalid back id: %w", err)
			}
			back = &b
		}
		res := application.Services.Orchestrator.Process(cmd.Context(), id, back, classifyForce)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("classification failed: %s", res.Error)
		}
		if res.Degraded() {
			warnf("embedding failed: %s", res.EmbeddingError)
		}
		return nil
	},
}

var pairCmd = &cobra.Command{
	Use:   "pair <front-id> <back-id>",
	Short: "Link a front and a back subject",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		front, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid front id: %w", err)
		}
		back, err := uuid.Parse(args[1])
		if err != nil {
			return fmt.Errorf("invalid back id: %w", err)
		}
		if err := application.Services.Orchestrator.PairSubjects(cmd.Context(), front, back); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "paired %s (front) with %s (back)\n", front, back)
		return nil
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar <subject-id>",
	Short: "List subjects most similar to one subject",
	Long: `List subjects most similar to one subject, best first.

Examples:
  secretctl similar 6f1c...                                     # top 10
  secretctl similar 6f1c... --limit 5 --min-score 0.8
  secretctl similar 6f1c... --filter '{"style":"handwritten","topics":{"$in":["love"]}}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid subject id: %w", err)
		}
		filter, err := parseFilter(similarFilter)
		if err != nil {
			return err
		}
		matches, err := application.Services.Similarity.FindSimilar(cmd.Context(), id, similarLimit, similarMin, filter)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(matches) == 0 {
			fmt.Fprintln(out, "No similar subjects")
			return nil
		}
		fmt.Fprintf(out, "%-38s %s\n", "SUBJECT", "SCORE")
		for _, m := range matches {
			fmt.Fprintf(out, "%-38s %.4f\n", m.SubjectID, m.Score)
		}
		return nil
	},
}

func parseFilter(raw string) (qdrant.Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var f qdrant.Filter
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("invalid --filter JSON: %w", err)
	}
	return f, nil
}

func init() {
	classifyCmd.Flags().StringVar(&classifyBack, "back", "", "back subject id to pair and classify together")
	classifyCmd.Flags().BoolVar(&classifyForce, "force", false, "re-run the vision model even when a payload is stored")
	similarCmd.Flags().IntVar(&similarLimit, "limit", 10, "max matches")
	similarCmd.Flags().Float64Var(&similarMin, "min-score", 0, "minimum cosine similarity")
	similarCmd.Flags().StringVar(&similarFilter, "filter", "", "metadata filter as JSON")

	rootCmd.AddCommand(classifyCmd, pairCmd, similarCmd)
}
