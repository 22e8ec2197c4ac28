package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"loclab.gg/stringsmith/internal/confidence"
)

func runScore(args []string) int {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	sourceText := fs.String("source-text", "", "Original string")
	targetText := fs.String("target-text", "", "Translated string")
	source := fs.String("source", "", "Source language (optional, sharpens length expectations)")
	target := fs.String("target", "", "Target language (optional)")
	characterLimit := fs.Int("character-limit", 0, "Display budget for the translation (0 = unlimited)")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "score does not accept positional arguments")
		return 2
	}
	if strings.TrimSpace(*sourceText) == "" {
		fmt.Fprintln(os.Stderr, "--source-text is required")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	scorer := confidence.New()
	result := scorer.Calculate(*sourceText, *targetText, &confidence.Context{
		SourceLanguage: strings.TrimSpace(*source),
		TargetLanguage: strings.TrimSpace(*target),
		CharacterLimit: *characterLimit,
	})

	if outputFormat == outputFormatJSON {
		if err := printJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := [][]string{
		{"score", fmt.Sprintf("%d", result.Score)},
		{"level", string(result.Level)},
		{"length_ratio", fmt.Sprintf("%d", result.Metrics.LengthRatio)},
		{"placeholder_match", fmt.Sprintf("%d", result.Metrics.PlaceholderMatch)},
		{"number_match", fmt.Sprintf("%d", result.Metrics.NumberMatch)},
		{"punctuation_match", fmt.Sprintf("%d", result.Metrics.PunctuationMatch)},
		{"capitalization_match", fmt.Sprintf("%d", result.Metrics.CapitalizationMatch)},
		{"consistency_score", fmt.Sprintf("%d", result.Metrics.ConsistencyScore)},
		{"format_preservation", fmt.Sprintf("%d", result.Metrics.FormatPreservation)},
		{"emotion_match", fmt.Sprintf("%d", result.Metrics.EmotionMatch)},
	}
	if err := writeTable([]string{"metric", "value"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render score table: %v\n", err)
		return 1
	}

	if len(result.Issues) > 0 {
		fmt.Println()
		issueRows := make([][]string, 0, len(result.Issues))
		for _, issue := range result.Issues {
			issueRows = append(issueRows, []string{issue.Code, issue.Message})
		}
		if err := writeTable([]string{"issue", "detail"}, issueRows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render issue table: %v\n", err)
			return 1
		}
	}
	return 0
}
