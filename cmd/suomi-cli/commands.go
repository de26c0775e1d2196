package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/book-expert/suomi-tutor/internal/audiocache"
	"github.com/book-expert/suomi-tutor/internal/core"
	"github.com/book-expert/suomi-tutor/internal/learner"
	"github.com/book-expert/suomi-tutor/internal/queue"
	"github.com/book-expert/suomi-tutor/internal/speech"
	"github.com/book-expert/suomi-tutor/internal/translate"
)

const audioFileMode = 0o644

func newTranslateCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "translate WORD",
		Short: "Translate a Finnish word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var lookup translate.Lookup

			err := state.client.call(cmd.Context(), http.MethodGet, "/v1/translations/"+pathSegment(args[0]), nil, &lookup)
			if err != nil {
				return err
			}

			printLookup(cmd.OutOrStdout(), &lookup)

			return nil
		},
	}
}

func printLookup(out io.Writer, lookup *translate.Lookup) {
	if lookup.Translation == nil {
		fmt.Fprintln(out, lookup.Fallback)

		if lookup.Notice != nil {
			fmt.Fprintln(out, lookup.Notice.Message)
		}

		return
	}

	tr := lookup.Translation
	fmt.Fprintf(out, "%s: %s", tr.Word, tr.Translation)

	if tr.PartOfSpeech != "" {
		fmt.Fprintf(out, " (%s, %s)", tr.PartOfSpeech, tr.Difficulty)
	}

	fmt.Fprintf(out, " [%s]\n", lookup.Source)

	for _, example := range tr.Examples {
		fmt.Fprintf(out, "  - %s\n", example)
	}
}

func newAnalyzeCmd(state *cliState) *cobra.Command {
	var base string

	cmd := &cobra.Command{
		Use:   "analyze WORD",
		Short: "Explain the grammar of a Finnish word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/analysis/" + pathSegment(args[0])
			if base != "" {
				path += "?" + url.Values{"base": []string{base}}.Encode()
			}

			var lookup translate.AnalysisLookup

			err := state.client.call(cmd.Context(), http.MethodGet, path, nil, &lookup)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if lookup.Analysis == nil {
				if lookup.Notice != nil {
					fmt.Fprintln(out, lookup.Notice.Message)
				}

				return nil
			}

			analysis := lookup.Analysis
			fmt.Fprintf(out, "%s: %s, %s\n", lookup.Word, analysis.PartOfSpeech, analysis.Difficulty)

			if analysis.Case != nil {
				fmt.Fprintf(out, "  case: %s\n", *analysis.Case)
			}

			if analysis.UsageNotes != "" {
				fmt.Fprintf(out, "  %s\n", analysis.UsageNotes)
			}

			for _, example := range analysis.Examples {
				fmt.Fprintf(out, "  - %s (%s)\n", example.Finnish, example.English)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&base, "base", "", "translation already shown to the learner")

	return cmd
}

func newSpeakCmd(state *cliState) *cobra.Command {
	var (
		voice      string
		modeName   string
		output     string
		threshold  int
		binary     string
		language   string
		player     string
		playerArgs []string
	)

	cmd := &cobra.Command{
		Use:   "speak TEXT...",
		Short: "Speak Finnish text aloud, or save the enhanced voice to a WAV file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")

			mode, err := speech.ParseMode(modeName)
			if err != nil {
				return err
			}

			remote := &remoteSynthesizer{client: state.client}

			if output != "" {
				return saveSpeech(cmd, remote, content, voice, mode, output)
			}

			service := speech.New(
				remote,
				nil,
				nil,
				speech.NewESpeakSpeaker(binary),
				speech.NewCommandPlayer(player, playerArgs...),
				speech.Options{
					DefaultVoice:     voice,
					SynthesisTimeout: clientTimeout,
					Policy:           speech.VoicePolicy{EnhancedWordThreshold: threshold},
				},
				state.log,
			)

			outcome, err := service.Speak(cmd.Context(), speech.Request{
				Text:  content,
				Voice: voice,
				Mode:  mode,
				Local: core.SpeakOptions{Language: language, Rate: speech.DefaultRate, Pitch: speech.DefaultPitch},
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outcome.FallbackReason != "" {
				fmt.Fprintf(out, "Enhanced voice unavailable: %s\n", outcome.FallbackReason)
			}

			fmt.Fprintf(out, "Spoke with the %s voice.\n", outcome.Source)

			return nil
		},
	}

	cmd.Flags().StringVar(&voice, "voice", speech.DefaultVoice, "enhanced voice name")
	cmd.Flags().StringVar(&modeName, "mode", string(speech.ModeAuto), "auto, enhanced or standard")
	cmd.Flags().StringVarP(&output, "output", "o", "", "save the enhanced voice to this .wav file instead of playing it")
	cmd.Flags().IntVar(&threshold, "threshold", speech.DefaultEnhancedWordThreshold,
		"word count above which auto mode uses the enhanced voice")
	cmd.Flags().StringVar(&binary, "local-binary", speech.DefaultLocalBinary, "local speech synthesizer")
	cmd.Flags().StringVar(&language, "language", speech.DefaultLanguage, "language of the local voice")
	cmd.Flags().StringVar(&player, "player", speech.DefaultPlayerBinary, "WAV player for the enhanced voice")
	cmd.Flags().StringSliceVar(&playerArgs, "player-args", []string{"-q", "-"}, "arguments for the WAV player")

	return cmd
}

// saveSpeech writes the enhanced voice to a file. The server's voice policy
// applies in auto mode.
func saveSpeech(cmd *cobra.Command, remote *remoteSynthesizer, content, voice string, mode speech.Mode, output string) error {
	out := cmd.OutOrStdout()

	resp, err := remote.requestSpeech(cmd.Context(), content, voice, mode)
	if err != nil {
		return err
	}

	switch resp.status {
	case http.StatusOK:
		writeErr := os.WriteFile(output, resp.body, audioFileMode)
		if writeErr != nil {
			return fmt.Errorf("failed to write %s: %w", output, writeErr)
		}

		fmt.Fprintf(out, "Saved %s of audio from %s to %s\n",
			humanize.Bytes(uint64(len(resp.body))), resp.header.Get(audioSourceHeader), output)

		return nil
	case http.StatusNoContent:
		fmt.Fprintln(out, "Use the local voice for this text (omit --output to speak it now).")

		return nil
	default:
		return resp.failure()
	}
}

func newUsageCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show the daily API quota",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var usage queue.Usage

			err := state.client.call(cmd.Context(), http.MethodGet, "/v1/usage", nil, &usage)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d requests used today, %d remaining, %d pending; resets %s\n",
				usage.DailyUsed, usage.DailyLimit, usage.Remaining, usage.Pending, humanize.Time(usage.ResetAt))

			return nil
		},
	}
}

func newCacheCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the audio cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show audio cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var stats audiocache.Stats

			err := state.client.call(cmd.Context(), http.MethodGet, "/v1/cache/stats", nil, &stats)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s entries, %s of audio (%s stored)\n",
				humanize.Comma(int64(stats.Count)),
				humanize.Bytes(uint64(max(stats.TotalBytes, 0))),
				humanize.Bytes(uint64(max(stats.StoredBytes, 0))))

			return nil
		},
	}, &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached audio entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := state.client.call(cmd.Context(), http.MethodDelete, "/v1/cache", nil, nil)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Audio cache cleared.")

			return nil
		},
	})

	return cmd
}

func newFavoritesCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favorites",
		Aliases: []string{"fav"},
		Short:   "Manage favorite words",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var favorites []learner.FavoriteWord

			err := state.client.call(cmd.Context(), http.MethodGet, "/v1/favorites", nil, &favorites)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(favorites) == 0 {
				fmt.Fprintln(out, "No favorite words yet.")

				return nil
			}

			for _, favorite := range favorites {
				fmt.Fprintf(out, "%s: %s (added %s)\n", favorite.Word, favorite.Translation, humanize.Time(favorite.AddedAt))
			}

			return nil
		},
	}

	var chapter string

	add := &cobra.Command{
		Use:   "add WORD TRANSLATION",
		Short: "Save a favorite word",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var favorite learner.FavoriteWord

			err := state.client.call(cmd.Context(), http.MethodPost, "/v1/favorites", map[string]string{
				"word":          args[0],
				"translation":   args[1],
				"sourceChapter": chapter,
			}, &favorite)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s.\n", favorite.Word)

			return nil
		},
	}
	add.Flags().StringVar(&chapter, "chapter", "", "chapter the word comes from")

	cmd.AddCommand(add, &cobra.Command{
		Use:   "remove WORD",
		Short: "Remove a favorite word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := state.client.call(cmd.Context(), http.MethodDelete, "/v1/favorites/"+pathSegment(args[0]), nil, nil)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s.\n", args[0])

			return nil
		},
	})

	return cmd
}

func newProgressCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show lesson progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var summary learner.Summary

			err := state.client.call(cmd.Context(), http.MethodGet, "/v1/progress/summary", nil, &summary)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d%% complete: %d completed, %d in progress of %d lessons\n",
				summary.Percent, summary.Completed, summary.InProgress, summary.Lessons)

			return nil
		},
	}

	var completed, total int

	record := &cobra.Command{
		Use:   "record CHAPTER LESSON SECTION",
		Short: "Record progress on a lesson section (theory, reading or exercises)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var progress learner.LessonProgress

			path := "/v1/progress/" + pathSegment(args[0]) + "/" + pathSegment(args[1])

			err := state.client.call(cmd.Context(), http.MethodPost, path, map[string]any{
				"section":   args[2],
				"completed": completed,
				"total":     total,
			}, &progress)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s: %s\n", progress.ChapterID, progress.LessonID, progress.Status())

			return nil
		},
	}
	record.Flags().IntVar(&completed, "completed", 0, "exercises completed")
	record.Flags().IntVar(&total, "total", 0, "exercises in the lesson")

	cmd.AddCommand(record)

	return cmd
}
