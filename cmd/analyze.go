// SPDX-License-Identifier: MIT
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"reactor/internal/analysis"
	"reactor/internal/audio"
	"reactor/internal/log"
	"reactor/internal/profile"
)

func newTempoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tempo <file>",
		Short: "Estimate the tempo and first beat of an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pcm, sr, err := audio.DecodeFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			guess, err := analysis.GuessBeat(cmd.Context(), pcm, sr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %.1f BPM, first beat at %v\n",
				profile.Title(args[0]), guess.BPM, guess.Offset)
			return nil
		},
	}
}

func newProfileCommand(opts *options) *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile <file>...",
		Short: "Generate per-track analyzer profiles",
		Long: "Profile decodes each file, measures its energy distribution and tempo, and writes\n" +
			"<profiles_dir>/<track-id>.json. Existing profiles are kept unless --force is set.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, live, err := loadConfig(opts)
			if err != nil {
				return err
			}
			loader := profile.NewLoader(app.Analysis.ProfilesDir)
			out := cmd.OutOrStdout()

			var errs []error
			for _, path := range args {
				id := profile.TrackID(path)
				if !opts.force {
					if _, err := os.Stat(loader.Path(id)); !errors.Is(err, fs.ErrNotExist) {
						fmt.Fprintf(out, "%s: exists, skipped\n", loader.Path(id))
						continue
					}
				}

				pcm, sr, err := audio.DecodeFile(cmd.Context(), path)
				if err != nil {
					log.Errorf("Profile: %s: %v", path, err)
					errs = append(errs, err)
					continue
				}
				p, err := profile.Generate(cmd.Context(), pcm, sr, app.Audio.FFTSize, live.Analyzer())
				if err != nil {
					log.Errorf("Profile: %s: %v", path, err)
					errs = append(errs, err)
					continue
				}
				p.ID = id
				p.Title = profile.Title(path)
				if err := loader.Save(p); err != nil {
					errs = append(errs, err)
					continue
				}

				fmt.Fprintf(out, "%s: threshold %.3f, sensitivity %.2f", loader.Path(id),
					*p.Analyzer.EnergyThreshold, *p.Analyzer.BeatSensitivity)
				if p.Stats.BPM > 0 {
					fmt.Fprintf(out, ", %.1f BPM", p.Stats.BPM)
				}
				fmt.Fprintln(out)
			}
			return errors.Join(errs...)
		},
	}
	profileCmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite existing profiles")
	return profileCmd
}
