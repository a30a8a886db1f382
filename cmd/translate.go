/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meriley/lingua-nexus-sub001/internal"
)

var (
	inputFile    string
	outputFile   string
	sourceLang   string
	targetLang   string
	backendName  string
	preference   string
	maxLatencyMS int64
	maxOptimMS   int64
	noOptim      bool
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a text file through the adaptive engine",
	Long: `Translate a file using the same adaptive core the HTTP gateway
runs: semantic chunking, parallel backend calls, quality assessment and
— unless disabled — chunk-size optimisation.

The backend comes from --backend or DEFAULT_BACKEND and must be one of
LOADED_BACKENDS, which are loaded before translating. Results land in the shared translation cache, so repeated runs
over the same file are instant.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputFile == outputFile {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		raw, err := os.ReadFile(inputFile)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}

		c, err := buildCore()
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		loadConfiguredBackends(ctx, c)

		req := internal.TranslationRequest{
			Text:        string(raw),
			SourceLang:  sourceLang,
			TargetLang:  targetLang,
			BackendHint: backendName,
			Preference:  internal.Preference(preference),
			Budgets: internal.Budgets{
				MaxLatencyMS:      maxLatencyMS,
				MaxOptimizationMS: maxOptimMS,
				AllowOptimization: !noOptim,
			},
		}

		res, err := c.Controller.Translate(ctx, req)
		if err != nil {
			return fmt.Errorf("translation failed: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.WriteFile(outputFile, []byte(res.Text), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}

		fmt.Fprintf(os.Stderr, "Translated %s → %s (path=%s, grade=%s, chunks=%d, %dms",
			res.DetectedSource, targetLang, res.Path, res.Quality.Grade, res.ChunksUsed, res.ProcessingMS)
		if res.CacheHit {
			fmt.Fprintf(os.Stderr, ", cached")
		}
		fmt.Fprintln(os.Stderr, ")")
		if len(res.Warnings) > 0 {
			fmt.Fprintf(os.Stderr, "Warning: chunks %v failed and were left untranslated\n", res.Warnings)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input file to translate (required)")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file for translation (required)")
	translateCmd.Flags().StringVarP(&sourceLang, "source", "s", "auto", "Source language code")
	translateCmd.Flags().StringVarP(&targetLang, "target", "t", "", "Target language code (required)")
	translateCmd.Flags().StringVarP(&backendName, "backend", "b", "", "Backend to use (default from DEFAULT_BACKEND)")
	translateCmd.Flags().StringVarP(&preference, "preference", "p", "balanced", "Speed/quality preference: fast, balanced, quality")
	translateCmd.Flags().Int64Var(&maxLatencyMS, "max-latency-ms", 120000, "Overall request deadline in milliseconds")
	translateCmd.Flags().Int64Var(&maxOptimMS, "max-optimisation-ms", 30000, "Optimisation budget in milliseconds")
	translateCmd.Flags().BoolVar(&noOptim, "no-optimise", false, "Disable chunk-size optimisation")

	translateCmd.MarkFlagRequired("input")
	translateCmd.MarkFlagRequired("output")
	translateCmd.MarkFlagRequired("target")
}
