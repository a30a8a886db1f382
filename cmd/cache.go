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

	"github.com/spf13/cobra"

	"github.com/meriley/lingua-nexus-sub001/internal/kv"
)

var cacheDBPath string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the persistent translation cache",
	Long:  `Inspect and clear the L2 translation cache backing the gateway.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := kv.NewSqlite(cacheDBPath)
		if err != nil {
			return fmt.Errorf("failed to open cache store: %w", err)
		}
		defer store.Close()

		stats, err := store.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		fmt.Printf("Total entries:   %d\n", stats.Entries)
		fmt.Printf("Expired entries: %d\n", stats.Expired)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cached translations",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := kv.NewSqlite(cacheDBPath)
		if err != nil {
			return fmt.Errorf("failed to open cache store: %w", err)
		}
		defer store.Close()

		n, err := store.Clear(context.Background())
		if err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Printf("Cleared %d entries from the cache.\n", n)
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge <backend>",
	Short: "Remove cached translations for one backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := kv.NewSqlite(cacheDBPath)
		if err != nil {
			return fmt.Errorf("failed to open cache store: %w", err)
		}
		defer store.Close()

		n, err := store.DeletePrefix(context.Background(), fmt.Sprintf("v1:%s:", args[0]))
		if err != nil {
			return fmt.Errorf("failed to purge cache: %w", err)
		}
		fmt.Printf("Purged %d entries for backend %s.\n", n, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheCmd.PersistentFlags().StringVar(&cacheDBPath, "db", "./data/lingua-nexus.db", "Database path")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}
