package cli

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sejmbot/detektor/internal/cache"
	"github.com/sejmbot/detektor/internal/model"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the evaluation cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show evaluation cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.Load(cmd.Context())
		if err != nil {
			return err
		}

		s := summarizeCache(entries)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Backend:   %s\n", cfg.Cache.Backend)
		fmt.Fprintf(out, "Path:      %s\n", cfg.Cache.Path)
		fmt.Fprintf(out, "Entries:   %d\n", s.entries)
		fmt.Fprintf(out, "Funny:     %d\n", s.funny)
		for _, name := range slices.Sorted(maps.Keys(s.byProvider)) {
			fmt.Fprintf(out, "  %-10s %d\n", name, s.byProvider[name])
		}
		if s.entries > 0 {
			fmt.Fprintf(out, "Oldest:    %s\n", s.oldest.Format(time.RFC3339))
			fmt.Fprintf(out, "Newest:    %s\n", s.newest.Format(time.RFC3339))
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached evaluation",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s cache at %s\n", cfg.Cache.Backend, cfg.Cache.Path)
		return nil
	},
}

func openStore() (cache.Store, model.Config, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, cfg, err
	}
	store, err := cache.OpenStore(cfg.Cache)
	if err != nil {
		return nil, cfg, err
	}
	if store == nil {
		return nil, cfg, fmt.Errorf("%w: the memory cache backend keeps nothing between runs", model.ErrConfiguration)
	}
	return store, cfg, nil
}

type cacheSummary struct {
	entries        int
	funny          int
	byProvider     map[string]int
	oldest, newest time.Time
}

func summarizeCache(entries map[string]model.CacheEntry) cacheSummary {
	s := cacheSummary{entries: len(entries), byProvider: make(map[string]int)}
	for _, e := range entries {
		if e.Result.IsFunny {
			s.funny++
		}
		s.byProvider[e.Result.Provider]++
		if s.oldest.IsZero() || e.CreatedAt.Before(s.oldest) {
			s.oldest = e.CreatedAt
		}
		if e.CreatedAt.After(s.newest) {
			s.newest = e.CreatedAt
		}
	}
	return s
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	cacheCmd.PersistentFlags().String("cache-backend", "json", "cache backend (json, sqlite)")
	cacheCmd.PersistentFlags().String("cache-path", "", "cache file path")
	cacheCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		_ = viper.BindPFlag("cache.backend", cacheCmd.PersistentFlags().Lookup("cache-backend"))
		_ = viper.BindPFlag("cache.path", cacheCmd.PersistentFlags().Lookup("cache-path"))
	}
}
