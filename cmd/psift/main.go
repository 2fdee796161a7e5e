// Command psift is the terminal front door of the search engine: build and
// persist an index, run queries against it, and inspect cache state.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	psift "github.com/pathsift/pathsift/psift"
	"github.com/pathsift/pathsift/psift/cache"
	"github.com/pathsift/pathsift/psift/cancel"
	"github.com/pathsift/pathsift/psift/config"
)

func main() {
	logger := psift.GetLogger()

	app := &cli.App{
		Name:  "psift",
		Usage: "indexed filesystem search",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "config file path"},
			&cli.StringFlag{Name: "snapshot", Usage: "snapshot file path"},
		},
		Commands: []*cli.Command{
			{
				Name:      "index",
				Usage:     "walk a directory tree and persist the index",
				ArgsUsage: "[root]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "metadata", Usage: "load size and times during the walk"},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.LoadConfig(c.String("config"))
					if err != nil {
						return err
					}
					root := cfg.Index.Root
					if c.Args().Present() {
						root = c.Args().First()
					}
					root, err = filepath.Abs(root)
					if err != nil {
						return err
					}
					sc, err := cache.BuildFromRoot(root, cache.BuildOptions{
						IgnorePrefixes: cfg.Index.IgnorePrefixes,
						IgnorePatterns: cfg.Index.IgnorePatterns,
						NeedMetadata:   c.Bool("metadata") || cfg.Index.NeedMetadata,
						Workers:        cfg.Index.Workers,
					}, cancel.Noop())
					if err != nil {
						return err
					}
					path := snapshotPath(c, cfg)
					if err := sc.SaveFile(path); err != nil {
						return err
					}
					logger.Info().
						Str("root", root).
						Str("snapshot", path).
						Int("nodes", sc.Len()).
						Msg("index written")
					return nil
				},
			},
			{
				Name:      "search",
				Usage:     "run a query against the persisted index",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "case", Usage: "case-sensitive matching"},
					&cli.UintFlag{Name: "max", Usage: "clamp the number of results"},
					&cli.BoolFlag{Name: "highlights", Usage: "print match ranges"},
				},
				Action: func(c *cli.Context) error {
					if !c.Args().Present() {
						return errors.New("search needs a query argument")
					}
					cfg, err := config.LoadConfig(c.String("config"))
					if err != nil {
						return err
					}
					sc, err := cache.LoadFile(snapshotPath(c, cfg))
					if err != nil {
						return err
					}
					opts := cache.Options{
						CaseSensitive: c.Bool("case") || cfg.Search.CaseSensitive,
						MaxResults:    uint32(c.Uint("max")),
					}
					if opts.MaxResults == 0 {
						opts.MaxResults = cfg.Search.MaxResults
					}
					outcome, err := sc.Search(c.Args().First(), opts, 1)
					if err != nil {
						return err
					}
					for _, info := range sc.Expand(outcome.Nodes, false) {
						if c.Bool("highlights") {
							fmt.Printf("%s\t%v\n", info.Path, outcome.Highlights[info.Idx])
							continue
						}
						fmt.Println(info.Path)
					}
					return nil
				},
			},
			{
				Name:  "stat",
				Usage: "print summary information about the persisted index",
				Action: func(c *cli.Context) error {
					cfg, err := config.LoadConfig(c.String("config"))
					if err != nil {
						return err
					}
					sc, err := cache.LoadFile(snapshotPath(c, cfg))
					if err != nil {
						return err
					}
					fmt.Printf("root:          %s\n", sc.Root())
					fmt.Printf("nodes:         %d\n", sc.Len())
					fmt.Printf("last event id: %d\n", sc.LastEventID())
					if errs := sc.Validate(); len(errs) > 0 {
						for _, e := range errs {
							logger.Warn().Err(e).Msg("invariant violation")
						}
						return fmt.Errorf("index failed validation with %d errors", len(errs))
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("psift failed")
		os.Exit(1)
	}
}

func snapshotPath(c *cli.Context, cfg *config.Config) string {
	if p := c.String("snapshot"); p != "" {
		return p
	}
	if cfg.Index.SnapshotPath != "" {
		return cfg.Index.SnapshotPath
	}
	return psift.DefaultSnapshotPath
}
