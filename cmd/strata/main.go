// Command strata is a slim command-line client over the storage engine,
// grounded on the teacher's cmd/velocity/main.go urfave/cli/v3 setup. The
// teacher's bespoke permission-checker/flag-validator framework (package
// cli) is dropped: it belongs to the excluded HTTP admin surface, not the
// storage engine this command drives (see DESIGN.md).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/oarkflow/strata"
)

// doc is the untyped document shape the CLI reads and writes; typed
// collections are a library-level concern (strata.GetCollection[T]).
type doc = map[string]any

func openStore(c *cli.Command) (*strata.Store, error) {
	return strata.Open(strata.Options{Path: c.String("db-path")})
}

func main() {
	app := &cli.Command{
		Name:  "strata",
		Usage: "embedded LSM storage engine command-line client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-path",
				Aliases: []string{"d"},
				Usage:   "store directory",
				Value:   "./stratadb",
			},
		},
		Commands: []*cli.Command{
			putCommand(),
			getCommand(),
			scanCommand(),
			backupCommand(),
			compactionStatusCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "write one document",
		ArgsUsage: "<collection> <id> <json-value>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() < 3 {
				return fmt.Errorf("usage: strata put <collection> <id> <json-value>")
			}
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()

			var value doc
			if err := json.Unmarshal([]byte(c.Args().Get(2)), &value); err != nil {
				return fmt.Errorf("decode json value: %w", err)
			}
			coll := strata.GetCollection[doc](store, c.Args().Get(0))
			return coll.Put(c.Args().Get(1), value)
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "read one document",
		ArgsUsage: "<collection> <id>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() < 2 {
				return fmt.Errorf("usage: strata get <collection> <id>")
			}
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()

			coll := strata.GetCollection[doc](store, c.Args().Get(0))
			value, ok, err := coll.Get(c.Args().Get(1), nil)
			if err != nil {
				return err
			}
			if !ok {
				return strata.ErrNotFound
			}
			out, err := json.MarshalIndent(value, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "list documents in a collection",
		ArgsUsage: "<collection>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "prefix", Usage: "encoded-id prefix filter"},
			&cli.IntFlag{Name: "limit", Usage: "max documents to return"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() < 1 {
				return fmt.Errorf("usage: strata scan <collection>")
			}
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()

			coll := strata.GetCollection[doc](store, c.Args().Get(0))
			values, err := coll.Scan([]byte(c.String("prefix")), int(c.Int("limit")), nil)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(values, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "create, list, and restore backups",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "create a new backup",
				Flags: []cli.Flag{&cli.StringFlag{Name: "note"}},
				Action: func(ctx context.Context, c *cli.Command) error {
					store, err := openStore(c)
					if err != nil {
						return err
					}
					defer store.Close()
					meta, err := store.CreateBackup(c.String("note"))
					if err != nil {
						return err
					}
					fmt.Printf("created backup %s (%d bytes)\n", meta.ID, meta.SizeBytes)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "list backups",
				Action: func(ctx context.Context, c *cli.Command) error {
					store, err := openStore(c)
					if err != nil {
						return err
					}
					defer store.Close()
					backups, err := store.ListBackups()
					if err != nil {
						return err
					}
					for _, b := range backups {
						fmt.Printf("%s\t%s\t%s\n", b.ID, b.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), b.Note)
					}
					return nil
				},
			},
			{
				Name:      "restore",
				Usage:     "restore a backup by id",
				ArgsUsage: "<id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() < 1 {
						return fmt.Errorf("usage: strata backup restore <id>")
					}
					store, err := openStore(c)
					if err != nil {
						return err
					}
					defer store.Close()
					return store.RestoreBackup(c.Args().Get(0))
				},
			},
		},
	}
}

func compactionStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "compaction-status",
		Usage: "print the compactor's current status",
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()
			status, err := store.CompactionStatus()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
