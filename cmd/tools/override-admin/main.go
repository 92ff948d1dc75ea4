// cmd/tools/override-admin/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"approval-sync/internal/approval"
	"approval-sync/internal/approval/backend"
	"approval-sync/internal/approval/overrides"
	"approval-sync/internal/common/config"
	commonhttp "approval-sync/internal/common/http"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/models"
)

var configPath string

func main() {
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	setCmd := flag.NewFlagSet("set", flag.ExitOnError)
	clearCmd := flag.NewFlagSet("clear", flag.ExitOnError)
	gcCmd := flag.NewFlagSet("gc", flag.ExitOnError)

	for _, fs := range []*flag.FlagSet{listCmd, setCmd, clearCmd, gcCmd} {
		fs.StringVar(&configPath, "config", "", "Path to config file (default: configs/config.yaml lookup)")
	}

	kindList := listCmd.String("kind", "", "Entity kind (business, product); empty lists every kind")
	kindSet := setCmd.String("kind", "", "Entity kind (business, product)")
	idSet := setCmd.String("id", "", "Entity ID to flag as pending")
	kindClear := clearCmd.String("kind", "", "Entity kind (business, product)")
	idClear := clearCmd.String("id", "", "Entity ID whose flag is removed")
	kindGC := gcCmd.String("kind", "", "Entity kind (business, product); empty collects every kind")
	dryRun := gcCmd.Bool("dry-run", false, "Report orphaned flags without removing them")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "list":
		listCmd.Parse(os.Args[2:])
		err = withStore(ctx, func(_ *config.Config, store *overrides.Store) error {
			return listFlags(ctx, os.Stdout, store, *kindList)
		})

	case "set":
		setCmd.Parse(os.Args[2:])
		if *kindSet == "" || *idSet == "" {
			fmt.Println("Error: kind and id are required for set.")
			setCmd.Usage()
			os.Exit(1)
		}
		err = withStore(ctx, func(_ *config.Config, store *overrides.Store) error {
			return setFlag(ctx, os.Stdout, store, *kindSet, *idSet)
		})

	case "clear":
		clearCmd.Parse(os.Args[2:])
		if *kindClear == "" || *idClear == "" {
			fmt.Println("Error: kind and id are required for clear.")
			clearCmd.Usage()
			os.Exit(1)
		}
		err = withStore(ctx, func(_ *config.Config, store *overrides.Store) error {
			return clearFlag(ctx, os.Stdout, store, *kindClear, *idClear)
		})

	case "gc":
		gcCmd.Parse(os.Args[2:])
		err = withStore(ctx, func(cfg *config.Config, store *overrides.Store) error {
			httpClient := commonhttp.NewClient(cfg.Backend.BaseURL, cfg.Backend.AuthToken, config.GetDuration(cfg.Backend.Timeout))
			client := backend.NewClient(backend.NewConfig(cfg.Backend), httpClient, logger.NewNoOpLogger())
			return collect(ctx, os.Stdout, client, store, *kindGC, *dryRun)
		})

	case "help":
		fallthrough
	default:
		help()
		return
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func withStore(ctx context.Context, fn func(cfg *config.Config, store *overrides.Store) error) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	backing, err := overrides.Open(ctx, cfg.Overrides, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open override store: %w", err)
	}
	defer backing.Close()

	if backing.Driver == "memory" {
		fmt.Println("Warning: override driver is memory; flags of a running daemon are not visible here.")
	}
	return fn(cfg, overrides.NewStore(backing.KV, cfg.Overrides.Namespace, logger.NewNoOpLogger()))
}

// kinds resolves the -kind flag; empty means every kind.
func kinds(raw string) ([]models.EntityKind, error) {
	if raw == "" {
		return models.Kinds(), nil
	}
	kind, err := models.ParseEntityKind(raw)
	if err != nil {
		return nil, err
	}
	return []models.EntityKind{kind}, nil
}

func listFlags(ctx context.Context, out io.Writer, store *overrides.Store, rawKind string) error {
	ks, err := kinds(rawKind)
	if err != nil {
		return err
	}
	total := 0
	for _, kind := range ks {
		ids, err := store.PendingIDs(ctx, kind)
		if err != nil {
			return err
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(out, "%s\t%s\n", kind, id)
		}
		total += len(ids)
	}
	fmt.Fprintf(out, "%d pending flag(s)\n", total)
	return nil
}

func setFlag(ctx context.Context, out io.Writer, store *overrides.Store, rawKind, id string) error {
	kind, err := models.ParseEntityKind(rawKind)
	if err != nil {
		return err
	}
	if err := store.SetPending(ctx, kind, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "Flagged %s %s as pending\n", kind, id)
	return nil
}

func clearFlag(ctx context.Context, out io.Writer, store *overrides.Store, rawKind, id string) error {
	kind, err := models.ParseEntityKind(rawKind)
	if err != nil {
		return err
	}
	if err := store.ClearPending(ctx, kind, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "Cleared pending flag of %s %s\n", kind, id)
	return nil
}

func collect(ctx context.Context, out io.Writer, b approval.Backend, store *overrides.Store, rawKind string, dryRun bool) error {
	ks, err := kinds(rawKind)
	if err != nil {
		return err
	}

	if dryRun {
		for _, kind := range ks {
			entities, err := b.ListAll(ctx, kind)
			if err != nil {
				return fmt.Errorf("list %s: %w", kind, err)
			}
			existing := make(map[string]struct{}, len(entities))
			for _, e := range entities {
				existing[e.ID] = struct{}{}
			}
			ids, err := store.PendingIDs(ctx, kind)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if _, ok := existing[id]; !ok {
					fmt.Fprintf(out, "orphaned\t%s\t%s\n", kind, id)
				}
			}
		}
		return nil
	}

	svc := approval.NewService(b, store, nil, approval.DefaultOptions(), logger.NewNoOpLogger())
	defer svc.Close()
	for _, kind := range ks {
		removed, err := svc.CollectOverrides(ctx, kind)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Collected %d orphaned %s flag(s)\n", removed, kind)
	}
	return nil
}

func help() {
	fmt.Println("Usage: override-admin <command> [options]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list   List local pending flags")
	fmt.Println("  set    Flag an entity as locally pending")
	fmt.Println("  clear  Remove the pending flag of an entity")
	fmt.Println("  gc     Remove flags whose entity no longer exists at the backend")
	fmt.Println("  help   Show this help message")
	fmt.Println("")
	fmt.Println("Run 'override-admin <command> -h' for more information on a command.")
}
