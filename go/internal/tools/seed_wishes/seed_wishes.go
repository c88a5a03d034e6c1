package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/mcdev12/envelope-race/go/internal/dbconfig"
	"github.com/mcdev12/envelope-race/go/internal/wishes"
)

func main() {
	path := flag.String("file", "", "wish catalog YAML (defaults to the embedded catalog)")
	dryRun := flag.Bool("dry-run", false, "print the catalog summary without writing")
	flag.Parse()

	_ = godotenv.Load()

	// 1) Load the catalog
	var (
		catalog wishes.Catalog
		err     error
	)
	if *path != "" {
		catalog, err = wishes.LoadCatalog(*path)
	} else {
		catalog, err = wishes.DefaultCatalog()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "load catalog: %v\n", err)
		os.Exit(1)
	}

	rows := catalogRows(catalog)
	if *dryRun {
		for _, g := range sortedGroups(catalog) {
			fmt.Printf("%-8s %d\n", g, len(catalog[g]))
		}
		fmt.Printf("Wishes dry run: %d wishes\n", len(rows))
		return
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Replace the table contents in one transaction
	deleted, inserted, err := replaceWishes(ctx, pool, rows)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed wishes: %v\n", err)
		os.Exit(1)
	}

	// 4) Print summary
	fmt.Printf(
		"Wishes seed complete: %d groups, %d removed, %d inserted\n",
		len(catalog), deleted, inserted,
	)
}

func replaceWishes(ctx context.Context, pool *pgxpool.Pool, rows [][]any) (deleted, inserted int64, err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM wishes`)
	if err != nil {
		return 0, 0, fmt.Errorf("delete wishes: %w", err)
	}

	inserted, err = tx.CopyFrom(ctx,
		pgx.Identifier{"wishes"},
		[]string{"text", "age_group", "active"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("copy wishes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return tag.RowsAffected(), inserted, nil
}

func catalogRows(c wishes.Catalog) [][]any {
	rows := make([][]any, 0, c.Len())
	for _, g := range sortedGroups(c) {
		for _, text := range c[g] {
			rows = append(rows, []any{text, string(g), true})
		}
	}
	return rows
}

func sortedGroups(c wishes.Catalog) []wishes.AgeGroup {
	groups := make([]wishes.AgeGroup, 0, len(c))
	for g := range c {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups
}
