// Command migrate applies the schema migrations in migrations/ against the
// configured Postgres database.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	path := flag.String("path", envOr("MIGRATIONS_PATH", "migrations"), "path to the migrations directory")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	m, err := open(*path)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	defer m.Close()

	if err := run(m, args); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}

func run(m *migrate.Migrate, args []string) error {
	switch args[0] {
	case "up":
		return report(m, m.Up())
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid step count %q", args[1])
			}
			steps = n
		}
		return report(m, m.Steps(-steps))
	case "version":
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("no migrations applied")
			return nil
		}
		if err != nil {
			return err
		}
		if dirty {
			log.Printf("version %d (dirty)", v)
		} else {
			log.Printf("version %d", v)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func report(m *migrate.Migrate, err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("no change")
		return nil
	}
	if err != nil {
		return err
	}
	v, _, _ := m.Version()
	log.Printf("now at version %d", v)
	return nil
}

func open(path string) (*migrate.Migrate, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return migrate.New("file://"+abs, databaseURL())
}

// databaseURL builds the connection string from DATABASE_URL or the same
// DB_* variables the server reads.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		envOr("DB_USER", "postgres"),
		envOr("DB_PASSWORD", ""),
		envOr("DB_HOST", "localhost"),
		envOr("DB_PORT", "5432"),
		envOr("DB_NAME", "velora_pos"),
		envOr("DB_SSLMODE", "disable"),
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <command>\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  up        apply all pending migrations\n")
	fmt.Fprintf(os.Stderr, "  down [N]  roll back N migrations (default 1)\n")
	fmt.Fprintf(os.Stderr, "  version   print the current schema version\n")
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
}
