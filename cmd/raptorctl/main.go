// Command raptorctl is the operator-facing CLI for a raptor database: it
// migrates v1 data files forward, inspects an open database without
// touching it, and exports its contents for external tooling.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/klauspost/compress/snappy"

	"github.com/Felmond13/raptor/engine"
	"github.com/Felmond13/raptor/migrate"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("raptorctl: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: raptorctl <migrate|inspect|export> <path> [flags]")
}

func runMigrate(args []string) error {
	path, rest, err := splitPath(args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	// dimension is accepted for operator symmetry with `raptorctl inspect`
	// and the engine's own Config, but the v1 header already carries the
	// dimension migrate needs, so it goes unused.
	fs.Int("dimension", 0, "unused: dimension is read from the v1 header")
	backup := fs.String("backup", "", "backup path override; defaults to <path without .raptor>.v1.backup")
	compressBackup := fs.Bool("compress-backup", false, "additionally write a snappy-compressed copy of the backup")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	logger := slog.Default()
	version, ok := migrate.DetectVersion(path)
	var migrated int
	switch {
	case !ok:
		err = fmt.Errorf("%s: not a raptor data file", path)
	case version == 1:
		migrated, err = migrate.MigrateV1ToV2(path, *backup, logger)
	default:
		migrated, err = migrate.EnsureV2(path, logger) // no-op on v2, error on any other version
	}
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if *compressBackup {
		backupPath := *backup
		if backupPath == "" {
			backupPath = strings.TrimSuffix(path, ".raptor") + ".v1.backup"
		}
		if err := compressFile(backupPath, backupPath+".snappy"); err != nil {
			return fmt.Errorf("compress backup: %w", err)
		}
	}

	fmt.Printf("migrated %d keys\n", migrated)
	return nil
}

func runInspect(args []string) error {
	path, rest, err := splitPath(args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	if err := fs.Parse(rest); err != nil {
		return err
	}

	cfg := engine.DefaultConfig(strings.TrimSuffix(path, ".raptor"))
	cfg.ReadOnly = true
	e, err := engine.Open(cfg)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer e.Close()

	fmt.Printf("dimension: %d\n", e.GetDimension())
	fmt.Printf("keys: %d\n", e.Count())
	fmt.Printf("next sequence: %d\n", e.NextSequence())
	return nil
}

func runExport(args []string) error {
	path, rest, err := splitPath(args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "", "output file (required)")
	compress := fs.Bool("compress", false, "snappy-compress the output file")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("export: --out is required")
	}

	cfg := engine.DefaultConfig(strings.TrimSuffix(path, ".raptor"))
	cfg.ReadOnly = true
	e, err := engine.Open(cfg)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer e.Close()

	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	for _, key := range e.Keys() {
		rec, ok := e.ReadRecord(key)
		if !ok {
			continue
		}
		line := struct {
			Key       string    `json:"key"`
			Sequence  int64     `json:"sequence"`
			Timestamp int64     `json:"timestamp"`
			Embedding []float32 `json:"embedding"`
		}{Key: rec.Key, Sequence: rec.Sequence, Timestamp: rec.Timestamp, Embedding: rec.Embedding}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("export: encode %q: %w", key, err)
		}
	}

	if *compress {
		compressed := snappy.Encode(nil, []byte(buf.String()))
		if err := os.WriteFile(*out, compressed, 0644); err != nil {
			return fmt.Errorf("export: write %s: %w", *out, err)
		}
	} else {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("export: create %s: %w", *out, err)
		}
		defer f.Close()
		w := bufio.NewWriter(f)
		if _, err := w.WriteString(buf.String()); err != nil {
			return fmt.Errorf("export: write %s: %w", *out, err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("export: flush %s: %w", *out, err)
		}
	}

	fmt.Printf("exported %d keys to %s\n", e.Count(), *out)
	return nil
}

// splitPath pulls the leading positional <path> argument out of args,
// since flag.FlagSet stops parsing at the first non-flag token and every
// subcommand here takes its path before its flags.
func splitPath(args []string) (path string, rest []string, err error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", nil, fmt.Errorf("missing <path> argument")
	}
	return args[0], args[1:], nil
}

// compressFile reads src whole, snappy-encodes it, and writes the result
// to dst. Used only for the additive compressed backup copy; the primary
// uncompressed backup is written by package migrate itself.
func compressFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	compressed := snappy.Encode(nil, data)
	return os.WriteFile(dst, compressed, 0644)
}
