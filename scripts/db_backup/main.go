// Command db_backup copies the orchestrator database to a timestamped file
// next to it. Stop the server first: the job queue writes continuously and a
// copy taken mid-write may be inconsistent.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/garnizeh/orchestrator/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to config YAML file")
	out := flag.String("out", "", "Backup destination (default: <db>.bak-<timestamp>)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	src := cfg.DatabasePath
	dst := *out
	if dst == "" {
		dst = fmt.Sprintf("%s.bak-%s", src, time.Now().UTC().Format("20060102T150405"))
	}

	srcFile, err := os.Open(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Backup error: %v\n", err)
		os.Exit(1)
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Backup error: %v\n", err)
		os.Exit(1)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		fmt.Fprintf(os.Stderr, "Backup error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Orchestrator database backed up to %s\n", dst)
}
