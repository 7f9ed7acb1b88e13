// cmd/preflight/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/config"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/repo/file"
	"github.com/hamed0406/sitewatch/internal/repo/postgres"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	failed := false
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		var cerr *config.Error
		if errors.As(err, &cerr) && len(cerr.Problems()) > 1 {
			for _, p := range cerr.Problems() {
				fail(p.Error())
			}
		} else {
			fail(err.Error())
		}
		os.Exit(1)
	}
	ok(fmt.Sprintf("config %s: %d targets, notify via %s", *cfgPath, len(cfg.Targets), cfg.Notify.Transport))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.StateBackend {
	case "postgres":
		pg, err := postgres.New(ctx, cfg.DatabaseURL, zap.NewNop())
		if err != nil {
			fail("postgres unreachable: " + err.Error())
			break
		}
		defer pg.Close()
		checkState(ctx, pg, "postgres state", fail, warn, ok, cfg.OnCorruptState)
	default:
		checkState(ctx, file.New(cfg.StatePath), "state file "+cfg.StatePath, fail, warn, ok, cfg.OnCorruptState)
		if err := writable(filepath.Dir(cfg.StatePath)); err != nil {
			fail("state dir not writable: " + err.Error())
		} else {
			ok("state dir writable")
		}
	}

	if err := writable(filepath.Dir(cfg.LogPath)); err != nil {
		fail("log dir not writable: " + err.Error())
	} else {
		ok("log_path " + cfg.LogPath)
	}

	if len(cfg.API.AdminKeys) == 0 {
		warn("api.admin_keys empty: POST /api/run is open to anyone who can reach the API.")
	}
	if len(cfg.API.PublicKeys) == 0 && len(cfg.API.AdminKeys) == 0 {
		warn("no API keys configured: GET /api/status is unauthenticated.")
	}
	if len(cfg.API.AllowedOrigins) == 0 {
		warn("api.allowed_origins empty: any origin may call the API from a browser.")
	}
	if cfg.API.Schedule != "" {
		ok("in-process schedule " + cfg.API.Schedule)
	}

	if failed {
		os.Exit(1)
	}
	ok("preflight passed")
}

func checkState(ctx context.Context, r repo.Repository, what string, fail, warn, ok func(string), onCorrupt string) {
	recs, err := r.Load(ctx)
	switch {
	case errors.Is(err, repo.ErrCorruptState) && onCorrupt == "reset":
		warn(what + " is corrupt and will be reset on the next run: " + err.Error())
	case err != nil:
		fail(what + ": " + err.Error())
	case len(recs) == 0:
		ok(what + ": empty (first run)")
	default:
		ok(fmt.Sprintf("%s: %d records", what, len(recs)))
	}
}

func writable(dir string) error {
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
