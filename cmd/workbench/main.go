package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rflorenc/chef-migration-workbench/internal/api"
	"github.com/rflorenc/chef-migration-workbench/internal/chefserver"
	"github.com/rflorenc/chef-migration-workbench/internal/config"
	"github.com/rflorenc/chef-migration-workbench/internal/models"
	"github.com/rflorenc/chef-migration-workbench/internal/platform"
	"github.com/rflorenc/chef-migration-workbench/internal/statestore"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			fmt.Printf("workbench %s (commit: %s, built: %s)\n", version, commit, date)
			os.Exit(0)
		}
	}

	cfg := config.Parse()

	store, err := buildStore(cfg)
	if err != nil {
		log.Fatal(err)
	}

	server := &api.Server{
		Connections:  models.NewConnectionStore(),
		Jobs:         models.NewJobStore(),
		Migrations:   store,
		CookbookRoot: cfg.CookbookRoot,
		OutputDir:    cfg.OutputDir,
		Retries:      cfg.Retries,
		StrictLint:   cfg.StrictLint,
	}

	for _, cc := range cfg.Connections {
		loadConnection(server, cfg, cc)
	}

	fmt.Printf("Chef Migration Workbench %s starting on %s\n", version, cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, api.NewRouter(server)); err != nil {
		log.Fatal(err)
	}
}

// buildStore selects the migration state store: Postgres when a DSN is
// configured, in-memory otherwise.
func buildStore(cfg *config.Config) (statestore.Store, error) {
	if cfg.PostgresDSN == "" {
		return statestore.NewMemoryStore(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	pg := statestore.NewPGStore(pool)
	if err := pg.CreateSchema(ctx); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	fmt.Println("Migration state: postgres")
	return pg, nil
}

// loadConnection registers a pre-configured connection and probes it,
// recording health and (for controllers) discovered version info.
func loadConnection(server *api.Server, cfg *config.Config, cc config.ConnectionConfig) {
	conn := &models.Connection{
		Name:     cc.Name,
		Type:     cc.Type,
		Scheme:   cc.Scheme,
		Host:     cc.Host,
		Port:     cc.Port,
		Username: cc.Username,
		Password: cc.Password,
		Org:      cc.Org,
		Insecure: cc.Insecure,
	}
	if conn.Type == "" {
		conn.Type = "controller"
	}
	if conn.Scheme == "" {
		conn.Scheme = "https"
	}
	if conn.Port == 0 {
		if conn.Scheme == "https" {
			conn.Port = 443
		} else {
			conn.Port = 80
		}
	}
	if cc.ClientKeyFile != "" {
		key, err := os.ReadFile(cc.ClientKeyFile)
		if err != nil {
			fmt.Printf("  KEY FAILED: %s: %v\n", conn.Name, err)
		} else {
			conn.ClientKey = string(key)
		}
	}
	server.Connections.Create(conn)
	fmt.Printf("Loaded connection: %s (%s://%s:%d)\n", conn.Name, conn.Scheme, conn.Host, conn.Port)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pingStatus, pingError := "ok", ""
	authStatus, authError := "unknown", ""
	switch conn.Type {
	case "chef-server":
		c := chefserver.NewClient(conn, conn.Org, cfg.Retries)
		if err := c.Ping(ctx); err != nil {
			pingStatus, pingError = "error", err.Error()
			fmt.Printf("  PING FAILED: %s: %v\n", conn.Name, err)
		} else {
			authStatus = "ok"
			fmt.Printf("  PING OK: %s: reachable\n", conn.Name)
		}
	default:
		client := platform.NewClient(conn, cfg.Retries)
		platform.DiscoverAndStore(ctx, client, conn, server.Connections)
		ctrl := platform.NewController(client, conn.APIPrefix, conn.Version)
		if err := ctrl.Ping(ctx); err != nil {
			pingStatus, pingError = "error", err.Error()
			fmt.Printf("  PING FAILED: %s: %v\n", conn.Name, err)
		} else {
			fmt.Printf("  PING OK: %s: reachable\n", conn.Name)
			if err := ctrl.CheckAuth(ctx); err != nil {
				authStatus, authError = "error", err.Error()
				fmt.Printf("  AUTH FAILED: %s: %v\n", conn.Name, err)
			} else {
				authStatus = "ok"
				fmt.Printf("  AUTH OK: %s: authenticated successfully\n", conn.Name)
			}
			if conn.Version != "" {
				fmt.Printf("  VERSION: %s: %s\n", conn.Name, conn.Version)
			}
		}
	}
	server.Connections.SetHealth(conn.ID, pingStatus, pingError, authStatus, authError)
}
