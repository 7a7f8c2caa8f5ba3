package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/mathbench/internal/handler"
	appI18n "github.com/pavelanni/mathbench/internal/i18n"
	"github.com/pavelanni/mathbench/internal/model"
	"github.com/pavelanni/mathbench/internal/store"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Browse indexed results in a web UI",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "mathbench.db", "SQLite result index")
	f.String("results", "results", "Result directory scanned on reindex")
	f.Bool("reindex", false, "Index the result directory before serving")
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /bench)")
	f.String("viewer-user", "viewer", "Username of the viewer account seeded on first start")
	f.String("viewer-password", "", "Password for the seeded viewer (or set MATHBENCH_VIEWER_PASSWORD); empty leaves the UI open")
	addLogFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	cmd.SilenceUsage = true

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedViewer(db, v.GetString("viewer-user"), v.GetString("viewer-password")); err != nil {
		return fmt.Errorf("seed viewer: %w", err)
	}

	resultsDir := v.GetString("results")
	if v.GetBool("reindex") {
		if _, err := db.ImportResultDir(resultsDir); err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	basePath := normalizeBasePath(v.GetString("base-path"))
	h := handler.New(db, handler.Config{BasePath: basePath, ResultsDir: resultsDir})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, h.Routes)
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"results", resultsDir,
		"lang", lang,
		"base_path", basePath,
	)
	return http.ListenAndServe(addr, r)
}

// normalizeBasePath returns "" or a path with a leading slash and no
// trailing slash.
func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// seedViewer creates the first viewer account. It does nothing when a
// viewer exists already or no password is given.
func seedViewer(db *store.Store, username, password string) error {
	count, err := db.ViewerCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if password == "" {
		slog.Warn("no viewer password set; results browser is open to anyone who can reach it")
		return nil
	}
	if username == "" {
		return fmt.Errorf("viewer username must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash viewer password: %w", err)
	}
	if _, err := db.CreateViewer(model.Viewer{Username: username, PasswordHash: string(hash)}); err != nil {
		return fmt.Errorf("create viewer: %w", err)
	}
	slog.Info("seeded viewer account", "username", username)
	return nil
}
