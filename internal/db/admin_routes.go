package db

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts the debug endpoints on mux: a tailsql browser for
// live SQL inspection of the analysis database and an on-demand gzip backup
// download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://kinetics_data.db", db.DB, &tailsql.DBOptions{
		Label: "Kinetics DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now",
		http.HandlerFunc(db.handleBackup))
	return nil
}

// handleBackup snapshots the database with VACUUM INTO and streams the
// snapshot back gzip-compressed. The snapshot lands in the system temp
// directory and is removed once sent.
func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("kinetics-backup-%d.db", time.Now().Unix())
	path := filepath.Join(os.TempDir(), name)

	// VACUUM INTO refuses to overwrite, so the target must not exist yet.
	if _, err := db.DB.Exec("VACUUM INTO ?", path); err != nil {
		http.Error(w, fmt.Sprintf("create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			log.Printf("remove backup %s: %v", path, err)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		// Headers are out; all we can do is log the truncated stream.
		log.Printf("stream backup %s: %v", name, err)
	}
}
