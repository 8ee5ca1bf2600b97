package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DatabaseStats summarizes on-disk size and row counts per table.
type DatabaseStats struct {
	Path        string       `json:"path"`
	TotalSizeMB float64      `json:"total_size_mb"`
	Tables      []TableStats `json:"tables"`
}

type TableStats struct {
	Name     string  `json:"name"`
	RowCount int64   `json:"row_count"`
	SizeMB   float64 `json:"size_mb"`
}

// GetDatabaseStats reports total database size and per-table row
// counts. Per-table sizes come from the dbstat virtual table when the
// build provides it and stay zero otherwise.
func (db *DB) GetDatabaseStats() (*DatabaseStats, error) {
	stats := &DatabaseStats{Path: db.path}

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("querying page_count: %w", err)
	}
	if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("querying page_size: %w", err)
	}
	stats.TotalSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	rows, err := db.Query(`
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, name := range names {
		ts := TableStats{Name: name}
		if err := db.QueryRow("SELECT COUNT(*) FROM " + quoteIdent(name)).Scan(&ts.RowCount); err != nil {
			return nil, fmt.Errorf("counting %s: %w", name, err)
		}
		var size sql.NullInt64
		if err := db.QueryRow("SELECT SUM(pgsize) FROM dbstat WHERE name = ?", name).Scan(&size); err == nil && size.Valid {
			ts.SizeMB = float64(size.Int64) / (1024 * 1024)
		}
		stats.Tables = append(stats.Tables, ts)
	}

	return stats, nil
}

func (db *DB) handleDBStats(w http.ResponseWriter, r *http.Request) {
	stats, err := db.GetDatabaseStats()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to collect stats: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode stats: %v", err), http.StatusInternalServerError)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
