package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

//go:embed sql/post_automigrate_postgres.sql
var postAutoMigratePostgresSQL string

func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	if err := p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
		return fmt.Errorf("gorm auto-migrate models: %w", err)
	}

	scripts := []struct {
		name string
		sql  string
	}{
		{name: "post-auto-migrate", sql: postAutoMigrateSQL},
	}
	if p.isPostgres() {
		scripts = append(scripts, struct {
			name string
			sql  string
		}{name: "post-auto-migrate-postgres", sql: postAutoMigratePostgresSQL})
	}

	for _, script := range scripts {
		for _, statement := range splitStatements(script.sql) {
			if err := p.gdb.WithContext(ctx).Exec(statement).Error; err != nil {
				return fmt.Errorf("execute %s SQL: %w", script.name, err)
			}
		}
	}
	return nil
}

// splitStatements splits a script on semicolons. Scripts here hold no
// semicolons inside literals or bodies.
func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		lines := strings.Split(part, "\n")
		kept := lines[:0]
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			kept = append(kept, line)
		}
		if statement := strings.TrimSpace(strings.Join(kept, "\n")); statement != "" {
			out = append(out, statement)
		}
	}
	return out
}
