package db

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
)

func TestSchemaDefinesConstraints(t *testing.T) {
	t.Parallel()
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS subscriptions",
		"email         text        NOT NULL UNIQUE",
		"CREATE TABLE IF NOT EXISTS subscription_tokens",
		"subscriber_id      uuid NOT NULL UNIQUE REFERENCES subscriptions (id)",
	} {
		if !strings.Contains(schema, want) {
			t.Errorf("schema missing %q", want)
		}
	}
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		execErr error
		wantErr string
	}{
		{name: "applies schema"},
		{name: "exec failure", execErr: errors.New("permission denied"), wantErr: "apply schema: permission denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatalf("failed to create pgxmock pool: %v", err)
			}
			defer mock.Close()

			exp := mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS subscriptions"))
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("CREATE", 0))
			}

			err = Migrate(context.Background(), mock)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("expected error %q, got %v", tt.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig("postgres://localhost/newsletter")
	if cfg.MaxConns < cfg.MinConns {
		t.Errorf("MaxConns %d below MinConns %d", cfg.MaxConns, cfg.MinConns)
	}
	if cfg.URI != "postgres://localhost/newsletter" {
		t.Errorf("unexpected URI %q", cfg.URI)
	}
}

func TestConnect_InvalidURI(t *testing.T) {
	t.Parallel()
	_, err := Connect(context.Background(), DefaultConfig("://not a uri"))
	if err == nil || !strings.Contains(err.Error(), "parse database URI") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
