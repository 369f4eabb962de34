package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/lunch?sslmode=disable": "pgx5://u:p@db:5432/lunch?sslmode=disable",
		"postgresql://db/lunch":                        "pgx5://db/lunch",
		"pgx5://db/lunch":                              "pgx5://db/lunch",
	}
	for in, want := range cases {
		if got := MigrateURL(in); got != want {
			t.Fatalf("MigrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsNotFound(fmt.Errorf("load: %w", pgx.ErrNoRows)) {
		t.Fatal("wrapped ErrNoRows should be not found")
	}
	if !IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatal("23505 should be a unique violation")
	}
	if IsUniqueViolation(errors.New("boom")) || IsForeignKeyViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("unexpected classification")
	}
}
