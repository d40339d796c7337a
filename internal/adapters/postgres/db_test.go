package postgres

import (
	"reflect"
	"testing"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	t.Parallel()
	names, err := migrationNames(migrationFS)
	if err != nil {
		t.Fatalf("migration names: %v", err)
	}
	if len(names) == 0 || names[0] != "0001_ledger.sql" {
		t.Fatalf("expected 0001_ledger.sql first, got %v", names)
	}
}

func TestPendingMigrationsSkipsApplied(t *testing.T) {
	t.Parallel()
	got := pendingMigrations([]string{"0001_ledger.sql", "0002_x.sql", "0003_y.sql"}, []string{"0002_x.sql", "0001_ledger.sql"})
	if !reflect.DeepEqual(got, []string{"0003_y.sql"}) {
		t.Fatalf("unexpected pending migrations %v", got)
	}
	if got := pendingMigrations([]string{"0001_ledger.sql"}, nil); len(got) != 1 {
		t.Fatalf("expected all migrations pending on a fresh store, got %v", got)
	}
}
