package utils

import (
	"context"
	"database/sql"
	"testing"
)

func TestQuerierFrom_FallsBackToDB(t *testing.T) {
	db := &sql.DB{}
	q := QuerierFrom(context.Background(), db)
	if q != Querier(db) {
		t.Fatalf("expected db fallback when no tx in context")
	}
}

func TestQuerierFrom_PrefersTxFromContext(t *testing.T) {
	db := &sql.DB{}
	tx := &sql.Tx{}
	ctx := ContextWithTx(context.Background(), tx)
	if QuerierFrom(ctx, db) != Querier(tx) {
		t.Fatalf("expected tx from context")
	}
}
