package subjects

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/postsecret-pipeline/internal/data/repos/testutil"
	"github.com/yungbote/postsecret-pipeline/internal/pkg/dbctx"
)

func TestPairIsBidirectional(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}
	repo := NewSubjectRepo(db, testutil.Logger(t))

	front := testutil.SeedSubject(t, ctx, db, "aa")
	back := testutil.SeedSubject(t, ctx, db, "bb")
	other := testutil.SeedSubject(t, ctx, db, "cc")

	if err := repo.Pair(dbc, front.ID, back.ID); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	f, _ := repo.GetByID(dbc, front.ID)
	b, _ := repo.GetByID(dbc, back.ID)
	if f.PairID == nil || *f.PairID != back.ID || b.PairID == nil || *b.PairID != front.ID {
		t.Fatalf("pair links: front=%v back=%v", f.PairID, b.PairID)
	}
	if b.Side != "back" {
		t.Fatalf("back side: got=%q", b.Side)
	}

	if err := repo.Pair(dbc, front.ID, back.ID); err != nil {
		t.Fatalf("re-pairing the same partners must be a no-op: %v", err)
	}
	if err := repo.Pair(dbc, back.ID, front.ID); err != nil {
		t.Fatalf("reversed re-pair: %v", err)
	}
	f, _ = repo.GetByID(dbc, front.ID)
	b, _ = repo.GetByID(dbc, back.ID)
	if f.Side != "front" || b.Side != "back" {
		t.Fatalf("reversed re-pair flipped orientation: front=%q back=%q", f.Side, b.Side)
	}
	if err := repo.Pair(dbc, front.ID, other.ID); !errors.Is(err, ErrAlreadyPaired) {
		t.Fatalf("err: want ErrAlreadyPaired got=%v", err)
	}
	if err := repo.Pair(dbc, other.ID, other.ID); !errors.Is(err, ErrSelfPair) {
		t.Fatalf("err: want ErrSelfPair got=%v", err)
	}
}

func TestExistingHashes(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewSubjectRepo(db, testutil.Logger(t))
	s := testutil.SeedSubject(t, ctx, db, "h1")

	got, err := repo.ExistingHashes(dbctx.Context{Ctx: ctx}, []string{"h1", "h2"})
	if err != nil {
		t.Fatalf("ExistingHashes: %v", err)
	}
	if len(got) != 1 || got["h1"] != s.ID {
		t.Fatalf("hashes: got=%v", got)
	}
}
