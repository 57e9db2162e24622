package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"shelfshare/pkg/domain"
	"shelfshare/pkg/notify"
	"shelfshare/pkg/store"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	a, err := New(st, notify.NopPublisher{}, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, st
}

func seedUser(t *testing.T, st *store.MemoryStore, id, username, city, state string) {
	t.Helper()
	err := st.CreateUser(domain.User{
		ID:       id,
		Name:     username,
		Username: username,
		Email:    username + "@example.com",
		City:     city,
		State:    state,
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
}

func seedBook(t *testing.T, a *App, ownerID, title string) domain.Book {
	t.Helper()
	book, err := a.CreateBook(ownerID, CreateBookInput{
		Title:        title,
		Author:       "Ursula K. Le Guin",
		Genre:        domain.GenreScienceFiction,
		Year:         1969,
		Note:         "good condition",
		DisplayTitle: title,
	})
	if err != nil {
		t.Fatalf("create book %q: %v", title, err)
	}
	return book
}

func TestCreateBookValidation(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")

	valid := CreateBookInput{
		Title:        "x",
		Author:       "y",
		Genre:        domain.GenreFiction,
		Year:         2000,
		Note:         "n",
		DisplayTitle: "d",
	}
	cases := []struct {
		name   string
		mutate func(*CreateBookInput)
	}{
		{"missing title", func(in *CreateBookInput) { in.Title = "" }},
		{"missing author", func(in *CreateBookInput) { in.Author = "" }},
		{"bad genre", func(in *CreateBookInput) { in.Genre = "WESTERN" }},
		{"missing note", func(in *CreateBookInput) { in.Note = "  " }},
		{"missing display title", func(in *CreateBookInput) { in.DisplayTitle = "" }},
		{"year too old", func(in *CreateBookInput) { in.Year = 999 }},
		{"year in the future", func(in *CreateBookInput) { in.Year = time.Now().Year() + 2 }},
	}
	for _, tc := range cases {
		in := valid
		tc.mutate(&in)
		if _, err := a.CreateBook("u1", in); !domain.IsKind(err, domain.KindValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestCreateBookOpensLedger(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")

	book := seedBook(t, a, "u1", "The Left Hand of Darkness")
	if book.Status != domain.StatusAvailable {
		t.Fatalf("new book status = %s, want AVAILABLE", book.Status)
	}
	if !book.Enlisted {
		t.Fatalf("new book should be enlisted")
	}

	detail, err := a.GetBook(book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if len(detail.History) != 1 || detail.History[0].Sequence != 1 || detail.History[0].OwnerID != "u1" {
		t.Fatalf("unexpected initial history: %+v", detail.History)
	}
	if detail.Owner.ID != "u1" {
		t.Fatalf("owner snapshot id = %q, want u1", detail.Owner.ID)
	}
	if len(detail.PreviousOwners) != 0 {
		t.Fatalf("fresh book has previous owners: %+v", detail.PreviousOwners)
	}
}

func TestSubmitRequestHappyPath(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	seedUser(t, st, "u2", "bob", "Mumbai", "Maharashtra")
	book := seedBook(t, a, "u1", "The Dispossessed")

	req, err := a.SubmitRequest(context.Background(), book.ID, "u2")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Status != domain.RequestPending {
		t.Fatalf("request status = %s, want PENDING", req.Status)
	}
	if req.OwnerID != "u1" || req.RequesterID != "u2" {
		t.Fatalf("unexpected request parties: %+v", req)
	}

	got, err := a.GetBook(book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if got.Book.Status != domain.StatusRequested {
		t.Fatalf("book status = %s, want REQUESTED", got.Book.Status)
	}
}

func TestSubmitRequestRejectsSelfBorrow(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	book := seedBook(t, a, "u1", "The Dispossessed")

	if _, err := a.SubmitRequest(context.Background(), book.ID, "u1"); !domain.IsKind(err, domain.KindSelfBorrow) {
		t.Fatalf("expected self-borrow error, got %v", err)
	}
}

func TestSubmitRequestMissingBook(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")

	if _, err := a.SubmitRequest(context.Background(), "nope", "u1"); !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestSubmitRequestIdempotentForSameRequester(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	seedUser(t, st, "u2", "bob", "Mumbai", "Maharashtra")
	book := seedBook(t, a, "u1", "The Dispossessed")

	first, err := a.SubmitRequest(context.Background(), book.ID, "u2")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := a.SubmitRequest(context.Background(), book.ID, "u2")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("resubmit created a new request: %s != %s", second.ID, first.ID)
	}
}

func TestSubmitRequestBlockedWhilePending(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	seedUser(t, st, "u2", "bob", "Mumbai", "Maharashtra")
	seedUser(t, st, "u3", "carol", "Nashik", "Maharashtra")
	book := seedBook(t, a, "u1", "The Dispossessed")

	if _, err := a.SubmitRequest(context.Background(), book.ID, "u2"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := a.SubmitRequest(context.Background(), book.ID, "u3"); !domain.IsKind(err, domain.KindInvalidState) {
		t.Fatalf("expected invalid-state error for second requester, got %v", err)
	}
}

func TestConcurrentSubmitsOneWinner(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	book := seedBook(t, a, "u1", "The Dispossessed")

	const racers = 8
	for i := 0; i < racers; i++ {
		seedUser(t, st, requesterID(i), "racer"+requesterID(i), "Pune", "Maharashtra")
	}

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = a.SubmitRequest(context.Background(), book.ID, requesterID(i))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case domain.IsKind(err, domain.KindInvalidState), domain.IsKind(err, domain.KindConflict):
		default:
			t.Fatalf("unexpected racer error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("got %d winning submits, want exactly 1", wins)
	}

	pending, err := st.ListRequestsByOwner("u1", domain.RequestPending)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending requests, want 1", len(pending))
	}
}

func requesterID(i int) string {
	return "racer-" + string(rune('a'+i))
}

func TestApproveTransfersOwnership(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	seedUser(t, st, "u2", "bob", "Mumbai", "Maharashtra")
	book := seedBook(t, a, "u1", "The Dispossessed")

	req, err := a.SubmitRequest(context.Background(), book.ID, "u2")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	resolved, err := a.Approve(context.Background(), req.ID, "u1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if resolved.Status != domain.RequestAccepted {
		t.Fatalf("request status = %s, want ACCEPTED", resolved.Status)
	}
	if resolved.ResolvedAt == nil {
		t.Fatalf("ResolvedAt not set")
	}

	detail, err := a.GetBook(book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if detail.Book.Status != domain.StatusBorrowed {
		t.Fatalf("book status = %s, want BORROWED", detail.Book.Status)
	}
	if detail.Book.OwnerID != "u2" {
		t.Fatalf("book owner = %s, want u2", detail.Book.OwnerID)
	}
	if len(detail.History) != 2 || detail.History[1].OwnerID != "u2" || detail.History[1].Sequence != 2 {
		t.Fatalf("unexpected ledger after approve: %+v", detail.History)
	}
	if len(detail.PreviousOwners) != 1 || detail.PreviousOwners[0].ID != "u1" {
		t.Fatalf("unexpected previous owners: %+v", detail.PreviousOwners)
	}
}

func TestApproveRequiresOwner(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	seedUser(t, st, "u2", "bob", "Mumbai", "Maharashtra")
	book := seedBook(t, a, "u1", "The Dispossessed")

	req, err := a.SubmitRequest(context.Background(), book.ID, "u2")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := a.Approve(context.Background(), req.ID, "u2"); !domain.IsKind(err, domain.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if _, err := a.Reject(context.Background(), req.ID, "u2"); !domain.IsKind(err, domain.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestRejectReleasesBook(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	seedUser(t, st, "u2", "bob", "Mumbai", "Maharashtra")
	book := seedBook(t, a, "u1", "The Dispossessed")

	req, err := a.SubmitRequest(context.Background(), book.ID, "u2")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	resolved, err := a.Reject(context.Background(), req.ID, "u1")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if resolved.Status != domain.RequestRejected {
		t.Fatalf("request status = %s, want REJECTED", resolved.Status)
	}

	detail, err := a.GetBook(book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if detail.Book.Status != domain.StatusAvailable {
		t.Fatalf("book status = %s, want AVAILABLE", detail.Book.Status)
	}
	if detail.Book.OwnerID != "u1" {
		t.Fatalf("reject must not transfer ownership, owner = %s", detail.Book.OwnerID)
	}
	if len(detail.History) != 1 {
		t.Fatalf("reject must not touch the ledger, got %d records", len(detail.History))
	}

	// Book is requestable again.
	if _, err := a.SubmitRequest(context.Background(), book.ID, "u2"); err != nil {
		t.Fatalf("resubmit after reject: %v", err)
	}
}

func TestCancelRequiresRequester(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	seedUser(t, st, "u2", "bob", "Mumbai", "Maharashtra")
	book := seedBook(t, a, "u1", "The Dispossessed")

	req, err := a.SubmitRequest(context.Background(), book.ID, "u2")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := a.Cancel(context.Background(), req.ID, "u1"); !domain.IsKind(err, domain.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	resolved, err := a.Cancel(context.Background(), req.ID, "u2")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if resolved.Status != domain.RequestCancelled {
		t.Fatalf("request status = %s, want CANCELLED", resolved.Status)
	}

	detail, err := a.GetBook(book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if detail.Book.Status != domain.StatusAvailable {
		t.Fatalf("book status = %s, want AVAILABLE after cancel", detail.Book.Status)
	}
}

func TestResolvedRequestIsTerminal(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	seedUser(t, st, "u2", "bob", "Mumbai", "Maharashtra")
	book := seedBook(t, a, "u1", "The Dispossessed")

	req, err := a.SubmitRequest(context.Background(), book.ID, "u2")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := a.Reject(context.Background(), req.ID, "u1"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := a.Approve(context.Background(), req.ID, "u1"); !domain.IsKind(err, domain.KindInvalidState) {
		t.Fatalf("approve after reject: expected invalid-state error, got %v", err)
	}
	if _, err := a.Cancel(context.Background(), req.ID, "u2"); !domain.IsKind(err, domain.KindInvalidState) {
		t.Fatalf("cancel after reject: expected invalid-state error, got %v", err)
	}
}

func TestConcurrentResolveOneWinner(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	seedUser(t, st, "u2", "bob", "Mumbai", "Maharashtra")
	book := seedBook(t, a, "u1", "The Dispossessed")

	req, err := a.SubmitRequest(context.Background(), book.ID, "u2")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	var wg sync.WaitGroup
	var approveErr, cancelErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, approveErr = a.Approve(context.Background(), req.ID, "u1")
	}()
	go func() {
		defer wg.Done()
		_, cancelErr = a.Cancel(context.Background(), req.ID, "u2")
	}()
	wg.Wait()

	if (approveErr == nil) == (cancelErr == nil) {
		t.Fatalf("exactly one resolution must win: approve=%v cancel=%v", approveErr, cancelErr)
	}
	loser := approveErr
	if loser == nil {
		loser = cancelErr
	}
	if !domain.IsKind(loser, domain.KindInvalidState) && !domain.IsKind(loser, domain.KindConflict) {
		t.Fatalf("loser error = %v, want invalid-state or conflict", loser)
	}

	got, _, err := st.GetBook(book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if got.Status != domain.StatusBorrowed && got.Status != domain.StatusAvailable {
		t.Fatalf("book left in %s after race", got.Status)
	}
}

func TestListBorrowedBooks(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	seedUser(t, st, "u2", "bob", "Mumbai", "Maharashtra")
	owned := seedBook(t, a, "u2", "Bob's Own Book")
	book := seedBook(t, a, "u1", "The Dispossessed")

	req, err := a.SubmitRequest(context.Background(), book.ID, "u2")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := a.Approve(context.Background(), req.ID, "u1"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	borrowed, err := a.ListBorrowedBooks("u2")
	if err != nil {
		t.Fatalf("list borrowed: %v", err)
	}
	if len(borrowed) != 1 || borrowed[0].ID != book.ID {
		t.Fatalf("unexpected borrowed set: %+v", borrowed)
	}

	mine, err := a.ListOwnedBooks("u2")
	if err != nil {
		t.Fatalf("list owned: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("u2 should hold 2 books, got %d", len(mine))
	}
	_ = owned
}

func TestSetEnlistedOwnerOnly(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	seedUser(t, st, "u2", "bob", "Mumbai", "Maharashtra")
	book := seedBook(t, a, "u1", "The Dispossessed")

	if _, err := a.SetEnlisted(book.ID, "u2", false); !domain.IsKind(err, domain.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	updated, err := a.SetEnlisted(book.ID, "u1", false)
	if err != nil {
		t.Fatalf("delist: %v", err)
	}
	if updated.Enlisted {
		t.Fatalf("book still enlisted after delist")
	}

	items, total := a.Index().Query(Filters{}, 1, 50)
	if total != 0 || len(items) != 0 {
		t.Fatalf("delisted book still discoverable: total=%d", total)
	}
}

func TestSetEnlistedAfterOwnershipTransfer(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	seedUser(t, st, "u2", "bob", "Mumbai", "Maharashtra")
	book := seedBook(t, a, "u1", "The Dispossessed")

	req, err := a.SubmitRequest(context.Background(), book.ID, "u2")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := a.Approve(context.Background(), req.ID, "u1"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// the listing now belongs to the new custodian
	if _, err := a.SetEnlisted(book.ID, "u1", false); !domain.IsKind(err, domain.KindAuthorization) {
		t.Fatalf("expected authorization error for former owner, got %v", err)
	}
	updated, err := a.SetEnlisted(book.ID, "u2", false)
	if err != nil {
		t.Fatalf("delist as new owner: %v", err)
	}
	if updated.Enlisted {
		t.Fatalf("book still enlisted after delist")
	}
}

func TestExpireStaleRequests(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	seedUser(t, st, "u2", "bob", "Mumbai", "Maharashtra")
	stale := seedBook(t, a, "u1", "Stale Target")
	fresh := seedBook(t, a, "u1", "Fresh Target")

	old := domain.BorrowRequest{
		ID:          "req-old",
		BookID:      stale.ID,
		RequesterID: "u2",
		OwnerID:     "u1",
		Status:      domain.RequestPending,
		RequestedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	if err := st.OpenRequest(old); err != nil {
		t.Fatalf("open stale request: %v", err)
	}
	if _, err := a.SubmitRequest(context.Background(), fresh.ID, "u2"); err != nil {
		t.Fatalf("submit fresh request: %v", err)
	}

	expired, err := a.ExpireStaleRequests(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired %d requests, want 1", expired)
	}

	got, _, err := st.GetRequest("req-old")
	if err != nil {
		t.Fatalf("get stale request: %v", err)
	}
	if got.Status != domain.RequestRejected {
		t.Fatalf("stale request status = %s, want REJECTED", got.Status)
	}
	releasedBook, _, err := st.GetBook(stale.ID)
	if err != nil {
		t.Fatalf("get released book: %v", err)
	}
	if releasedBook.Status != domain.StatusAvailable {
		t.Fatalf("released book status = %s, want AVAILABLE", releasedBook.Status)
	}

	freshBook, _, err := st.GetBook(fresh.ID)
	if err != nil {
		t.Fatalf("get fresh book: %v", err)
	}
	if freshBook.Status != domain.StatusRequested {
		t.Fatalf("fresh request must survive the sweep, book status = %s", freshBook.Status)
	}
}

func TestListIncomingAndSentFilters(t *testing.T) {
	a, st := newTestApp(t)
	seedUser(t, st, "u1", "alice", "Pune", "Maharashtra")
	seedUser(t, st, "u2", "bob", "Mumbai", "Maharashtra")
	b1 := seedBook(t, a, "u1", "First")
	b2 := seedBook(t, a, "u1", "Second")

	r1, err := a.SubmitRequest(context.Background(), b1.ID, "u2")
	if err != nil {
		t.Fatalf("submit r1: %v", err)
	}
	if _, err := a.SubmitRequest(context.Background(), b2.ID, "u2"); err != nil {
		t.Fatalf("submit r2: %v", err)
	}
	if _, err := a.Reject(context.Background(), r1.ID, "u1"); err != nil {
		t.Fatalf("reject r1: %v", err)
	}

	incoming, err := a.ListIncoming("u1", "")
	if err != nil {
		t.Fatalf("list incoming: %v", err)
	}
	if len(incoming) != 2 {
		t.Fatalf("incoming all = %d, want 2", len(incoming))
	}
	pending, err := a.ListIncoming("u1", domain.RequestPending)
	if err != nil {
		t.Fatalf("list incoming pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("incoming pending = %d, want 1", len(pending))
	}
	sentRejected, err := a.ListSent("u2", domain.RequestRejected)
	if err != nil {
		t.Fatalf("list sent rejected: %v", err)
	}
	if len(sentRejected) != 1 || sentRejected[0].ID != r1.ID {
		t.Fatalf("unexpected sent rejected set: %+v", sentRejected)
	}
}
