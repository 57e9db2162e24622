package app

import (
	"context"
	"time"

	"shelfshare/internal/util"
	"shelfshare/pkg/domain"
	"shelfshare/pkg/notify"
)

// SubmitRequest opens a borrow request from requesterID against bookID.
// The book must be AVAILABLE; at most one PENDING request exists per
// book at a time. Re-submitting while the caller's own request is still
// PENDING returns that request unchanged.
func (a *App) SubmitRequest(ctx context.Context, bookID, requesterID string) (domain.BorrowRequest, error) {
	unlock := a.locks.lock(bookID)
	defer unlock()

	book, ok, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.BorrowRequest{}, err
	}
	if !ok {
		return domain.BorrowRequest{}, domain.NotFoundf("book %s not found", bookID)
	}
	if book.OwnerID == requesterID {
		return domain.BorrowRequest{}, domain.SelfBorrowf("you already hold this book")
	}
	switch book.Status {
	case domain.StatusAvailable:
	case domain.StatusRequested:
		if existing, ok, err := a.store.FindPendingRequest(bookID, requesterID); err != nil {
			return domain.BorrowRequest{}, err
		} else if ok {
			return existing, nil
		}
		return domain.BorrowRequest{}, domain.InvalidStatef("the book already has a pending request")
	case domain.StatusBorrowed:
		return domain.BorrowRequest{}, domain.InvalidStatef("the book is currently borrowed")
	default:
		return domain.BorrowRequest{}, domain.InvalidStatef("the book cannot be requested in state %s", book.Status)
	}

	req := domain.BorrowRequest{
		ID:          util.NewID(),
		BookID:      bookID,
		RequesterID: requesterID,
		OwnerID:     book.OwnerID,
		Status:      domain.RequestPending,
		RequestedAt: time.Now().UTC(),
	}
	if err := a.store.OpenRequest(req); err != nil {
		return domain.BorrowRequest{}, mapStoreErr(err)
	}
	a.publish(ctx, notify.EventRequestSubmitted, req)
	a.reindex()
	return req, nil
}

// Approve resolves a pending request in the requester's favor. Only the
// current owner may approve. On success the ledger gains a record, the
// book transfers to the requester, and the book is BORROWED.
func (a *App) Approve(ctx context.Context, requestID, callerID string) (domain.BorrowRequest, error) {
	req, err := a.resolveRequest(ctx, requestID, callerID, domain.RequestAccepted)
	if err != nil {
		return domain.BorrowRequest{}, err
	}
	a.publish(ctx, notify.EventRequestAccepted, req)
	a.reindex()
	return req, nil
}

// Reject resolves a pending request in the owner's favor; the book
// returns to AVAILABLE.
func (a *App) Reject(ctx context.Context, requestID, callerID string) (domain.BorrowRequest, error) {
	req, err := a.resolveRequest(ctx, requestID, callerID, domain.RequestRejected)
	if err != nil {
		return domain.BorrowRequest{}, err
	}
	a.publish(ctx, notify.EventRequestRejected, req)
	a.reindex()
	return req, nil
}

// Cancel withdraws a pending request. Only the requester may cancel.
func (a *App) Cancel(ctx context.Context, requestID, callerID string) (domain.BorrowRequest, error) {
	req, err := a.resolveRequest(ctx, requestID, callerID, domain.RequestCancelled)
	if err != nil {
		return domain.BorrowRequest{}, err
	}
	a.publish(ctx, notify.EventRequestCancelled, req)
	a.reindex()
	return req, nil
}

// resolveRequest drives all three terminal transitions under the book
// lock: authorization, the terminal-state check, and the store's atomic
// close or accept.
func (a *App) resolveRequest(ctx context.Context, requestID, callerID string, next domain.RequestStatus) (domain.BorrowRequest, error) {
	req, ok, err := a.store.GetRequest(requestID)
	if err != nil {
		return domain.BorrowRequest{}, err
	}
	if !ok {
		return domain.BorrowRequest{}, domain.NotFoundf("borrow request %s not found", requestID)
	}

	unlock := a.locks.lock(req.BookID)
	defer unlock()

	// Re-read under the lock so racers observe each other's outcome.
	req, ok, err = a.store.GetRequest(requestID)
	if err != nil {
		return domain.BorrowRequest{}, err
	}
	if !ok {
		return domain.BorrowRequest{}, domain.NotFoundf("borrow request %s not found", requestID)
	}

	switch next {
	case domain.RequestAccepted, domain.RequestRejected:
		if req.OwnerID != callerID {
			return domain.BorrowRequest{}, domain.Authorizationf("only the book's owner may resolve this request")
		}
	case domain.RequestCancelled:
		if req.RequesterID != callerID {
			return domain.BorrowRequest{}, domain.Authorizationf("only the requester may cancel this request")
		}
	}

	if req.Status.Terminal() {
		return domain.BorrowRequest{}, domain.InvalidStatef("the request was already resolved as %s", req.Status)
	}

	now := time.Now().UTC()
	if next == domain.RequestAccepted {
		err = a.store.AcceptRequest(requestID, now)
	} else {
		err = a.store.CloseRequest(requestID, next, now)
	}
	if err != nil {
		return domain.BorrowRequest{}, mapStoreErr(err)
	}

	req.Status = next
	req.ResolvedAt = &now
	return req, nil
}

// ListIncoming returns requests targeting books callerID owns,
// optionally narrowed to one status ("" matches all).
func (a *App) ListIncoming(callerID string, status domain.RequestStatus) ([]domain.BorrowRequest, error) {
	return a.store.ListRequestsByOwner(callerID, status)
}

// ListSent returns requests callerID has submitted, optionally narrowed
// to one status ("" matches all).
func (a *App) ListSent(callerID string, status domain.RequestStatus) ([]domain.BorrowRequest, error) {
	return a.store.ListRequestsByRequester(callerID, status)
}

// ExpireStaleRequests rejects every PENDING request older than maxAge,
// releasing the books back to AVAILABLE. It returns how many requests
// were expired; individual conflicts are skipped, not fatal.
func (a *App) ExpireStaleRequests(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	stale, err := a.store.ListPendingRequestsBefore(cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, req := range stale {
		if _, err := a.Reject(ctx, req.ID, req.OwnerID); err != nil {
			if domain.KindOf(err) != "" {
				continue
			}
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		a.logger.Info("expired stale borrow requests", "count", expired, "cutoff", cutoff)
	}
	return expired, nil
}
