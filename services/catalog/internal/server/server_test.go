package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"shelfshare/internal/usertoken"
	"shelfshare/pkg/domain"
	"shelfshare/pkg/notify"
	"shelfshare/pkg/store"
	"shelfshare/services/catalog/internal/app"
)

type testEnv struct {
	server *Server
	store  *store.MemoryStore
	tokens *usertoken.Service
	app    *app.App
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	a, err := app.New(st, notify.NopPublisher{}, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	tokens, err := usertoken.New(usertoken.Config{Secret: "test-secret-please-rotate"})
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}
	return &testEnv{
		server: New(Config{App: a, TokenVerifier: tokens}),
		store:  st,
		tokens: tokens,
		app:    a,
	}
}

func (e *testEnv) addUser(t *testing.T, id, username string) string {
	t.Helper()
	err := e.store.CreateUser(domain.User{
		ID:       id,
		Name:     username,
		Username: username,
		Email:    username + "@example.com",
		City:     "Pune",
		State:    "Maharashtra",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := e.tokens.Issue(id)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestCreateBookEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.addUser(t, "u1", "alice")

	rec := env.do(t, http.MethodPost, "/books", token, map[string]any{
		"bookTitle":       "The Dispossessed",
		"authorName":      "Ursula K. Le Guin",
		"bookGenre":       "SCIENCE_FICTION",
		"publicationYear": 1974,
		"noteContent":     "paperback",
		"customizedTitle": "The Dispossessed",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var book domain.Book
	decodeInto(t, rec, &book)
	if book.Status != domain.StatusAvailable || book.OwnerID != "u1" {
		t.Fatalf("unexpected book: %+v", book)
	}
}

func TestCreateBookRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/books", "", map[string]any{"bookTitle": "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var resp struct {
		Code string `json:"code"`
	}
	decodeInto(t, rec, &resp)
	if resp.Code != "UNAUTHORIZED" {
		t.Fatalf("code = %q, want UNAUTHORIZED", resp.Code)
	}
}

func TestCreateBookValidationError(t *testing.T) {
	env := newTestEnv(t)
	token := env.addUser(t, "u1", "alice")

	rec := env.do(t, http.MethodPost, "/books", token, map[string]any{
		"bookTitle":       "The Dispossessed",
		"authorName":      "Ursula K. Le Guin",
		"bookGenre":       "WESTERN",
		"publicationYear": 1974,
		"noteContent":     "paperback",
		"customizedTitle": "The Dispossessed",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Code      string `json:"code"`
		RequestID string `json:"requestId"`
	}
	decodeInto(t, rec, &resp)
	if resp.Code != "INVALID_INPUT" {
		t.Fatalf("code = %q, want INVALID_INPUT", resp.Code)
	}
	if resp.RequestID == "" {
		t.Fatalf("error response missing requestId")
	}
}

func TestDiscoverAndDetail(t *testing.T) {
	env := newTestEnv(t)
	token := env.addUser(t, "u1", "alice")

	created := env.do(t, http.MethodPost, "/books", token, map[string]any{
		"bookTitle":       "A Wizard of Earthsea",
		"authorName":      "Ursula K. Le Guin",
		"bookGenre":       "FANTASY",
		"publicationYear": 1968,
		"noteContent":     "hardcover",
		"customizedTitle": "Earthsea #1",
	})
	var book domain.Book
	decodeInto(t, created, &book)

	rec := env.do(t, http.MethodGet, "/books?genre=FANTASY", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("discover status = %d", rec.Code)
	}
	var page struct {
		Items      []app.DiscoveryItem `json:"items"`
		TotalCount int                 `json:"totalCount"`
	}
	decodeInto(t, rec, &page)
	if page.TotalCount != 1 || len(page.Items) != 1 {
		t.Fatalf("unexpected discovery page: %+v", page)
	}
	if page.Items[0].Owner.Username != "alice" {
		t.Fatalf("owner snapshot missing: %+v", page.Items[0].Owner)
	}

	detail := env.do(t, http.MethodGet, "/books/"+book.ID, "", nil)
	if detail.Code != http.StatusOK {
		t.Fatalf("detail status = %d", detail.Code)
	}
	var d app.BookDetail
	decodeInto(t, detail, &d)
	if len(d.History) != 1 {
		t.Fatalf("detail history = %+v", d.History)
	}

	missing := env.do(t, http.MethodGet, "/books/nope", "", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("missing book status = %d", missing.Code)
	}
}

func TestBorrowLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	owner := env.addUser(t, "u1", "alice")
	requester := env.addUser(t, "u2", "bob")

	created := env.do(t, http.MethodPost, "/books", owner, map[string]any{
		"bookTitle":       "The Dispossessed",
		"authorName":      "Ursula K. Le Guin",
		"bookGenre":       "SCIENCE_FICTION",
		"publicationYear": 1974,
		"noteContent":     "paperback",
		"customizedTitle": "The Dispossessed",
	})
	var book domain.Book
	decodeInto(t, created, &book)

	// self-borrow blocked
	self := env.do(t, http.MethodPost, "/books/"+book.ID+"/request", owner, nil)
	if self.Code != http.StatusUnprocessableEntity {
		t.Fatalf("self-borrow status = %d", self.Code)
	}

	submitted := env.do(t, http.MethodPost, "/books/"+book.ID+"/request", requester, nil)
	if submitted.Code != http.StatusCreated {
		t.Fatalf("submit status = %d body = %s", submitted.Code, submitted.Body.String())
	}
	var req domain.BorrowRequest
	decodeInto(t, submitted, &req)

	incoming := env.do(t, http.MethodGet, "/books/incoming-requests?status=PENDING", owner, nil)
	var incomingList []domain.BorrowRequest
	decodeInto(t, incoming, &incomingList)
	if len(incomingList) != 1 || incomingList[0].ID != req.ID {
		t.Fatalf("incoming list = %+v", incomingList)
	}

	// requester cannot approve
	forbidden := env.do(t, http.MethodPost, "/books/requests/"+req.ID+"/approve", requester, nil)
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("non-owner approve status = %d", forbidden.Code)
	}

	approved := env.do(t, http.MethodPost, "/books/requests/"+req.ID+"/approve", owner, nil)
	if approved.Code != http.StatusOK {
		t.Fatalf("approve status = %d body = %s", approved.Code, approved.Body.String())
	}

	borrowed := env.do(t, http.MethodGet, "/books/borrowed", requester, nil)
	var borrowedList []domain.Book
	decodeInto(t, borrowed, &borrowedList)
	if len(borrowedList) != 1 || borrowedList[0].ID != book.ID {
		t.Fatalf("borrowed list = %+v", borrowedList)
	}

	// approving again conflicts
	again := env.do(t, http.MethodPost, "/books/requests/"+req.ID+"/approve", owner, nil)
	if again.Code != http.StatusConflict {
		t.Fatalf("double approve status = %d", again.Code)
	}
}

func TestCancelOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	owner := env.addUser(t, "u1", "alice")
	requester := env.addUser(t, "u2", "bob")

	created := env.do(t, http.MethodPost, "/books", owner, map[string]any{
		"bookTitle":       "The Dispossessed",
		"authorName":      "Ursula K. Le Guin",
		"bookGenre":       "SCIENCE_FICTION",
		"publicationYear": 1974,
		"noteContent":     "paperback",
		"customizedTitle": "The Dispossessed",
	})
	var book domain.Book
	decodeInto(t, created, &book)

	submitted := env.do(t, http.MethodPost, "/books/"+book.ID+"/request", requester, nil)
	var req domain.BorrowRequest
	decodeInto(t, submitted, &req)

	// owner cannot cancel the requester's request
	forbidden := env.do(t, http.MethodPost, "/user/borrowRequests/"+req.ID+"/cancel", owner, nil)
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("owner cancel status = %d", forbidden.Code)
	}

	cancelled := env.do(t, http.MethodPost, "/user/borrowRequests/"+req.ID+"/cancel", requester, nil)
	if cancelled.Code != http.StatusOK {
		t.Fatalf("cancel status = %d body = %s", cancelled.Code, cancelled.Body.String())
	}

	sent := env.do(t, http.MethodGet, "/user/borrowRequestsSent?status=CANCELLED", requester, nil)
	var sentList []domain.BorrowRequest
	decodeInto(t, sent, &sentList)
	if len(sentList) != 1 {
		t.Fatalf("sent cancelled list = %+v", sentList)
	}
}

func TestSurpriseEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.addUser(t, "u1", "alice")

	empty := env.do(t, http.MethodGet, "/books/surprise", "", nil)
	if empty.Code != http.StatusNotFound {
		t.Fatalf("empty surprise status = %d", empty.Code)
	}

	env.do(t, http.MethodPost, "/books", token, map[string]any{
		"bookTitle":       "The Hound of the Baskervilles",
		"authorName":      "Arthur Conan Doyle",
		"bookGenre":       "MYSTERY",
		"publicationYear": 1902,
		"noteContent":     "well loved",
		"customizedTitle": "Baskervilles",
	})

	rec := env.do(t, http.MethodGet, "/books/surprise?genre=MYSTERY", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("surprise status = %d body = %s", rec.Code, rec.Body.String())
	}
	var item app.DiscoveryItem
	decodeInto(t, rec, &item)
	if item.Book.Genre != domain.GenreMystery {
		t.Fatalf("surprise item = %+v", item)
	}
}

func TestEnlistToggleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	owner := env.addUser(t, "u1", "alice")
	other := env.addUser(t, "u2", "bob")

	created := env.do(t, http.MethodPost, "/books", owner, map[string]any{
		"bookTitle":       "The Dispossessed",
		"authorName":      "Ursula K. Le Guin",
		"bookGenre":       "SCIENCE_FICTION",
		"publicationYear": 1974,
		"noteContent":     "paperback",
		"customizedTitle": "The Dispossessed",
	})
	var book domain.Book
	decodeInto(t, created, &book)

	forbidden := env.do(t, http.MethodPost, "/books/"+book.ID+"/enlist", other, map[string]bool{"enlisted": false})
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("non-owner enlist status = %d", forbidden.Code)
	}

	rec := env.do(t, http.MethodPost, "/books/"+book.ID+"/enlist", owner, map[string]bool{"enlisted": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("delist status = %d body = %s", rec.Code, rec.Body.String())
	}

	listed := env.do(t, http.MethodGet, "/books", "", nil)
	var page struct {
		TotalCount int `json:"totalCount"`
	}
	decodeInto(t, listed, &page)
	if page.TotalCount != 0 {
		t.Fatalf("delisted book still listed, total = %d", page.TotalCount)
	}
}

func TestReviewsOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	owner := env.addUser(t, "u1", "alice")
	reader := env.addUser(t, "u2", "bob")

	created := env.do(t, http.MethodPost, "/books", owner, map[string]any{
		"bookTitle":       "The Left Hand of Darkness",
		"authorName":      "Ursula K. Le Guin",
		"bookGenre":       "SCIENCE_FICTION",
		"publicationYear": 1969,
		"noteContent":     "paperback",
		"customizedTitle": "Left Hand",
	})
	var book domain.Book
	decodeInto(t, created, &book)

	bad := env.do(t, http.MethodPost, "/books/"+book.ID+"/reviews", reader, map[string]int{"ratings": 9})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range rating status = %d", bad.Code)
	}

	posted := env.do(t, http.MethodPost, "/books/"+book.ID+"/reviews", reader, map[string]int{"ratings": 5})
	if posted.Code != http.StatusCreated {
		t.Fatalf("add review status = %d body = %s", posted.Code, posted.Body.String())
	}
	var review domain.Review
	decodeInto(t, posted, &review)
	if review.Rating != 5 || review.UserID != "u2" {
		t.Fatalf("unexpected review: %+v", review)
	}

	listed := env.do(t, http.MethodGet, "/books/"+book.ID+"/reviews", "", nil)
	if listed.Code != http.StatusOK {
		t.Fatalf("list reviews status = %d", listed.Code)
	}
	var reviews []domain.Review
	decodeInto(t, listed, &reviews)
	if len(reviews) != 1 || reviews[0].ID != review.ID {
		t.Fatalf("reviews list = %+v", reviews)
	}

	missing := env.do(t, http.MethodGet, "/books/nope/reviews", "", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("missing book reviews status = %d", missing.Code)
	}
}

func TestMutationRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	paths := []string{
		"/books",
		"/books/b1/enlist",
		"/books/b1/request",
		"/books/b1/reviews",
		"/books/requests/r1/approve",
		"/books/requests/r1/reject",
		"/user/borrowRequests/r1/cancel",
	}
	for _, path := range paths {
		rec := env.do(t, http.MethodPost, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("POST %s without token: status = %d, want 401", path, rec.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}
