package app

import (
	"math/rand"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"shelfshare/pkg/domain"
	"shelfshare/pkg/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Filters narrows discovery queries. Zero values act as wildcards. The
// location triple narrows top-down: a selected city inconsistent with
// the state is dropped, and likewise an area inconsistent with the city.
type Filters struct {
	Query  string
	Genre  string
	Author string
	State  string
	City   string
	Area   string
}

// DiscoveryItem is one result row: the book plus the denormalized owner
// snapshot carrying the location facets.
type DiscoveryItem struct {
	Book  domain.Book          `json:"book"`
	Owner domain.OwnerSnapshot `json:"owner"`
}

// Facets are the distinct filter values currently in the index.
type Facets struct {
	Genres    []string                       `json:"genres"`
	Authors   []string                       `json:"authors"`
	Locations map[string]map[string][]string `json:"locations"` // state -> city -> areas
}

// Index answers filtered, paginated, and randomized catalog queries
// without touching the store. It is rebuilt after every catalog change.
type Index struct {
	mu      sync.RWMutex
	entries []DiscoveryItem
	facets  Facets
}

func NewIndex() *Index {
	return &Index{}
}

// Rebuild loads enlisted books and users and recomputes entries and
// facet sets. Books whose owner is missing are skipped rather than
// indexed with a hole.
func (ix *Index) Rebuild(st store.Store) error {
	var books []domain.Book
	var users []domain.User

	var g errgroup.Group
	g.Go(func() error {
		var err error
		books, err = st.ListEnlistedBooks()
		return err
	})
	g.Go(func() error {
		var err error
		users, err = st.ListUsers()
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	owners := make(map[string]domain.OwnerSnapshot, len(users))
	for _, u := range users {
		owners[u.ID] = domain.SnapshotOf(u)
	}

	entries := make([]DiscoveryItem, 0, len(books))
	genreSet := map[string]struct{}{}
	authorSet := map[string]struct{}{}
	locations := map[string]map[string][]string{}

	for _, book := range books {
		owner, ok := owners[book.OwnerID]
		if !ok {
			continue
		}
		entries = append(entries, DiscoveryItem{Book: book, Owner: owner})
		genreSet[string(book.Genre)] = struct{}{}
		if author := strings.TrimSpace(book.Author); author != "" {
			authorSet[author] = struct{}{}
		}
		addLocation(locations, owner)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = entries
	ix.facets = Facets{
		Genres:    sortedKeys(genreSet),
		Authors:   sortedKeys(authorSet),
		Locations: locations,
	}
	return nil
}

func addLocation(locations map[string]map[string][]string, owner domain.OwnerSnapshot) {
	state := strings.TrimSpace(owner.State)
	if state == "" {
		return
	}
	cities, ok := locations[state]
	if !ok {
		cities = map[string][]string{}
		locations[state] = cities
	}
	city := strings.TrimSpace(owner.City)
	if city == "" {
		return
	}
	areas := cities[city]
	area := strings.TrimSpace(owner.Area)
	if area != "" && !containsFold(areas, area) {
		areas = append(areas, area)
		sort.Strings(areas)
	}
	cities[city] = areas
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

// Facets returns a copy of the current facet sets.
func (ix *Index) Facets() Facets {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.facets
}

// Query returns one page of the filtered result set plus the total
// post-filter count. Pages are 1-indexed; a page past the end yields an
// empty slice, not an error.
func (ix *Index) Query(filters Filters, page, pageSize int) ([]DiscoveryItem, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	matched := ix.filtered(filters)
	total := len(matched)

	start := (page - 1) * pageSize
	if start >= total {
		return []DiscoveryItem{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total
}

// Surprise picks uniformly at random from the filtered result set.
func (ix *Index) Surprise(filters Filters) (DiscoveryItem, error) {
	matched := ix.filtered(filters)
	if len(matched) == 0 {
		return DiscoveryItem{}, domain.EmptyResultf("no books match the selected filters")
	}
	return matched[rand.Intn(len(matched))], nil
}

func (ix *Index) filtered(filters Filters) []DiscoveryItem {
	filters = ix.normalizeLocation(filters)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filters.Query))
	out := make([]DiscoveryItem, 0, len(ix.entries))
	for _, entry := range ix.entries {
		if !matchesText(entry, query) {
			continue
		}
		if filters.Genre != "" && !strings.EqualFold(string(entry.Book.Genre), filters.Genre) {
			continue
		}
		if filters.Author != "" && !strings.EqualFold(entry.Book.Author, filters.Author) {
			continue
		}
		if filters.State != "" && !strings.EqualFold(entry.Owner.State, filters.State) {
			continue
		}
		if filters.City != "" && !strings.EqualFold(entry.Owner.City, filters.City) {
			continue
		}
		if filters.Area != "" && !strings.EqualFold(entry.Owner.Area, filters.Area) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// normalizeLocation drops a city that does not belong to the selected
// state, and an area that does not belong to the selected city.
func (ix *Index) normalizeLocation(filters Filters) Filters {
	ix.mu.RLock()
	locations := ix.facets.Locations
	ix.mu.RUnlock()

	if filters.State != "" && filters.City != "" {
		cities, ok := lookupFold(locations, filters.State)
		if !ok {
			filters.City = ""
			filters.Area = ""
			return filters
		}
		if _, ok := lookupFold(cities, filters.City); !ok {
			filters.City = ""
			filters.Area = ""
			return filters
		}
	}
	if filters.City != "" && filters.Area != "" {
		areas := areasForCity(locations, filters.State, filters.City)
		if !containsFold(areas, filters.Area) {
			filters.Area = ""
		}
	}
	return filters
}

func lookupFold[V any](m map[string]V, key string) (V, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

func areasForCity(locations map[string]map[string][]string, state, city string) []string {
	if state != "" {
		if cities, ok := lookupFold(locations, state); ok {
			if areas, ok := lookupFold(cities, city); ok {
				return areas
			}
		}
		return nil
	}
	var out []string
	for _, cities := range locations {
		if areas, ok := lookupFold(cities, city); ok {
			out = append(out, areas...)
		}
	}
	return out
}

func matchesText(entry DiscoveryItem, query string) bool {
	if query == "" {
		return true
	}
	for _, field := range []string{
		entry.Book.Title,
		entry.Book.Note,
		entry.Book.DisplayTitle,
		entry.Book.Author,
	} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}
