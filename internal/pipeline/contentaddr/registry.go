package contentaddr

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	lectrepo "github.com/srleom/miniclue/internal/data/repos/lectures"
	types "github.com/srleom/miniclue/internal/domain/lectures"
	"github.com/srleom/miniclue/internal/platform/dbctx"
)

func LecturePath(lectureID uuid.UUID, hash string) string {
	return fmt.Sprintf("lectures/%s/images/%s.png", lectureID, hash)
}

func GlobalPath(hash string) string {
	return fmt.Sprintf("global/images/%s.png", hash)
}

// Local is the lecture-scoped registry. It lives for one ingest pass.
type Local struct {
	mu   sync.Mutex
	seen map[string]string
}

func NewLocal() *Local {
	return &Local{seen: map[string]string{}}
}

// LookupOrRegister returns the location already bound to hash, or binds
// candidate and reports isNew.
func (l *Local) LookupOrRegister(hash, candidate string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if loc, ok := l.seen[hash]; ok {
		return loc, false
	}
	l.seen[hash] = candidate
	return candidate, true
}

func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Global is the persistent registry of decorative images shared by all
// lectures.
type Global struct {
	repo lectrepo.DecorativeRepo
}

func NewGlobal(repo lectrepo.DecorativeRepo) *Global {
	return &Global{repo: repo}
}

// Lookup returns the stored entry for hash, or nil.
func (g *Global) Lookup(dbc dbctx.Context, hash string) (*types.DecorativeImage, error) {
	return g.repo.Get(dbc, hash)
}

// LookupOrRegister inserts entry if its hash is unknown and returns the
// stored row, so concurrent callers converge on one location.
func (g *Global) LookupOrRegister(dbc dbctx.Context, entry *types.DecorativeImage) (*types.DecorativeImage, bool, error) {
	if entry == nil || entry.ImageHash == "" {
		return nil, false, fmt.Errorf("global registry: image hash required")
	}
	if entry.StoragePath == "" {
		entry.StoragePath = GlobalPath(entry.ImageHash)
	}
	return g.repo.InsertIfAbsent(dbc, entry)
}
