package repository

import (
    "context"
    "strconv"
    "time"

    "github.com/patrickmn/go-cache"
    "golang.org/x/sync/singleflight"

    appErrors "github.com/unclebandit/wagateway/internal/errors"
    "github.com/unclebandit/wagateway/internal/model"
)

// CachedTemplateRepository keeps templates in memory for ttl. Concurrent
// misses for the same id share one load. Templates that are not usable are
// reported as not found.
type CachedTemplateRepository struct {
    next  TemplateRepositoryInterface
    cache *cache.Cache
    group singleflight.Group
}

func NewCachedTemplateRepository(next TemplateRepositoryInterface, ttl time.Duration) *CachedTemplateRepository {
    return &CachedTemplateRepository{
        next:  next,
        cache: cache.New(ttl, 2*ttl),
    }
}

func (r *CachedTemplateRepository) GetByID(ctx context.Context, id int64) (*model.Template, error) {
    key := strconv.FormatInt(id, 10)
    if v, ok := r.cache.Get(key); ok {
        return usable(v.(*model.Template))
    }

    v, err, _ := r.group.Do(key, func() (any, error) {
        t, err := r.next.GetByID(ctx, id)
        if err != nil {
            return nil, err
        }
        r.cache.SetDefault(key, t)
        return t, nil
    })
    if err != nil {
        return nil, err
    }
    return usable(v.(*model.Template))
}

// Invalidate drops id so the next lookup hits the store.
func (r *CachedTemplateRepository) Invalidate(id int64) {
    r.cache.Delete(strconv.FormatInt(id, 10))
}

func usable(t *model.Template) (*model.Template, error) {
    if !t.Usable() {
        return nil, appErrors.NewTemplateNotFound(t.ID)
    }
    // callers get their own copy
    cp := *t
    cp.Variables = append([]string(nil), t.Variables...)
    return &cp, nil
}

var _ TemplateRepositoryInterface = (*CachedTemplateRepository)(nil)
