package docengine

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/couchmongo/couchmongo/internal/apperr"
	"github.com/couchmongo/couchmongo/internal/designrepo"
	"github.com/couchmongo/couchmongo/internal/viewengine"
)

// collSource adapts a mongodb.CollectionHandle to viewengine.Source.
type collSource struct {
	e  *Engine
	db string
}

func (s collSource) Each(ctx context.Context, fn func(doc map[string]interface{}) error) error {
	return s.e.adapter.Collection(s.db).FindStream(ctx, bson.M{}, nil, fn)
}

// View runs a map/reduce view build, delegating design-source lookup to
// repo and document streaming to the Mongo adapter, per §4.4.
func (e *Engine) View(ctx context.Context, repo *designrepo.Repo, engine *viewengine.Engine, db, design, name string, opts viewengine.Options) (viewengine.Result, error) {
	v, err := repo.LookupView(ctx, db, design, name)
	if err != nil {
		return viewengine.Result{}, err
	}
	if v.MapSrc == "" {
		return viewengine.Result{}, apperr.NotFound("view %s/_design/%s/_view/%s not found", db, design, name)
	}

	docByID := func(ctx context.Context, id string) (map[string]interface{}, error) {
		return e.Get(ctx, db, id, "")
	}

	return engine.Run(ctx, collSource{e: e, db: db}, viewengine.View{MapSrc: v.MapSrc, ReduceSrc: v.ReduceSrc}, opts, docByID)
}
