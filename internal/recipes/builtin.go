package recipes

import (
	"errors"
	"log/slog"

	"github.com/rendis/recipe-engine/internal/documents"
	"github.com/rendis/recipe-engine/internal/objectstore"
	"github.com/rendis/recipe-engine/internal/providers"
	"github.com/rendis/recipe-engine/pkg/schema"
)

// Deps are the collaborators built-in recipes call.
type Deps struct {
	Providers *providers.Suite
	// Assets receives run manifests; nil skips them.
	Assets  objectstore.Store
	Fetcher *documents.Fetcher
	Logger  *slog.Logger
}

// Builtins returns every built-in recipe wired to deps.
func Builtins(deps Deps) []Definition {
	return []Definition{
		NewImageCreator(deps),
		NewAdVideoMaker(deps),
		NewTalkingAvatar(deps),
		NewNewsDigest(deps),
		NewClipFactory(),
	}
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Fetcher == nil {
		d.Fetcher = documents.NewFetcher()
	}
	return d
}

// costs accumulates actual and retail cost over the calls of one run.
type costs struct {
	actual float64
	retail float64
}

func (c *costs) addMedia(r *providers.MediaResult) {
	if r == nil {
		return
	}
	c.actual += r.Cost
	c.retail += r.RetailCost
}

func (c *costs) addText(r *providers.TextResult) {
	if r == nil {
		return
	}
	c.actual += r.Cost
	c.retail += r.Cost
}

func (c *costs) result(outputs []schema.OutputItem, model string) *Result {
	retail := c.retail
	return &Result{Outputs: outputs, Cost: c.actual, RetailCost: &retail, ModelUsed: model}
}

// errText is the user-facing text of a provider failure.
func errText(err error) string {
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.Message
	}
	return err.Error()
}
