package recipes

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rendis/recipe-engine/internal/documents"
	"github.com/rendis/recipe-engine/internal/providers"
	"github.com/rendis/recipe-engine/pkg/schema"
)

const (
	maxDigestSources = 10
	maxSourceChars   = 6000
)

var digestLengths = map[string]string{
	"short":  "5 bullet points",
	"medium": "a 300-word digest with a headline and bullet points",
	"long":   "a 700-word newsletter section with a headline, intro and one paragraph per source",
}

// NewsDigest summarises web articles and an optional PDF into one digest.
type NewsDigest struct {
	Base
	deps Deps
}

// NewNewsDigest creates the news-digest recipe.
func NewNewsDigest(deps Deps) *NewsDigest {
	return &NewsDigest{deps: deps.withDefaults()}
}

func (r *NewsDigest) Meta() Metadata {
	return Metadata{
		Slug:             "news-digest",
		Name:             "News Digest",
		ShortDescription: "Paste links or upload a PDF and get a digest in your brand voice.",
		Description:      "Reads each article or document you provide and writes one digest, ready for a newsletter or a LinkedIn post.",
		Icon:             "📰",
		EstimatedCost:    "Free",
		Category:         CategoryResearch,
		Active:           true,
	}
}

func (r *NewsDigest) Fields() []FieldDescriptor {
	return []FieldDescriptor{
		{Name: "urls", Label: "Article links", Type: FieldTextarea, Placeholder: "One URL per line"},
		{Name: "document", Label: "PDF", Type: FieldFile, Accept: "application/pdf"},
		{Name: "focus", Label: "Angle", Type: FieldText, Placeholder: "What should the digest focus on?"},
		{Name: "length", Label: "Length", Type: FieldSelect, Default: "medium", Options: []Option{
			{Value: "short", Label: "Short"}, {Value: "medium", Label: "Medium"}, {Value: "long", Label: "Long"},
		}},
	}
}

func (r *NewsDigest) Steps() []string {
	return []string{"Reading sources", "Summarising", "Formatting digest"}
}

func (r *NewsDigest) Rules() []Rule {
	return []Rule{{
		Expression: `(has(inputs.urls) && inputs.urls != "") || (has(inputs.document) && inputs.document != "")`,
		Message:    "Add at least one link or a PDF.",
	}}
}

func (r *NewsDigest) ValidateInputs(inputs map[string]any) error {
	links := LinesInput(inputs, "urls")
	if len(links) > maxDigestSources {
		return schema.NewErrorf(schema.ErrCodeValidation, "at most %d links are allowed", maxDigestSources)
	}
	for _, l := range links {
		u, err := url.Parse(l)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "%q is not a valid link", l)
		}
	}
	return nil
}

func (r *NewsDigest) Execute(ctx context.Context, req Request) (*Result, error) {
	steps := r.Steps()
	if err := req.Report(0, steps[0]); err != nil {
		return nil, err
	}

	var (
		sources []string
		outputs []schema.OutputItem
	)
	for _, link := range LinesInput(req.Inputs, "urls") {
		article, err := r.deps.Fetcher.FetchArticle(ctx, link)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil || article.Text == "" {
			msg := "no readable text"
			if err != nil {
				msg = err.Error()
			}
			outputs = append(outputs, schema.ErrorOutput("Could not read "+link, msg))
			continue
		}
		sources = append(sources, fmt.Sprintf("SOURCE: %s (%s)\n%s", article.Title, link, documents.Truncate(article.Text, maxSourceChars)))
	}
	if path := StringInput(req.Inputs, "document", ""); path != "" {
		text, err := documents.ExtractPDF(ctx, path, documents.DefaultMaxPages)
		switch {
		case err != nil:
			outputs = append(outputs, schema.ErrorOutput("Could not read the PDF", err.Error()))
		case text == "":
			outputs = append(outputs, schema.ErrorOutput("Could not read the PDF", "the document has no extractable text"))
		default:
			sources = append(sources, "SOURCE: uploaded document\n"+documents.Truncate(text, maxSourceChars))
		}
	}
	if len(sources) == 0 {
		return &Result{Outputs: outputs}, nil
	}

	if err := req.Report(1, steps[1]); err != nil {
		return nil, err
	}
	length := digestLengths[StringInput(req.Inputs, "length", "medium")]
	if length == "" {
		length = digestLengths["medium"]
	}
	prompt := fmt.Sprintf("Summarise the sources below into %s.", length)
	if focus := StringInput(req.Inputs, "focus", ""); focus != "" {
		prompt += " Focus on: " + focus + "."
	}
	prompt += "\n\n" + strings.Join(sources, "\n\n---\n\n")

	res, err := r.deps.Providers.Text.GenerateText(ctx, providers.TextRequest{
		System: PersonaContext(req.Persona) + BrandContext(req.Brand) + CreativeDirectives("text"),
		Prompt: prompt,
	})
	if err != nil {
		return nil, err
	}

	if err := req.Report(2, steps[2]); err != nil {
		return nil, err
	}
	var spent costs
	spent.addText(res)
	digest := []schema.OutputItem{schema.TextOutput("Digest", strings.TrimSpace(res.Text))}
	return spent.result(append(digest, outputs...), res.Model), nil
}
