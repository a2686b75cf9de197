package pipeline

import (
	"context"
	"errors"

	"tgpipeline/pkg/enrich"
	"tgpipeline/pkg/partition"
	"tgpipeline/pkg/scraper"
	"tgpipeline/pkg/warehouse"
)

// Node names of the ingestion pipeline
const (
	NodeScrape    = "scrape"
	NodeEnrich    = "enrich"
	NodeLoad      = "load"
	NodeTransform = "transform"
)

// Stages are the entry points of the four pipeline nodes
type Stages struct {
	Scrape    func(ctx context.Context, part partition.Partition) (*scraper.Summary, error)
	Enrich    func(ctx context.Context, part partition.Partition) (*enrich.Summary, error)
	Load      func(ctx context.Context, part partition.Partition) (*warehouse.LoadSummary, error)
	Transform func(ctx context.Context) error
}

// BuildGraph wires the stages into the ingestion graph:
// scrape, enrich after scrape, load after scrape and enrich, transform after load.
func BuildGraph(s Stages) (*Graph, error) {
	if s.Scrape == nil || s.Enrich == nil || s.Load == nil || s.Transform == nil {
		return nil, errors.New("all four stages are required")
	}

	g := NewGraph()
	nodes := []Node{
		{Name: NodeScrape, Run: detailed(s.Scrape)},
		{Name: NodeEnrich, Deps: []string{NodeScrape}, Run: detailed(s.Enrich)},
		{Name: NodeLoad, Deps: []string{NodeScrape, NodeEnrich}, Run: detailed(s.Load)},
		{Name: NodeTransform, Deps: []string{NodeLoad}, Run: func(ctx context.Context, _ partition.Partition) (any, error) {
			return nil, s.Transform(ctx)
		}},
	}
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	if _, err := g.TopoSort(); err != nil {
		return nil, err
	}
	return g, nil
}

func detailed[T any](fn func(ctx context.Context, part partition.Partition) (*T, error)) NodeFunc {
	return func(ctx context.Context, part partition.Partition) (any, error) {
		detail, err := fn(ctx, part)
		if detail == nil {
			return nil, err
		}
		return detail, err
	}
}
