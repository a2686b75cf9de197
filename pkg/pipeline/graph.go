package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tgpipeline/pkg/partition"
)

// ErrCycle is returned when the node dependencies do not form a DAG
var ErrCycle = errors.New("dependency cycle")

// NodeFunc runs one node against a partition. The returned detail is kept in
// the run report.
type NodeFunc func(ctx context.Context, part partition.Partition) (any, error)

// Node is a unit of work in the graph
type Node struct {
	Name string
	Deps []string
	Run  NodeFunc
}

// Edge points from a dependency to its dependent
type Edge struct {
	From string
	To   string
}

// Status is the outcome of a node within one trigger
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusBlocked marks a node that never ran because a dependency did not succeed.
	StatusBlocked Status = "blocked"
)

// NodeResult records how a node ended
type NodeResult struct {
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitzero"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
	Duration   time.Duration `json:"duration"`
	Detail     any           `json:"detail,omitempty"`
}

// Graph is an explicit set of nodes and dependency edges
type Graph struct {
	nodes []*Node
	index map[string]*Node
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{index: make(map[string]*Node)}
}

// AddNode registers a node. Names must be unique.
func (g *Graph) AddNode(n Node) error {
	if n.Name == "" {
		return errors.New("node name is required")
	}
	if n.Run == nil {
		return fmt.Errorf("node %q has no run function", n.Name)
	}
	if _, ok := g.index[n.Name]; ok {
		return fmt.Errorf("node %q already registered", n.Name)
	}
	node := n
	node.Deps = append([]string(nil), n.Deps...)
	g.nodes = append(g.nodes, &node)
	g.index[n.Name] = &node
	return nil
}

// Node returns the named node
func (g *Graph) Node(name string) (Node, bool) {
	n, ok := g.index[name]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns the node names in registration order
func (g *Graph) Nodes() []string {
	names := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		names[i] = n.Name
	}
	return names
}

// Edges returns every dependency edge in registration order
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, n := range g.nodes {
		for _, dep := range n.Deps {
			edges = append(edges, Edge{From: dep, To: n.Name})
		}
	}
	return edges
}

// TopoSort orders the nodes so every node follows its dependencies. Ties are
// broken by registration order, so the result is deterministic.
func (g *Graph) TopoSort() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, n := range g.nodes {
		indegree[n.Name] += 0
		for _, dep := range n.Deps {
			if _, ok := g.index[dep]; !ok {
				return nil, fmt.Errorf("node %q depends on unknown node %q", n.Name, dep)
			}
			indegree[n.Name]++
			dependents[dep] = append(dependents[dep], n.Name)
		}
	}

	order := make([]string, 0, len(g.nodes))
	done := make(map[string]bool, len(g.nodes))
	for len(order) < len(g.nodes) {
		progressed := false
		for _, n := range g.nodes {
			if done[n.Name] || indegree[n.Name] > 0 {
				continue
			}
			done[n.Name] = true
			order = append(order, n.Name)
			for _, d := range dependents[n.Name] {
				indegree[d]--
			}
			progressed = true
			break
		}
		if !progressed {
			var stuck []string
			for _, n := range g.nodes {
				if !done[n.Name] {
					stuck = append(stuck, n.Name)
				}
			}
			return nil, fmt.Errorf("%w among %v", ErrCycle, stuck)
		}
	}
	return order, nil
}

// Execute runs every node in topological order. A node runs only when all of
// its dependencies succeeded in this execution; otherwise it is blocked. Once
// ctx is done the remaining nodes are blocked.
func (g *Graph) Execute(ctx context.Context, part partition.Partition, observe func(NodeResult)) ([]NodeResult, error) {
	order, err := g.TopoSort()
	if err != nil {
		return nil, err
	}

	results := make([]NodeResult, 0, len(order))
	status := make(map[string]Status, len(order))
	for _, name := range order {
		node := g.index[name]
		res := NodeResult{Name: name, Status: StatusPending}

		if blocker := firstUnsucceeded(node.Deps, status); blocker != "" {
			res.Status = StatusBlocked
			res.Error = fmt.Sprintf("dependency %s did not succeed", blocker)
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			res.Status = StatusBlocked
			res.Error = ctxErr.Error()
		} else {
			res = runNode(ctx, node, part)
		}

		status[name] = res.Status
		results = append(results, res)
		if observe != nil {
			observe(res)
		}
	}
	return results, nil
}

func firstUnsucceeded(deps []string, status map[string]Status) string {
	for _, dep := range deps {
		if status[dep] != StatusSucceeded {
			return dep
		}
	}
	return ""
}

// runNode executes a single node, turning a panic into a failure
func runNode(ctx context.Context, node *Node, part partition.Partition) (res NodeResult) {
	res = NodeResult{Name: node.Name, Status: StatusRunning, StartedAt: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusFailed
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		res.FinishedAt = time.Now()
		res.Duration = res.FinishedAt.Sub(res.StartedAt)
	}()

	detail, err := node.Run(ctx, part)
	res.Detail = detail
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res
	}
	res.Status = StatusSucceeded
	return res
}
