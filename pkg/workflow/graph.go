package workflow

import (
	"fmt"
	"time"

	"mercator-hq/sextant/pkg/config"
)

// Mode names. Every mode is bound to one fixed Graph.
const (
	ModeAuto     = "auto"
	ModeMedium   = "medium"
	ModeDeep     = "deep"
	ModeWorkflow = "workflow"
)

// Modes lists the modes from cheapest to most expensive.
var Modes = []string{ModeAuto, ModeMedium, ModeDeep, ModeWorkflow}

// StepID identifies a step implementation.
type StepID string

const (
	StepSearch     StepID = "search"
	StepExtract    StepID = "extract"
	StepSynthesize StepID = "synthesize"
	StepResearch   StepID = "research"
	StepEnhance    StepID = "enhance"
	StepDeepDive1  StepID = "deep_dive_1"
	StepDeepDive2  StepID = "deep_dive_2"
	StepPlan       StepID = "plan"
)

// NodeKind is the variant tag of a Node.
type NodeKind string

const (
	NodeStep     NodeKind = "step"     // sequential leaf
	NodeParallel NodeKind = "parallel" // bounded fan-out, joined before the next node
	NodeBranch   NodeKind = "branch"   // predicate chooses Then or Else
)

// Predicate inspects the run state when a Branch node is reached.
type Predicate func(s *State) bool

// Node is one element of a step graph. Which fields are meaningful depends
// on Kind.
type Node struct {
	Kind NodeKind

	// Step is set for NodeStep.
	Step StepID

	// Children are the fan-out branches of a NodeParallel.
	Children []Node

	// Name labels a NodeBranch; Then and Else are its two sides.
	Name      string
	Predicate Predicate
	Then      *Node
	Else      *Node
}

// Step returns a sequential leaf node.
func Step(id StepID) Node {
	return Node{Kind: NodeStep, Step: id}
}

// Parallel returns a fan-out node.
func Parallel(children ...Node) Node {
	return Node{Kind: NodeParallel, Children: children}
}

// Branch returns a conditional node.
func Branch(name string, pred Predicate, then, els Node) Node {
	return Node{Kind: NodeBranch, Name: name, Predicate: pred, Then: &then, Else: &els}
}

// Label names the node for logs and metrics.
func (n Node) Label() string {
	switch n.Kind {
	case NodeStep:
		return string(n.Step)
	case NodeBranch:
		return n.Name
	case NodeParallel:
		label := "parallel("
		for i, c := range n.Children {
			if i > 0 {
				label += ","
			}
			label += c.Label()
		}
		return label + ")"
	}
	return string(n.Kind)
}

// Graph is the fixed step graph of one mode with its budgets.
type Graph struct {
	Mode  string
	Nodes []Node

	TokenCeiling   int
	StepCeilings   map[StepID]int
	MinOutputChars int

	StepTimeout   time.Duration
	BranchTimeout time.Duration

	TopK             int
	SearchDepth      string
	MaxSearchResults int
	GapThreshold     int
}

// Ceiling returns the per-step token ceiling, or the run ceiling when the
// step has none configured.
func (g *Graph) Ceiling(id StepID) int {
	if c, ok := g.StepCeilings[id]; ok {
		return c
	}
	return g.TokenCeiling
}

// Estimate is the worst-case cost of one run, used for admission.
type Estimate struct {
	Tokens          int64
	SearchCalls     int64
	GenerationCalls int64
}

// Estimate walks the graph and returns its worst-case cost. A Branch counts
// its more expensive side; a Parallel counts every child.
func (g *Graph) Estimate() Estimate {
	var e Estimate
	for _, n := range g.Nodes {
		add(&e, estimateNode(n))
	}
	e.Tokens = int64(g.TokenCeiling)
	return e
}

func estimateNode(n Node) Estimate {
	var e Estimate
	switch n.Kind {
	case NodeStep:
		spec := stepSpecs[n.Step]
		e.SearchCalls = int64(spec.searches)
		if spec.generates {
			e.GenerationCalls = 1
		}
	case NodeParallel:
		for _, c := range n.Children {
			add(&e, estimateNode(c))
		}
	case NodeBranch:
		then, els := estimateNode(*n.Then), estimateNode(*n.Else)
		e.SearchCalls = max(then.SearchCalls, els.SearchCalls)
		e.GenerationCalls = max(then.GenerationCalls, els.GenerationCalls)
	}
	return e
}

func add(dst *Estimate, e Estimate) {
	dst.SearchCalls += e.SearchCalls
	dst.GenerationCalls += e.GenerationCalls
}

// validate checks that every leaf has an implementation and that the graph
// fits its step bound.
func validate(g *Graph, maxSteps int) error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("mode %q: empty graph", g.Mode)
	}
	if maxSteps > 0 && len(g.Nodes) > maxSteps {
		return fmt.Errorf("mode %q: %d nodes exceed max_steps %d", g.Mode, len(g.Nodes), maxSteps)
	}
	var check func(n Node) error
	check = func(n Node) error {
		switch n.Kind {
		case NodeStep:
			if _, ok := stepSpecs[n.Step]; !ok {
				return fmt.Errorf("mode %q: unknown step %q", g.Mode, n.Step)
			}
		case NodeParallel:
			if len(n.Children) == 0 {
				return fmt.Errorf("mode %q: empty parallel node", g.Mode)
			}
			for _, c := range n.Children {
				if err := check(c); err != nil {
					return err
				}
			}
		case NodeBranch:
			if n.Predicate == nil || n.Then == nil || n.Else == nil {
				return fmt.Errorf("mode %q: incomplete branch %q", g.Mode, n.Name)
			}
			if err := check(*n.Then); err != nil {
				return err
			}
			return check(*n.Else)
		default:
			return fmt.Errorf("mode %q: unknown node kind %q", g.Mode, n.Kind)
		}
		return nil
	}
	for _, n := range g.Nodes {
		if err := check(n); err != nil {
			return err
		}
	}
	if last := g.Nodes[len(g.Nodes)-1]; last.Kind != NodeStep || last.Step != StepSynthesize {
		return fmt.Errorf("mode %q: graph must end with %q", g.Mode, StepSynthesize)
	}
	return nil
}

// GapsAtMost returns a predicate that is true when the research step found
// at most n gaps.
func GapsAtMost(n int) Predicate {
	return func(s *State) bool { return len(s.Gaps) <= n }
}

// DefaultGraphs builds the graph of every mode from config.
//
//	auto:     search -> synthesize
//	medium:   search -> extract -> synthesize
//	deep:     research -> gaps? enhance : parallel(deep_dive_1, deep_dive_2) -> synthesize
//	workflow: plan -> research -> (same branch) -> synthesize
func DefaultGraphs(modes config.ModesConfig) (map[string]*Graph, error) {
	graphs := make(map[string]*Graph, len(Modes))
	for _, mode := range Modes {
		mc, _ := modes.ByName(mode)
		g := newGraph(mode, mc)

		switch mode {
		case ModeAuto:
			g.Nodes = []Node{Step(StepSearch), Step(StepSynthesize)}
		case ModeMedium:
			g.Nodes = []Node{Step(StepSearch), Step(StepExtract), Step(StepSynthesize)}
		case ModeDeep:
			g.Nodes = []Node{Step(StepResearch), gapBranch(mc), Step(StepSynthesize)}
		case ModeWorkflow:
			g.Nodes = []Node{Step(StepPlan), Step(StepResearch), gapBranch(mc), Step(StepSynthesize)}
		}

		if err := validate(g, mc.MaxSteps); err != nil {
			return nil, err
		}
		graphs[mode] = g
	}
	return graphs, nil
}

func newGraph(mode string, mc *config.ModeConfig) *Graph {
	ceilings := make(map[StepID]int, len(mc.StepCeilings))
	for id, c := range mc.StepCeilings {
		ceilings[StepID(id)] = c
	}
	return &Graph{
		Mode:             mode,
		TokenCeiling:     mc.TokenCeiling,
		StepCeilings:     ceilings,
		MinOutputChars:   mc.MinOutputChars,
		StepTimeout:      mc.StepTimeout,
		BranchTimeout:    mc.BranchTimeout,
		TopK:             mc.TopK,
		SearchDepth:      mc.SearchDepth,
		MaxSearchResults: mc.MaxSearchResults,
		GapThreshold:     mc.GapThreshold,
	}
}

func gapBranch(mc *config.ModeConfig) Node {
	dives := []Node{Step(StepDeepDive1), Step(StepDeepDive2)}
	if mc.FanOut == 1 {
		dives = dives[:1]
	}
	return Branch("gaps", GapsAtMost(mc.GapThreshold), Step(StepEnhance), Parallel(dives...))
}
