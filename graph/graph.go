// Package graph implements the Build Graph & Intermediate Representation
// (§1, §2): the directed acyclic operation graph the scheduler walks, and
// the validation pass that must pass before scheduling begins.
package graph

import (
	"sort"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/moby/buildcore/errdefs"
)

// NodeID identifies a graph node within a Graph.
type NodeID string

// OpKind discriminates the tagged Op variant. A single struct with a Kind
// field, rather than an interface hierarchy, keeps the variant closed and
// keeps encode/decode trivial -- the same pattern the diff model uses for
// its own tagged variant.
type OpKind string

const (
	OpImage      OpKind = "image"
	OpFilesystem OpKind = "filesystem"
	OpExec       OpKind = "exec"
)

// Op is one operation in the build graph. Fields outside the node's Kind
// are zero and ignored; only ImageRef/FilesystemChanges/Command are ever
// read by the executor that claims the matching Kind.
type Op struct {
	Kind OpKind

	// OpImage
	ImageRef string

	// OpFilesystem
	FilesystemChanges []FilesystemChange

	// OpExec
	Command []string
	Env     map[string]string

	// ContentDigest identifies this operation's own content for cache key
	// derivation (§4.6.1); for OpImage it's the image ref digest, for
	// OpFilesystem/OpExec it's a digest over the operation's own
	// parameters (command, env, change list).
	ContentDigest digest.Digest
}

// FilesystemChange describes one COPY/ADD-style mutation an OpFilesystem
// node applies over its prepared mountpoint.
type FilesystemChange struct {
	SourcePath string
	DestPath   string
}

// Node is one vertex in the build graph: an operation plus the IDs of the
// nodes whose committed snapshots it depends on.
type Node struct {
	ID           NodeID
	Op           Op
	Dependencies []NodeID
}

// Graph is the operation DAG for a single build stage.
type Graph struct {
	Stage    string
	Platform ocispec.Platform
	Nodes    map[NodeID]Node
	// Roots lists the nodes with no dependencies, in the order they were
	// added.
	Roots []NodeID
}

// New constructs an empty graph for stage/platform.
func New(stage string, platform ocispec.Platform) *Graph {
	return &Graph{
		Stage:    stage,
		Platform: platform,
		Nodes:    map[NodeID]Node{},
	}
}

// AddNode inserts node, tracking it as a root if it has no dependencies.
// It does not validate the graph -- call Validate once the graph is fully
// built.
func (g *Graph) AddNode(node Node) {
	g.Nodes[node.ID] = node
	if len(node.Dependencies) == 0 {
		g.Roots = append(g.Roots, node.ID)
	}
}

// Validate checks that the graph is a well-formed DAG: every node is stored
// under its own ID, every dependency reference resolves to a node that
// exists, and the dependency relation contains no cycle. A second AddNode
// with an existing ID replaces the earlier node and is not reported. It is a checked precondition the scheduler requires before
// walking the graph (§2 "walks nodes in dependency order" presumes a DAG).
func (g *Graph) Validate() error {
	for id, node := range g.Nodes {
		if node.ID != id {
			return errdefs.InvalidFormat(string(id), nil)
		}
		for _, dep := range node.Dependencies {
			if _, ok := g.Nodes[dep]; !ok {
				return errdefs.InvalidFormat(string(dep), nil)
			}
		}
	}
	return g.checkAcyclic()
}

// checkAcyclic runs a three-color DFS (white/gray/black) over every node,
// reporting a cycle the first time it revisits a gray (in-progress) node.
func (g *Graph) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeID]int, len(g.Nodes))

	var visit func(id NodeID) error
	visit = func(id NodeID) error {
		switch color[id] {
		case gray:
			return errdefs.InvalidFormat(string(id), nil)
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range g.Nodes[id].Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for id := range g.Nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalOrder returns the graph's nodes in an order where every
// dependency precedes its dependents. It assumes Validate has already
// succeeded.
func (g *Graph) TopologicalOrder() []NodeID {
	visited := make(map[NodeID]bool, len(g.Nodes))
	var order []NodeID

	var visit func(id NodeID)
	visit = func(id NodeID) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g.Nodes[id].Dependencies {
			visit(dep)
		}
		order = append(order, id)
	}

	ids := make([]NodeID, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		visit(id)
	}
	return order
}
