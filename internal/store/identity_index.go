package store

import (
	"errors"
	"sync"

	"github.com/coder/hnsw"

	"github.com/classtrack/attendance-engine/internal/recognition"
)

// hnswMaxNeighbors is the M parameter of the HNSW graph.
const hnswMaxNeighbors = 16

// IdentityIndex wraps an HNSW graph over enrolled identity embeddings for
// approximate nearest neighbor search, keyed by student ID. It is rebuilt
// from the identity store at startup and kept current on enrollment.
type IdentityIndex struct {
	graph       *hnsw.Graph[string]
	byStudentID map[string]*EnrolledIdentity
	mu          sync.RWMutex
}

// NewIdentityIndex creates an empty index.
func NewIdentityIndex() *IdentityIndex {
	return &IdentityIndex{
		byStudentID: make(map[string]*EnrolledIdentity),
	}
}

func newIdentityGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents with the given identities. Identities
// without an embedding are skipped.
func (x *IdentityIndex) Build(identities []EnrolledIdentity) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if len(identities) == 0 {
		x.graph = nil
		x.byStudentID = make(map[string]*EnrolledIdentity)
		return
	}

	g := newIdentityGraph()
	x.byStudentID = make(map[string]*EnrolledIdentity, len(identities))
	for i := range identities {
		id := &identities[i]
		if len(id.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(id.StudentID, id.Embedding))
		x.byStudentID[id.StudentID] = id
	}
	x.graph = g
}

// Add inserts or replaces a single identity. Re-enrollment replaces the
// lookup entry; the graph keeps the node under the same key.
func (x *IdentityIndex) Add(identity EnrolledIdentity) {
	if len(identity.Embedding) == 0 {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.graph == nil {
		x.graph = newIdentityGraph()
	}
	x.graph.Add(hnsw.MakeNode(identity.StudentID, identity.Embedding))
	x.byStudentID[identity.StudentID] = &identity
}

// Remove drops an identity from search results. The HNSW graph has no true
// deletion; results are filtered through the lookup map instead.
func (x *IdentityIndex) Remove(studentID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.byStudentID, studentID)
}

// Search returns up to k nearest enrolled identities and their cosine
// distances to the query, nearest first.
func (x *IdentityIndex) Search(query []float32, k int) ([]EnrolledIdentity, []float64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil {
		return nil, nil, errors.New("identity index not initialized")
	}

	neighbors := x.graph.Search(query, k)

	identities := make([]EnrolledIdentity, 0, len(neighbors))
	distances := make([]float64, 0, len(neighbors))
	for _, n := range neighbors {
		id, ok := x.byStudentID[n.Key]
		if !ok {
			continue
		}
		identities = append(identities, *id)
		distances = append(distances, 1-recognition.CosineSimilarity(query, id.Embedding))
	}
	return identities, distances, nil
}

// Get returns the indexed identity for a student, or nil.
func (x *IdentityIndex) Get(studentID string) *EnrolledIdentity {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.byStudentID[studentID]
}

// Count returns the number of searchable identities.
func (x *IdentityIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byStudentID)
}
