package index

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/cuongbtq/face-recognition/internal/domain"
)

// HNSW graph parameters
const (
	HNSWMaxNeighbors = 16
	HNSWEfSearch     = 64
)

// HNSWIndex keeps identities in an in-process HNSW graph keyed by identifier.
// It is only valid inside a single process, so it pairs with the embedded worker.
type HNSWIndex struct {
	graph      *hnsw.Graph[string]
	identities map[string]domain.Identity
	dimension  int
	path       string
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHNSWIndex creates an empty in-process index. When path is set, Load and Save use it.
func NewHNSWIndex(dimension int, path string, logger *slog.Logger) *HNSWIndex {
	return &HNSWIndex{
		graph:      newGraph(),
		identities: make(map[string]domain.Identity),
		dimension:  dimension,
		path:       path,
		logger:     logger,
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

func (h *HNSWIndex) Upsert(_ context.Context, identity domain.Identity, sig domain.Signature) error {
	if err := checkDimension(sig, h.dimension); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.identities[identity.Identifier]; ok {
		h.graph.Delete(identity.Identifier)
		identity.CreatedAt = existing.CreatedAt
	}
	if h.graph.Len() == 0 {
		h.graph = newGraph()
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}

	vec := make([]float32, len(sig))
	copy(vec, sig)
	h.graph.Add(hnsw.MakeNode(identity.Identifier, vec))
	h.identities[identity.Identifier] = identity

	return nil
}

func (h *HNSWIndex) Nearest(_ context.Context, sig domain.Signature) (*domain.Neighbor, error) {
	if err := checkDimension(sig, h.dimension); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph.Len() == 0 {
		return nil, nil
	}

	for _, n := range h.graph.Search([]float32(sig), 1) {
		identity, ok := h.identities[n.Key]
		if !ok {
			continue
		}
		return &domain.Neighbor{
			Identity: identity,
			Distance: domain.EuclideanDistance(sig, domain.Signature(n.Value)),
		}, nil
	}

	return nil, nil
}

func (h *HNSWIndex) List(_ context.Context, filter Filter) ([]domain.Identity, error) {
	h.mu.RLock()
	all := make([]domain.Identity, 0, len(h.identities))
	for _, identity := range h.identities {
		if filter.Cursor == nil || filter.Cursor.before(identity) {
			all = append(all, identity)
		}
	}
	h.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Identifier > all[j].Identifier
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if limit := filter.PageSize + 1; filter.PageSize > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (h *HNSWIndex) Count(_ context.Context) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.identities), nil
}

func (h *HNSWIndex) Reset(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = newGraph()
	h.identities = make(map[string]domain.Identity)

	h.logger.Warn("Identity index reset")
	return nil
}

func (h *HNSWIndex) metadataPath() string {
	return h.path + ".meta.json"
}

// Save writes the graph and its identity metadata next to each other on disk.
func (h *HNSWIndex) Save() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.path == "" {
		return nil
	}

	if h.graph.Len() == 0 {
		// Nothing to persist; stale files would resurrect deleted identities
		_ = os.Remove(h.path)
		_ = os.Remove(h.metadataPath())
		return nil
	}

	f, err := os.Create(h.path)
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := h.graph.Export(w); err != nil {
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing HNSW graph: %w", err)
	}

	meta, err := json.Marshal(h.identities)
	if err != nil {
		return fmt.Errorf("failed to marshal HNSW metadata: %w", err)
	}
	if err := os.WriteFile(h.metadataPath(), meta, 0o644); err != nil {
		return fmt.Errorf("failed to write HNSW metadata: %w", err)
	}

	h.logger.Info("HNSW index saved",
		slog.String("path", h.path),
		slog.Int("identities", len(h.identities)),
	)
	return nil
}

// Load restores a snapshot written by Save. A missing snapshot leaves the index empty.
func (h *HNSWIndex) Load() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.path == "" {
		return nil
	}

	f, err := os.Open(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open HNSW index: %w", err)
	}
	defer f.Close()

	g := newGraph()
	if err := g.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("failed to import HNSW graph: %w", err)
	}

	raw, err := os.ReadFile(h.metadataPath())
	if err != nil {
		return fmt.Errorf("failed to read HNSW metadata: %w", err)
	}

	identities := make(map[string]domain.Identity)
	if err := json.Unmarshal(raw, &identities); err != nil {
		return fmt.Errorf("failed to decode HNSW metadata: %w", err)
	}

	h.graph = g
	h.identities = identities

	h.logger.Info("HNSW index loaded",
		slog.String("path", h.path),
		slog.Int("identities", len(identities)),
	)
	return nil
}
