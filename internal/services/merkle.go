package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/carelink/care-server/internal/database"
	"github.com/carelink/care-server/internal/models"
	"go.uber.org/zap"
)

// AuditIntegrityService builds a Merkle tree over the append-only activity
// trail so an exported root can later reveal edited or removed entries.
// Trees are built per request; nothing runs in the background.
type AuditIntegrityService struct {
	store  database.Store
	clock  *Clock
	logger *zap.SugaredLogger
}

// AuditRoot is the published summary of the trail.
type AuditRoot struct {
	Root      string    `json:"root"`
	LeafCount int       `json:"leaf_count"`
	BuiltAt   time.Time `json:"built_at"`
}

func NewAuditIntegrityService(store database.Store, clock *Clock, logger *zap.SugaredLogger) *AuditIntegrityService {
	return &AuditIntegrityService{store: store, clock: clock, logger: logger}
}

// Root returns the current Merkle root of the activity trail.
func (s *AuditIntegrityService) Root(ctx context.Context, actor models.Actor) (*AuditRoot, error) {
	tree, err := s.build(ctx, actor)
	if err != nil {
		return nil, err
	}
	return &AuditRoot{Root: tree.root(), LeafCount: len(tree.leaves()), BuiltAt: s.clock.Now()}, nil
}

// Proof generates an inclusion proof for the entry at index (chronological order).
func (s *AuditIntegrityService) Proof(ctx context.Context, actor models.Actor, index int) (*models.MerkleProof, error) {
	tree, err := s.build(ctx, actor)
	if err != nil {
		return nil, err
	}
	leaves := tree.leaves()
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("%w: index %d out of range (0-%d)", ErrNotFound, index, len(leaves)-1)
	}

	proof := &models.MerkleProof{
		LeafHash: leaves[index],
		Root:     tree.root(),
		Index:    index,
		Proof:    make([]models.ProofStep, 0),
	}

	current := index
	for i := 0; i < len(tree)-1; i++ {
		layer := tree[i]
		isRight := current%2 == 1
		sibling := current + 1
		if isRight {
			sibling = current - 1
		}
		// An odd last node is paired with itself.
		if sibling >= len(layer) {
			sibling = current
		}
		position := "right"
		if isRight {
			position = "left"
		}
		proof.Proof = append(proof.Proof, models.ProofStep{Hash: layer[sibling], Position: position})
		current /= 2
	}

	proof.Verified = VerifyProof(proof)
	return proof, nil
}

// VerifyProof recomputes the root from the leaf and its path.
func VerifyProof(p *models.MerkleProof) bool {
	hash := p.LeafHash
	for _, step := range p.Proof {
		if step.Position == "left" {
			hash = hashPair(step.Hash, hash)
		} else {
			hash = hashPair(hash, step.Hash)
		}
	}
	return hash == p.Root
}

func (s *AuditIntegrityService) build(ctx context.Context, actor models.Actor) (merkleTree, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	entries, err := s.store.ListActivityChronological(ctx)
	if err != nil {
		return nil, storeErr("list activity", err)
	}
	leaves := make([]string, len(entries))
	for i := range entries {
		leaves[i] = activityLeaf(&entries[i])
	}
	tree := buildTree(leaves)
	s.logger.Debugw("Audit tree built", "leaves", len(leaves), "root", tree.root())
	return tree, nil
}

// merkleTree holds every layer, leaves first and the root layer last.
type merkleTree [][]string

func (t merkleTree) leaves() []string {
	if len(t) == 0 {
		return nil
	}
	return t[0]
}

func (t merkleTree) root() string {
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1][0]
}

func buildTree(leaves []string) merkleTree {
	if len(leaves) == 0 {
		return nil
	}

	layer := make([]string, len(leaves))
	copy(layer, leaves)
	tree := merkleTree{layer}

	for len(layer) > 1 {
		next := make([]string, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			left := layer[i]
			right := left
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		tree = append(tree, next)
		layer = next
	}
	return tree
}

func activityLeaf(a *models.ActivityLog) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%d", a.ID, a.CaseID, a.ActorID, a.Action, a.Meta, a.CreatedAt.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}

func hashPair(left, right string) string {
	h := sha256.New()
	h.Write([]byte(left + right))
	return hex.EncodeToString(h.Sum(nil))
}
