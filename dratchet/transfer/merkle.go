package transfer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	ErrMerkleEmpty      = errors.New("merkle: no chunks provided")
	ErrMerkleProofFail  = errors.New("merkle: proof verification failed")
	ErrMerkleIndexRange = errors.New("merkle: chunk index out of range")
)

// Leaf and interior hashes are domain separated so a leaf can never be
// presented as an interior node.
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// MerkleTree commits to an ordered list of chunk hashes.
type MerkleTree struct {
	count  int
	levels [][][]byte // levels[0] are leaves, last is the root
}

// BuildMerkleTree builds the tree over chunk hashes. An odd node at the end
// of a level is promoted unchanged.
func BuildMerkleTree(chunkHashes [][]byte) (*MerkleTree, error) {
	if len(chunkHashes) == 0 {
		return nil, ErrMerkleEmpty
	}
	level := make([][]byte, len(chunkHashes))
	for i, h := range chunkHashes {
		level[i] = hashLeaf(h)
	}
	levels := [][][]byte{level}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashNode(level[i], level[i+1]))
		}
		levels = append(levels, next)
		level = next
	}
	return &MerkleTree{count: len(chunkHashes), levels: levels}, nil
}

// MerkleRoot is a shorthand for BuildMerkleTree(...).Root().
func MerkleRoot(chunkHashes [][]byte) ([]byte, error) {
	t, err := BuildMerkleTree(chunkHashes)
	if err != nil {
		return nil, err
	}
	return t.Root(), nil
}

// Root returns the Merkle root hash.
func (m *MerkleTree) Root() []byte { return m.levels[len(m.levels)-1][0] }

// RootHex returns the Merkle root as a hex string.
func (m *MerkleTree) RootHex() string { return hex.EncodeToString(m.Root()) }

// Proof lets a single chunk be checked against the root.
type Proof struct {
	ChunkIndex int
	ChunkHash  []byte
	Siblings   [][]byte // from leaf to root
	IsLeft     []bool   // true if sibling is on the left
}

func (m *MerkleTree) GenerateProof(chunkIndex int) (Proof, error) {
	if chunkIndex < 0 || chunkIndex >= m.count {
		return Proof{}, ErrMerkleIndexRange
	}
	p := Proof{ChunkIndex: chunkIndex}
	idx := chunkIndex
	for _, level := range m.levels[:len(m.levels)-1] {
		sib := idx ^ 1
		if sib < len(level) {
			p.Siblings = append(p.Siblings, level[sib])
			p.IsLeft = append(p.IsLeft, sib < idx)
		}
		idx /= 2
	}
	return p, nil
}

// VerifyProof checks proof against the expected root. ChunkHash must be set
// by the verifier from the data it holds.
func VerifyProof(proof Proof, expectedRoot []byte) error {
	if len(proof.Siblings) != len(proof.IsLeft) {
		return ErrMerkleProofFail
	}
	current := hashLeaf(proof.ChunkHash)
	for i, sibling := range proof.Siblings {
		if proof.IsLeft[i] {
			current = hashNode(sibling, current)
		} else {
			current = hashNode(current, sibling)
		}
	}
	if !bytes.Equal(current, expectedRoot) {
		return ErrMerkleProofFail
	}
	return nil
}

// HashChunk computes the SHA-256 hash of a data chunk.
func HashChunk(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func hashLeaf(h []byte) []byte {
	d := sha256.New()
	d.Write([]byte{leafPrefix})
	d.Write(h)
	return d.Sum(nil)
}

func hashNode(left, right []byte) []byte {
	d := sha256.New()
	d.Write([]byte{nodePrefix})
	d.Write(left)
	d.Write(right)
	return d.Sum(nil)
}
