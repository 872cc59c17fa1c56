package retrieval

import (
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/ratlr/internal/knowledge"
)

// poolNamespace scopes name-based UUIDs derived from candidate pools.
var poolNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("ratlr.retrieval.pool"))

// PoolFingerprint identifies a candidate pool by its ids and vectors, in
// order. Index-backed strategies rebuild only when it changes.
func PoolFingerprint(pool []knowledge.Entry) string {
	h := sha256.New()
	var buf [4]byte
	for _, e := range pool {
		h.Write([]byte(e.Element.ID()))
		h.Write([]byte{0})
		for _, v := range e.Embedding {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			h.Write(buf[:])
		}
		h.Write([]byte{0xff})
	}
	return uuid.NewSHA1(poolNamespace, h.Sum(nil)).String()
}

// pointID maps an element id onto a stable UUID, as Qdrant point ids must
// be UUIDs or integers.
func pointID(elementID string) string {
	return uuid.NewSHA1(poolNamespace, []byte(elementID)).String()
}
