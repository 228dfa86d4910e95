// Package docid derives stable identifiers for documents, chunks, and content.
package docid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const prefix = "doc:"

// namespace scopes version-5 document UUIDs to this system.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("kbsearch/documents"))

// NormalizeSourceURI cleans file paths so equivalent spellings share one identity.
// URIs with a scheme are returned unchanged.
func NormalizeSourceURI(uri string) string {
	if strings.Contains(uri, "://") {
		return uri
	}
	return filepath.Clean(uri)
}

// DocumentID returns the id for the document identified by (botID, kbName, sourceURI).
// The same triple always yields the same id.
func DocumentID(botID, kbName, sourceURI string) string {
	name := botID + "\x00" + kbName + "\x00" + NormalizeSourceURI(sourceURI)
	return prefix + uuid.NewSHA1(namespace, []byte(name)).String()
}

// ChunkID hashes (documentID, sequenceIndex, text). Identical chunking of identical
// content therefore reproduces identical ids.
func ChunkID(documentID string, sequenceIndex int, text string) string {
	h := sha256.New()
	h.Write([]byte(documentID))
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(sequenceIndex))
	h.Write(seq[:])
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash returns the hash recorded for a document's raw bytes.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}
