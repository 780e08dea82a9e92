package transfer

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
)

// Split cuts data into protocol.ChunkSize pieces. The pieces alias data.
func Split(data []byte) [][]byte {
	total := protocol.TotalChunks(uint64(len(data)))
	chunks := make([][]byte, 0, total)
	for off := 0; off < len(data); off += protocol.ChunkSize {
		end := min(off+protocol.ChunkSize, len(data))
		chunks = append(chunks, data[off:end])
	}
	return chunks
}

// Assemble concatenates chunks in index order. Every slot must be filled.
func Assemble(chunks [][]byte) ([]byte, error) {
	size := 0
	for i, c := range chunks {
		if c == nil {
			return nil, fmt.Errorf("%w: %d", ErrMissingChunk, i)
		}
		size += len(c)
	}

	data := make([]byte, 0, size)
	for _, c := range chunks {
		data = append(data, c...)
	}
	return data, nil
}

func HashReader(r io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

func checksum(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
