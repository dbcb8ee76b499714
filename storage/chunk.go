package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	sr "github.com/tryfix/schemaregistry/v3"
)

// splitChunks splits blob into consecutive chunks of at most size bytes.
func splitChunks(blob []byte, size int) [][]byte {
	chunks := make([][]byte, 0, (len(blob)+size-1)/size)
	for len(blob) > size {
		chunks = append(chunks, blob[:size])
		blob = blob[size:]
	}

	if len(blob) > 0 {
		chunks = append(chunks, blob)
	}

	return chunks
}

// writeChunks writes the chunks of a schema blob one entry per batch, each batch conditional on
// the group etag, and returns the etag after the last chunk.
func (r *Registry) writeChunks(ctx context.Context, group string, etag Version, id int32, blob []byte) (Version, error) {
	for i, chunk := range splitChunks(blob, r.chunkSize) {
		b := r.newBatch()
		b.putRaw(SchemaIDChunkKey{ID: id, Chunk: int32(i)}, chunk)

		next, err := r.commit(ctx, group, etag, b)
		if err != nil {
			return etag, err
		}
		etag = next
	}

	return etag, nil
}

// readChunks assembles the blob of rec. A missing chunk means the chunk set is incomplete.
func (r *Registry) readChunks(ctx context.Context, group string, rec SchemaRecord) ([]byte, error) {
	blob := make([]byte, 0, rec.Size)
	for i := int32(0); i < rec.Chunks; i++ {
		key, err := r.records.Serialize(SchemaIDChunkKey{ID: rec.Version.ID, Chunk: i})
		if err != nil {
			return nil, err
		}

		entry, err := r.table.Get(ctx, group, key)
		if errors.Is(err, sr.ErrNotFound) {
			return nil, sr.WrapError(sr.KindPartialChunkSet, `registry.readChunks`, err,
				fmt.Sprintf(`chunk %d of %d of schema id [%d] is missing`, i, rec.Chunks, rec.Version.ID))
		}
		if err != nil {
			return nil, err
		}

		blob = append(blob, entry.Value...)
	}

	if int64(len(blob)) != rec.Size || xxhash.Sum64(blob) != rec.Fingerprint {
		return nil, sr.NewError(sr.KindCorruptRecord, `registry.readChunks`,
			fmt.Sprintf(`schema id [%d] assembled to %d bytes with a foreign fingerprint`, rec.Version.ID, len(blob)))
	}

	return blob, nil
}
