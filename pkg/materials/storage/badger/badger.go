package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"

	"github.com/tendant/course-materials/pkg/materials"
)

// Key layout
//
//	stage:<material>:<stage>          next chunk seq + bytes staged (16 bytes)
//	chunk:<material>:<stage>:<seq>    chunk payload, seq is big endian
//	live:<material>                   committed stage id + size (24 bytes)
//
// A committed blob keeps the chunk keys of its stage; Commit moves the live
// pointer and then drops the chunks of the stage it replaced.

func keyStage(k materials.StageKey) []byte {
	return []byte("stage:" + k.MaterialID.String() + ":" + k.StageID.String())
}

func keyChunkPrefix(id, stage uuid.UUID) []byte {
	return []byte("chunk:" + id.String() + ":" + stage.String() + ":")
}

func keyChunk(id, stage uuid.UUID, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(keyChunkPrefix(id, stage), seq)
}

func keyLive(id uuid.UUID) []byte {
	return []byte("live:" + id.String())
}

// Config options for the badger backend
type Config struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir string
	// InMemory keeps everything in memory. Intended for tests.
	InMemory bool
}

// Backend is an embedded badger implementation of the materials.ChunkBackend
// interface for single-node deployments.
type Backend struct {
	db *badger.DB
}

// New opens the badger database described by config
func New(config Config) (*Backend, error) {
	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Dir == "" {
			return nil, errors.New("badger directory is required")
		}
		opts = badger.DefaultOptions(config.Dir)
	}
	opts = opts.WithLoggingLevel(badger.WARNING).WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &Backend{db: db}, nil
}

// Close closes the database
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) Name() string { return "badger" }

type stageHeader struct {
	next uint64
	size int64
}

func decodeStage(v []byte) (stageHeader, error) {
	if len(v) != 16 {
		return stageHeader{}, fmt.Errorf("corrupt stage header of %d bytes", len(v))
	}
	return stageHeader{next: binary.BigEndian.Uint64(v[:8]), size: int64(binary.BigEndian.Uint64(v[8:]))}, nil
}

func (h stageHeader) encode() []byte {
	v := binary.BigEndian.AppendUint64(nil, h.next)
	return binary.BigEndian.AppendUint64(v, uint64(h.size))
}

type livePointer struct {
	stage uuid.UUID
	size  int64
}

func decodeLive(v []byte) (livePointer, error) {
	if len(v) != 24 {
		return livePointer{}, fmt.Errorf("corrupt live pointer of %d bytes", len(v))
	}
	stage, err := uuid.FromBytes(v[:16])
	if err != nil {
		return livePointer{}, err
	}
	return livePointer{stage: stage, size: int64(binary.BigEndian.Uint64(v[16:]))}, nil
}

func (p livePointer) encode() []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), p.stage[:]...), uint64(p.size))
}

func getStage(txn *badger.Txn, key materials.StageKey) (stageHeader, error) {
	item, err := txn.Get(keyStage(key))
	if err == badger.ErrKeyNotFound {
		return stageHeader{}, fmt.Errorf("stage %s: %w", key, materials.ErrNotFound)
	}
	if err != nil {
		return stageHeader{}, err
	}
	var h stageHeader
	err = item.Value(func(v []byte) error {
		h, err = decodeStage(v)
		return err
	})
	return h, err
}

func getLive(txn *badger.Txn, id uuid.UUID) (livePointer, error) {
	item, err := txn.Get(keyLive(id))
	if err == badger.ErrKeyNotFound {
		return livePointer{}, fmt.Errorf("content %s: %w", id, materials.ErrNotFound)
	}
	if err != nil {
		return livePointer{}, err
	}
	var p livePointer
	err = item.Value(func(v []byte) error {
		p, err = decodeLive(v)
		return err
	})
	return p, err
}

func (b *Backend) WriteChunk(ctx context.Context, key materials.StageKey, data []byte, mode materials.WriteMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if mode == materials.WriteCreate {
		// Leftovers of an earlier attempt on the same stage.
		if err := b.dropPrefix(keyChunkPrefix(key.MaterialID, key.StageID)); err != nil {
			return err
		}
	}

	return b.db.Update(func(txn *badger.Txn) error {
		var h stageHeader
		switch mode {
		case materials.WriteCreate:
		case materials.WriteAppend:
			var err error
			if h, err = getStage(txn, key); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported write mode %s", mode)
		}

		// Txn.Set keeps the slice until commit, data is only ours for this call.
		chunk := append([]byte(nil), data...)
		if err := txn.Set(keyChunk(key.MaterialID, key.StageID, h.next), chunk); err != nil {
			return err
		}
		h.next++
		h.size += int64(len(data))
		return txn.Set(keyStage(key), h.encode())
	})
}

func (b *Backend) Commit(ctx context.Context, key materials.StageKey) error {
	var previous *livePointer
	err := b.db.Update(func(txn *badger.Txn) error {
		h, err := getStage(txn, key)
		if err != nil {
			return err
		}

		p, err := getLive(txn, key.MaterialID)
		switch {
		case err == nil:
			previous = &p
		case !errors.Is(err, materials.ErrNotFound):
			return err
		}

		if err := txn.Delete(keyStage(key)); err != nil {
			return err
		}
		return txn.Set(keyLive(key.MaterialID), livePointer{stage: key.StageID, size: h.size}.encode())
	})
	if err != nil {
		return err
	}

	if previous != nil {
		return b.dropPrefix(keyChunkPrefix(key.MaterialID, previous.stage))
	}
	return nil
}

func (b *Backend) Abort(ctx context.Context, key materials.StageKey) error {
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyStage(key))
	}); err != nil {
		return err
	}
	return b.dropPrefix(keyChunkPrefix(key.MaterialID, key.StageID))
}

// Open returns a reader over the committed chunks. The reader holds a read
// transaction, so it keeps seeing the blob it opened even if a later commit
// replaces it.
func (b *Backend) Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	txn := b.db.NewTransaction(false)
	p, err := getLive(txn, id)
	if err != nil {
		txn.Discard()
		return nil, err
	}
	return &chunkReader{txn: txn, id: id, stage: p.stage}, nil
}

func (b *Backend) Size(ctx context.Context, id uuid.UUID) (int64, error) {
	var size int64
	err := b.db.View(func(txn *badger.Txn) error {
		p, err := getLive(txn, id)
		size = p.size
		return err
	})
	return size, err
}

func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	var p livePointer
	err := b.db.Update(func(txn *badger.Txn) error {
		var err error
		if p, err = getLive(txn, id); err != nil {
			return err
		}
		return txn.Delete(keyLive(id))
	})
	if err != nil {
		return err
	}
	return b.dropPrefix(keyChunkPrefix(id, p.stage))
}

// dropPrefix deletes every key under prefix in batches.
func (b *Backend) dropPrefix(prefix []byte) error {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

type chunkReader struct {
	txn   *badger.Txn
	id    uuid.UUID
	stage uuid.UUID
	seq   uint64
	buf   []byte
	done  bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.txn == nil {
		return 0, errors.New("reader is closed")
	}
	for len(r.buf) == 0 {
		if r.done {
			return 0, io.EOF
		}
		item, err := r.txn.Get(keyChunk(r.id, r.stage, r.seq))
		if err == badger.ErrKeyNotFound {
			r.done = true
			continue
		}
		if err != nil {
			return 0, err
		}
		if r.buf, err = item.ValueCopy(r.buf[:0]); err != nil {
			return 0, err
		}
		r.seq++
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *chunkReader) Close() error {
	if r.txn != nil {
		r.txn.Discard()
		r.txn = nil
	}
	return nil
}
