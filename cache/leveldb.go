package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	generationPrefix = "g:"
	entryPrefix      = "e:"
	entrySeparator   = "\x00"
)

// LevelDBCache stores generations in a leveldb database on disk.
//
// Layout:
//
//	g:<generation>            -> creation time (unix nanos, decimal)
//	e:<generation>\x00<key>   -> gob encoded CacheEntry
type LevelDBCache struct {
	db         *leveldb.DB
	writeMutex *sync.Mutex
}

func NewLevelDBCache(path string) (*LevelDBCache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func generationKey(generation string) []byte {
	return []byte(generationPrefix + generation)
}

func entriesPrefix(generation string) []byte {
	return []byte(entryPrefix + generation + entrySeparator)
}

func entryKey(generation, key string) []byte {
	return append(entriesPrefix(generation), key...)
}

func (l *LevelDBCache) Generations(ctx context.Context) ([]string, error) {
	type generation struct {
		name    string
		created int64
	}
	it := l.db.NewIterator(util.BytesPrefix([]byte(generationPrefix)), nil)
	defer it.Release()
	gens := make([]generation, 0)
	for it.Next() {
		created, _ := strconv.ParseInt(string(it.Value()), 10, 64)
		gens = append(gens, generation{
			name:    string(bytes.TrimPrefix(it.Key(), []byte(generationPrefix))),
			created: created,
		})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.SliceStable(gens, func(i, j int) bool {
		return gens[i].created < gens[j].created
	})
	names := make([]string, len(gens))
	for i, g := range gens {
		names[i] = g.name
	}
	return names, nil
}

func (l *LevelDBCache) Open(ctx context.Context, generation string) error {
	if err := checkGeneration(generation); err != nil {
		return err
	}
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	batch := new(leveldb.Batch)
	if err := l.openLocked(generation, batch); err != nil {
		return err
	}
	return l.db.Write(batch, nil)
}

func (l *LevelDBCache) openLocked(generation string, batch *leveldb.Batch) error {
	exists, err := l.db.Has(generationKey(generation), nil)
	if err != nil {
		return err
	}
	if !exists {
		batch.Put(generationKey(generation), []byte(strconv.FormatInt(time.Now().UnixNano(), 10)))
	}
	return nil
}

func (l *LevelDBCache) Match(ctx context.Context, generation, key string) (CacheEntry, bool, error) {
	b, err := l.db.Get(entryKey(generation, key), nil)
	if err == leveldb.ErrNotFound {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	var ce CacheEntry
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&ce); err != nil {
		return CacheEntry{}, false, err
	}
	return ce, true, nil
}

func (l *LevelDBCache) Put(ctx context.Context, generation string, ce CacheEntry) error {
	if err := checkGeneration(generation); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ce); err != nil {
		return err
	}
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	batch := new(leveldb.Batch)
	if err := l.openLocked(generation, batch); err != nil {
		return err
	}
	batch.Put(entryKey(generation, ce.Key), buf.Bytes())
	return l.db.Write(batch, nil)
}

func (l *LevelDBCache) Keys(ctx context.Context, generation string) ([]string, error) {
	prefix := entriesPrefix(generation)
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	keys := make([]string, 0)
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	return keys, it.Error()
}

func (l *LevelDBCache) Delete(ctx context.Context, generation string) (bool, error) {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	exists, err := l.db.Has(generationKey(generation), nil)
	if err != nil || !exists {
		return false, err
	}
	batch := new(leveldb.Batch)
	it := l.db.NewIterator(util.BytesPrefix(entriesPrefix(generation)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	batch.Delete(generationKey(generation))
	return true, l.db.Write(batch, nil)
}

func (l *LevelDBCache) Close() error {
	return l.db.Close()
}
