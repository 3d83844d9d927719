package badgerdb

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const (
	maxRetries = 5
	// interval between two value log garbage collections of a persistent store
	gcInterval = 5 * time.Minute
)

// createDB opens a badgerhold store in dir, or an in-memory one if dir is empty.
func createDB(dir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dir) <= 0

	opts := badger.DefaultOptions(dir)
	opts.Logger = logger
	if isInMemory {
		opts.InMemory = true
	}

	store, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		ticker := time.NewTicker(gcInterval)
		go func() {
			defer ticker.Stop()
			for range ticker.C {
				// rejected once the store is closed
				if err := store.Badger().RunValueLogGC(0.5); errors.Is(err, badger.ErrRejected) {
					return
				}
			}
		}()
	}

	return store, nil
}

// parseConfig extracts the base directory and optional logger every badger repository is
// created with.
func parseConfig(storeDir string, config ...interface{}) (string, badger.Logger, error) {
	if len(config) != 2 {
		return "", nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("invalid base directory")
	}
	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return "", nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, storeDir)
	}
	return dir, logger, nil
}

// withConflictRetry runs fn again while badger reports a transaction conflict.
func withConflictRetry(fn func() error) error {
	err := fn()
	attempts := 1
	for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
		time.Sleep(100 * time.Millisecond)
		err = fn()
		attempts++
	}
	return err
}
