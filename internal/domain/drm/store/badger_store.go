// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

const badgerPrefix = "drm:license:"

// BadgerStore keeps one JSON document per content id under "drm:license:<id>".
type BadgerStore struct {
	db *badger.DB
}

func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) GetLicense(ctx context.Context, contentID string) (*model.OfflineLicense, error) {
	var out model.OfflineLicense
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(licenseKey(contentID)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) PutLicense(ctx context.Context, lic *model.OfflineLicense) error {
	if err := validate(lic); err != nil {
		return err
	}
	buf, err := json.Marshal(stamp(lic))
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(licenseKey(lic.ContentID)), buf)
	})
}

func (s *BadgerStore) DeleteLicense(ctx context.Context, contentID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(licenseKey(contentID)))
	})
}

func (s *BadgerStore) ListLicenses(ctx context.Context) ([]*model.OfflineLicense, error) {
	var out []*model.OfflineLicense
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(badgerPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var lic model.OfflineLicense
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &lic)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", strings.TrimPrefix(string(it.Item().Key()), badgerPrefix), err)
			}
			out = append(out, &lic)
		}
		return nil
	})
	return out, err
}
