package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	apperrors "github.com/novadristi/greeter/internal/errors"
)

// Options configures a Store.
type Options struct {
	// Dir holds the badger files. Required unless InMemory is set.
	Dir string
	// InMemory keeps everything in memory, for tests.
	InMemory bool
	// Now replaces the wall clock.
	Now func() time.Time
}

// Store is the badger-backed Profile Store.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens or creates the store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, apperrors.New(apperrors.CodeConfigInvalid, "profile store directory is required")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(slogLogger{})
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(slogLogger{})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeProfileStoreFailed, "open profile store").WithMetadata("dir", opts.Dir)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func profileKey(c Category, id string) []byte {
	return []byte("profiles/" + string(c) + "/" + id)
}

func profilePrefix(c Category) []byte {
	return []byte("profiles/" + string(c) + "/")
}

// visitKey zero-pads the timestamp so keys sort chronologically.
func visitKey(id string, t time.Time) []byte {
	return []byte(fmt.Sprintf("visits/%s/%020d", id, t.UnixNano()))
}

func visitPrefix(id string) []byte {
	return []byte("visits/" + id + "/")
}

// Create stores a new profile. The id is derived from the system name (or
// the display name) and returned in the result.
func (s *Store) Create(_ context.Context, p Profile) (Profile, error) {
	if err := p.validate(); err != nil {
		return Profile{}, err
	}
	p.Category, _ = ParseCategory(string(p.Category))
	p.ID = p.key()

	err := s.db.Update(func(txn *badger.Txn) error {
		k := profileKey(p.Category, p.ID)
		if _, err := txn.Get(k); err == nil {
			return apperrors.Newf(apperrors.CodeInvalidArgument, "profile %q already exists", p.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putProfile(txn, p)
	})
	if err != nil {
		return Profile{}, wrapStoreErr(err, "create profile")
	}
	return p, nil
}

// Get loads one profile.
func (s *Store) Get(_ context.Context, c Category, id string) (Profile, error) {
	var p Profile
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = getProfile(txn, c, NormalizeID(id))
		return err
	})
	if err != nil {
		return Profile{}, wrapStoreErr(err, "get profile")
	}
	return p, nil
}

// Update replaces an existing profile, keeping its visit statistics.
func (s *Store) Update(_ context.Context, p Profile) error {
	if err := p.validate(); err != nil {
		return err
	}
	p.Category, _ = ParseCategory(string(p.Category))
	if p.ID == "" {
		p.ID = p.key()
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		old, err := getProfile(txn, p.Category, p.ID)
		if err != nil {
			return err
		}
		p.VisitCount, p.LastVisit = old.VisitCount, old.LastVisit
		return putProfile(txn, p)
	})
	return wrapStoreErr(err, "update profile")
}

// Delete removes a profile and its visit history.
func (s *Store) Delete(_ context.Context, c Category, id string) error {
	id = NormalizeID(id)
	err := s.db.Update(func(txn *badger.Txn) error {
		k := profileKey(c, id)
		if _, err := txn.Get(k); err != nil {
			return err
		}
		if err := txn.Delete(k); err != nil {
			return err
		}
		return deletePrefix(txn, visitPrefix(id))
	})
	return wrapStoreErr(err, "delete profile")
}

// List returns every profile in a category ordered by id.
func (s *Store) List(_ context.Context, c Category) ([]Profile, error) {
	var out []Profile
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := profilePrefix(c)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p Profile
			if err := it.Item().Value(func(v []byte) error { return msgpack.Unmarshal(v, &p) }); err != nil {
				slog.Warn("skipping unreadable profile", "key", string(it.Item().Key()), "error", err)
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, "list profiles")
	}
	return out, nil
}

// RecordVisit counts a visit for the profile at most once per calendar day
// and appends a visit record when it does. A missing profile is created
// from displayName. It reports whether the visit was counted.
func (s *Store) RecordVisit(_ context.Context, c Category, id, displayName string) (bool, error) {
	id = NormalizeID(id)
	now := s.now()
	counted := false

	err := s.db.Update(func(txn *badger.Txn) error {
		p, err := getProfile(txn, c, id)
		switch {
		case apperrors.IsCode(err, apperrors.CodeNotFound):
			p = Profile{ID: id, Category: c, Name: displayName}
		case err != nil:
			return err
		}
		if !p.LastVisit.IsZero() && sameDay(now, p.LastVisit) {
			return nil
		}

		p.VisitCount++
		p.LastVisit = now
		if displayName != "" {
			p.Name = displayName
		}
		if err := putProfile(txn, p); err != nil {
			return err
		}
		v := Visit{ProfileID: id, Name: p.Name, Category: c, Time: now}
		data, err := msgpack.Marshal(v)
		if err != nil {
			return err
		}
		counted = true
		return txn.Set(visitKey(id, now), data)
	})
	if err != nil {
		return false, wrapStoreErr(err, "record visit")
	}
	return counted, nil
}

// History returns a profile's visits, oldest first.
func (s *Store) History(_ context.Context, id string) ([]Visit, error) {
	var out []Visit
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := visitPrefix(NormalizeID(id))
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var v Visit
			if err := it.Item().Value(func(b []byte) error { return msgpack.Unmarshal(b, &v) }); err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, "visit history")
	}
	return out, nil
}

func getProfile(txn *badger.Txn, c Category, id string) (Profile, error) {
	item, err := txn.Get(profileKey(c, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Profile{}, apperrors.Newf(apperrors.CodeNotFound, "profile %s/%s not found", c, id)
	}
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	err = item.Value(func(v []byte) error { return msgpack.Unmarshal(v, &p) })
	return p, err
}

func putProfile(txn *badger.Txn, p Profile) error {
	data, err := msgpack.Marshal(p)
	if err != nil {
		return err
	}
	return txn.Set(profileKey(p.Category, p.ID), data)
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// wrapStoreErr passes AppErrors through and marks everything else as a
// store failure. Transaction conflicts stay retryable.
func wrapStoreErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return apperrors.Wrap(err, apperrors.CodeNotFound, op)
	}
	return apperrors.Wrap(err, apperrors.CodeProfileStoreFailed, op)
}

// slogLogger routes badger's logging through slog, dropping its chatter.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...any)   { slog.Error("badger: " + fmt.Sprintf(f, v...)) }
func (slogLogger) Warningf(f string, v ...any) { slog.Warn("badger: " + fmt.Sprintf(f, v...)) }
func (slogLogger) Infof(string, ...any)        {}
func (slogLogger) Debugf(string, ...any)       {}
