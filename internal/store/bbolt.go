package store

import (
	"fmt"

	"github.com/nhirsama/rmcs-client/pkg/id"
	"github.com/nhirsama/rmcs-client/pkg/rpc"
	"go.etcd.io/bbolt"
)

var (
	tokensBucket  = []byte("tokens")
	revokedBucket = []byte("revoked")
)

// Bolt 是持久化在 bbolt 文件中的 Store。每次写入都在单个事务中完成，
// 由 bbolt 串行化。
type Bolt struct {
	db *bbolt.DB
}

var _ Store = (*Bolt)(nil)

// diskRecord is the CBOR layout of a Record.
type diskRecord struct {
	AccessID        id.ID  `cbor:"1,keyasint"`
	UserID          id.ID  `cbor:"2,keyasint"`
	ApiID           id.ID  `cbor:"3,keyasint"`
	RefreshToken    string `cbor:"4,keyasint"`
	PreviousRefresh string `cbor:"5,keyasint,omitempty"`
	RotatedAt       int64  `cbor:"6,keyasint,omitempty"`
	AuthToken       string `cbor:"7,keyasint"`
	Expire          int64  `cbor:"8,keyasint"`
	IP              []byte `cbor:"9,keyasint,omitempty"`
	Created         int64  `cbor:"10,keyasint"`
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string, options *bbolt.Options) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{tokensBucket, revokedBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (s *Bolt) Close() error {
	return s.db.Close()
}

func encodeRecord(r Record) ([]byte, error) {
	return rpc.Marshal(diskRecord{
		AccessID:        r.AccessID,
		UserID:          r.UserID,
		ApiID:           r.ApiID,
		RefreshToken:    r.RefreshToken,
		PreviousRefresh: r.PreviousRefresh,
		RotatedAt:       rpc.EncodeTime(r.RotatedAt),
		AuthToken:       r.AuthToken,
		Expire:          rpc.EncodeTime(r.Expire),
		IP:              rpc.EncodeIP(r.IP),
		Created:         rpc.EncodeTime(r.Created),
	})
}

func decodeRecord(data []byte) (Record, error) {
	var d diskRecord
	if err := rpc.Unmarshal(data, &d); err != nil {
		return Record{}, fmt.Errorf("decoding record: %w", err)
	}
	ip, err := rpc.DecodeIP(d.IP)
	if err != nil {
		return Record{}, fmt.Errorf("decoding record %s: %w", d.AccessID, err)
	}
	return Record{
		AccessID:        d.AccessID,
		UserID:          d.UserID,
		ApiID:           d.ApiID,
		RefreshToken:    d.RefreshToken,
		PreviousRefresh: d.PreviousRefresh,
		RotatedAt:       rpc.DecodeTime(d.RotatedAt),
		AuthToken:       d.AuthToken,
		Expire:          rpc.DecodeTime(d.Expire),
		IP:              ip,
		Created:         rpc.DecodeTime(d.Created),
	}, nil
}

func put(b *bbolt.Bucket, r Record) error {
	data, err := encodeRecord(r)
	if err != nil {
		return err
	}
	return b.Put(r.AccessID[:], data)
}

func (s *Bolt) Create(r Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tokensBucket)
		if b.Get(r.AccessID[:]) != nil || tx.Bucket(revokedBucket).Get(r.AccessID[:]) != nil {
			return fmt.Errorf("%s: %w", r.AccessID, ErrExists)
		}
		return put(b, r)
	})
}

func (s *Bolt) Get(accessID id.ID) (Record, error) {
	var r Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(tokensBucket).Get(accessID[:])
		if data == nil {
			return fmt.Errorf("%s: %w", accessID, ErrNotFound)
		}
		var err error
		r, err = decodeRecord(data)
		return err
	})
	return r, err
}

func (s *Bolt) ListByAuthToken(authToken string) ([]Record, error) {
	return s.list(func(r Record) bool { return r.AuthToken == authToken })
}

func (s *Bolt) ListByUser(userID id.ID) ([]Record, error) {
	return s.list(func(r Record) bool { return r.UserID == userID })
}

func (s *Bolt) list(match func(Record) bool) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		out, err = scan(tx.Bucket(tokensBucket), match)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

func scan(b *bbolt.Bucket, match func(Record) bool) ([]Record, error) {
	var out []Record
	err := b.ForEach(func(_, v []byte) error {
		r, err := decodeRecord(v)
		if err != nil {
			return err
		}
		if match(r) {
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (s *Bolt) Update(accessID id.ID, fn func(*Record) error) (Record, error) {
	var r Record
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tokensBucket)
		data := b.Get(accessID[:])
		if data == nil {
			return fmt.Errorf("%s: %w", accessID, ErrNotFound)
		}
		var err error
		if r, err = decodeRecord(data); err != nil {
			return err
		}
		if err := fn(&r); err != nil {
			return err
		}
		r.AccessID = accessID
		return put(b, r)
	})
	if err != nil {
		return Record{}, err
	}
	return r, nil
}

func (s *Bolt) UpdateByAuthToken(authToken string, fn func(*Record) error) ([]Record, error) {
	var group []Record
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tokensBucket)
		var err error
		group, err = scan(b, func(r Record) bool { return r.AuthToken == authToken })
		if err != nil {
			return err
		}
		if len(group) == 0 {
			return fmt.Errorf("auth token: %w", ErrNotFound)
		}
		sortRecords(group)
		for i := range group {
			accessID := group[i].AccessID
			if err := fn(&group[i]); err != nil {
				return err
			}
			group[i].AccessID = accessID
			if err := put(b, group[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (s *Bolt) Delete(accessID id.ID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(tokensBucket).Get(accessID[:]) == nil {
			return fmt.Errorf("%s: %w", accessID, ErrNotFound)
		}
		return revoke(tx, accessID)
	})
}

func (s *Bolt) DeleteByAuthToken(authToken string) (int, error) {
	n, err := s.deleteWhere(func(r Record) bool { return r.AuthToken == authToken })
	if err == nil && n == 0 {
		return 0, fmt.Errorf("auth token: %w", ErrNotFound)
	}
	return n, err
}

func (s *Bolt) DeleteByUser(userID id.ID) (int, error) {
	return s.deleteWhere(func(r Record) bool { return r.UserID == userID })
}

func (s *Bolt) deleteWhere(match func(Record) bool) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		matched, err := scan(tx.Bucket(tokensBucket), match)
		if err != nil {
			return err
		}
		for _, r := range matched {
			if err := revoke(tx, r.AccessID); err != nil {
				return err
			}
		}
		n = len(matched)
		return nil
	})
	return n, err
}

func revoke(tx *bbolt.Tx, accessID id.ID) error {
	if err := tx.Bucket(tokensBucket).Delete(accessID[:]); err != nil {
		return err
	}
	return tx.Bucket(revokedBucket).Put(accessID[:], []byte{})
}
