// Package store 保存服务端的令牌记录。
package store

import (
	"bytes"
	"errors"
	"net/netip"
	"slices"
	"time"

	"github.com/nhirsama/rmcs-client/pkg/id"
)

var (
	ErrNotFound = errors.New("store: token not found")
	ErrExists   = errors.New("store: access id already used")
)

// Record is one access token. RefreshToken is the live refresh string;
// PreviousRefresh is the one it replaced at RotatedAt, kept for grace
// rotation. Expire bounds the whole session, refreshes included.
type Record struct {
	AccessID        id.ID
	UserID          id.ID
	ApiID           id.ID
	RefreshToken    string
	PreviousRefresh string
	RotatedAt       time.Time
	AuthToken       string
	Expire          time.Time
	IP              netip.Addr
	Created         time.Time
}

// Store 由内存与 bbolt 两种后端实现。Update 系列函数在记录加锁期间执行，
// 因此经由它们的读-改-写是原子的。已删除的 access id 会被记住，
// Create 不再接受。
type Store interface {
	Create(r Record) error
	Get(accessID id.ID) (Record, error)
	ListByAuthToken(authToken string) ([]Record, error)
	ListByUser(userID id.ID) ([]Record, error)
	Update(accessID id.ID, fn func(*Record) error) (Record, error)
	UpdateByAuthToken(authToken string, fn func(*Record) error) ([]Record, error)
	Delete(accessID id.ID) error
	DeleteByAuthToken(authToken string) (int, error)
	DeleteByUser(userID id.ID) (int, error)
	Close() error
}

func sortRecords(rs []Record) {
	slices.SortFunc(rs, func(a, b Record) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return bytes.Compare(a.AccessID[:], b.AccessID[:])
	})
}
