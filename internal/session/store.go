// Package session keeps per-shopper state in Redis: cart, account, cached wallet and wishlist.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/perfumeshop/internal/cart"
	"github.com/joao-fontenele/perfumeshop/internal/domain"
)

const DefaultTTL = 30 * time.Minute

// AccountCartTTL is how long a logged-out shopper's cart waits for the next login.
const AccountCartTTL = 30 * 24 * time.Hour

const (
	keyCart     = "cart"
	keyAccount  = "account"
	keyWallet   = "wallet"
	keyWishlist = "wishlist"
)

var allKeys = []string{keyCart, keyAccount, keyWallet, keyWishlist}

type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewStore(client redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// SaveAccountCart parks c under the account so the next login can pick it up.
func (s *Store) SaveAccountCart(ctx context.Context, userID string, c *cart.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode account cart %s: %w", userID, err)
	}
	if err := s.client.Set(ctx, accountCartKey(userID), data, AccountCartTTL).Err(); err != nil {
		return fmt.Errorf("write account cart %s: %w", userID, err)
	}
	return nil
}

// TakeAccountCart returns and removes the parked cart, an empty one when nothing is parked.
func (s *Store) TakeAccountCart(ctx context.Context, userID string) (*cart.Cart, error) {
	key := accountCartKey(userID)
	pipe := s.client.TxPipeline()
	get := pipe.Get(ctx, key)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("take account cart %s: %w", userID, err)
	}

	c := cart.New()
	data, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read account cart %s: %w", userID, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode account cart %s: %w", userID, err)
	}
	return c, nil
}

func accountCartKey(userID string) string {
	return "account:" + userID + ":cart"
}

// Bind returns the handle for one session id. It does not touch Redis.
func (s *Store) Bind(id string) *Session {
	return &Session{store: s, id: id}
}

type Session struct {
	store *Store
	id    string
}

func (s *Session) ID() string {
	return s.id
}

// Cart returns an empty cart when none has been stored yet.
func (s *Session) Cart(ctx context.Context) (*cart.Cart, error) {
	c := cart.New()
	if _, err := s.get(ctx, keyCart, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Session) SaveCart(ctx context.Context, c *cart.Cart) error {
	return s.set(ctx, keyCart, c)
}

// Account returns nil when nobody is logged in on this session.
func (s *Session) Account(ctx context.Context) (*domain.Account, error) {
	var account domain.Account
	found, err := s.get(ctx, keyAccount, &account)
	if err != nil || !found {
		return nil, err
	}
	return &account, nil
}

func (s *Session) SaveAccount(ctx context.Context, account domain.Account) error {
	return s.set(ctx, keyAccount, account)
}

// Wallet is a read-only cache of the ledger balance, nil when never cached.
func (s *Session) Wallet(ctx context.Context) (*domain.Wallet, error) {
	var w domain.Wallet
	found, err := s.get(ctx, keyWallet, &w)
	if err != nil || !found {
		return nil, err
	}
	return &w, nil
}

func (s *Session) SaveWallet(ctx context.Context, w domain.Wallet) error {
	return s.set(ctx, keyWallet, w)
}

func (s *Session) Wishlist(ctx context.Context) (*cart.Wishlist, error) {
	w := cart.NewWishlist()
	if _, err := s.get(ctx, keyWishlist, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Session) SaveWishlist(ctx context.Context, w *cart.Wishlist) error {
	return s.set(ctx, keyWishlist, w)
}

// Touch extends the lifetime of every key the session has.
func (s *Session) Touch(ctx context.Context) error {
	pipe := s.store.client.Pipeline()
	for _, k := range allKeys {
		pipe.Expire(ctx, s.key(k), s.store.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch session %s: %w", s.id, err)
	}
	return nil
}

// Destroy is logout.
func (s *Session) Destroy(ctx context.Context) error {
	keys := make([]string, 0, len(allKeys))
	for _, k := range allKeys {
		keys = append(keys, s.key(k))
	}
	if err := s.store.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("destroy session %s: %w", s.id, err)
	}
	return nil
}

func (s *Session) key(name string) string {
	return "session:" + s.id + ":" + name
}

func (s *Session) get(ctx context.Context, name string, dst any) (bool, error) {
	data, err := s.store.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read session %s %s: %w", s.id, name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode session %s %s: %w", s.id, name, err)
	}
	return true, nil
}

func (s *Session) set(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode session %s %s: %w", s.id, name, err)
	}
	if err := s.store.client.Set(ctx, s.key(name), data, s.store.ttl).Err(); err != nil {
		return fmt.Errorf("write session %s %s: %w", s.id, name, err)
	}
	return nil
}
