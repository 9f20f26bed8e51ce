package viewcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"intentlend/core/events"
	"intentlend/core/state"
	"intentlend/crypto"
)

// ErrPushFailed wraps every write failure surfaced by an atomic push.
var ErrPushFailed = errors.New("viewcache: push failed")

// Strategy selects how a push reacts to a failing write.
type Strategy uint8

const (
	// Atomic returns the first failure so the caller's transaction aborts.
	Atomic Strategy = iota
	// BestEffort discards the failed entry, emits a CacheUpdateFailed signal
	// and lets the caller's transaction commit.
	BestEffort
)

func (s Strategy) String() string {
	switch s {
	case Atomic:
		return "atomic"
	case BestEffort:
		return "best-effort"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

// Update is one desired view state. A zero User addresses the per-asset
// statistics entry.
type Update struct {
	User       crypto.Address
	Asset      crypto.Address
	Collateral *big.Int
	Debt       *big.Int
}

// Entry is a versioned snapshot of one (user, asset) pair. Version strictly
// increases with every successful write.
type Entry struct {
	User       crypto.Address `json:"user"`
	Asset      crypto.Address `json:"asset"`
	Collateral *big.Int       `json:"collateral"`
	Debt       *big.Int       `json:"debt"`
	Version    uint64         `json:"version"`
	UpdatedAt  uint64         `json:"updatedAt"`
}

// IsStats reports whether the entry is a per-asset statistics entry.
func (e *Entry) IsStats() bool { return e != nil && e.User.IsZero() }

// Sink mirrors entries into an external read store.
type Sink interface {
	Name() string
	Write(ctx context.Context, entry Entry) error
}

// Cache keeps the versioned entries in state and mirrors them to sinks.
type Cache struct {
	sinks  []Sink
	nowFn  func() time.Time
	logger *slog.Logger
}

func New(sinks ...Sink) *Cache {
	return &Cache{sinks: sinks, nowFn: time.Now, logger: slog.Default()}
}

// AddSink registers an additional mirror. It must be called during wiring.
func (c *Cache) AddSink(s Sink) {
	if s != nil {
		c.sinks = append(c.sinks, s)
	}
}

func (c *Cache) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	c.nowFn = now
}

func (c *Cache) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Sinks lists the configured mirror names.
func (c *Cache) Sinks() []string {
	names := make([]string, 0, len(c.sinks))
	for _, s := range c.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Push applies updates with the given strategy.
func (c *Cache) Push(ctx context.Context, tx *state.Tx, updates []Update, strategy Strategy) error {
	for _, u := range updates {
		if strategy == BestEffort {
			c.pushBestEffort(ctx, tx, u)
			continue
		}
		if _, view, err := c.write(ctx, tx, u); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrPushFailed, view, err)
		}
	}
	return nil
}

func (c *Cache) pushBestEffort(ctx context.Context, tx *state.Tx, u Update) {
	var view string
	err := tx.Nested(func(child *state.Tx) error {
		var err error
		_, view, err = c.write(ctx, child, u)
		return err
	})
	if err == nil {
		return
	}
	c.logger.Warn("view cache update failed",
		"user", u.User.String(),
		"asset", u.Asset.Hex(),
		"view", view,
		"error", err)
	tx.Emit(events.CacheUpdateFailed{
		User:        u.User,
		Asset:       u.Asset,
		ViewAddress: view,
		Collateral:  copyAmount(u.Collateral),
		Debt:        copyAmount(u.Debt),
		Reason:      err.Error(),
	})
}

// write stores the next version of u and mirrors it. The returned view names
// the store that failed, or the state view on success.
func (c *Cache) write(ctx context.Context, tx *state.Tx, u Update) (*Entry, string, error) {
	if u.Asset.IsZero() {
		return nil, stateView, fmt.Errorf("asset required")
	}
	if err := ctx.Err(); err != nil {
		return nil, stateView, err
	}
	prev, _, err := Get(tx, u.User, u.Asset)
	if err != nil {
		return nil, stateView, err
	}
	next := &Entry{
		User:       u.User,
		Asset:      u.Asset,
		Collateral: copyAmount(u.Collateral),
		Debt:       copyAmount(u.Debt),
		Version:    1,
		UpdatedAt:  uint64(c.nowFn().Unix()),
	}
	if prev != nil {
		next.Version = prev.Version + 1
	}
	if err := put(tx, next); err != nil {
		return nil, stateView, err
	}
	for _, s := range c.sinks {
		if err := s.Write(ctx, *next); err != nil {
			return nil, s.Name(), err
		}
	}
	return next, stateView, nil
}

func copyAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
