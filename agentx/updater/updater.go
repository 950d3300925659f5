// Package updater implements the periodic per-region snapshot refresh:
// invoke Update once at registration and then every F seconds,
// publishing a fresh trie atomically and retaining the previous one on
// failure. Modeled on a cached-packet rebuild pattern
// (internal/bfd/session.go's rebuildCachedPacket) and its ticker-driven
// timer loop (handleTxTimer), generalized from a single-packet cache to
// a full snapshot trie.
package updater

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentx-go/subagent/agentx/oid"
	"github.com/agentx-go/subagent/agentx/region"
	"github.com/agentx-go/subagent/agentx/trie"
	"github.com/agentx-go/subagent/agentx/value"
)

// Builder is the per-update snapshot-construction handle passed to
// Updater.Update. Each Set<Type> call inserts into the builder's trie at
// root.Child(suffix...).
type Builder struct {
	root oid.OID
	t    *trie.Trie
}

func newBuilder(root oid.OID) *Builder {
	return &Builder{root: root, t: trie.New()}
}

func (b *Builder) set(suffix oid.OID, v value.Value) {
	full, err := b.root.Child(suffix.SubIdentifiers()...)
	if err != nil {
		return
	}
	b.t.Insert(full, v)
}

// SetInteger records an Integer value at root.suffix.
func (b *Builder) SetInteger(suffix oid.OID, v int32) { b.set(suffix, value.Integer(v)) }

// SetOctetString records an OctetString value at root.suffix.
func (b *Builder) SetOctetString(suffix oid.OID, v []byte) error {
	val, err := value.OctetString(v)
	if err != nil {
		return err
	}
	b.set(suffix, val)
	return nil
}

// SetObjectIdentifier records an ObjectIdentifier value at root.suffix.
func (b *Builder) SetObjectIdentifier(suffix oid.OID, v oid.OID) {
	b.set(suffix, value.ObjectIdentifier(v))
}

// SetIPAddress records an IpAddress value at root.suffix.
func (b *Builder) SetIPAddress(suffix oid.OID, a, bb, c, d byte) {
	b.set(suffix, value.IPAddress(a, bb, c, d))
}

// SetCounter32 records a Counter32 value at root.suffix.
func (b *Builder) SetCounter32(suffix oid.OID, v uint32) { b.set(suffix, value.Counter32(v)) }

// SetGauge32 records a Gauge32 value at root.suffix.
func (b *Builder) SetGauge32(suffix oid.OID, v uint32) { b.set(suffix, value.Gauge32(v)) }

// SetTimeTicks records a TimeTicks value at root.suffix.
func (b *Builder) SetTimeTicks(suffix oid.OID, v uint32) { b.set(suffix, value.TimeTicks(v)) }

// SetOpaque records an Opaque value at root.suffix.
func (b *Builder) SetOpaque(suffix oid.OID, v []byte) error {
	val, err := value.Opaque(v)
	if err != nil {
		return err
	}
	b.set(suffix, val)
	return nil
}

// SetCounter64 records a Counter64 value at root.suffix.
func (b *Builder) SetCounter64(suffix oid.OID, v uint64) { b.set(suffix, value.Counter64(v)) }

// Updater is the user-supplied contract for refreshing one region's
// snapshot: populate builder with set_<TYPE> calls; on return, the
// snapshot it produced is published.
type Updater interface {
	Update(ctx context.Context, builder *Builder) error
}

// UpdaterFunc adapts a plain function to the Updater interface.
type UpdaterFunc func(ctx context.Context, builder *Builder) error

// Update calls f.
func (f UpdaterFunc) Update(ctx context.Context, builder *Builder) error { return f(ctx, builder) }

// Scheduler runs one Updater against one Region on a fixed interval.
type Scheduler struct {
	region   *region.Region
	updater  Updater
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler returns a Scheduler that refreshes r via u every interval,
// starting with one immediate refresh at registration.
func NewScheduler(r *region.Region, u Updater, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{region: r, updater: u, interval: interval, logger: logger.With(slog.String("region", r.Root.String()))}
}

// Run executes the scheduler loop until ctx is cancelled. It never blocks
// the caller's dispatch loop; it is intended to run on its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	s.refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// refresh runs one Update call and publishes on success. On failure, the
// previous snapshot is retained and the error is logged.
func (s *Scheduler) refresh(ctx context.Context) {
	b := newBuilder(s.region.Root)
	if err := s.updater.Update(ctx, b); err != nil {
		s.logger.Warn("updater failed, retaining previous snapshot", slog.String("error", err.Error()))
		return
	}
	s.region.Publish(b.t)
}
