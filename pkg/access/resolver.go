package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/prizmrun/prizm/pkg/observability"
)

// ErrNotAMember is returned by lookups for a user with no live membership
var ErrNotAMember = errors.New("not a member of the workspace")

// DefaultComputeTimeout bounds a shared computation once its first caller has gone away
const DefaultComputeTimeout = 10 * time.Second

// DefaultEpochCapacity is the number of workspaces whose invalidation epoch
// is tracked. An evicted workspace reads as epoch 0, which any in-flight
// compute that saw a later epoch treats as a change.
const DefaultEpochCapacity = 16384

// Resolver serves permission maps from the cache, falling back to the
// calculator. Cache failures degrade to recomputation and are never returned.
type Resolver struct {
	source         Source
	directory      DirectoryReader
	calc           *Calculator
	cache          Cache
	cacheName      string
	logger         *observability.Logger
	metrics        *observability.Metrics
	computeTimeout time.Duration

	flight singleflight.Group

	// epochs holds the generation of the last invalidation per workspace,
	// drawn from one counter so a value is never reused after eviction
	epochs     *lru.Cache[int64, uint64]
	generation atomic.Uint64
	epochCap   int
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithCache sets the cache backend and the name it is reported under
func WithCache(cache Cache, name string) ResolverOption {
	return func(r *Resolver) {
		r.cache = cache
		r.cacheName = name
	}
}

// WithDirectory enables the listing helpers
func WithDirectory(dir DirectoryReader) ResolverOption {
	return func(r *Resolver) { r.directory = dir }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = metrics }
}

// WithComputeTimeout overrides DefaultComputeTimeout
func WithComputeTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.computeTimeout = d }
}

// WithEpochCapacity overrides DefaultEpochCapacity
func WithEpochCapacity(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.epochCap = n
		}
	}
}

// NewResolver creates a resolver over source
func NewResolver(source Source, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		source:         source,
		calc:           NewCalculator(source),
		cache:          NoopCache{},
		cacheName:      "none",
		logger:         observability.NewLogger(observability.InfoLevel, nil),
		computeTimeout: DefaultComputeTimeout,
		epochCap:       DefaultEpochCapacity,
	}
	for _, opt := range opts {
		opt(r)
	}
	// Only fails for a non-positive size, which WithEpochCapacity rejects
	r.epochs, _ = lru.New[int64, uint64](r.epochCap)
	return r
}

// Calculator returns the underlying calculator
func (r *Resolver) Calculator() *Calculator {
	return r.calc
}

// Member returns the live membership, or nil when there is none
func (r *Resolver) Member(ctx context.Context, workspaceID, userID int64) (*WorkspaceUser, error) {
	wu, err := r.source.FindWorkspaceUser(ctx, workspaceID, userID)
	if err != nil {
		return nil, sourceErr("find workspace user", err)
	}
	if wu == nil || !wu.Live() {
		return nil, nil
	}
	return wu, nil
}

// Permissions returns the permission map of a user in a workspace
func (r *Resolver) Permissions(ctx context.Context, workspaceID, userID int64) (PermissionMap, error) {
	wu, err := r.Member(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if wu == nil {
		return nil, ErrNotAMember
	}
	return r.PermissionsFor(ctx, wu)
}

// PermissionsFor returns the permission map of a known live member
func (r *Resolver) PermissionsFor(ctx context.Context, wu *WorkspaceUser) (PermissionMap, error) {
	log := r.logger.WithFields(map[string]interface{}{
		"workspace_id": wu.WorkspaceID,
		"user_id":      wu.UserID,
		"cache":        r.cacheName,
	})

	perms, ok, err := r.cache.Get(ctx, wu.WorkspaceID, wu.UserID)
	switch {
	case err != nil:
		log.WithError(err).Warn("access cache read failed, recomputing")
		r.metrics.RecordCacheError(r.cacheName, "get")
	case ok:
		r.metrics.RecordCacheHit(r.cacheName)
		return perms, nil
	default:
		r.metrics.RecordCacheMiss(r.cacheName)
	}

	return r.compute(ctx, wu, log)
}

// compute runs the calculator once per in-flight key and epoch. The shared
// run is detached from the first caller so that its cancellation does not
// fail the others; each caller still stops waiting when its own context ends.
// Callers arriving after an invalidation start a fresh run.
func (r *Resolver) compute(ctx context.Context, wu *WorkspaceUser, log *observability.Logger) (PermissionMap, error) {
	epoch := r.epoch(wu.WorkspaceID)
	key := CacheKey(wu.WorkspaceID, wu.UserID) + ":" + string(wu.Role) + ":" +
		strconv.FormatInt(wu.ID, 10) + ":" + strconv.FormatUint(epoch, 10)
	member := *wu

	ch := r.flight.DoChan(key, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.computeTimeout)
		defer cancel()

		start := time.Now()
		perms, err := r.calc.Compute(runCtx, &member)
		r.metrics.ObserveCompute(string(member.Role), time.Since(start))
		if err != nil {
			return nil, err
		}

		// An invalidation that landed while we were reading may mean perms
		// reflects pre-mutation state. Serve it, but do not cache it.
		if r.epoch(member.WorkspaceID) != epoch {
			log.Debug("workspace invalidated during compute, skipping cache fill")
			return perms, nil
		}
		if err := r.cache.Put(runCtx, member.WorkspaceID, member.UserID, perms); err != nil {
			log.WithError(err).Warn("access cache write failed")
			r.metrics.RecordCacheError(r.cacheName, "put")
			return perms, nil
		}
		// An invalidation between the check above and the write has already
		// run its delete, so the entry just written must go.
		if r.epoch(member.WorkspaceID) != epoch {
			log.Debug("workspace invalidated during cache fill, dropping entry")
			if err := r.cache.Invalidate(runCtx, member.WorkspaceID, member.UserID); err != nil {
				log.WithError(err).Error("access cache invalidation failed")
				r.metrics.RecordCacheError(r.cacheName, "invalidate")
			}
		}
		return perms, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		perms := res.Val.(PermissionMap)
		if res.Shared {
			perms = perms.Clone()
		}
		return perms, nil
	}
}

func (r *Resolver) epoch(workspaceID int64) uint64 {
	epoch, _ := r.epochs.Get(workspaceID)
	return epoch
}

func (r *Resolver) bump(workspaceID int64) {
	r.epochs.Add(workspaceID, r.generation.Add(1))
}

// Invalidate drops the cached map of one user. Call it only after the
// mutation that changed the user's access has committed.
func (r *Resolver) Invalidate(ctx context.Context, workspaceID, userID int64) error {
	r.bump(workspaceID)
	r.metrics.RecordInvalidation("user")
	if err := r.cache.Invalidate(ctx, workspaceID, userID); err != nil {
		r.metrics.RecordCacheError(r.cacheName, "invalidate")
		r.logger.WithError(err).
			WithField("workspace_id", workspaceID).
			WithField("user_id", userID).
			Error("access cache invalidation failed")
		return fmt.Errorf("invalidate access cache for user %d in workspace %d: %w", userID, workspaceID, err)
	}
	return nil
}

// InvalidateWorkspace drops every cached map of a workspace. Call it only
// after the structural mutation has committed.
func (r *Resolver) InvalidateWorkspace(ctx context.Context, workspaceID int64) error {
	r.bump(workspaceID)
	r.metrics.RecordInvalidation("workspace")
	if err := r.cache.InvalidateWorkspace(ctx, workspaceID); err != nil {
		r.metrics.RecordCacheError(r.cacheName, "invalidate_workspace")
		r.logger.WithError(err).
			WithField("workspace_id", workspaceID).
			Error("access cache workspace invalidation failed")
		return fmt.Errorf("invalidate access cache for workspace %d: %w", workspaceID, err)
	}
	return nil
}

// ChannelPermission returns the level a user holds on one channel
func (r *Resolver) ChannelPermission(ctx context.Context, workspaceID, userID, channelID int64) (Level, error) {
	perms, err := r.Permissions(ctx, workspaceID, userID)
	if err != nil {
		return LevelNone, err
	}
	return perms.Get(channelID), nil
}

// AccessibleChannel is one channel in an accessible-channel listing
type AccessibleChannel struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Permission Level  `json:"permission"`
}

// AccessibleCategory is a category with the channels the user can reach
type AccessibleCategory struct {
	ID       int64               `json:"id"`
	Name     string              `json:"name"`
	Channels []AccessibleChannel `json:"channels"`
}

// AccessibleChannels lists the channels a user can reach, grouped by
// category. Categories come in display order, channels by z-index, and
// categories with nothing reachable are left out.
func (r *Resolver) AccessibleChannels(ctx context.Context, workspaceID, userID int64) ([]AccessibleCategory, error) {
	if r.directory == nil {
		return nil, errors.New("resolver has no directory reader")
	}

	perms, err := r.Permissions(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}

	categories, err := r.directory.ListCategories(ctx, workspaceID)
	if err != nil {
		return nil, sourceErr("list categories", err)
	}
	channels, err := r.directory.ListAllChannels(ctx, workspaceID)
	if err != nil {
		return nil, sourceErr("list channels", err)
	}

	byCategory := make(map[int64][]Channel)
	for _, ch := range channels {
		if ch.CategoryID == nil || ch.DeletedAt != nil {
			continue
		}
		if perms.Get(ch.ID) == LevelNone {
			continue
		}
		byCategory[*ch.CategoryID] = append(byCategory[*ch.CategoryID], ch)
	}

	sort.SliceStable(categories, func(i, j int) bool { return categories[i].ZIndex < categories[j].ZIndex })

	result := make([]AccessibleCategory, 0, len(byCategory))
	for _, cat := range categories {
		chs := byCategory[cat.ID]
		if len(chs) == 0 {
			continue
		}
		sort.SliceStable(chs, func(i, j int) bool { return chs[i].ZIndex < chs[j].ZIndex })

		item := AccessibleCategory{ID: cat.ID, Name: cat.Name, Channels: make([]AccessibleChannel, 0, len(chs))}
		for _, ch := range chs {
			item.Channels = append(item.Channels, AccessibleChannel{ID: ch.ID, Name: ch.Name, Permission: perms.Get(ch.ID)})
		}
		result = append(result, item)
	}
	return result, nil
}

// ChannelUser is a member who can reach a channel
type ChannelUser struct {
	WorkspaceUserID int64  `json:"workspace_user_id"`
	Name            string `json:"name"`
	Permission      Level  `json:"permission"`
}

// ChannelUsers splits the members that can reach a channel into regular
// members and guests
type ChannelUsers struct {
	Users  []ChannelUser `json:"users"`
	Guests []ChannelUser `json:"guests"`
}

// ChannelUsers returns everyone with a positive level on a channel, each list
// sorted by name
func (r *Resolver) ChannelUsers(ctx context.Context, workspaceID, channelID int64) (*ChannelUsers, error) {
	if r.directory == nil {
		return nil, errors.New("resolver has no directory reader")
	}

	members, err := r.directory.ListWorkspaceUsers(ctx, workspaceID)
	if err != nil {
		return nil, sourceErr("list workspace users", err)
	}

	out := &ChannelUsers{Users: []ChannelUser{}, Guests: []ChannelUser{}}
	for i := range members {
		wu := &members[i]
		if !wu.Live() {
			continue
		}
		perms, err := r.PermissionsFor(ctx, wu)
		if err != nil {
			return nil, err
		}
		level := perms.Get(channelID)
		if level == LevelNone {
			continue
		}
		item := ChannelUser{WorkspaceUserID: wu.ID, Name: wu.Name, Permission: level}
		if wu.Role == RoleGuest {
			out.Guests = append(out.Guests, item)
		} else {
			out.Users = append(out.Users, item)
		}
	}

	sort.SliceStable(out.Users, func(i, j int) bool { return out.Users[i].Name < out.Users[j].Name })
	sort.SliceStable(out.Guests, func(i, j int) bool { return out.Guests[i].Name < out.Guests[j].Name })
	return out, nil
}
