package access

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeSource is an in-memory Source honoring the reader contracts: deleted
// groups and deleted channels are filtered out of the relevant lists.
type fakeSource struct {
	mu sync.Mutex

	users       []WorkspaceUser
	channels    []Channel
	categories  []Category
	memberships []GroupMembership
	deadGroups  map[int64]bool
	grants      []GroupChannelGrant
	explicit    []ExplicitChannelGrant

	failFind     error
	failChannels error
	failGroups   error
	failGrants   error
	failExplicit error

	// hook runs inside ListGroupMemberships, letting tests hold a compute open
	hook func(ctx context.Context)

	computeCalls atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{deadGroups: map[int64]bool{}}
}

func (f *fakeSource) addUser(wu WorkspaceUser) *WorkspaceUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, wu)
	return &f.users[len(f.users)-1]
}

func (f *fakeSource) addChannel(ch Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch.Type == "" {
		ch.Type = ChannelChat
	}
	f.channels = append(f.channels, ch)
}

func (f *fakeSource) deleteChannel(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for i := range f.channels {
		if f.channels[i].ID == id {
			f.channels[i].DeletedAt = &now
		}
	}
}

func (f *fakeSource) setRole(workspaceUserID int64, role Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.users {
		if f.users[i].ID == workspaceUserID {
			f.users[i].Role = role
		}
	}
}

func (f *fakeSource) grantGroup(groupID, channelID int64, level Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants = append(f.grants, GroupChannelGrant{GroupID: groupID, ChannelID: channelID, Level: level})
}

func (f *fakeSource) joinGroup(groupID, workspaceUserID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberships = append(f.memberships, GroupMembership{GroupID: groupID, WorkspaceUserID: workspaceUserID})
}

func (f *fakeSource) invite(workspaceUserID, channelID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.explicit = append(f.explicit, ExplicitChannelGrant{WorkspaceUserID: workspaceUserID, ChannelID: channelID})
}

func (f *fakeSource) channelLive(id int64) bool {
	for _, ch := range f.channels {
		if ch.ID == id {
			return ch.DeletedAt == nil
		}
	}
	return false
}

func (f *fakeSource) FindWorkspaceUser(_ context.Context, workspaceID, userID int64) (*WorkspaceUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFind != nil {
		return nil, f.failFind
	}
	for _, wu := range f.users {
		if wu.WorkspaceID == workspaceID && wu.UserID == userID && wu.Live() {
			found := wu
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeSource) ListChannels(_ context.Context, workspaceID int64, channelType ChannelType) ([]Channel, error) {
	f.computeCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failChannels != nil {
		return nil, f.failChannels
	}
	var out []Channel
	for _, ch := range f.channels {
		if ch.WorkspaceID == workspaceID && ch.Type == channelType && ch.DeletedAt == nil {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeSource) ListGroupMemberships(ctx context.Context, workspaceUserID int64) ([]GroupMembership, error) {
	f.computeCalls.Add(1)
	if f.hook != nil {
		f.hook(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGroups != nil {
		return nil, f.failGroups
	}
	var out []GroupMembership
	for _, m := range f.memberships {
		if m.WorkspaceUserID == workspaceUserID && !f.deadGroups[m.GroupID] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeSource) ListGroupChannelGrants(_ context.Context, groupID int64) ([]GroupChannelGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGrants != nil {
		return nil, f.failGrants
	}
	var out []GroupChannelGrant
	for _, g := range f.grants {
		if g.GroupID == groupID && f.channelLive(g.ChannelID) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeSource) ListExplicitGrants(_ context.Context, workspaceUserID int64) ([]ExplicitChannelGrant, error) {
	f.computeCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failExplicit != nil {
		return nil, f.failExplicit
	}
	var out []ExplicitChannelGrant
	for _, g := range f.explicit {
		if g.WorkspaceUserID == workspaceUserID && f.channelLive(g.ChannelID) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeSource) ListCategories(_ context.Context, workspaceID int64) ([]Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Category
	for _, c := range f.categories {
		if c.WorkspaceID == workspaceID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeSource) ListWorkspaceUsers(_ context.Context, workspaceID int64) ([]WorkspaceUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []WorkspaceUser
	for _, wu := range f.users {
		if wu.WorkspaceID == workspaceID && wu.Live() {
			out = append(out, wu)
		}
	}
	return out, nil
}

func (f *fakeSource) ListAllChannels(_ context.Context, workspaceID int64) ([]Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Channel
	for _, ch := range f.channels {
		if ch.WorkspaceID == workspaceID && ch.DeletedAt == nil {
			out = append(out, ch)
		}
	}
	return out, nil
}

// mapCache is a Cache with injectable failures
type mapCache struct {
	mu      sync.Mutex
	entries map[string]PermissionMap
	puts    int

	failGet        error
	failPut        error
	failInvalidate error

	// putHook runs at the start of Put, before the entry is stored
	putHook func()
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]PermissionMap{}}
}

func (c *mapCache) Get(_ context.Context, workspaceID, userID int64) (PermissionMap, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet != nil {
		return nil, false, c.failGet
	}
	perms, ok := c.entries[CacheKey(workspaceID, userID)]
	if !ok {
		return nil, false, nil
	}
	return perms.Clone(), true, nil
}

func (c *mapCache) Put(_ context.Context, workspaceID, userID int64, perms PermissionMap) error {
	if c.putHook != nil {
		c.putHook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if c.failPut != nil {
		return c.failPut
	}
	c.entries[CacheKey(workspaceID, userID)] = perms.Clone()
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, workspaceID, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failInvalidate != nil {
		return c.failInvalidate
	}
	delete(c.entries, CacheKey(workspaceID, userID))
	return nil
}

func (c *mapCache) InvalidateWorkspace(_ context.Context, workspaceID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failInvalidate != nil {
		return c.failInvalidate
	}
	prefix := WorkspacePrefix(workspaceID)
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *mapCache) put(workspaceID, userID int64, perms PermissionMap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[CacheKey(workspaceID, userID)] = perms
}

func (c *mapCache) putCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}

func (c *mapCache) has(workspaceID, userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[CacheKey(workspaceID, userID)]
	return ok
}

// scenario is workspace 1 with chat channels A=10 and B=11, assistant
// channel 12, and group 1 granting WRITE on A
type scenario struct {
	src     *fakeSource
	owner   *WorkspaceUser
	manager *WorkspaceUser
	member  *WorkspaceUser
	guest   *WorkspaceUser
}

const (
	wsID      int64 = 1
	chanA     int64 = 10
	chanB     int64 = 11
	chanAsst  int64 = 12
	groupG    int64 = 1
	ownerUID  int64 = 100
	mgrUID    int64 = 101
	memberUID int64 = 102
	guestUID  int64 = 103
)

func newScenario() *scenario {
	src := newFakeSource()
	cat := int64(5)
	src.categories = []Category{{ID: cat, WorkspaceID: wsID, Name: "Text", ZIndex: 1}}
	src.addChannel(Channel{ID: chanA, WorkspaceID: wsID, CategoryID: &cat, Name: "a", ZIndex: 1})
	src.addChannel(Channel{ID: chanB, WorkspaceID: wsID, CategoryID: &cat, Name: "b", ZIndex: 2})
	src.addChannel(Channel{ID: chanAsst, WorkspaceID: wsID, CategoryID: &cat, Type: ChannelAssistant, Name: "assistant", ZIndex: 3})

	s := &scenario{src: src}
	s.owner = src.addUser(WorkspaceUser{ID: 1, WorkspaceID: wsID, UserID: ownerUID, Role: RoleOwner, Name: "olive"})
	s.manager = src.addUser(WorkspaceUser{ID: 2, WorkspaceID: wsID, UserID: mgrUID, Role: RoleManager, Name: "mia"})
	s.member = src.addUser(WorkspaceUser{ID: 3, WorkspaceID: wsID, UserID: memberUID, Role: RoleMember, Name: "max"})
	s.guest = src.addUser(WorkspaceUser{ID: 4, WorkspaceID: wsID, UserID: guestUID, Role: RoleGuest, Name: "gus"})

	src.grantGroup(groupG, chanA, LevelWrite)
	src.joinGroup(groupG, s.member.ID)
	src.invite(s.guest.ID, chanB)

	// Copies so that later addUser calls cannot move what tests hold
	owner, manager, member, guest := *s.owner, *s.manager, *s.member, *s.guest
	s.owner, s.manager, s.member, s.guest = &owner, &manager, &member, &guest
	return s
}
