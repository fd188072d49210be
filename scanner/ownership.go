package scanner

import (
	"os/user"
	"sync"
)

// ownerCache resolves numeric ids to account names. Lookups hit the system
// user database, so each id is resolved once per build.
type ownerCache struct {
	mu     sync.Mutex
	users  map[string]string
	groups map[string]string
}

func newOwnerCache() *ownerCache {
	return &ownerCache{
		users:  make(map[string]string),
		groups: make(map[string]string),
	}
}

// names returns the owner and group names of path, falling back to the
// numeric id when the id has no name.
func (c *ownerCache) names(path string) (owner, group string, err error) {
	uid, gid, err := fileOwnerIDs(path)
	if err != nil {
		return "", "", err
	}
	return c.userName(uid), c.groupName(gid), nil
}

func (c *ownerCache) userName(uid string) string {
	if uid == "" {
		return ""
	}
	c.mu.Lock()
	name, ok := c.users[uid]
	c.mu.Unlock()
	if ok {
		return name
	}
	name = uid
	if u, err := user.LookupId(uid); err == nil && u.Username != "" {
		name = u.Username
	}
	c.mu.Lock()
	c.users[uid] = name
	c.mu.Unlock()
	return name
}

func (c *ownerCache) groupName(gid string) string {
	if gid == "" {
		return ""
	}
	c.mu.Lock()
	name, ok := c.groups[gid]
	c.mu.Unlock()
	if ok {
		return name
	}
	name = gid
	if g, err := user.LookupGroupId(gid); err == nil && g.Name != "" {
		name = g.Name
	}
	c.mu.Lock()
	c.groups[gid] = name
	c.mu.Unlock()
	return name
}
