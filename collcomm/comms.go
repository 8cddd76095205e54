package collcomm

import (
	"sort"
	"sync"
)

// Comms stores the links a communicator owns.
//
// Links are grouped by tag and indexed by local rank in
// the plane they were planned for, so executors can look
// up links[peer] directly.
// Links are reused across invocations until Teardown.
type Comms struct {
	// Rank is the user rank that owns the links.
	Rank UserRank

	lock   sync.RWMutex
	links  map[string][][]Link
	closed bool
}

// NewComms creates an empty link store.
func NewComms(rank UserRank) *Comms {
	return &Comms{Rank: rank, links: map[string][][]Link{}}
}

// Store records the links of one tag, one entry per plane.
//
// Storing a tag twice is a parameter error: the links of
// a tag are immutable once established.
func (c *Comms) Store(tag string, planeLinks [][]Link) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return TeardownErrorf("store links for tag %q", tag)
	}
	if _, ok := c.links[tag]; ok {
		return ParameterErrorf("links for tag %q already established", tag)
	}
	c.links[tag] = planeLinks
	return nil
}

// Links gets the links of one plane of a tag.
func (c *Comms) Links(tag string, plane int) ([]Link, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.closed {
		return nil, TeardownErrorf("lookup links for tag %q", tag)
	}
	planes, ok := c.links[tag]
	if !ok {
		return nil, NotFoundErrorf("no links for tag %q", tag)
	}
	if plane < 0 || plane >= len(planes) {
		return nil, NotFoundErrorf("tag %q has no plane %d (%d planes)", tag, plane, len(planes))
	}
	return planes[plane], nil
}

// Has checks if a tag has been established.
func (c *Comms) Has(tag string) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	_, ok := c.links[tag]
	return ok
}

// Tags returns all established tags in sorted order.
func (c *Comms) Tags() []string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	res := make([]string, 0, len(c.links))
	for tag := range c.links {
		res = append(res, tag)
	}
	sort.Strings(res)
	return res
}

// Closed checks if Teardown has been called.
func (c *Comms) Closed() bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.closed
}

// Teardown forgets every link and returns them so the
// caller can release them.
// Later lookups report a transient teardown.
func (c *Comms) Teardown() []Link {
	c.lock.Lock()
	defer c.lock.Unlock()
	var res []Link
	for _, planes := range c.links {
		for _, links := range planes {
			for _, link := range links {
				if link != nil {
					res = append(res, link)
				}
			}
		}
	}
	c.links = map[string][][]Link{}
	c.closed = true
	return res
}
