// Package communicator ties planning, link establishment
// and execution together for one rank.
//
// A tag names one set of links. Every rank sets up a tag
// with the same arguments, then runs any number of
// collectives on it until Teardown.
package communicator

import (
	"sync"

	"github.com/google/uuid"
	"github.com/unixpickle/hcoll/collcomm"
	"github.com/unixpickle/hcoll/executor"
	"github.com/unixpickle/hcoll/topology"
	"k8s.io/klog/v2"
)

// NewTag creates a tag that is unique across jobs.
// It must be created once and shared with every rank.
func NewTag(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// planeInfo is where the local rank sits in one plane of
// a tag.
type planeInfo struct {
	local int
	size  int

	// skipped is set for planes of an inter-plane level
	// that the local rank does not bridge.
	skipped bool
}

type tagInfo struct {
	spec   topology.PlanSpec
	planes []planeInfo
}

// A Communicator owns the links of one rank.
type Communicator struct {
	Rank collcomm.UserRank

	comms     *collcomm.Comms
	planner   *topology.Planner
	connector collcomm.Connector
	executors *executor.Registry

	lock sync.RWMutex
	tags map[string]*tagInfo
}

// New creates a Communicator.
func New(rank collcomm.UserRank, planner *topology.Planner, connector collcomm.Connector,
	executors *executor.Registry) *Communicator {
	return &Communicator{
		Rank:      rank,
		comms:     collcomm.NewComms(rank),
		planner:   planner,
		connector: connector,
		executors: executors,
		tags:      map[string]*tagInfo{},
	}
}

// Comms returns the link store.
func (c *Communicator) Comms() *collcomm.Comms {
	return c.comms
}

// Setup plans the links of a tag and establishes them.
// spec.Local is overwritten with the rank of c.
func (c *Communicator) Setup(tag string, spec topology.PlanSpec) error {
	if tag == "" {
		return collcomm.ParameterErrorf("empty tag")
	}
	if c.comms.Has(tag) {
		return collcomm.ParameterErrorf("tag %q already set up", tag)
	}
	spec.Local = c.Rank
	reqs, err := c.planner.Plan(spec)
	if err != nil {
		return err
	}

	info := &tagInfo{spec: spec, planes: make([]planeInfo, len(reqs))}
	planeLinks := make([][]collcomm.Link, len(reqs))
	for i, planeReqs := range reqs {
		if spec.Pattern == topology.PointToPoint {
			info.planes[i] = planeInfo{local: 0, size: len(planeReqs)}
		} else {
			info.planes[i], err = c.locate(spec, i)
			if err != nil {
				c.release(tag, planeLinks[:i])
				return err
			}
		}
		if planeReqs == nil {
			planeLinks[i] = make([]collcomm.Link, info.planes[i].size)
			continue
		}
		planeLinks[i], err = c.connector.Connect(tag, planeReqs)
		if err != nil {
			c.release(tag, planeLinks[:i])
			return err
		}
	}
	if err := c.comms.Store(tag, planeLinks); err != nil {
		c.release(tag, planeLinks)
		return err
	}

	c.lock.Lock()
	c.tags[tag] = info
	c.lock.Unlock()
	klog.V(1).Infof("rank %d: set up tag %q (%s, %d planes)", c.Rank, tag, spec.Pattern, len(reqs))
	return nil
}

// release disconnects the links of a failed Setup so that
// the tag can be set up again.
func (c *Communicator) release(tag string, planeLinks [][]collcomm.Link) {
	d, ok := c.connector.(collcomm.Disconnector)
	if !ok {
		return
	}
	var links []collcomm.Link
	for _, plane := range planeLinks {
		for _, l := range plane {
			if l != nil {
				links = append(links, l)
			}
		}
	}
	if len(links) == 0 {
		return
	}
	if err := d.Disconnect(links); err != nil {
		klog.Warningf("rank %d: releasing links of tag %q: %v", c.Rank, tag, err)
	}
}

func (c *Communicator) locate(spec topology.PlanSpec, plane int) (planeInfo, error) {
	p := spec.Planes[plane]
	ranks, err := topology.NewRankMap(p.Members)
	if err != nil {
		return planeInfo{}, err
	}
	local, err := ranks.LocalRank(c.Rank)
	if err != nil {
		return planeInfo{}, err
	}
	return planeInfo{
		local:   local,
		size:    ranks.Size(),
		skipped: spec.InterPlane && !p.Bridge,
	}, nil
}

// Execute runs a collective on one plane of a tag.
//
// The work is only enqueued on the streams of params;
// completion is observed through the streams.
func (c *Communicator) Execute(tag string, plane int, kind executor.Kind, params *executor.Params) error {
	if c.comms.Closed() {
		return collcomm.TeardownErrorf("execute %s on tag %q", kind, tag)
	}
	c.lock.RLock()
	info, ok := c.tags[tag]
	c.lock.RUnlock()
	if !ok {
		return collcomm.NotFoundErrorf("tag %q is not set up", tag)
	}
	links, err := c.comms.Links(tag, plane)
	if err != nil {
		return err
	}
	if kind.Pattern() != info.spec.Pattern {
		return collcomm.ParameterErrorf("%s needs %s links, tag %q has %s", kind, kind.Pattern(), tag,
			info.spec.Pattern)
	}
	if plane < 0 || plane >= len(info.planes) {
		return collcomm.NotFoundErrorf("tag %q has no plane %d", tag, plane)
	}
	pi := info.planes[plane]
	if pi.skipped {
		return collcomm.ParameterErrorf("rank %d does not bridge plane %d of tag %q", c.Rank, plane, tag)
	}
	rooted := info.spec.Pattern == topology.Star || info.spec.Pattern == topology.HalvingDoubling
	if rooted && params != nil && rootIndex(params.Root) != rootIndex(info.spec.Root) {
		return collcomm.ParameterErrorf("%s rooted at %d on links planned for root %d", kind, params.Root,
			info.spec.Root)
	}

	exec, err := c.executors.New(kind)
	if err != nil {
		return err
	}
	if err := exec.Prepare(params); err != nil {
		return err
	}
	return exec.RunAsync(pi.local, pi.size, links)
}

// Teardown releases every link. Operations still running
// on them, and every later call, fail with a transient
// teardown.
func (c *Communicator) Teardown() error {
	links := c.comms.Teardown()
	c.lock.Lock()
	c.tags = map[string]*tagInfo{}
	c.lock.Unlock()
	klog.V(1).Infof("rank %d: teardown releases %d links", c.Rank, len(links))
	if d, ok := c.connector.(collcomm.Disconnector); ok {
		return d.Disconnect(links)
	}
	return nil
}

func rootIndex(root int) int {
	if root == topology.NoRoot {
		return 0
	}
	return root
}
