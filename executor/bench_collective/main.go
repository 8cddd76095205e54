package main

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/hcoll/collcomm"
	"github.com/unixpickle/hcoll/communicator"
	"github.com/unixpickle/hcoll/devsim"
	"github.com/unixpickle/hcoll/executor"
	"github.com/unixpickle/hcoll/topology"
	"k8s.io/klog/v2"
)

// RunInfo describes a specific network configuration.
type RunInfo struct {
	NumNodes int
	Latency  float64
	Rate     float64
}

// Run sets up one communicator per device, enqueues the
// collective on every rank and returns the virtual time
// it took.
//
// Only the Random and Switched fields of net are used.
func (r *RunInfo) Run(cfg executor.Config, net devsim.Options, kind executor.Kind, count uint64) float64 {
	world := devsim.NewWorld(r.NumNodes, devsim.Options{
		Rate:     r.Rate,
		Latency:  r.Latency,
		Random:   net.Random,
		Switched: net.Switched,
		Seed:     1,
	})
	devices := map[collcomm.UserRank]topology.DeviceInfo{}
	members := make([]collcomm.UserRank, r.NumNodes)
	for i := range members {
		members[i] = collcomm.UserRank(i)
		devices[members[i]] = topology.DeviceInfo{Server: strconv.Itoa(i), NodeType: "sim", Class: "sim"}
	}
	planner := topology.NewPlanner(devices, topology.Capabilities{})
	executors := executor.NewRegistry(cfg)
	tag := communicator.NewTag(kind.String())

	root := 0
	if kind == executor.HDAllReduce {
		root = topology.NoRoot
	}
	bytes := count * 8
	align := cfg.SliceAlign
	if align == 0 {
		align = executor.DefaultConfig().SliceAlign
	}
	for _, rank := range members {
		dev := world.Device(rank)
		input := dev.Alloc(bytes)
		output := dev.Alloc(bytes)
		scratch := dev.Alloc(bytes + align*8*uint64(r.NumNodes))
		dev.Register(collcomm.MemInput, input)
		dev.Register(collcomm.MemOutput, output)
		dev.Register(collcomm.MemScratch, scratch)

		comm := communicator.New(rank, planner, world.Connector(rank), executors)
		must.M(comm.Setup(tag, topology.PlanSpec{
			Pattern: kind.Pattern(),
			Planes:  []topology.Plane{{Members: members}},
			Root:    root,
		}))
		must.M(comm.Execute(tag, 0, kind, &executor.Params{
			Input:    input,
			Output:   output,
			Scratch:  scratch,
			Count:    count,
			DataType: collcomm.Float64,
			Op:       collcomm.Sum,
			Stream:   dev.MainStream(),
			Aux:      dev.StreamPool(tag).Streams(r.NumNodes),
			Signals:  dev,
			Reducer:  dev,
			Root:     root,
		}))
	}
	essentials.Must(world.Run())
	return world.Time()
}

func main() {
	var cfg executor.Config
	var net devsim.Options
	klog.InitFlags(nil)
	flag.Uint64Var(&cfg.SliceAlign, "align", executor.DefaultConfig().SliceAlign, "slice alignment in bytes")
	flag.IntVar(&cfg.RingChunks, "chunks", executor.DefaultConfig().RingChunks, "chunks per ring reduce")
	flag.BoolVar(&net.Random, "random", false, "deliver messages with random delays")
	flag.BoolVar(&net.Switched, "switched", false, "share link rate across each device's transfers")
	flag.Parse()

	kinds := []executor.Kind{
		executor.RingReduce,
		executor.StarBroadcast,
		executor.HDAllReduce,
		executor.MeshAllReduce,
	}
	runs := []RunInfo{
		{
			NumNodes: 2,
			Latency:  0.1,
			Rate:     1e6,
		},
		{
			NumNodes: 5,
			Latency:  1e-3,
			Rate:     1e6,
		},
		{
			NumNodes: 16,
			Latency:  1e-3,
			Rate:     1e9,
		},
		{
			NumNodes: 32,
			Latency:  1e-4,
			Rate:     1e9,
		},
	}
	counts := []uint64{10, 10000, 100000}

	// Markdown table header.
	fmt.Print("| Nodes | Latency | Link rate | Size ")
	for _, kind := range kinds {
		fmt.Printf("| %s ", kind)
	}
	fmt.Println("|")
	for i := 0; i < 4+len(kinds); i++ {
		fmt.Print("|:--")
	}
	fmt.Println("|")

	// Markdown table body.
	for _, runInfo := range runs {
		for _, count := range counts {
			fmt.Printf(
				"| %d | %s | %s | %s ",
				runInfo.NumNodes,
				strconv.FormatFloat(runInfo.Latency, 'f', -1, 64),
				strconv.FormatFloat(runInfo.Rate, 'E', -1, 64),
				humanize.Bytes(count*8),
			)
			for _, kind := range kinds {
				fmt.Printf("| %f ", runInfo.Run(cfg, net, kind, count))
			}
			fmt.Println("|")
		}
	}
	klog.Flush()
}
