// Package monitoring serves the state of a running virtual memory system over
// HTTP: frame pool occupancy, address spaces, workload progress and the
// resources used by the host process.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/frametable"
	"github.com/sarchlab/vmcore/mem/vm/spt"
	"github.com/sarchlab/vmcore/sim/id"
)

// A FrameTable is a frame pool that can be monitored.
type FrameTable interface {
	Name() string
	Stats() frametable.Stats
	Resident() []frametable.FrameInfo
	Snapshot() frametable.Snapshot
}

// An AddressSpace is a supplemental page table that can be monitored.
type AddressSpace interface {
	Name() string
	PID() vm.PID
	StackBottom() uint64
	Stats() spt.Stats
	Len() int
	DescribePages() []frametable.PageInfo
	Snapshot() spt.Snapshot
}

// Monitor turns a running system into a server that can be inspected while
// it runs.
type Monitor struct {
	portNumber  int
	idGenerator id.IDGenerator

	lock          sync.Mutex
	frameTables   []FrameTable
	addressSpaces []AddressSpace

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		idGenerator: id.NewIDGenerator(),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterFrameTable registers a frame pool to be monitored.
func (m *Monitor) RegisterFrameTable(ft FrameTable) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.frameTables = append(m.frameTables, ft)
}

// RegisterAddressSpace registers an address space to be monitored.
func (m *Monitor) RegisterAddressSpace(as AddressSpace) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.addressSpaces = append(m.addressSpaces, as)
}

// UnregisterAddressSpace stops monitoring an address space.
func (m *Monitor) UnregisterAddressSpace(as AddressSpace) {
	m.lock.Lock()
	defer m.lock.Unlock()

	kept := m.addressSpaces[:0]
	for _, a := range m.addressSpaces {
		if a != as {
			kept = append(kept, a)
		}
	}

	m.addressSpaces = kept
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.idGenerator.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the list of reported bars.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler of every API endpoint.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/frame_tables", m.listFrameTables)
	r.HandleFunc("/api/frame_table/{name}/resident", m.listResidentFrames)
	r.HandleFunc("/api/address_spaces", m.listAddressSpaces)
	r.HandleFunc("/api/address_space/{name}/pages", m.listPages)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring virtual memory with %s\n", url)

	server := &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := server.Serve(listener)
		dieOnErr(err)
	}()

	return url
}

type frameTableRsp struct {
	Name  string           `json:"name"`
	Stats frametable.Stats `json:"stats"`
}

func (m *Monitor) listFrameTables(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	rsp := make([]frameTableRsp, 0, len(m.frameTables))
	for _, ft := range m.frameTables {
		rsp = append(rsp, frameTableRsp{Name: ft.Name(), Stats: ft.Stats()})
	}
	m.lock.Unlock()

	writeJSON(w, rsp)
}

func (m *Monitor) listResidentFrames(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	ft := m.findFrameTable(name)
	if ft == nil {
		notFound(w, name)
		return
	}

	writeJSON(w, ft.Resident())
}

type addressSpaceRsp struct {
	Name        string    `json:"name"`
	PID         vm.PID    `json:"pid"`
	StackBottom uint64    `json:"stack_bottom"`
	NumPages    int       `json:"num_pages"`
	Stats       spt.Stats `json:"stats"`
}

func (m *Monitor) listAddressSpaces(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	spaces := append([]AddressSpace(nil), m.addressSpaces...)
	m.lock.Unlock()

	rsp := make([]addressSpaceRsp, 0, len(spaces))
	for _, as := range spaces {
		rsp = append(rsp, addressSpaceRsp{
			Name:        as.Name(),
			PID:         as.PID(),
			StackBottom: as.StackBottom(),
			NumPages:    as.Len(),
			Stats:       as.Stats(),
		})
	}

	writeJSON(w, rsp)
}

type pageRsp struct {
	VAddr    uint64 `json:"vaddr"`
	Writable bool   `json:"writable"`
	Kind     string `json:"kind"`
	Target   string `json:"target"`
	Resident bool   `json:"resident"`
	Frame    int32  `json:"frame"`
}

func (m *Monitor) listPages(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	as := m.findAddressSpace(name)
	if as == nil {
		notFound(w, name)
		return
	}

	infos := as.DescribePages()
	rsp := make([]pageRsp, 0, len(infos))
	for _, info := range infos {
		rsp = append(rsp, pageRsp{
			VAddr:    info.VAddr,
			Writable: info.Writable,
			Kind:     info.Kind,
			Target:   info.Target,
			Resident: info.Resident,
			Frame:    int32(info.Frame),
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	// Components keep running while they are inspected, so only snapshots
	// are serialized.
	var component any
	if ft := m.findFrameTable(name); ft != nil {
		component = ft.Snapshot()
	} else if as := m.findAddressSpace(name); as != nil {
		component = as.Snapshot()
	}

	if component == nil {
		notFound(w, name)
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) findFrameTable(name string) FrameTable {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, ft := range m.frameTables {
		if ft.Name() == name {
			return ft
		}
	}

	return nil
}

func (m *Monitor) findAddressSpace(name string) AddressSpace {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, as := range m.addressSpaces {
		if as.Name() == name {
			return as
		}
	}

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func notFound(w http.ResponseWriter, name string) {
	w.WriteHeader(http.StatusNotFound)
	_, err := fmt.Fprintf(w, "Component %s not found", name)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
