// Package monitoring serves the state of virtual memory managers over HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/vortexvm/mem/vm"
	"github.com/sarchlab/vortexvm/mem/vm/vmm"
	"github.com/sarchlab/vortexvm/sim/id"
)

// Monitor turns a set of managers into a server that allows external
// inspection.
type Monitor struct {
	managers    []*vmm.Manager
	portNumber  int
	idGenerator id.IDGenerator

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
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterManager registers a manager to be monitored.
func (m *Monitor) RegisterManager(manager *vmm.Manager) {
	m.managers = append(m.managers, manager)
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

// CompleteProgressBar removes a bar to be shown on the webpage.
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

// Handler returns the router that serves the monitoring API.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/list_managers", m.listManagers)
	r.HandleFunc("/api/manager/{name}", m.listManagerDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/stats/{name}", m.reportStats)
	r.HandleFunc("/api/mappings/{name}", m.listMappings)
	r.HandleFunc("/api/translate/{name}/{addr}", m.translate)
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

	handler := m.Handler()

	go func() {
		err := http.Serve(listener, handler)
		dieOnErr(err)
	}()

	return url
}

func (m *Monitor) listManagers(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(m.managers))
	for _, manager := range m.managers {
		names = append(names, manager.Name())
	}

	writeJSON(w, names)
}

func (m *Monitor) listManagerDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	manager := m.findManagerOr404(w, name)
	if manager == nil {
		return
	}

	manager.Lock()
	defer manager.Unlock()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(manager)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	ManagerName string `json:"manager_name,omitempty"`
	FieldName   string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		badRequest(w, err)
		return
	}

	manager := m.findManagerOr404(w, req.ManagerName)
	if manager == nil {
		return
	}

	manager.Lock()
	defer manager.Unlock()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(manager)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		badRequest(w, err)
		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) reportStats(w http.ResponseWriter, r *http.Request) {
	manager := m.findManagerOr404(w, mux.Vars(r)["name"])
	if manager == nil {
		return
	}

	writeJSON(w, manager.Stats())
}

type mappingRsp struct {
	PPN   uint64 `json:"ppn"`
	VPN   uint64 `json:"vpn"`
	Flags string `json:"flags"`
}

type mappingsRsp struct {
	Total    int          `json:"total"`
	Mappings []mappingRsp `json:"mappings"`
}

func (m *Monitor) listMappings(w http.ResponseWriter, r *http.Request) {
	manager := m.findManagerOr404(w, mux.Vars(r)["name"])
	if manager == nil {
		return
	}

	limit, offset, err := parsePaging(r)
	if err != nil {
		badRequest(w, err)
		return
	}

	mappings := manager.Mappings()
	rsp := mappingsRsp{
		Total:    len(mappings),
		Mappings: []mappingRsp{},
	}

	offset = min(offset, len(mappings))
	end := len(mappings)
	if limit > 0 {
		end = min(offset+limit, end)
	}

	for _, mapping := range mappings[offset:end] {
		rsp.Mappings = append(rsp.Mappings, mappingRsp{
			PPN:   mapping.PPN,
			VPN:   mapping.VPN,
			Flags: mapping.Flags.String(),
		})
	}

	writeJSON(w, rsp)
}

func parsePaging(r *http.Request) (limit, offset int, err error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "0"
	}

	limit, err = strconv.Atoi(limitStr)
	if err != nil || limit < 0 {
		return 0, 0, fmt.Errorf("invalid limit %q", limitStr)
	}

	offsetStr := r.URL.Query().Get("offset")
	if offsetStr == "" {
		offsetStr = "0"
	}

	offset, err = strconv.Atoi(offsetStr)
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("invalid offset %q", offsetStr)
	}

	return limit, offset, nil
}

type walkStepRsp struct {
	Level   int    `json:"level"`
	PTEAddr uint64 `json:"pte_addr"`
	PTE     uint64 `json:"pte"`
	Flags   string `json:"flags"`
}

type translateRsp struct {
	VAddr      uint64        `json:"vaddr"`
	PAddr      uint64        `json:"paddr"`
	Translated bool          `json:"translated"`
	Level      int           `json:"level"`
	Steps      []walkStepRsp `json:"steps"`
	Fault      string        `json:"fault,omitempty"`
}

func (m *Monitor) translate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	manager := m.findManagerOr404(w, vars["name"])
	if manager == nil {
		return
	}

	vAddr, err := strconv.ParseUint(vars["addr"], 0, 64)
	if err != nil {
		badRequest(w, err)
		return
	}

	access, ok := vm.ParseAccessType(r.URL.Query().Get("access"))
	if !ok {
		badRequest(w, fmt.Errorf("invalid access type %q",
			r.URL.Query().Get("access")))
		return
	}

	rsp := translateRsp{
		VAddr:      vAddr,
		Translated: manager.NeedsTranslation(vAddr),
		Steps:      []walkStepRsp{},
	}

	res, err := manager.Inspect(vAddr, access)
	for _, step := range res.Steps {
		rsp.Steps = append(rsp.Steps, walkStepRsp{
			Level:   step.Level,
			PTEAddr: step.PTEAddr,
			PTE:     uint64(step.PTE),
			Flags:   step.PTE.Flags().String(),
		})
	}

	var fault *vm.PageFault
	switch {
	case errors.As(err, &fault):
		rsp.Fault = fault.Error()
		rsp.Level = fault.Level
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	default:
		rsp.PAddr = res.PAddr
		rsp.Level = res.Level
	}

	writeJSON(w, rsp)
}

func (m *Monitor) findManagerOr404(
	w http.ResponseWriter,
	name string,
) *vmm.Manager {
	for _, manager := range m.managers {
		if manager.Name() == name {
			return manager
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Manager not found"))
	dieOnErr(err)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	writeJSON(w, m.progressBars)
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

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	writeJSON(w, rsp)
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

func badRequest(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, "Error: %s", err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
