// Package script runs text scripts of memory-management commands against a
// virtual memory manager.
//
// A script has one command per line. Blank lines and text after '#' are
// ignored. The commands are:
//
//	map <ppn> [flags]                map a physical page
//	region <paddr> <size> [flags]    map all the pages of a physical range
//	translate <vaddr> [access]       translate a virtual address
//	walk <vaddr> [access]            translate and print the visited entries
//	load <vaddr> <length>            read guest memory at a virtual address
//	store <vaddr> <hex>              write guest memory at a virtual address
//	mappings                         list all mappings
//	stats                            print the manager counters
//
// The load and store commands need a memory set with WithMemory and must not
// cross a page boundary. Numbers accept the 0x prefix. Flags are written like
// "rw" or "r-x" and default to "rw". The access is load, store, or fetch and
// defaults to load.
package script

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/vortexvm/mem/vm"
	"github.com/sarchlab/vortexvm/mem/vm/vmm"
	"github.com/sarchlab/vortexvm/memory"
)

// ErrUnknownCommand is returned for lines that do not start with a known
// command.
var ErrUnknownCommand = errors.New("unknown command")

// ErrNoMemory is returned by load and store when the executor has no memory.
var ErrNoMemory = errors.New("no memory attached")

// ErrCrossPage is returned by load and store for accesses that span two
// pages.
var ErrCrossPage = errors.New("access crosses a page boundary")

// Progress receives the progress of a script run.
type Progress interface {
	IncrementInProgress(amount uint64)
	MoveInProgressToFinished(amount uint64)
}

// An Executor runs commands against one manager and writes their results to
// an output.
type Executor struct {
	manager  *vmm.Manager
	memory   memory.Controller
	out      io.Writer
	progress Progress

	numFaults int
}

// NewExecutor creates an executor.
func NewExecutor(manager *vmm.Manager, out io.Writer) *Executor {
	return &Executor{
		manager: manager,
		out:     out,
	}
}

// WithProgress makes the executor report every command to p.
func (e *Executor) WithProgress(p Progress) *Executor {
	e.progress = p
	return e
}

// WithMemory sets the guest memory that load and store access.
func (e *Executor) WithMemory(m memory.Controller) *Executor {
	e.memory = m
	return e
}

// NumFaults returns the number of translations that ended in a page fault.
func (e *Executor) NumFaults() int {
	return e.numFaults
}

// A Line is a command of a script with its position.
type Line struct {
	Number int
	Text   string
}

// Parse reads a script and returns the lines that carry a command.
func Parse(r io.Reader) ([]Line, error) {
	var lines []Line

	scanner := bufio.NewScanner(r)
	number := 0

	for scanner.Scan() {
		number++

		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		lines = append(lines, Line{Number: number, Text: text})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

// Run executes the lines in order and stops at the first failing command.
// Page faults are reported in the output and do not stop the run.
func (e *Executor) Run(lines []Line) error {
	for _, line := range lines {
		if e.progress != nil {
			e.progress.IncrementInProgress(1)
		}

		err := e.Exec(line.Text)
		if err != nil {
			return fmt.Errorf("line %d: %w", line.Number, err)
		}

		if e.progress != nil {
			e.progress.MoveInProgressToFinished(1)
		}
	}

	return nil
}

// Exec executes a single command.
func (e *Executor) Exec(text string) error {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}

	args := fields[1:]

	switch fields[0] {
	case "map":
		return e.mapPage(args)
	case "region":
		return e.mapRegion(args)
	case "translate":
		return e.translate(args, false)
	case "walk":
		return e.translate(args, true)
	case "load":
		return e.load(args)
	case "store":
		return e.store(args)
	case "mappings":
		return e.listMappings(args)
	case "stats":
		return e.printStats(args)
	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, fields[0])
	}
}

func checkArgs(args []string, minArgs, maxArgs int) error {
	if len(args) < minArgs || len(args) > maxArgs {
		return fmt.Errorf("expecting %d to %d arguments, got %d",
			minArgs, maxArgs, len(args))
	}

	return nil
}

func parseNumber(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}

	return n, nil
}

func parseFlags(args []string, i int) (vm.Flags, error) {
	if len(args) <= i {
		return vm.FlagsRW, nil
	}

	return vm.ParseFlags(args[i])
}

func parseAccess(args []string, i int) (vm.AccessType, error) {
	if len(args) <= i {
		return vm.AccessLoad, nil
	}

	access, ok := vm.ParseAccessType(args[i])
	if !ok {
		return 0, fmt.Errorf("invalid access type %q", args[i])
	}

	return access, nil
}

func (e *Executor) mapPage(args []string) error {
	if err := checkArgs(args, 1, 2); err != nil {
		return err
	}

	ppn, err := parseNumber(args[0])
	if err != nil {
		return err
	}

	flags, err := parseFlags(args, 1)
	if err != nil {
		return err
	}

	vpn, err := e.manager.MapPhysicalToVirtual(ppn, flags)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "map ppn 0x%x -> vpn 0x%x\n", ppn, vpn)

	return nil
}

func (e *Executor) mapRegion(args []string) error {
	if err := checkArgs(args, 2, 3); err != nil {
		return err
	}

	pAddr, err := parseNumber(args[0])
	if err != nil {
		return err
	}

	size, err := parseNumber(args[1])
	if err != nil {
		return err
	}

	flags, err := parseFlags(args, 2)
	if err != nil {
		return err
	}

	vAddr, err := e.manager.TranslateRegion(pAddr, size, flags)
	if err != nil {
		return err
	}

	if vAddr == 0 {
		fmt.Fprintf(e.out, "region 0x%x+0x%x not translated\n", pAddr, size)
		return nil
	}

	fmt.Fprintf(e.out, "region 0x%x+0x%x -> 0x%x\n", pAddr, size, vAddr)

	return nil
}

func (e *Executor) translate(args []string, printSteps bool) error {
	if err := checkArgs(args, 1, 2); err != nil {
		return err
	}

	vAddr, err := parseNumber(args[0])
	if err != nil {
		return err
	}

	access, err := parseAccess(args, 1)
	if err != nil {
		return err
	}

	pAddr, ok, err := e.walk(vAddr, access, printSteps)
	if err != nil || !ok {
		return err
	}

	fmt.Fprintf(e.out, "translate %s 0x%x -> 0x%x\n", access, vAddr, pAddr)

	return nil
}

// walk translates an address. A page fault is reported in the output and
// returns ok == false without an error.
func (e *Executor) walk(
	vAddr uint64,
	access vm.AccessType,
	printSteps bool,
) (pAddr uint64, ok bool, err error) {
	res, err := e.manager.Walk(vAddr, access)

	if printSteps {
		for _, step := range res.Steps {
			fmt.Fprintf(e.out, "  level %d, pte 0x%x at 0x%x, %s\n",
				step.Level, uint64(step.PTE), step.PTEAddr, step.PTE.Flags())
		}
	}

	var fault *vm.PageFault
	if errors.As(err, &fault) {
		e.numFaults++
		fmt.Fprintf(e.out, "translate %s 0x%x: %v\n", access, vAddr, fault)

		return 0, false, nil
	}

	if err != nil {
		return 0, false, err
	}

	return res.PAddr, true, nil
}

func (e *Executor) checkGuestAccess(vAddr, length uint64) error {
	if e.memory == nil {
		return ErrNoMemory
	}

	cfg := e.manager.Config()
	if length > 0 && cfg.PageNumber(vAddr) != cfg.PageNumber(vAddr+length-1) {
		return fmt.Errorf("%w: 0x%x+0x%x", ErrCrossPage, vAddr, length)
	}

	return nil
}

func (e *Executor) load(args []string) error {
	if err := checkArgs(args, 2, 2); err != nil {
		return err
	}

	vAddr, err := parseNumber(args[0])
	if err != nil {
		return err
	}

	length, err := parseNumber(args[1])
	if err != nil {
		return err
	}

	if err = e.checkGuestAccess(vAddr, length); err != nil {
		return err
	}

	pAddr, ok, err := e.walk(vAddr, vm.AccessLoad, false)
	if err != nil || !ok {
		return err
	}

	if !e.memory.CanRead(pAddr, length) {
		fmt.Fprintf(e.out, "load 0x%x (0x%x): access denied\n", vAddr, pAddr)
		return nil
	}

	data, err := e.memory.Read(pAddr, length)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "load 0x%x (0x%x): %s\n",
		vAddr, pAddr, hex.EncodeToString(data))

	return nil
}

func (e *Executor) store(args []string) error {
	if err := checkArgs(args, 2, 2); err != nil {
		return err
	}

	vAddr, err := parseNumber(args[0])
	if err != nil {
		return err
	}

	data, err := hex.DecodeString(strings.TrimPrefix(args[1], "0x"))
	if err != nil {
		return fmt.Errorf("invalid data %q", args[1])
	}

	if err = e.checkGuestAccess(vAddr, uint64(len(data))); err != nil {
		return err
	}

	pAddr, ok, err := e.walk(vAddr, vm.AccessStore, false)
	if err != nil || !ok {
		return err
	}

	if !e.memory.CanWrite(pAddr, uint64(len(data))) {
		fmt.Fprintf(e.out, "store 0x%x (0x%x): access denied\n", vAddr, pAddr)
		return nil
	}

	err = e.memory.Write(pAddr, data)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "store 0x%x (0x%x): %d bytes\n", vAddr, pAddr, len(data))

	return nil
}

func (e *Executor) listMappings(args []string) error {
	if err := checkArgs(args, 0, 0); err != nil {
		return err
	}

	for _, m := range e.manager.Mappings() {
		fmt.Fprintf(e.out, "ppn 0x%x vpn 0x%x %s\n", m.PPN, m.VPN, m.Flags)
	}

	return nil
}

func (e *Executor) printStats(args []string) error {
	if err := checkArgs(args, 0, 0); err != nil {
		return err
	}

	bytes, err := json.Marshal(e.manager.Stats())
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "%s\n", bytes)

	return nil
}
