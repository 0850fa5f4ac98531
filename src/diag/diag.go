// Package diag implements the crash-dump/profiling diagnostics
// SPEC_FULL.md adds beyond spec.md's own scope: the non-interactive
// equivalent of Haiku's `aspaces`/`aspace`/`cache` debugger commands
// (VMAddressSpace::Dump, VMCache::Dump), plus a queue-occupancy pprof
// profile and demangled kernel backtraces for crash reports.
package diag

import (
	"fmt"
	"io"
	"runtime"

	"github.com/google/pprof/profile"
	"github.com/ianlancetaylor/demangle"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"mem"
	"vmspace"
)

var printer = message.NewPrinter(language.English)

// DumpAddressSpace writes a human-readable summary of as to w, the
// non-interactive analogue of Haiku's `aspace <id>` debugger command:
// base/end, area count, fault and change counters, and every area's
// range and protection.
func DumpAddressSpace(w io.Writer, as *vmspace.AddressSpace) {
	fmt.Fprintf(w, "address space %d: base=%#x end=%#x faults=%s changes=%s\n",
		as.ID(), as.Base(), as.End(),
		printer.Sprintf("%d", as.Faults()), printer.Sprintf("%d", as.ChangeCount()))

	as.RLock()
	defer as.RUnlock()
	for _, a := range as.Areas() {
		fmt.Fprintf(w, "  area %d: [%#x, %#x) prot=%#x\n", a.ID(), a.Base(), a.Base()+a.Size(), a.Protection())
	}
}

// DumpRegistry writes a one-line summary of every address space
// currently registered, the analogue of Haiku's `aspaces` command.
func DumpRegistry(w io.Writer, reg *vmspace.Registry) {
	fmt.Fprintf(w, "%s address spaces registered\n", printer.Sprintf("%d", reg.Len()))
	reg.Iterate(func(as *vmspace.AddressSpace) bool {
		DumpAddressSpace(w, as)
		return true
	})
}

// DumpPageQueues writes the occupancy of every page-manager queue to
// w, grouped-thousands formatted for readability on a large frame
// count.
func DumpPageQueues(w io.Writer, pm *mem.Manager) {
	states := []mem.PageState{
		mem.StateFree, mem.StateClear, mem.StateActive, mem.StateInactive,
		mem.StateModified, mem.StateWired, mem.StateBusy, mem.StateUnused,
	}
	fmt.Fprintf(w, "total=%s available=%s\n", printer.Sprintf("%d", pm.Total()), printer.Sprintf("%d", pm.Available()))
	for _, s := range states {
		fmt.Fprintf(w, "  %-10s %s\n", s, printer.Sprintf("%d", pm.QueueLen(s)))
	}
}

// QueueProfile builds a pprof profile whose samples are the page
// manager's eight queues, one sample per queue with its occupancy as
// the value — the "crash-dump as a pprof profile" shape SPEC_FULL.md
// calls for, viewable with `go tool pprof -http=:8080`.
func QueueProfile(pm *mem.Manager) *profile.Profile {
	states := []mem.PageState{
		mem.StateFree, mem.StateClear, mem.StateActive, mem.StateInactive,
		mem.StateModified, mem.StateWired, mem.StateBusy, mem.StateUnused,
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "pages", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "queue", Unit: "snapshot"},
		Period:     1,
	}

	for i, s := range states {
		id := uint64(i + 1)
		fn := &profile.Function{ID: id, Name: "queue:" + s.String()}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(pm.QueueLen(s))},
		})
	}
	return p
}

// WriteQueueProfile writes QueueProfile's pprof-format encoding to w.
func WriteQueueProfile(w io.Writer, pm *mem.Manager) error {
	return QueueProfile(pm).Write(w)
}

// Backtrace captures the calling goroutine's stack, demangling each
// frame's symbol name. Go's own symbols are already readable and pass
// through demangle.Filter unchanged; the hook exists for crash reports
// that may be symbolizing a non-Go kernel frame recorded elsewhere in
// a mixed-language boot trace (spec §7: "kernel faults print a
// backtrace and halt the system").
func Backtrace(skip int) []string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var out []string
	for {
		frame, more := frames.Next()
		name := demangle.Filter(frame.Function)
		out = append(out, fmt.Sprintf("%s (%s:%d)", name, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return out
}

// WriteBacktrace writes Backtrace's frames to w, one per line, for a
// kernel-fatal fault's crash report.
func WriteBacktrace(w io.Writer, skip int) {
	for _, line := range Backtrace(skip + 1) {
		fmt.Fprintln(w, line)
	}
}
