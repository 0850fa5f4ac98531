package diag

import (
	"bytes"
	"strings"
	"testing"

	"mem"
	"pagetable"
	"vmspace"
)

func TestDumpRegistry(t *testing.T) {
	reg := vmspace.NewRegistry(func() pagetable.TranslationMap { return pagetable.NewSimulated() })
	if _, err := reg.Create(1, 0, 0xffff); err != 0 {
		t.Fatalf("Create() err = %v", err)
	}

	var buf bytes.Buffer
	DumpRegistry(&buf, reg)
	if !strings.Contains(buf.String(), "address space 1") {
		t.Fatalf("DumpRegistry() output missing address space: %s", buf.String())
	}
}

func TestDumpPageQueues(t *testing.T) {
	pm := mem.NewManager(10)
	var buf bytes.Buffer
	DumpPageQueues(&buf, pm)
	if !strings.Contains(buf.String(), "free") {
		t.Fatalf("DumpPageQueues() output missing free queue: %s", buf.String())
	}
}

func TestQueueProfileRoundTrips(t *testing.T) {
	pm := mem.NewManager(4)
	p := QueueProfile(pm)
	if err := p.CheckValid(); err != nil {
		t.Fatalf("CheckValid() err = %v", err)
	}
	var total int64
	for _, s := range p.Sample {
		total += s.Value[0]
	}
	if total != pm.Total() {
		t.Fatalf("sum of queue samples = %d; want %d", total, pm.Total())
	}
}

func TestBacktraceIncludesCaller(t *testing.T) {
	frames := Backtrace(0)
	if len(frames) == 0 {
		t.Fatalf("Backtrace() returned no frames")
	}
	if !strings.Contains(frames[0], "TestBacktraceIncludesCaller") {
		t.Fatalf("Backtrace()[0] = %q; want it to name the calling test", frames[0])
	}
}
