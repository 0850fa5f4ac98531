// Command vmdemo boots the VM facade and runs the end-to-end scenarios
// of spec.md §8 on demand, printing a diagnostics dump afterward.
package main

import (
	"flag"
	"fmt"
	"os"

	"defs"
	"diag"
	"vm"
)

func main() {
	scenario := flag.String("scenario", "all", "scenario to run: demand-zero, stack-guard, overcommit, cow, delete, daemons, all")
	frames := flag.Int("frames", 64, "physical frames to boot with")
	flag.Parse()

	f := vm.Boot(*frames, 8)
	defer f.Shutdown()

	scenarios := map[string]func(*vm.Facade) error{
		"demand-zero": scenarioDemandZero,
		"stack-guard": scenarioStackGuard,
		"overcommit":  scenarioOvercommit,
		"cow":         scenarioCOW,
		"delete":      scenarioDelete,
		"daemons":     scenarioDaemons,
	}

	if *scenario == "all" {
		for _, name := range []string{"demand-zero", "stack-guard", "overcommit", "cow", "delete", "daemons"} {
			run(f, name, scenarios[name])
		}
	} else {
		fn, ok := scenarios[*scenario]
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown scenario %q\n", *scenario)
			os.Exit(2)
		}
		run(f, *scenario, fn)
	}

	fmt.Println("\n--- diagnostics ---")
	diag.DumpPageQueues(os.Stdout, f.PM)
	diag.DumpRegistry(os.Stdout, f.Registry)
}

func run(f *vm.Facade, name string, fn func(*vm.Facade) error) {
	fmt.Printf("scenario %s: ", name)
	if err := fn(f); err != nil {
		fmt.Printf("FAIL: %v\n", err)
		diag.WriteBacktrace(os.Stdout, 1)
		return
	}
	fmt.Println("ok")
}

// scenarioDemandZero is spec §8 scenario 1.
func scenarioDemandZero(f *vm.Facade) error {
	id, err := f.CreateArea(defs.KernelTeam, "demo-zero", vm.AddressSpec{Placement: defs.PlaceAny}, 16384,
		defs.ProtRead|defs.ProtWrite, defs.WiringNone, vm.CreateOpts{})
	if err != 0 {
		return err
	}
	a, _ := f.Area(id)
	return asError(f.PageFault(defs.KernelTeam, a.Base(), false, false))
}

// scenarioStackGuard is spec §8 scenario 2.
func scenarioStackGuard(f *vm.Facade) error {
	id, err := f.CreateArea(defs.KernelTeam, "demo-stack", vm.AddressSpec{Placement: defs.PlaceAny}, 65536,
		defs.ProtRead|defs.ProtWrite|defs.ProtStack, defs.WiringNone,
		vm.CreateOpts{Overcommit: true, GuardSize: defs.PageSize, GrowthDir: defs.StackGrowsDown})
	if err != 0 {
		return err
	}
	a, _ := f.Area(id)
	if ferr := f.PageFault(defs.KernelTeam, a.Base(), false, true); ferr != defs.EFAULT {
		return fmt.Errorf("fault on guard page returned %v, want EFAULT", ferr)
	}
	return nil
}

// scenarioOvercommit is spec §8 scenario 3.
func scenarioOvercommit(f *vm.Facade) error {
	id, err := f.CreateArea(defs.KernelTeam, "demo-overcommit", vm.AddressSpec{Placement: defs.PlaceAny}, 4194304,
		defs.ProtRead|defs.ProtWrite, defs.WiringNone, vm.CreateOpts{Overcommit: true, Precommit: 16})
	if err != 0 {
		return err
	}
	a, _ := f.Area(id)
	for i := 0; i < 16; i++ {
		if ferr := f.PageFault(defs.KernelTeam, a.Base()+uintptr(i)*defs.PageSize, false, true); ferr != 0 {
			return fmt.Errorf("page %d: %v", i, ferr)
		}
	}
	return nil
}

// scenarioCOW is spec §8 scenario 4.
func scenarioCOW(f *vm.Facade) error {
	parentID, err := f.CreateArea(defs.KernelTeam, "demo-parent", vm.AddressSpec{Placement: defs.PlaceAny}, 8192,
		defs.ProtRead|defs.ProtWrite, defs.WiringNone, vm.CreateOpts{})
	if err != 0 {
		return err
	}
	parent, _ := f.Area(parentID)
	if ferr := f.PageFault(defs.KernelTeam, parent.Base(), false, true); ferr != 0 {
		return ferr
	}

	childID, err := f.CloneArea(defs.KernelTeam, parentID, vm.AddressSpec{Placement: defs.PlaceAny}, defs.ProtRead|defs.ProtWrite)
	if err != 0 {
		return err
	}
	child, _ := f.Area(childID)
	return asError(f.PageFault(defs.KernelTeam, child.Base(), true, true))
}

// scenarioDelete is spec §8 scenario 5.
func scenarioDelete(f *vm.Facade) error {
	id, err := f.CreateArea(defs.KernelTeam, "demo-delete", vm.AddressSpec{Placement: defs.PlaceAny}, 3*defs.PageSize,
		defs.ProtRead|defs.ProtWrite, defs.WiringNone, vm.CreateOpts{})
	if err != 0 {
		return err
	}
	a, _ := f.Area(id)
	for i := 0; i < 3; i++ {
		if ferr := f.PageFault(defs.KernelTeam, a.Base()+uintptr(i)*defs.PageSize, false, true); ferr != 0 {
			return ferr
		}
	}
	return asError(f.DeleteArea(id))
}

// scenarioDaemons is spec §8 scenario 6.
func scenarioDaemons(f *vm.Facade) error {
	counts := map[string]int{}
	register := func(name string) {
		f.RegisterKernelDaemon(func(any) { counts[name]++ }, name, 5)
	}
	register("a")
	register("b")

	for i := 0; i < 20; i++ {
		f.KernelPool.Tick()
	}
	if counts["a"] != 4 || counts["b"] != 4 {
		return fmt.Errorf("daemon tick counts = %v, want 4 each", counts)
	}
	return nil
}

func asError(e defs.Err_t) error {
	if e == 0 {
		return nil
	}
	return e
}
