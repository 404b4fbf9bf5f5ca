package user

import (
	"github.com/jansone-dace/OSI-2019/kernel/env"
	"github.com/jansone-dace/OSI-2019/kernel/mm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/vmm"
	"github.com/jansone-dace/OSI-2019/lib"
)

func init() {
	register(Program{
		Name:        "faultbad",
		Description: "write to a read-only page after fork and get destroyed by the fault handler",
		Main:        faultbad,
	})
}

func faultbad(rt *lib.Runtime) {
	if err := rt.Sys().PageAlloc(0, mm.UTEXT, vmm.FlagPresent|vmm.FlagUserAccessible); err != nil {
		rt.Panic(err)
	}

	if _, err := rt.Fork(func(crt *lib.Runtime, _ env.EnvID) {
		crt.Printf("writing to a read-only page\n")
		_ = crt.Store(mm.UTEXT, []byte{1})
		crt.Printf("write succeeded\n")
	}); err != nil {
		rt.Panic(err)
	}
}
