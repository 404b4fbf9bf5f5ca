package user

import (
	"github.com/jansone-dace/OSI-2019/kernel/env"
	"github.com/jansone-dace/OSI-2019/kernel/mm"
	"github.com/jansone-dace/OSI-2019/kernel/mm/vmm"
	"github.com/jansone-dace/OSI-2019/lib"
)

const (
	cowdemoVA  = mm.UTEXT
	cowdemoLen = 16
)

func init() {
	register(Program{
		Name:        "cowdemo",
		Description: "show that parent and child stop sharing a page once one of them writes it",
		Main:        cowdemo,
	})
}

func cowdemo(rt *lib.Runtime) {
	perm := vmm.FlagPresent | vmm.FlagUserAccessible | vmm.FlagRW
	if err := rt.Sys().PageAlloc(0, cowdemoVA, perm); err != nil {
		rt.Panic(err)
	}
	mustStore(rt, cowdemoVA, "hello, parent")

	if _, err := rt.Fork(func(crt *lib.Runtime, _ env.EnvID) {
		crt.Printf("child reads %q\n", mustLoad(crt, cowdemoVA))
		mustStore(crt, cowdemoVA, "hello, child")
		crt.Printf("child wrote %q\n", mustLoad(crt, cowdemoVA))
	}); err != nil {
		rt.Panic(err)
	}

	rt.Yield()
	rt.Printf("parent still reads %q\n", mustLoad(rt, cowdemoVA))
}

func mustStore(rt *lib.Runtime, va uintptr, s string) {
	buf := make([]byte, cowdemoLen)
	copy(buf, s)
	if err := rt.Store(va, buf); err != nil {
		rt.Panic(err)
	}
}

func mustLoad(rt *lib.Runtime, va uintptr) string {
	buf, err := rt.Load(va, cowdemoLen)
	if err != nil {
		rt.Panic(err)
	}

	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
