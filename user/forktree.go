package user

import (
	"github.com/jansone-dace/OSI-2019/kernel/env"
	"github.com/jansone-dace/OSI-2019/lib"
)

// forktreeDepth is the length of the longest branch name.
const forktreeDepth = 3

func init() {
	register(Program{
		Name:        "forktree",
		Description: "fork a binary tree of environments that print their branch",
		Main:        func(rt *lib.Runtime) { forktree(rt, "") },
	})
}

func forktree(rt *lib.Runtime, cur string) {
	rt.Printf("%s: I am '%s'\n", rt.ID(), cur)

	forkchild(rt, cur, '0')
	forkchild(rt, cur, '1')
}

func forkchild(rt *lib.Runtime, cur string, branch byte) {
	if len(cur) >= forktreeDepth {
		return
	}

	next := cur + string(branch)
	if _, err := rt.Fork(func(crt *lib.Runtime, _ env.EnvID) {
		forktree(crt, next)
		crt.Exit()
	}); err != nil {
		rt.Panic(err)
	}
}
