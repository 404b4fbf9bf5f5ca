// Package user contains the sample programs that can be loaded into the
// simulated platform.
package user

import (
	"sort"

	"github.com/jansone-dace/OSI-2019/lib"
)

// Program is a loadable user program.
type Program struct {
	Name        string
	Description string
	Main        func(rt *lib.Runtime)
}

var programs = map[string]Program{}

func register(p Program) {
	programs[p.Name] = p
}

// Lookup returns the program called name.
func Lookup(name string) (Program, bool) {
	p, ok := programs[name]
	return p, ok
}

// Programs returns every program sorted by name.
func Programs() []Program {
	list := make([]Program, 0, len(programs))
	for _, p := range programs {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}
