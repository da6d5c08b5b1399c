package disasm

import (
	"sort"

	"github.com/jcrutchvt10/McSema-decompiler/bin"
)

// Discover returns an oracle of the functions and basic blocks reachable from
// the given function entry points, by recursive traversal of direct control
// flow. Targets of direct calls are treated as function entry points.
// Traversal stops at indirect branches, returns and decode failures.
func Discover(dec Decoder, sects []Section, entries bin.Addrs) *Oracle {
	funcs := make(map[bin.Addr]bool)
	leaders := make(map[bin.Addr]bool)
	visited := make(map[bin.Addr]bool)
	var queue []bin.Addr
	push := func(addr bin.Addr) {
		if _, ok := code(sects, addr); !ok {
			warn.Printf("skipping address %v outside of code sections", addr)
			return
		}
		if !leaders[addr] {
			leaders[addr] = true
			queue = append(queue, addr)
		}
	}
	for _, entry := range entries {
		funcs[entry] = true
		push(entry)
	}
	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		for !visited[addr] {
			visited[addr] = true
			src, ok := code(sects, addr)
			if !ok {
				break
			}
			inst, err := dec.Decode(addr, src)
			if err != nil {
				break
			}
			if inst.CallTarget != nil {
				if _, ok := code(sects, *inst.CallTarget); ok && !funcs[*inst.CallTarget] {
					funcs[*inst.CallTarget] = true
				}
				push(*inst.CallTarget)
			}
			if inst.EndsBlock() {
				for _, succ := range inst.Successors() {
					push(succ)
				}
				break
			}
			addr = inst.Next()
		}
	}
	oracle := &Oracle{}
	for addr := range funcs {
		if leaders[addr] {
			oracle.Funcs = append(oracle.Funcs, addr)
		}
	}
	for addr := range leaders {
		oracle.Blocks = append(oracle.Blocks, addr)
	}
	sort.Sort(oracle.Funcs)
	sort.Sort(oracle.Blocks)
	dbg.Printf("discovered %d functions and %d basic blocks", len(oracle.Funcs), len(oracle.Blocks))
	return oracle
}
