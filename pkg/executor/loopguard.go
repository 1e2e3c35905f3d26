package executor

// loopVerdict is the loop guard's decision for one intended tool call
type loopVerdict int

const (
	loopProceed loopVerdict = iota
	loopAnnotate
	loopBlock
)

// loopGuard tracks per-tool and global call counts for a single run.
// Counters reset when a new plan is produced.
type loopGuard struct {
	perTool  map[string]int
	global   int
	warning  int
	critical int
	maxTotal int
}

func newLoopGuard(warning, critical, global int) *loopGuard {
	if warning <= 0 {
		warning = 3
	}
	if critical < warning {
		critical = warning + 2
	}
	if global < critical {
		global = critical * 3
	}
	return &loopGuard{
		perTool:  make(map[string]int),
		warning:  warning,
		critical: critical,
		maxTotal: global,
	}
}

// observe counts an intended call and decides whether it may run. Past the
// warning threshold identical calls are annotated; past the critical or
// global threshold they are short-circuited entirely.
func (g *loopGuard) observe(tool string) loopVerdict {
	g.perTool[tool]++
	g.global++

	count := g.perTool[tool]
	if count > g.critical || g.global > g.maxTotal {
		return loopBlock
	}
	if count > g.warning {
		return loopAnnotate
	}
	return loopProceed
}

func (g *loopGuard) count(tool string) int {
	return g.perTool[tool]
}
