// Package diff 文本三方合并与差异展示
package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// MergeResult 合并结果
type MergeResult struct {
	Content string
	// Clean is false when some patch did not apply and Content is partial.
	Clean bool
}

// MergeTexts 三方合并：把 local 与 remote 相对 base 的修改都应用到 base 上
// remote is applied first, so on overlapping edits the local text wins the
// final position.
func MergeTexts(base, local, remote string) MergeResult {
	if local == remote {
		return MergeResult{Content: local, Clean: true}
	}
	if local == base {
		return MergeResult{Content: remote, Clean: true}
	}
	if remote == base {
		return MergeResult{Content: local, Clean: true}
	}

	dmp := diffmatchpatch.New()

	remotePatches := dmp.PatchMake(base, dmp.DiffMain(base, remote, false))
	localPatches := dmp.PatchMake(base, dmp.DiffMain(base, local, false))

	step, ok1 := dmp.PatchApply(remotePatches, base)
	merged, ok2 := dmp.PatchApply(localPatches, step)

	return MergeResult{Content: merged, Clean: allApplied(ok1) && allApplied(ok2)}
}

func allApplied(results []bool) bool {
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// Describe 以 +/- 行前缀展示 from 到 to 的差异
func Describe(from, to string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(from, to)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}
