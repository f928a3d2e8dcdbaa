// Package hashing computes the stable fingerprints the Freshness Engine
// keys state-file entries on: a task's definition hash, which depends only
// on cmd, outputs, args, working_dir, and the resolved runner definition,
// and a bound node's argument-binding hash. Both must be reproducible
// across processes and machines of the same platform, so every input is
// serialised through explicit, length-prefixed fields rather than naive
// string concatenation — two different field splits must never collapse
// onto the same byte sequence.
package hashing

import (
	"encoding/binary"
	"encoding/hex"
	"sort"

	"golang.org/x/crypto/blake2b"

	"github.com/tasktreehq/tt/internal/recipe"
)

// canon accumulates length-prefixed fields so that e.g. ("ab", "c") and
// ("a", "bc") never hash identically.
type canon struct {
	buf []byte
}

func (c *canon) str(s string) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
	c.buf = append(c.buf, lenBuf[:]...)
	c.buf = append(c.buf, s...)
}

func (c *canon) bool(b bool) {
	if b {
		c.buf = append(c.buf, 1)
	} else {
		c.buf = append(c.buf, 0)
	}
}

func (c *canon) float(f float64, present bool) {
	c.bool(present)
	if !present {
		return
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(int64(f*1e9)))
	c.buf = append(c.buf, b[:]...)
}

func (c *canon) strList(ss []string) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(ss)))
	c.buf = append(c.buf, lenBuf[:]...)
	for _, s := range ss {
		c.str(s)
	}
}

func sum(c *canon) string {
	h := blake2b.Sum256(c.buf)
	return hex.EncodeToString(h[:])
}

// RunnerHash canonicalises a Runner's full definition: every field that
// changes the task's execution contract, not just its image-build inputs
// (see ImageHash for that narrower set).
func RunnerHash(r *recipe.Runner) string {
	c := &canon{}
	if r == nil {
		c.str("(none)")
		return sum(c)
	}
	switch r.Kind {
	case recipe.RunnerShell:
		c.str("shell")
		c.str(r.Shell)
		c.str(r.ShellPreamble)
	case recipe.RunnerContainer:
		c.str("container")
		c.str(r.Dockerfile)
		c.str(r.Context)
		c.strList(sortedKV(r.BuildArgs))
		c.strList(volumeStrings(r.Volumes))
		c.strList(sortedKV(r.Ports))
		c.strList(sortedKV(r.Env))
		c.str(r.WorkingDir)
		c.bool(r.RunAsRoot)
	}
	return sum(c)
}

// ImageHash is the container build cache key: the Dockerfile contents,
// the build context path, and the build args. Volumes and env are run-time
// settings, not build inputs, so they don't participate.
func ImageHash(dockerfileContents string, r *recipe.Runner) string {
	c := &canon{}
	c.str(dockerfileContents)
	c.str(r.Context)
	c.strList(sortedKV(r.BuildArgs))
	return sum(c)
}

func sortedKV(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		out = append(out, k, m[k])
	}
	return out
}

func volumeStrings(vols []recipe.VolumeBind) []string {
	out := make([]string, 0, len(vols)*3)
	for _, v := range vols {
		ro := "rw"
		if v.ReadOnly {
			ro = "ro"
		}
		out = append(out, v.Host, v.Container, ro)
	}
	return out
}

// DefinitionHash computes a task's definition hash: cmd, outputs, args,
// working_dir, and the resolved runner's hash. Name, description,
// inputs, and deps never participate.
func DefinitionHash(t *recipe.Task, runnerHash string) string {
	c := &canon{}
	c.str(t.Cmd)
	c.str(t.WorkingDir)
	c.strList(ioEntryStrings(t.Outputs))
	c.strList(argSpecStrings(t.Args))
	c.str(runnerHash)
	return sum(c)
}

func ioEntryStrings(entries []recipe.IOEntry) []string {
	out := make([]string, 0, len(entries)*2)
	for _, e := range entries {
		out = append(out, e.Name, e.Glob)
	}
	return out
}

func argSpecStrings(specs []recipe.ArgSpec) []string {
	out := make([]string, 0, len(specs)*8)
	for _, a := range specs {
		def := ""
		if a.HasDefault {
			def = a.Default
		}
		out = append(out, a.Name, string(a.Type), boolStr(a.Exported), boolStr(a.HasDefault), def)
		out = append(out, a.Choices...)
		out = append(out, "|")
		out = append(out, boolStr(a.HasMin), floatStr(a.Min), boolStr(a.HasMax), floatStr(a.Max))
	}
	return out
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func floatStr(f float64) string {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(int64(f*1e9)))
	return string(b[:])
}

// ArgBindingHash canonicalises a GraphNode's bound arguments: the
// resolved (name -> string value) map, sorted by name so binding order
// never affects node identity.
func ArgBindingHash(bound map[string]string) string {
	c := &canon{}
	c.strList(sortedKV(bound))
	return sum(c)
}
