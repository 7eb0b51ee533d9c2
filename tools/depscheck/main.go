package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const modulePath = "github.com/xyzzy121/Unicopia"

type packageInfo struct {
	ImportPath string
	Imports    []string
}

type boundary struct {
	// from matches importing packages by prefix.
	from   string
	forbid []string
}

// The ability contract stays free of runtime packages so catalogs and tools
// can load it alone. Replication reaches the wire through proto only.
var boundaries = []boundary{
	{from: "abilities/contract", forbid: []string{"abilities/builtin", "abilities/catalog", "internal/"}},
	{from: "abilities/", forbid: []string{"internal/coordinator", "internal/hub", "internal/net", "internal/app"}},
	{from: "internal/slot", forbid: []string{"internal/coordinator", "internal/hub", "internal/net"}},
	{from: "internal/codec", forbid: []string{"internal/coordinator", "internal/hub", "internal/net", "internal/slot"}},
	{from: "internal/deferred", forbid: []string{"internal/"}},
	{from: "internal/coordinator", forbid: []string{"internal/hub", "internal/net/ws", "internal/net/intake", "internal/app"}},
	{from: "internal/sim", forbid: []string{"internal/coordinator", "internal/hub", "internal/net"}},
	{from: "internal/world", forbid: []string{"internal/coordinator", "internal/hub", "internal/net"}},
	{from: "internal/hub", forbid: []string{"internal/net/ws", "internal/app", "internal/config"}},
}

func main() {
	cmd := exec.Command("go", "list", "-json", "./...")
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	violations, err := check(bytes.NewReader(output))
	if err != nil {
		fmt.Fprintf(os.Stderr, "depscheck: failed to decode package info: %v\n", err)
		os.Exit(1)
	}

	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func check(r io.Reader) ([]string, error) {
	decoder := json.NewDecoder(r)

	var violations []string
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		violations = append(violations, violationsFor(pkg)...)
	}
	sort.Strings(violations)
	return violations, nil
}

func violationsFor(pkg packageInfo) []string {
	rel, ok := relative(pkg.ImportPath)
	if !ok {
		return nil
	}
	var out []string
	for _, imp := range pkg.Imports {
		target, ok := relative(imp)
		if !ok {
			continue
		}
		for _, b := range boundaries {
			if !strings.HasPrefix(rel, b.from) {
				continue
			}
			for _, prefix := range b.forbid {
				if strings.HasPrefix(target, prefix) {
					out = append(out, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
				}
			}
		}
	}
	return dedupe(out)
}

func relative(importPath string) (string, bool) {
	if !strings.HasPrefix(importPath, modulePath+"/") {
		return "", false
	}
	return strings.TrimPrefix(importPath, modulePath+"/"), true
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
