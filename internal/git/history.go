package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/chmouel/lazyscc/internal/models"
	"github.com/chmouel/lazyscc/internal/provider/cmdrun"
	"github.com/chmouel/lazyscc/internal/scc"
)

const (
	recordSep = "\x1e"
	fieldSep  = "\x1f"
)

type logEntry struct {
	hash    string
	author  string
	date    string
	subject string
	action  string
	path    string
}

// parseLog parses git log output produced with historyFormat and
// --name-status. Entries come back newest first.
func parseLog(raw string) []logEntry {
	var entries []logEntry
	for _, chunk := range strings.Split(raw, recordSep) {
		chunk = strings.Trim(chunk, "\n")
		if chunk == "" {
			continue
		}
		header, body, _ := strings.Cut(chunk, "\n")
		fields := strings.Split(header, fieldSep)
		if len(fields) < 4 {
			continue
		}
		e := logEntry{hash: fields[0], author: fields[1], date: fields[2], subject: fields[3]}
		for _, line := range strings.Split(body, "\n") {
			parts := strings.Split(strings.TrimSpace(line), "\t")
			if len(parts) < 2 || parts[0] == "" {
				continue
			}
			e.action = actionName(parts[0])
			e.path = parts[len(parts)-1]
		}
		entries = append(entries, e)
	}
	return entries
}

func actionName(code string) string {
	switch code[0] {
	case 'A':
		return "add"
	case 'D':
		return "delete"
	case 'R':
		return "move/add"
	case 'C':
		return "branch"
	default:
		return "edit"
	}
}

const historyFormat = "--format=" + recordSep + "%H" + fieldSep + "%an" + fieldSep + "%at" + fieldSep + "%s"

func (p *Provider) history(ctx context.Context, cmd *scc.Command, files, rels []string) error {
	if !p.hasHead(ctx) {
		for i, f := range files {
			cmd.SetResult(f, models.KeyDepotPath, rels[i])
			cmd.SetResult(f, models.KeyRevisions, "0")
		}
		return nil
	}
	for i, f := range files {
		res, err := p.git(ctx, "log", "--follow", "--name-status", historyFormat, "--", rels[i])
		if err != nil {
			return p.fail("log", err)
		}
		entries := parseLog(res.Stdout)
		sizes := p.blobSizes(ctx, entries)

		cmd.SetResult(f, models.KeyDepotPath, rels[i])
		cmd.SetResult(f, models.KeyRevisions, strconv.Itoa(len(entries)))
		for n, e := range entries {
			idx := strconv.Itoa(n)
			cmd.SetResult(f, models.KeyRevPrefix+idx, strconv.Itoa(len(entries)-n))
			cmd.SetResult(f, models.KeyChangePrefix+idx, shortHash(e.hash))
			cmd.SetResult(f, models.KeyUserPrefix+idx, e.author)
			cmd.SetResult(f, models.KeyDatePrefix+idx, e.date)
			cmd.SetResult(f, models.KeyActionPrefix+idx, e.action)
			cmd.SetResult(f, models.KeySizePrefix+idx, strconv.FormatInt(sizes[n], 10))
			cmd.SetResult(f, models.KeyDescPrefix+idx, e.subject)
		}
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// blobSizes looks up the size of every revision in one cat-file call.
// Deleted revisions report 0.
func (p *Provider) blobSizes(ctx context.Context, entries []logEntry) []int64 {
	sizes := make([]int64, len(entries))
	if len(entries) == 0 {
		return sizes
	}
	var in strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&in, "%s:%s\n", e.hash, e.path)
	}
	res, err := p.runner.Run(ctx, cmdrun.Request{
		Args:  []string{"git", "cat-file", "--batch-check=%(objectsize)"},
		Dir:   p.root,
		Stdin: in.String(),
	})
	if err != nil {
		return sizes
	}
	for i, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
		if i >= len(sizes) {
			break
		}
		if n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64); err == nil {
			sizes[i] = n
		}
	}
	return sizes
}
