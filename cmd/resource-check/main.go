package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"notekit/internal/attach"
	"notekit/internal/config"
	"notekit/internal/logging"
	"notekit/internal/markup"
	"notekit/internal/resource"
)

type runOptions struct {
	NotesRoot string
	DataPath  string
	Verbose   bool
	Mark      bool
	Workers   int
	Out       io.Writer
	ErrOut    io.Writer
}

type runStats struct {
	NotesScanned    int
	ResourceRefs    int
	MissingRefs     int
	UnknownRefs     int
	NotesNotReady   int
	UnreadableNotes int
	WalkErrors      int
	Marked          int
}

type noteRecord struct {
	AbsPath     string
	DisplayPath string
	Title       string
	Content     string
}

type finding struct {
	NotePath   string
	NoteTitle  string
	Status     resource.FetchStatus
	ResourceID string
	Resource   string
	Reason     string
}

type noteResult struct {
	refs     int
	status   resource.FetchStatus
	findings []finding
	unknown  int
	missing  []string
}

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

func runCLI(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("resource-check", flag.ContinueOnError)
	fs.SetOutput(errOut)

	opts := runOptions{
		Out:    out,
		ErrOut: errOut,
	}
	fs.StringVar(&opts.NotesRoot, "notes", "", "notes directory (defaults to current directory)")
	fs.StringVar(&opts.DataPath, "data", "", "data directory (defaults to $NOTEKIT_DATA_PATH)")
	fs.BoolVar(&opts.Verbose, "verbose", false, "print per-note status")
	fs.BoolVar(&opts.Mark, "mark", false, "queue missing resources for download")
	fs.IntVar(&opts.Workers, "workers", 4, "notes resolved concurrently")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		_, _ = fmt.Fprintln(errOut, "usage: resource-check [-notes <dir>] [-data <dir>] [-mark] [-workers N] [-verbose]")
		return 2
	}
	if opts.Workers < 1 {
		_, _ = fmt.Fprintln(errOut, "ERROR: -workers must be at least 1")
		return 2
	}

	cfg := config.Load()
	if opts.DataPath != "" {
		cfg.DataPath = opts.DataPath
		cfg.ResourceDir = ""
		cfg.TempDir = ""
		cfg = cfg.WithDefaults()
	}
	closeLog := logging.Setup(errOut, logging.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	defer closeLog()

	ctx := context.Background()
	notesRoot, stats, findings, err := execute(ctx, cfg, opts)
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "ERROR: %v\n", err)
		return 1
	}
	printReport(out, notesRoot, stats, findings)

	if stats.MissingRefs > 0 || stats.UnknownRefs > 0 || stats.UnreadableNotes > 0 || stats.WalkErrors > 0 {
		return 1
	}
	return 0
}

func execute(ctx context.Context, cfg config.Config, opts runOptions) (string, runStats, []finding, error) {
	var stats runStats
	errOut := opts.ErrOut
	if errOut == nil {
		errOut = io.Discard
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	root := strings.TrimSpace(opts.NotesRoot)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", stats, nil, fmt.Errorf("resolve notes root: %w", err)
	}
	info, err := os.Stat(rootAbs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rootAbs, stats, nil, fmt.Errorf("notes root not found: %s", rootAbs)
		}
		return rootAbs, stats, nil, fmt.Errorf("stat notes root %s: %w", rootAbs, err)
	}
	if !info.IsDir() {
		return rootAbs, stats, nil, fmt.Errorf("notes root is not a directory: %s", rootAbs)
	}

	store, err := resource.OpenConfigured(ctx, cfg)
	if err != nil {
		return rootAbs, stats, nil, fmt.Errorf("open resource store: %w", err)
	}
	defer store.Close()

	notes, scanStats := scanNotes(rootAbs, cfg.WithDefaults().DataPath, errOut)
	stats = scanStats

	cache := attach.NewCache(store)
	results := make([]noteResult, len(notes))
	var progress sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, note := range notes {
		g.Go(func() error {
			res, err := checkNote(gctx, cache, note)
			if err != nil {
				return fmt.Errorf("%s: %w", note.DisplayPath, err)
			}
			results[i] = res
			if opts.Verbose {
				progress.Lock()
				_, _ = fmt.Fprintf(errOut, "checked %s (%s, %d refs)\n", note.DisplayPath, res.status, res.refs)
				progress.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rootAbs, stats, nil, err
	}

	var findings []finding
	missingSet := map[string]struct{}{}
	for _, res := range results {
		stats.ResourceRefs += res.refs
		stats.UnknownRefs += res.unknown
		stats.MissingRefs += len(res.findings) - res.unknown
		if res.status != resource.StatusReady {
			stats.NotesNotReady++
		}
		findings = append(findings, res.findings...)
		for _, id := range res.missing {
			missingSet[id] = struct{}{}
		}
	}

	if opts.Mark && len(missingSet) > 0 {
		ids := make([]string, 0, len(missingSet))
		for id := range missingSet {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if err := store.MarkForDownload(ctx, ids); err != nil {
			return rootAbs, stats, findings, fmt.Errorf("mark for download: %w", err)
		}
		stats.Marked = len(ids)
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].NotePath != findings[j].NotePath {
			return findings[i].NotePath < findings[j].NotePath
		}
		return findings[i].ResourceID < findings[j].ResourceID
	})
	return rootAbs, stats, findings, nil
}

// checkNote resolves every resource linked from a note. A note with an
// unknown id is resolved id by id so the known ones are still reported.
func checkNote(ctx context.Context, cache *attach.Cache, note noteRecord) (noteResult, error) {
	ids := markup.LinkedResourceIDs(note.Content)
	res := noteResult{refs: len(ids), status: resource.StatusReady}
	infos, err := cache.Resolve(ctx, note.Content)
	if err != nil {
		if !errors.Is(err, resource.ErrNotFound) {
			return res, err
		}
		infos = map[string]attach.ResourceInfo{}
		for _, id := range ids {
			one, err := cache.Resolve(ctx, markup.ResourceURL(id))
			if errors.Is(err, resource.ErrNotFound) {
				res.unknown++
				res.status = resource.StatusError
				res.findings = append(res.findings, finding{
					NotePath:   note.DisplayPath,
					NoteTitle:  note.Title,
					Status:     resource.StatusError,
					ResourceID: id,
					Reason:     "unknown-resource",
				})
				continue
			}
			if err != nil {
				return res, err
			}
			for k, v := range one {
				infos[k] = v
			}
		}
	}

	if status := attach.ResourcesStatus(infos); resource.StatusIndex(status) < resource.StatusIndex(res.status) {
		res.status = status
	}
	for _, id := range attach.MissingResources(infos) {
		info := infos[id]
		reason := string(info.LocalState.FetchStatus)
		if info.LocalState.FetchError != "" {
			reason += ": " + info.LocalState.FetchError
		}
		res.missing = append(res.missing, id)
		res.findings = append(res.findings, finding{
			NotePath:   note.DisplayPath,
			NoteTitle:  note.Title,
			Status:     info.LocalState.FetchStatus,
			ResourceID: id,
			Resource:   info.Item.Title,
			Reason:     reason,
		})
	}
	return res, nil
}

func scanNotes(root, dataPath string, errOut io.Writer) ([]noteRecord, runStats) {
	var stats runStats
	notes := make([]noteRecord, 0, 128)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			stats.WalkErrors++
			_, _ = fmt.Fprintf(errOut, "ERROR: walk %s: %v\n", path, walkErr)
			return nil
		}
		if d.IsDir() {
			if path != root && (strings.HasPrefix(d.Name(), ".") || path == dataPath) {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext != ".md" && ext != ".html" && ext != ".htm" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			stats.UnreadableNotes++
			_, _ = fmt.Fprintf(errOut, "ERROR: read %s: %v\n", path, err)
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		content := string(data)
		notes = append(notes, noteRecord{
			AbsPath:     path,
			DisplayPath: filepath.ToSlash(rel),
			Title:       noteTitle(content, ext),
			Content:     content,
		})
		stats.NotesScanned++
		return nil
	})
	if walkErr != nil {
		stats.WalkErrors++
		_, _ = fmt.Fprintf(errOut, "ERROR: walk %s: %v\n", root, walkErr)
	}
	sort.Slice(notes, func(i, j int) bool {
		return notes[i].DisplayPath < notes[j].DisplayPath
	})
	return notes, stats
}

func noteTitle(content, ext string) string {
	if ext != ".md" {
		return ""
	}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

func displayTitle(title, path string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return path
	}
	return fmt.Sprintf("%s (%s)", title, path)
}

func printReport(out io.Writer, root string, stats runStats, findings []finding) {
	_, _ = fmt.Fprintf(out, "Resource report: %s\n", root)
	_, _ = fmt.Fprintf(out, "  notes scanned      : %d\n", stats.NotesScanned)
	_, _ = fmt.Fprintf(out, "  resource refs      : %d\n", stats.ResourceRefs)
	_, _ = fmt.Fprintf(out, "  missing resources  : %d\n", stats.MissingRefs)
	_, _ = fmt.Fprintf(out, "  unknown resources  : %d\n", stats.UnknownRefs)
	_, _ = fmt.Fprintf(out, "  notes not ready    : %d\n", stats.NotesNotReady)
	_, _ = fmt.Fprintf(out, "  unreadable notes   : %d\n", stats.UnreadableNotes)
	_, _ = fmt.Fprintf(out, "  walk errors        : %d\n", stats.WalkErrors)
	if stats.Marked > 0 {
		_, _ = fmt.Fprintf(out, "  queued downloads   : %d\n", stats.Marked)
	}

	if len(findings) == 0 {
		_, _ = fmt.Fprintln(out, "\nAll linked resources are ready.")
	} else {
		_, _ = fmt.Fprintf(out, "\nResources not ready (%d):\n", len(findings))
		for i, f := range findings {
			_, _ = fmt.Fprintf(out, "%d) %s\n", i+1, displayTitle(f.NoteTitle, f.NotePath))
			if f.Resource != "" {
				_, _ = fmt.Fprintf(out, "   resource : %s (id=%s)\n", f.Resource, f.ResourceID)
			} else {
				_, _ = fmt.Fprintf(out, "   resource : id=%s\n", f.ResourceID)
			}
			_, _ = fmt.Fprintf(out, "   status   : %s\n", f.Status)
			_, _ = fmt.Fprintf(out, "   reason   : %s\n", f.Reason)
		}
	}

	_, _ = fmt.Fprintf(out, "notes=%d refs=%d missing=%d unknown=%d not_ready=%d unreadable=%d walk_errors=%d\n",
		stats.NotesScanned, stats.ResourceRefs, stats.MissingRefs, stats.UnknownRefs, stats.NotesNotReady, stats.UnreadableNotes, stats.WalkErrors)
}
