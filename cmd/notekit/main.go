package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/term"

	"notekit/internal/attach"
	"notekit/internal/config"
	"notekit/internal/logging"
	"notekit/internal/markup"
	"notekit/internal/resource"
	storagefs "notekit/internal/storage/fs"
)

type app struct {
	cfg config.Config
	// stdin is shared by every prompt so buffered input is not lost between
	// them.
	stdin  *bufio.Reader
	tty    bool
	out    io.Writer
	errOut io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, out, errOut io.Writer) int {
	if len(args) == 0 {
		usage(errOut)
		return 2
	}
	cfg := config.Load()
	if path := strings.TrimSpace(os.Getenv("NOTEKIT_ENV_FILE")); path != "" {
		loaded, err := config.LoadWithEnvFile(path)
		if err != nil {
			fmt.Fprintf(errOut, "ERROR: load env file: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	closeLog := logging.Setup(errOut, logging.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		DevFile: os.Getenv("NOTEKIT_DEV_LOG"),
	})
	defer closeLog()

	a := &app{cfg: cfg, stdin: bufio.NewReader(stdin), tty: isTerminal(stdin), out: out, errOut: errOut}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var err error
	switch args[0] {
	case "attach":
		err = a.attach(ctx, args[1:])
	case "paste":
		err = a.paste(ctx, args[1:])
	case "clip":
		err = a.clip(ctx, args[1:])
	case "status":
		err = a.status(ctx, args[1:])
	default:
		usage(errOut)
		return 2
	}
	var ue usageError
	if errors.As(err, &ue) {
		fmt.Fprintln(errOut, ue.Error())
		return 2
	}
	if err != nil {
		fmt.Fprintf(errOut, "ERROR: %v\n", err)
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return "usage: " + string(e) }

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: notekit [attach|paste|clip|status] ...")
}

// openAttacher wires the store and CLI collaborators into an Attacher. The
// caller closes the returned store.
func (a *app) openAttacher(ctx context.Context, askResize bool) (*attach.Attacher, *resource.Store, error) {
	store, err := resource.OpenConfigured(ctx, a.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open resource store: %w", err)
	}
	deps := attach.Deps{
		Store:      store,
		Downloader: store,
		Picker:     linePicker{in: a.stdin, prompt: a.errOut, tty: a.tty},
		Notifier:   writerNotifier{w: a.errOut},
	}
	if askResize {
		deps.Resize = promptConfirmer{in: a.stdin, out: a.errOut}
	}
	at, err := attach.New(a.cfg, deps)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return at, store, nil
}

func (a *app) attach(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("attach", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	notePath := fs.String("note", "", "note file to attach into")
	lang := fs.String("markup", "", "markdown or html (defaults to $NOTEKIT_MARKUP)")
	position := fs.Int("position", attach.AppendPosition, "byte offset to insert at, -1 appends")
	fileURL := fs.Bool("file-url", false, "link files in place instead of storing copies")
	askResize := fs.Bool("ask-resize", false, "confirm before shrinking large images")
	if err := fs.Parse(args); err != nil {
		return usageError("notekit attach -note <file> [-markup markdown|html] [-position N] [-file-url] [<paths...>]")
	}
	if strings.TrimSpace(*notePath) == "" {
		return usageError("notekit attach -note <file> [-markup markdown|html] [-position N] [-file-url] [<paths...>]")
	}
	opts := attach.AttachOptions{CreateFileURL: *fileURL, Position: *position}
	if *lang != "" {
		parsed, err := markup.ParseLanguage(*lang)
		if err != nil {
			return err
		}
		opts.Markup = parsed
	}

	body, err := os.ReadFile(*notePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	var paths []string
	if fs.NArg() > 0 {
		paths = fs.Args()
	}

	at, store, err := a.openAttacher(ctx, *askResize)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := at.Attach(ctx, string(body), paths, opts)
	if err != nil {
		return err
	}
	if res == nil {
		fmt.Fprintln(a.errOut, "nothing attached")
		return nil
	}
	for _, item := range res.Items {
		if item.Skipped() {
			fmt.Fprintf(a.out, "skipped  %s: %v\n", item.Path, item.Err)
			continue
		}
		fmt.Fprintf(a.out, "attached %s %s\n", item.Path, item.Snippet)
	}
	if res.Attached() == 0 {
		return errors.New("no file could be attached")
	}
	if err := storagefs.WriteFileAtomic(*notePath, []byte(res.Body), 0o644); err != nil {
		return fmt.Errorf("write note: %w", err)
	}
	return nil
}

func (a *app) paste(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("paste", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	noRoundTrip := fs.Bool("no-roundtrip", false, "skip the markdown round trip")
	if err := fs.Parse(args); err != nil || fs.NArg() > 1 {
		return usageError("notekit paste [-no-roundtrip] [<html-file>|-]")
	}
	var raw []byte
	var err error
	if fs.NArg() == 0 || fs.Arg(0) == "-" {
		raw, err = io.ReadAll(a.stdin)
	} else {
		raw, err = os.ReadFile(fs.Arg(0))
	}
	if err != nil {
		return err
	}

	at, store, err := a.openAttacher(ctx, false)
	if err != nil {
		return err
	}
	defer store.Close()

	conv := attach.MarkdownConverters()
	if *noRoundTrip {
		conv = attach.Converters{}
	}
	html, err := at.ProcessPastedHTML(ctx, string(raw), conv)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, html)
	return nil
}

func (a *app) clip(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("notekit clip <image-file>")
	}
	at, store, err := a.openAttacher(ctx, false)
	if err != nil {
		return err
	}
	defer store.Close()

	bodies, err := at.ResourcesFromClipboard(ctx, attach.FileClipboard{Path: args[0]}, nil)
	if err != nil {
		return err
	}
	if len(bodies) == 0 {
		fmt.Fprintln(a.errOut, "no image on clipboard")
		return nil
	}
	for _, body := range bodies {
		fmt.Fprintln(a.out, body)
	}
	return nil
}

func (a *app) status(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	mark := fs.Bool("mark", false, "queue linked resources for download when the download mode is auto")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return usageError("notekit status [-mark] <note-file>")
	}
	body, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	at, store, err := a.openAttacher(ctx, false)
	if err != nil {
		return err
	}
	defer store.Close()

	infos, err := attach.NewCache(store).Resolve(ctx, string(body))
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(infos))
	for id := range infos {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		info := infos[id]
		fmt.Fprintf(a.out, "%s  %-14s %s\n", id, info.LocalState.FetchStatus, info.Item.Title)
	}
	fmt.Fprintf(a.out, "status: %s\n", attach.ResourcesStatus(infos))

	if *mark {
		if err := at.HandleDownloadMode(ctx, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// readLine returns the next line without its terminator. io.EOF is only
// returned once nothing is left.
func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if errors.Is(err, io.EOF) && line != "" {
		err = nil
	}
	return strings.TrimRight(line, "\r\n"), err
}

// linePicker reads one path per line until EOF or an empty line. It stops
// right after the empty line so later prompts can read the rest of in.
type linePicker struct {
	in     *bufio.Reader
	prompt io.Writer
	tty    bool
}

func (p linePicker) PickFiles(ctx context.Context) ([]string, error) {
	if p.tty {
		fmt.Fprintln(p.prompt, "Files to attach, one per line (empty line to finish):")
	}
	var paths []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := readLine(p.in)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read paths: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		paths = append(paths, line)
	}
	if len(paths) == 0 {
		return nil, attach.ErrUserCancelled
	}
	return paths, nil
}

type promptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func (c promptConfirmer) ConfirmResize(_ context.Context, path string) (bool, error) {
	fmt.Fprintf(c.out, "Shrink large image %s? [Y/n/c]: ", path)
	answer, err := readLine(c.in)
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read response: %w", err)
	}
	switch strings.TrimSpace(strings.ToLower(answer)) {
	case "n", "no":
		return false, nil
	case "c", "cancel":
		return false, attach.ErrUserCancelled
	}
	return true, nil
}

type writerNotifier struct {
	w io.Writer
}

func (n writerNotifier) ShowError(msg string) {
	fmt.Fprintf(n.w, "error: %s\n", msg)
}
