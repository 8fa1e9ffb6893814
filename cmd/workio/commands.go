package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/desertwitch/workio/internal/job"
	"github.com/desertwitch/workio/internal/schema"
	"github.com/dustin/go-humanize"
)

const (
	chunkSize      = 64 * 1024
	transferBuffer = 16
)

type command struct {
	usage string
	run   func(ctx context.Context, app *App, args []string) error
}

func commandTable() map[string]command {
	return map[string]command{
		"get":     {"get [-o FILE] URL", runGet},
		"put":     {"put [-overwrite] [-resume] [-mode MODE] FILE|- URL", runPut},
		"stat":    {"stat [-hash] URL...", runStat},
		"ls":      {"ls URL", runList},
		"mkdir":   {"mkdir [-mode MODE] URL...", runMkdir},
		"rm":      {"rm [-r] URL...", runDelete},
		"cp":      {"cp [-overwrite] [-mode MODE] SRC DEST", runCopy},
		"mv":      {"mv [-overwrite] SRC DEST", runMove},
		"ln":      {"ln TARGET URL", runSymlink},
		"chmod":   {"chmod MODE URL...", runChmod},
		"history": {"history [-n COUNT] [-failed]", runHistory},
		"prune":   {"prune [-keep COUNT]", runPrune},
	}
}

// parseFlags parses the flags of a command, requiring at least minArgs
// positional arguments.
func parseFlags(fs *flag.FlagSet, args []string, minArgs int) error {
	fs.SetOutput(io.Discard)

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}

	if fs.NArg() < minArgs {
		return fmt.Errorf("%w: %s needs %d argument(s)", ErrUsage, fs.Name(), minArgs)
	}

	return nil
}

// privilegeFlag adds the flag allowing privileged execution.
func privilegeFlag(fs *flag.FlagSet) *bool {
	return fs.Bool("privileged", false, "retry with elevated privileges after confirmation")
}

func flagsOf(privileged bool, overwrite bool) job.Flags {
	var flags job.Flags
	if privileged {
		flags |= job.PrivilegeExecution
	}
	if overwrite {
		flags |= job.Overwrite
	}

	return flags
}

func parseMode(s string) (uint32, error) {
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid mode %q", ErrUsage, s)
	}

	return uint32(mode), nil
}

func schemeOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	return u.Scheme
}

func runGet(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	output := fs.String("o", "", "write to FILE instead of the output")

	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}

	w := app.out
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("(cmd-get) %w", err)
		}
		defer f.Close()
		w = f
	}

	return app.run(ctx, job.Get(fs.Arg(0), 0), func(ev job.Event) error {
		if d, ok := ev.(job.DataEvent); ok {
			if _, err := w.Write(d.Data); err != nil {
				return fmt.Errorf("(cmd-get) %w", err)
			}
		}

		return nil
	})
}

// readerSource reads r in chunks until io.EOF.
func readerSource(r io.Reader) job.DataSource {
	buf := make([]byte, chunkSize)

	return func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			return bytes.Clone(buf[:n]), nil
		}

		return nil, err //nolint:wrapcheck
	}
}

func runPut(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	overwrite := fs.Bool("overwrite", false, "replace an existing target")
	resume := fs.Bool("resume", false, "continue a partial upload")
	modeStr := fs.String("mode", "", "permission bits of the target, octal")
	privileged := privilegeFlag(fs)

	if err := parseFlags(fs, args, 2); err != nil { //nolint:mnd
		return err
	}

	var mode uint32
	if *modeStr != "" {
		m, err := parseMode(*modeStr)
		if err != nil {
			return err
		}
		mode = m
	}

	var (
		r    io.Reader = os.Stdin
		file *os.File
	)

	if fs.Arg(0) != "-" {
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			return fmt.Errorf("(cmd-put) %w", err)
		}
		defer f.Close()
		r, file = f, f
	}

	flags := flagsOf(*privileged, *overwrite)
	if *resume {
		flags |= job.Resume
	}

	j := job.Put(fs.Arg(1), mode, readerSource(r), flags)
	j.SetResumeDecider(func(offset uint64) bool {
		if file == nil || !*resume {
			return false
		}
		_, err := file.Seek(int64(offset), io.SeekStart) //nolint:gosec

		return err == nil
	})

	return app.run(ctx, j, nil)
}

func runStat(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("stat", flag.ContinueOnError)
	hash := fs.Bool("hash", false, "compute a content hash")

	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}

	for _, target := range fs.Args() {
		err := app.run(ctx, job.Stat(target, *hash, 0), func(ev job.Event) error {
			if st, ok := ev.(job.StatEvent); ok {
				app.printEntry(target, st.Entry)
			}

			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (app *App) printEntry(target string, e schema.Entry) {
	app.printf("%s\n", target)
	app.printf("  name:     %s\n", e.Name())
	app.printf("  mode:     %s\n", e.Mode())

	if size := e.Size(); size >= 0 {
		app.printf("  size:     %s (%d bytes)\n", humanize.IBytes(uint64(size)), size)
	}
	if mt := e.ModTime(); !mt.IsZero() {
		app.printf("  modified: %s (%s)\n", mt.Format("2006-01-02 15:04:05"), humanize.Time(mt))
	}
	if link := e.String(schema.FieldLinkDest); link != "" {
		app.printf("  target:   %s\n", link)
	}
	if mime := e.String(schema.FieldMimeType); mime != "" {
		app.printf("  mime:     %s\n", mime)
	}
	if hash := e.String(schema.FieldHash); hash != "" {
		app.printf("  hash:     %s\n", hash)
	}
}

func runList(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)

	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}

	var entries []schema.Entry

	err := app.run(ctx, job.ListDir(fs.Arg(0), 0), func(ev job.Event) error {
		if batch, ok := ev.(job.EntriesEvent); ok {
			entries = append(entries, batch.Entries...)
		}

		return nil
	})
	if err != nil {
		return err
	}

	slices.SortFunc(entries, func(a, b schema.Entry) int {
		return strings.Compare(a.Name(), b.Name())
	})

	for _, e := range entries {
		size := "-"
		if s := e.Size(); s >= 0 && !e.Mode().IsDir() {
			size = humanize.IBytes(uint64(s))
		}

		name := e.Name()
		if link := e.String(schema.FieldLinkDest); link != "" {
			name += " -> " + link
		}

		app.printf("%s %10s %s %s\n", e.Mode(), size, e.ModTime().Format("Jan _2 15:04"), name)
	}

	return nil
}

func runMkdir(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("mkdir", flag.ContinueOnError)
	modeStr := fs.String("mode", "755", "permission bits, octal")
	privileged := privilegeFlag(fs)

	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}

	mode, err := parseMode(*modeStr)
	if err != nil {
		return err
	}

	for _, target := range fs.Args() {
		if err := app.run(ctx, job.Mkdir(target, mode, flagsOf(*privileged, false)), nil); err != nil {
			return err
		}
	}

	return nil
}

func runDelete(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	recursive := fs.Bool("r", false, "remove directories with their contents")
	privileged := privilegeFlag(fs)

	if err := parseFlags(fs, args, 1); err != nil {
		return err
	}

	flags := flagsOf(*privileged, false)

	if fs.NArg() == 1 {
		return app.run(ctx, job.Delete(fs.Arg(0), *recursive, flags), nil)
	}

	seq := job.NewSequence(ctx, schema.OpDelete, fs.Arg(0), app.sched, flags)
	for _, target := range fs.Args() {
		step := job.Delete(target, *recursive, flags)
		step.SetConfirmer(app.confirmer)

		if err := seq.Add(step); err != nil {
			return fmt.Errorf("(cmd-rm) %w", err)
		}
	}

	if app.uiHandler != nil {
		app.uiHandler.Track(seq.Job)
	}

	events := seq.Events()
	seq.Start()

	return app.drain(ctx, seq.Job, events, nil)
}

func runCopy(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("cp", flag.ContinueOnError)
	overwrite := fs.Bool("overwrite", false, "replace an existing target")
	modeStr := fs.String("mode", "", "permission bits of the target, octal")
	privileged := privilegeFlag(fs)

	if err := parseFlags(fs, args, 2); err != nil { //nolint:mnd
		return err
	}

	var mode uint32
	if *modeStr != "" {
		m, err := parseMode(*modeStr)
		if err != nil {
			return err
		}
		mode = m
	}

	src, dest := fs.Arg(0), fs.Arg(1)
	flags := flagsOf(*privileged, *overwrite)

	if schemeOf(src) == schemeOf(dest) {
		return app.run(ctx, job.Copy(src, dest, mode, flags), nil)
	}

	return app.transfer(ctx, src, dest, mode, flags)
}

func runMove(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("mv", flag.ContinueOnError)
	overwrite := fs.Bool("overwrite", false, "replace an existing target")
	privileged := privilegeFlag(fs)

	if err := parseFlags(fs, args, 2); err != nil { //nolint:mnd
		return err
	}

	src, dest := fs.Arg(0), fs.Arg(1)
	flags := flagsOf(*privileged, *overwrite)

	if schemeOf(src) == schemeOf(dest) {
		return app.run(ctx, job.Move(src, dest, flags), nil)
	}

	if err := app.transfer(ctx, src, dest, 0, flags); err != nil {
		return err
	}

	return app.run(ctx, job.Delete(src, false, flags), nil)
}

// transfer copies src to dest across schemes by piping the data of a get
// job into a put job.
func (app *App) transfer(ctx context.Context, src, dest string, mode uint32, flags job.Flags) error {
	if schemeOf(src) == "" || schemeOf(dest) == "" {
		return fmt.Errorf("(cmd-transfer) %w: %s to %s", ErrUnsupportedTransfer, src, dest)
	}

	tctx, cancel := context.WithCancel(ctx)
	defer cancel()

	get := job.Get(src, flags&^job.Overwrite)

	getEvents, err := app.submit(tctx, get)
	if err != nil {
		return err
	}

	chunks := make(chan []byte, transferBuffer)
	done := make(chan struct{})

	var getErr error

	go func() {
		defer close(done)
		defer close(chunks)

		getErr = app.drain(tctx, get, getEvents, func(ev job.Event) error {
			d, ok := ev.(job.DataEvent)
			if !ok || len(d.Data) == 0 {
				return nil
			}

			select {
			case chunks <- d.Data:
				return nil
			case <-tctx.Done():
				return tctx.Err() //nolint:wrapcheck
			}
		})
	}()

	source := func(ctx context.Context) ([]byte, error) {
		select {
		case data, ok := <-chunks:
			if !ok {
				<-done
				if getErr != nil {
					return nil, getErr
				}

				return nil, io.EOF
			}

			return data, nil
		case <-ctx.Done():
			return nil, ctx.Err() //nolint:wrapcheck
		}
	}

	putErr := app.run(tctx, job.Put(dest, mode, source, flags|job.HideProgressInfo), nil)

	cancel()
	<-done

	if putErr != nil {
		if getErr != nil && !errors.Is(getErr, context.Canceled) {
			return getErr
		}

		return putErr
	}

	return getErr
}

func runSymlink(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("ln", flag.ContinueOnError)
	privileged := privilegeFlag(fs)

	if err := parseFlags(fs, args, 2); err != nil { //nolint:mnd
		return err
	}

	return app.run(ctx, job.Symlink(fs.Arg(0), fs.Arg(1), flagsOf(*privileged, false)), nil)
}

func runChmod(ctx context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("chmod", flag.ContinueOnError)
	privileged := privilegeFlag(fs)

	if err := parseFlags(fs, args, 2); err != nil { //nolint:mnd
		return err
	}

	mode, err := parseMode(fs.Arg(0))
	if err != nil {
		return err
	}

	for _, target := range fs.Args()[1:] {
		if err := app.run(ctx, job.Chmod(target, mode, flagsOf(*privileged, false)), nil); err != nil {
			return err
		}
	}

	return nil
}

func runHistory(_ context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 20, "number of records to show") //nolint:mnd
	failed := fs.Bool("failed", false, "only show failed jobs")

	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}

	if app.journal == nil {
		return fmt.Errorf("(cmd-history) %w: no journal configured", ErrUsage)
	}

	fetch := *limit
	if *failed {
		fetch = 0
	}

	records, err := app.journal.List(fetch)
	if err != nil {
		return fmt.Errorf("(cmd-history) %w", err)
	}

	shown := 0
	for _, r := range records {
		if *failed && !r.Failed() {
			continue
		}
		if *limit > 0 && shown >= *limit {
			break
		}
		shown++

		target := r.URL
		if r.Dest != "" {
			target += " -> " + r.Dest
		}

		line := fmt.Sprintf("%s  %-8s %-8s %s", r.Finished.Format("2006-01-02 15:04:05"), r.Kind, r.State, target)
		if r.Total > 0 {
			line += fmt.Sprintf("  %s/%s", humanize.IBytes(r.Processed), humanize.IBytes(r.Total))
		}
		if r.Error != "" {
			line += "  " + r.Error
		}
		app.printf("%s\n", line)
	}

	return nil
}

func runPrune(_ context.Context, app *App, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	keep := fs.Int("keep", 100, "number of newest records to keep") //nolint:mnd

	if err := parseFlags(fs, args, 0); err != nil {
		return err
	}

	if app.journal == nil {
		return fmt.Errorf("(cmd-prune) %w: no journal configured", ErrUsage)
	}

	n, err := app.journal.Prune(*keep)
	if err != nil {
		return fmt.Errorf("(cmd-prune) %w", err)
	}

	app.printf("Pruned %d record(s).\n", n)

	return nil
}
