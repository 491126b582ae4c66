package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"syscall"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/writeonenglish/woe/core"
	"github.com/writeonenglish/woe/core/guest"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp           = errors.New("help provided")
	errNoSession      = errors.New("no current guest session, run start first")
	errNameRequired   = errors.New("a name is required to start this assignment, use -name")
	errNothingToSave  = errors.New("nothing to save, use -text, -notes or -canvas")
	errAssignmentGone = errors.New("no published assignment matches this code")
)

// API is what the guest commands need from the server.
type API interface {
	guest.AssignmentLookup
	guest.AccountConverter
}

type commandLine struct {
	store      *guest.Store
	api        API
	validate   *validator.Validate
	translator ut.Translator
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.out, "Usage: guest [-store FILE | -redis ADDR] [-api URL] COMMAND")
	_, _ = fmt.Fprintln(cli.out, "  start -code CODE [-name NAME] - start or resume the assignment of an access code")
	_, _ = fmt.Fprintln(cli.out, "  status - show the current session")
	_, _ = fmt.Fprintln(cli.out, "  save [-text TEXT] [-notes NOTES] [-canvas FILE] - save work on the current session")
	_, _ = fmt.Fprintln(cli.out, "  convert -email EMAIL [-name NAME] - create an account & keep the current work")
	_, _ = fmt.Fprintln(cli.out, "  list - list every session")
	_, _ = fmt.Fprintln(cli.out, "  clear [-all] - forget the current session (or all of them)")
}

// run executes one command; args start with the command name.
func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		cli.printUsage()
		return errHelp
	}

	switch args[0] {
	case "start":
		cmd := cli.flagSet("start")
		code := cmd.String("code", "", "The assignment access code.")
		name := cmd.String("name", "", "The name to show to the teacher.")
		if err := cmd.Parse(args[1:]); err != nil {
			return errHelp
		}
		if *code == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.start(ctx, *code, *name)

	case "status":
		return cli.status(ctx)

	case "save":
		cmd := cli.flagSet("save")
		text := cmd.String("text", "", "The written answer.")
		notes := cmd.String("notes", "", "Private notes.")
		canvas := cmd.String("canvas", "", "A JSON file exported from the whiteboard.")
		if err := cmd.Parse(args[1:]); err != nil {
			return errHelp
		}
		var upd guest.WorkUpdate
		cmd.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "text":
				upd.TextContent = text
			case "notes":
				upd.Notes = notes
			}
		})
		return cli.save(ctx, upd, *canvas)

	case "convert":
		cmd := cli.flagSet("convert")
		email := cmd.String("email", "", "The email of the new account.")
		name := cmd.String("name", "", "The full name; defaults to the name given at start.")
		if err := cmd.Parse(args[1:]); err != nil {
			return errHelp
		}
		if *email == "" {
			cmd.Usage()
			return errHelp
		}
		_, _ = fmt.Fprint(cli.out, "Choose a password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		_, _ = fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		return cli.convert(ctx, guest.Credentials{Name: *name, Email: *email, Password: string(pwd)})

	case "list":
		return cli.list(ctx)

	case "clear":
		cmd := cli.flagSet("clear")
		all := cmd.Bool("all", false, "Forget every session.")
		if err := cmd.Parse(args[1:]); err != nil {
			return errHelp
		}
		return cli.clear(ctx, *all)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) start(ctx context.Context, code, name string) error {
	flow, err := guest.NewFlow(cli.store, cli.api, cli.validate)
	if err != nil {
		return err
	}

	state, err := flow.SubmitCode(ctx, code)
	if err != nil {
		return err
	}
	switch state {
	case guest.StateNotFound:
		return errAssignmentGone
	case guest.StateFailed:
		return errors.Wrap(flow.Err(), "looking up assignment")
	case guest.StateEnteringName:
		pub, _ := flow.Assignment()
		_, _ = fmt.Fprintf(cli.out, "%s (%s, %s)\n", pub.Title, pub.Class.Name, pub.Class.Teacher.Name)
		if core.CleanString(name) == "" {
			return errNameRequired
		}
		if state, err = flow.SubmitName(ctx, name); err != nil {
			return err
		}
		if state == guest.StateFailed {
			return errors.Wrap(flow.Err(), "starting session")
		}
	}

	sess, _ := flow.Session()
	verb := "started"
	if flow.Resumed() {
		verb = "resumed"
	}
	path, _ := flow.RedirectPath()
	_, _ = fmt.Fprintf(cli.out, "session %s %s for %s\ncontinue at %s\n", sess.ID, verb, sess.AssignmentCode, path)
	return nil
}

func (cli *commandLine) current(ctx context.Context) (guest.Session, error) {
	sess, ok := cli.store.CurrentSession(ctx)
	if !ok {
		return guest.Session{}, errNoSession
	}
	return sess, nil
}

func (cli *commandLine) status(ctx context.Context) error {
	sess, err := cli.current(ctx)
	if err != nil {
		return err
	}
	var work guest.WorkData
	if sess.WorkData != nil {
		work = *sess.WorkData
	}
	_, _ = fmt.Fprintf(cli.out, "session:       %s\n", sess.ID)
	_, _ = fmt.Fprintf(cli.out, "code:          %s\n", sess.AssignmentCode)
	_, _ = fmt.Fprintf(cli.out, "name:          %s\n", sess.TempName)
	_, _ = fmt.Fprintf(cli.out, "started:       %s\n", sess.StartedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(cli.out, "last activity: %s\n", sess.LastActivity.Format(time.RFC3339))
	_, _ = fmt.Fprintf(cli.out, "text:          %d characters\n", len([]rune(work.TextContent)))
	_, _ = fmt.Fprintf(cli.out, "drawing:       %d elements\n", work.ElementCount())
	if cli.store.ShouldPromptAccountCreation(ctx, sess.ID) {
		_, _ = fmt.Fprintln(cli.out, "create an account to keep your work: guest convert -email EMAIL")
	}
	return nil
}

// save stores the fields of upd and the canvas file, if any. An empty -text or -notes clears the saved value.
func (cli *commandLine) save(ctx context.Context, upd guest.WorkUpdate, canvasFile string) error {
	if canvasFile != "" {
		data, err := os.ReadFile(canvasFile)
		if err != nil {
			return errors.Wrap(err, "reading canvas")
		}
		var canvas guest.CanvasData
		if err = json.Unmarshal(data, &canvas); err != nil {
			return errors.Wrapf(err, "decoding canvas %s", canvasFile)
		}
		upd.CanvasData = &canvas
	}
	if upd.IsZero() {
		return errNothingToSave
	}

	sess, err := cli.current(ctx)
	if err != nil {
		return err
	}
	if err = cli.store.UpdateWork(ctx, sess.ID, upd); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "saved %s\n", sess.ID)
	if cli.store.ShouldPromptAccountCreation(ctx, sess.ID) {
		_, _ = fmt.Fprintln(cli.out, "create an account to keep your work: guest convert -email EMAIL")
	}
	return nil
}

func (cli *commandLine) convert(ctx context.Context, creds guest.Credentials) error {
	sess, err := cli.current(ctx)
	if err != nil {
		return err
	}
	res, err := cli.store.Convert(ctx, sess.ID, creds, cli.api)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "account %s created for %s\n", res.User.ID, res.User.Email)
	if res.SubmissionID != "" {
		_, _ = fmt.Fprintf(cli.out, "your work was saved as draft %s\n", res.SubmissionID)
	}
	return nil
}

func (cli *commandLine) list(ctx context.Context) error {
	sessions, err := cli.store.LoadSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		_, _ = fmt.Fprintln(cli.out, "no sessions")
		return nil
	}
	current, _ := cli.store.CurrentSession(ctx)

	all := make([]guest.Session, 0, len(sessions))
	for _, sess := range sessions {
		all = append(all, sess)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.Before(all[j].StartedAt) })
	for _, sess := range all {
		mark := " "
		if sess.ID == current.ID {
			mark = "*"
		}
		_, _ = fmt.Fprintf(cli.out, "%s %s  %-12s %s\n", mark, sess.ID, sess.AssignmentCode, sess.StartedAt.Format(time.RFC3339))
	}
	return nil
}

func (cli *commandLine) clear(ctx context.Context, all bool) error {
	if all {
		if err := cli.store.ClearAllSessions(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cli.out, "all sessions cleared")
		return nil
	}
	sess, err := cli.current(ctx)
	if err != nil {
		return err
	}
	if err = cli.store.ClearSession(ctx, sess.ID); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "session %s cleared\n", sess.ID)
	return nil
}

// printError writes err for a human, one line per invalid field.
func (cli *commandLine) printError(w io.Writer, err error) {
	switch verr := errors.Cause(err).(type) {
	case validator.ValidationErrors:
		msgs := core.TranslateErrors(verr, cli.translator)
		fields := make([]string, 0, len(msgs))
		for field := range msgs {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			_, _ = fmt.Fprintf(w, "%s: %s\n", field, msgs[field])
		}
	case *core.ValidationError:
		if len(verr.Fields) == 0 {
			_, _ = fmt.Fprintf(w, "error: %v\n", err)
			return
		}
		for _, f := range verr.Fields {
			_, _ = fmt.Fprintf(w, "%s: %s\n", f.Field, f.Error)
		}
	default:
		_, _ = fmt.Fprintf(w, "error: %v\n", err)
	}
}

// exitCode is 0 on success, 2 for usage errors & 1 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case err == errHelp:
		return 2
	default:
		return 1
	}
}
