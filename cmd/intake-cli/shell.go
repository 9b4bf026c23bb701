package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/angelmondragon/intake-backend/internal/intake"
	"github.com/angelmondragon/intake-backend/internal/locale"
	"github.com/angelmondragon/intake-backend/internal/wizard"
	"github.com/angelmondragon/intake-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
)

const helpText = `commands:
  show                                 print the active step and form
  set <field> <value>                  set a text or number field (see "fields")
  fields                               list settable fields
  transfer <option>                    choose a transfer option
  party <n>                            set the party size
  participant <i> <name> <birthdate>   fill participant i (1-based)
  activity <value>                     toggle an activity
  dietary <value>                      toggle a dietary need
  attach <i> <path>                    upload an identity document for participant i
  detach <i>                           remove the document of participant i
  next | back                          move between steps
  resume <code>                        load a saved intake
  submit                               send the completed intake
  quit`

type shell struct {
	ctrl    *wizard.Controller
	catalog *locale.Catalog
	in      io.Reader
	out     io.Writer
	open    func(string) (io.ReadCloser, int64, error)
}

func newShell(ctrl *wizard.Controller, catalog *locale.Catalog, in io.Reader, out io.Writer) *shell {
	return &shell{ctrl: ctrl, catalog: catalog, in: in, out: out, open: openFile}
}

func openFile(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (s *shell) run(ctx context.Context) error {
	s.printf("%s\n", helpText)
	s.show()
	scanner := bufio.NewScanner(s.in)
	for {
		s.printf("[%d/%d] > ", s.ctrl.Step(), s.ctrl.StepCount())
		if !scanner.Scan() {
			return scanner.Err()
		}
		if quit := s.exec(ctx, scanner.Text()); quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// exec runs one command line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	var err error
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		s.printf("%s\n", helpText)
	case "show":
		s.show()
	case "fields":
		s.printf("%s\n", strings.Join(fieldNames(), "\n"))
	case "set":
		if len(args) < 1 {
			err = usage("set <field> <value>")
			break
		}
		err = s.ctrl.Edit(func(p *intake.Payload) error {
			return setField(p, args[0], strings.Join(args[1:], " "))
		})
	case "transfer":
		if len(args) != 1 {
			err = usage("transfer <option>")
			break
		}
		err = s.ctrl.SetTransferOption(enums.TransferOption(args[0]))
	case "party":
		var n int
		if n, err = intArg(args, 0, "party <n>"); err == nil {
			err = s.ctrl.SetPartySize(n)
		}
	case "participant":
		err = s.participant(args)
	case "activity":
		if len(args) != 1 {
			err = usage("activity <value>")
			break
		}
		var selected bool
		if selected, err = s.ctrl.ToggleActivity(args[0]); err == nil {
			s.printf("%s: %v\n", s.catalog.EnumLabel(locale.EnumActivity, args[0]), selected)
		}
	case "dietary":
		if len(args) != 1 {
			err = usage("dietary <value>")
			break
		}
		err = s.ctrl.Edit(func(p *intake.Payload) error {
			p.ToggleDietary(args[0])
			return nil
		})
	case "attach":
		err = s.attach(ctx, args)
	case "detach":
		var i int
		if i, err = intArg(args, 0, "detach <i>"); err == nil {
			err = s.ctrl.Detach(i - 1)
		}
	case "next":
		if err = s.ctrl.Advance(ctx); err == nil {
			s.afterAdvance()
		}
	case "back":
		if err = s.ctrl.Retreat(); err == nil {
			s.show()
		}
	case "resume":
		if len(args) != 1 {
			err = usage("resume <code>")
			break
		}
		if err = s.ctrl.Resume(ctx, args[0]); err == nil {
			s.show()
		}
	case "submit":
		if err = s.ctrl.Submit(ctx); err == nil {
			s.printf("%s\n", s.catalog.Text("message.submitted"))
			return true
		}
	default:
		err = usage("help")
	}

	if err != nil {
		s.report(err)
	}
	return false
}

func (s *shell) participant(args []string) error {
	if len(args) < 3 {
		return usage("participant <i> <name> <birthdate>")
	}
	i, err := intArg(args, 0, "participant <i> <name> <birthdate>")
	if err != nil {
		return err
	}
	name := strings.Join(args[1:len(args)-1], " ")
	return s.ctrl.SetParticipant(i-1, name, args[len(args)-1])
}

func (s *shell) attach(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usage("attach <i> <path>")
	}
	i, err := intArg(args, 0, "attach <i> <path>")
	if err != nil {
		return err
	}
	path := strings.Join(args[1:], " ")
	body, size, err := s.open(path)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "open file")
	}
	defer func() { _ = body.Close() }()

	s.printf("%s\n", s.catalog.Text("message.uploading"))
	return s.ctrl.Attach(ctx, i-1, wizard.File{Name: filepath.Base(path), Size: size, Body: body})
}

func (s *shell) afterAdvance() {
	if s.ctrl.PendingSync() {
		s.printf("%s\n", s.catalog.Text("error.persistence"))
	}
	if code := s.ctrl.Code(); code != "" {
		s.printf(s.catalog.Text("message.resume_code")+"\n", code)
	}
	s.show()
}

func (s *shell) show() {
	s.printf("\n== %s (%d/%d) ==\n", s.ctrl.StepTitle(), s.ctrl.Step(), s.ctrl.StepCount())
	if code := s.ctrl.Code(); code != "" {
		s.printf("code: %s\n", code)
	}
	if s.ctrl.StepID() == intake.StepTransfers {
		for _, choice := range s.ctrl.TransferChoices() {
			s.printf("  %-16s %s\n", choice.Value, choice.Label)
		}
	}
	raw, err := json.MarshalIndent(s.ctrl.Payload(), "", "  ")
	if err == nil {
		s.printf("%s\n", raw)
	}
	msgs := s.ctrl.ValidationMessages()
	keys := make([]string, 0, len(msgs))
	for k := range msgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.printf("  ! %s: %s\n", k, msgs[k])
	}
}

// report prints a localized message for err plus the offending fields.
func (s *shell) report(err error) {
	key := ""
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeNotFound:
		key = "error.not_found"
	case pkgerrors.CodePersistence:
		key = "error.persistence"
	case pkgerrors.CodeAttachment, pkgerrors.CodePayloadTooBig:
		key = "error.attachment"
	case pkgerrors.CodeFinalization:
		key = "error.finalization"
	case pkgerrors.CodeInFlight:
		key = "error.in_flight"
	}
	if key != "" {
		s.printf("error: %s\n", s.catalog.Text(key))
	} else {
		s.printf("error: %v\n", err)
	}
	if typed := pkgerrors.As(err); typed != nil && pkgerrors.CodeOf(err) == pkgerrors.CodeValidation {
		for _, k := range detailFields(typed.Details()) {
			s.printf("  ! %s\n", k)
		}
	}
}

func detailFields(details any) []string {
	m, ok := details.(map[string]any)
	if !ok {
		return nil
	}
	var out []string
	for _, group := range []string{"missing", "invalid"} {
		if fields, ok := m[group].([]string); ok {
			out = append(out, fields...)
		}
	}
	return out
}

func (s *shell) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

func usage(form string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "usage: "+form)
}

func intArg(args []string, i int, form string) (int, error) {
	if len(args) <= i {
		return 0, usage(form)
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, usage(form)
	}
	return n, nil
}
