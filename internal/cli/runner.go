// Package cli implements the kks command line interface.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ObjatieGroba/kks/internal/config"
	"github.com/ObjatieGroba/kks/internal/ejudge"
	"github.com/ObjatieGroba/kks/internal/store"
)

type Runner struct {
	configPath string
	out        io.Writer
	errOut     io.Writer

	cfg     config.Config
	store   *store.Store
	session *ejudge.Session
}

func NewRunner(out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{
		configPath: config.DefaultConfigPath(),
		out:        out,
		errOut:     errOut,
	}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	rest, err := r.parseGlobalArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if len(rest) == 0 {
		r.printUsage()
		return 2
	}
	defer r.close()
	switch rest[0] {
	case "auth":
		return r.runAuth(ctx, rest[1:])
	case "sub", "submissions":
		return r.runSubmissions(ctx, rest[1:])
	case "clars":
		return r.runClars(ctx, rest[1:])
	case "users":
		return r.runUsers(ctx, rest[1:])
	case "status":
		return r.runStatus(ctx, rest[1:])
	case "download":
		return r.runDownload(ctx, rest[1:])
	case "submit":
		return r.runSubmit(ctx, rest[1:])
	case "rejudge":
		return r.runRejudge(ctx, rest[1:])
	case "comment":
		return r.runComment(ctx, rest[1:])
	case "set":
		return r.runSet(ctx, rest[1:])
	case "statement":
		return r.runStatement(ctx, rest[1:])
	case "audit":
		return r.runAudit(ctx, rest[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return 2
	}
}

func (r *Runner) parseGlobalArgs(args []string) ([]string, error) {
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--config requires value")
			}
			r.configPath = args[i+1]
			i++
		case "--verbose":
			logrus.SetLevel(logrus.DebugLevel)
		default:
			rest = append(rest, args[i])
		}
	}
	return rest, nil
}

// openSession loads the configuration, opens the durable store and
// builds the judge session. Idempotent within one invocation.
func (r *Runner) openSession(ctx context.Context) (*ejudge.Session, error) {
	if r.session != nil {
		return r.session, nil
	}
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return nil, err
	}
	r.cfg = cfg
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil && logrus.GetLevel() < level {
		logrus.SetLevel(level)
	}
	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	r.store = st
	sess, err := ejudge.New(ctx, st, cfg.AuthData())
	if err != nil {
		return nil, err
	}
	sess.PasswordPrompt = func() (string, error) {
		return config.PromptPassword(fmt.Sprintf("Password for %s: ", cfg.Auth.Login))
	}
	r.session = sess
	return sess, nil
}

func (r *Runner) close() {
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "warning: close store: %v\n", err)
		}
	}
}

func (r *Runner) runAuth(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	login := fs.String("login", "", "account login")
	contest := fs.Int("contest", 0, "contest id")
	judge := fs.Bool("judge", false, "use the judge interface")
	baseURL := fs.String("base-url", "", "judge base URL")
	save := fs.Bool("save", false, "store credentials in the config file")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return r.handleErr(err)
	}
	if *login != "" {
		cfg.Auth.Login = *login
		cfg.Auth.Password = ""
	}
	if *contest != 0 {
		cfg.Auth.Contest = *contest
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "judge" {
			cfg.Auth.Judge = *judge
		}
	})
	if *baseURL != "" {
		cfg.Auth.BaseURL = *baseURL
	}
	r.cfg = cfg

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return r.handleErr(err)
	}
	r.store = st
	sess, err := ejudge.New(ctx, st, cfg.AuthData())
	if err != nil {
		return r.handleErr(err)
	}
	sess.PasswordPrompt = func() (string, error) {
		return config.PromptPassword(fmt.Sprintf("Password for %s: ", cfg.Auth.Login))
	}
	r.session = sess
	if err := sess.Auth(ctx); err != nil {
		return r.handleErr(err)
	}
	if *save {
		if err := config.Save(r.configPath, cfg); err != nil {
			return r.handleErr(err)
		}
	}
	_, _ = fmt.Fprintf(r.out, "authenticated as %s in contest %d\n", cfg.Auth.Login, cfg.Auth.Contest)
	return 0
}

func (r *Runner) runSubmissions(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("submissions", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	filter := fs.String("filter", "", "filter expression")
	first := fs.String("first", "", "first run id")
	last := fs.String("last", "", "last run id")
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	firstID, err := optionalID("--first", *first)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	lastID, err := optionalID("--last", *last)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	sess, err := r.openSession(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	subs, err := sess.Submissions(ctx, *filter, firstID, lastID)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.printJSON(subs)
	}
	for _, sub := range subs {
		score := "-"
		if sub.Score != nil {
			score = strconv.Itoa(*sub.Score)
		}
		_, _ = fmt.Fprintf(r.out, "%d\t%s\t%s\t%s\t%s\t%s\n",
			sub.ID, sub.User, sub.Problem, sub.Lang, sub.Status, score)
	}
	return 0
}

var clarModes = map[string]ejudge.ClarMode{
	"all":          ejudge.ClarAll,
	"unanswered":   ejudge.ClarUnanswered,
	"all-comments": ejudge.ClarAllWithComments,
	"to-all":       ejudge.ClarToAll,
}

func (r *Runner) runClars(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("clars", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	mode := fs.String("mode", "unanswered", "all|unanswered|all-comments|to-all")
	first := fs.String("first", "", "first clar id")
	last := fs.String("last", "", "last clar id")
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	clarMode, ok := clarModes[*mode]
	if !ok {
		_, _ = fmt.Fprintf(r.errOut, "error: invalid clar mode %q\n", *mode)
		return 2
	}
	firstID, err := optionalID("--first", *first)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	lastID, err := optionalID("--last", *last)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	sess, err := r.openSession(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	clars, err := sess.Clars(ctx, clarMode, firstID, lastID)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.printJSON(clars)
	}
	for _, clar := range clars {
		_, _ = fmt.Fprintf(r.out, "%d\t%s\t%s\t%s\t%s\t%s\n",
			clar.ID, clar.Time.Format("2006-01-02 15:04:05"), clar.From, clar.To, clar.Subject, clar.Details)
	}
	return 0
}

func (r *Runner) runUsers(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("users", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	notOK := fs.Bool("not-ok", false, "include not-OK registrations")
	invisible := fs.Bool("invisible", false, "include invisible users")
	banned := fs.Bool("banned", false, "include banned users")
	pending := fs.Bool("pending", false, "only pending registrations")
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	sess, err := r.openSession(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	users, err := sess.Users(ctx, ejudge.UserListOptions{
		ShowNotOK:     *notOK,
		ShowInvisible: *invisible,
		ShowBanned:    *banned,
		OnlyPending:   *pending,
	})
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.printJSON(users)
	}
	for _, u := range users {
		_, _ = fmt.Fprintf(r.out, "%d\t%s\t%s\truns=%d\tclars=%d\n",
			u.ID, u.Login, u.Name, u.RunCount, u.ClarCount)
	}
	return 0
}

func (r *Runner) runStatus(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(r.errOut, "usage: kks status <run-id>")
		return 2
	}
	runID, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: invalid run id %q\n", fs.Arg(0))
		return 2
	}
	sess, err := r.openSession(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	api := sess.API()
	var rs ejudge.RunStatus
	err = sess.WithAuth(ctx, func() error {
		var err error
		rs, err = api.RunStatus(ctx, runID)
		return err
	})
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.printJSON(rs)
	}
	_, _ = fmt.Fprintf(r.out, "run %d: %s\n", runID, rs)
	for _, test := range rs.Tests {
		_, _ = fmt.Fprintf(r.out, "  test %d: %s\n", test.Num, ejudge.StatusDescription(test.Status))
	}
	if rs.Status == ejudge.StatusCE {
		_, _ = fmt.Fprintln(r.out, rs.CompilerOutput)
	}
	return 0
}

func (r *Runner) runDownload(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	output := fs.String("o", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(r.errOut, "usage: kks download <run-id> [-o <file>]")
		return 2
	}
	runID, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: invalid run id %q\n", fs.Arg(0))
		return 2
	}
	sess, err := r.openSession(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	api := sess.API()
	var source []byte
	err = sess.WithAuth(ctx, func() error {
		var err error
		source, err = api.DownloadRun(ctx, runID)
		return err
	})
	if err != nil {
		return r.handleErr(err)
	}
	if *output == "" {
		_, _ = r.out.Write(source)
		return 0
	}
	if err := os.WriteFile(*output, source, 0o644); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "run %d saved to %s\n", runID, *output)
	return 0
}

func (r *Runner) runSubmit(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	probID := fs.Int("problem", 0, "problem id")
	lang := fs.String("lang", "", "language id")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if fs.NArg() != 1 || *probID == 0 {
		_, _ = fmt.Fprintln(r.errOut, "usage: kks submit --problem <id> [--lang <id>] <file>")
		return 2
	}
	langID, err := optionalID("--lang", *lang)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	path := fs.Arg(0)
	source, err := os.ReadFile(path)
	if err != nil {
		return r.handleErr(err)
	}
	sess, err := r.openSession(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	api := sess.API()
	var result json.RawMessage
	err = sess.WithAuth(ctx, func() error {
		var err error
		result, err = api.SubmitRun(ctx, *probID, langID, path, source)
		return err
	})
	if err != nil {
		return r.handleErr(err)
	}
	var reply struct {
		RunID *int `json:"run_id"`
	}
	if err := json.Unmarshal(result, &reply); err == nil && reply.RunID != nil {
		_, _ = fmt.Fprintf(r.out, "submitted run %d\n", *reply.RunID)
		return 0
	}
	_, _ = fmt.Fprintln(r.out, "submitted")
	return 0
}

func (r *Runner) runRejudge(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("rejudge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	problem := fs.Int("problem", 0, "rejudge a whole problem")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if *problem != 0 {
		if fs.NArg() > 0 {
			_, _ = fmt.Fprintln(r.errOut, "usage: kks rejudge (--problem <id> | <run-id>...)")
			return 2
		}
		sess, err := r.openSession(ctx)
		if err != nil {
			return r.handleErr(err)
		}
		if err := sess.RejudgeProblem(ctx, *problem); err != nil {
			return r.handleErr(err)
		}
		_, _ = fmt.Fprintf(r.out, "rejudging problem %d\n", *problem)
		return 0
	}
	if fs.NArg() == 0 {
		_, _ = fmt.Fprintln(r.errOut, "usage: kks rejudge (--problem <id> | <run-id>...)")
		return 2
	}
	ids := make([]int, 0, fs.NArg())
	for _, arg := range fs.Args() {
		id, err := strconv.Atoi(arg)
		if err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: invalid run id %q\n", arg)
			return 2
		}
		ids = append(ids, id)
	}
	sess, err := r.openSession(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	if err := sess.RejudgeRuns(ctx, ids); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "rejudging %d runs\n", len(ids))
	return 0
}

func (r *Runner) runComment(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("comment", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	text := fs.String("text", "", "comment text")
	status := fs.String("status", "", "verdict applied with the comment: ok|ignored|rejected|summoned")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if fs.NArg() != 1 || *text == "" {
		_, _ = fmt.Fprintln(r.errOut, "usage: kks comment <run-id> --text <text> [--status ok|ignored|rejected|summoned]")
		return 2
	}
	runID, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: invalid run id %q\n", fs.Arg(0))
		return 2
	}
	var statusCode *int
	if *status != "" {
		code, err := ejudge.ParseStatus(*status)
		if err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 2
		}
		statusCode = &code
	}
	sess, err := r.openSession(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	if err := sess.SendRunComment(ctx, runID, *text, statusCode); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "commented on run %d\n", runID)
	return 0
}

func (r *Runner) runSet(ctx context.Context, args []string) int {
	if len(args) != 3 {
		_, _ = fmt.Fprintln(r.errOut, "usage: kks set <status|lang|problem|score|score-adj> <run-id> <value>")
		return 2
	}
	field := args[0]
	runID, err := strconv.Atoi(args[1])
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: invalid run id %q\n", args[1])
		return 2
	}
	sess, err := r.openSession(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	switch field {
	case "status":
		code, err := ejudge.ParseStatus(args[2])
		if err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
			return 2
		}
		err = sess.SetRunStatus(ctx, runID, code)
		if err != nil {
			return r.handleErr(err)
		}
	case "lang", "problem", "score", "score-adj":
		value, err := strconv.Atoi(args[2])
		if err != nil {
			_, _ = fmt.Fprintf(r.errOut, "error: invalid %s value %q\n", field, args[2])
			return 2
		}
		switch field {
		case "lang":
			err = sess.SetRunLanguage(ctx, runID, value)
		case "problem":
			err = sess.SetRunProblem(ctx, runID, value)
		case "score":
			err = sess.SetRunScore(ctx, runID, value)
		case "score-adj":
			err = sess.SetRunScoreAdj(ctx, runID, value)
		}
		if err != nil {
			return r.handleErr(err)
		}
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown run field: %s\n", field)
		return 2
	}
	_, _ = fmt.Fprintf(r.out, "run %d: %s set\n", runID, field)
	return 0
}

func (r *Runner) runStatement(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("statement", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	probID := fs.Int("problem", 0, "problem id")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if *probID == 0 {
		_, _ = fmt.Fprintln(r.errOut, "usage: kks statement --problem <id>")
		return 2
	}
	sess, err := r.openSession(ctx)
	if err != nil {
		return r.handleErr(err)
	}
	api := sess.API()
	var statement []byte
	err = sess.WithAuth(ctx, func() error {
		var err error
		statement, err = api.ProblemStatement(ctx, *probID)
		return err
	})
	if err != nil {
		return r.handleErr(err)
	}
	_, _ = r.out.Write(statement)
	return 0
}

func (r *Runner) runAudit(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 50, "max records")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return r.handleErr(err)
	}
	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return r.handleErr(err)
	}
	r.store = st
	records, err := st.ListAudit(ctx, *limit)
	if err != nil {
		return r.handleErr(err)
	}
	for _, rec := range records {
		run := "-"
		if rec.RunID != nil {
			run = strconv.Itoa(*rec.RunID)
		}
		_, _ = fmt.Fprintf(r.out, "%s\t%s\trun=%s\t%s\n",
			rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Action, run, rec.Detail)
	}
	return 0
}

func optionalID(name, raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", name)
	}
	return &id, nil
}

func (r *Runner) printJSON(v any) int {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return r.handleErr(err)
	}
	_, _ = r.out.Write(raw)
	_, _ = fmt.Fprintln(r.out)
	return 0
}

func (r *Runner) handleErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, "usage: kks [--config <path>] [--verbose] <auth|sub|clars|users|status|download|submit|rejudge|comment|set|statement|audit> ...")
}
