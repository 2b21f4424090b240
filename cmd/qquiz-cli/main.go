// Command qquiz-cli uploads documents to a qquiz server and follows their
// parsing progress.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/qquiz/qquiz/internal/client"
	"github.com/qquiz/qquiz/internal/config"
	"github.com/qquiz/qquiz/internal/inbox"
	"github.com/qquiz/qquiz/internal/logging"
	"github.com/qquiz/qquiz/internal/models"
	"github.com/qquiz/qquiz/internal/watch"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

const usage = `Usage: qquiz-cli [global flags] <command> [args]

Commands:
  login <username>            log in and print a token
  exams                       list your exams
  show <exam-id>              show an exam and its questions
  create <file> --title T     create an exam from a document
  append <exam-id> <file>     add a document to an exam
  watch <exam-id>             follow the parsing progress of an exam
  answer <question-id> <ans>  check an answer
  mistakes [--exam ID]        list your mistake book
  inbox                       import documents dropped into a folder

Global flags:
`

type command func(ctx context.Context, c *client.Client, cfg *config.Config, args []string) error

var commands = map[string]command{
	"login":    runLogin,
	"exams":    runExams,
	"show":     runShow,
	"create":   runCreate,
	"append":   runAppend,
	"watch":    runWatch,
	"inbox":    runInbox,
	"answer":   runAnswer,
	"mistakes": runMistakes,
}

func main() {
	global := pflag.NewFlagSet("qquiz-cli", pflag.ExitOnError)
	global.SetInterspersed(false)
	global.String("client.base_url", "", "server URL")
	global.String("client.token", "", "bearer token (or QQUIZ_CLIENT_TOKEN)")
	global.String("log.level", "", "log level")
	requireServer := global.String("require-server", "", "fail unless the server version satisfies this constraint")
	global.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		global.PrintDefaults()
	}
	global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		global.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadWithFlags(global)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.NewFromConfig(cfg.Client)
	if *requireServer != "" {
		if err := c.CheckCompatible(ctx, *requireServer); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if err := cmd(ctx, c, cfg, args[1:]); err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			fmt.Fprintln(os.Stderr, "Error: not logged in or token expired; run `qquiz-cli login` first")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func parseExamID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid exam id %q", s)
	}
	return id, nil
}

func runLogin(ctx context.Context, c *client.Client, cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ExitOnError)
	password := fs.String("password", os.Getenv("QQUIZ_PASSWORD"), "password (or QQUIZ_PASSWORD)")
	fs.Parse(args)
	if fs.NArg() != 1 || *password == "" {
		return errors.New("usage: login <username> --password P")
	}

	token, err := c.Login(ctx, fs.Arg(0), *password)
	if err != nil {
		return err
	}
	fmt.Println(token.AccessToken)
	fmt.Fprintln(os.Stderr, "Export it as QQUIZ_CLIENT_TOKEN to use it with other commands.")
	return nil
}

func runExams(ctx context.Context, c *client.Client, cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("exams", pflag.ExitOnError)
	skip := fs.Int("skip", 0, "exams to skip")
	limit := fs.Int("limit", 20, "exams to show")
	fs.Parse(args)

	list, err := c.ListExams(ctx, *skip, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tQUESTIONS\tPOSITION")
	for _, e := range list.Exams {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\n", e.ID, e.Title, e.Status, e.TotalQuestions, e.CurrentIndex)
	}
	tw.Flush()
	fmt.Printf("%d of %d exams\n", len(list.Exams), list.Total)
	return nil
}

func runShow(ctx context.Context, c *client.Client, cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("show", pflag.ExitOnError)
	limit := fs.Int("limit", 10, "questions to show")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: show <exam-id>")
	}
	examID, err := parseExamID(fs.Arg(0))
	if err != nil {
		return err
	}

	exam, err := c.GetExam(ctx, examID)
	if err != nil {
		return err
	}
	fmt.Printf("%s (#%d) %s, %d questions\n", exam.Title, exam.ID, exam.Status, exam.TotalQuestions)
	if exam.Status != models.ExamReady || *limit <= 0 {
		return nil
	}

	questions, err := c.ListQuestions(ctx, examID, 0, *limit)
	if err != nil {
		return err
	}
	for i, q := range questions.Questions {
		fmt.Printf("\n%d. [%s] %s\n", i+1, q.Type, q.Content)
		for _, opt := range q.Options {
			fmt.Printf("   %s\n", opt)
		}
		fmt.Printf("   Answer: %s\n", q.Answer)
	}
	return nil
}

func runCreate(ctx context.Context, c *client.Client, cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("create", pflag.ExitOnError)
	title := fs.String("title", "", "exam title")
	followFlag := fs.Bool("follow", true, "follow parsing progress")
	fs.Parse(args)
	if fs.NArg() != 1 || *title == "" {
		return errors.New("usage: create <file> --title T")
	}

	path := fs.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	resp, err := c.CreateExam(ctx, *title, filepath.Base(path), f)
	if err != nil {
		return err
	}
	fmt.Printf("Exam #%d created: %s\n", resp.ExamID, resp.Message)
	if !*followFlag {
		return nil
	}
	return follow(ctx, c, resp.ExamID)
}

func runAppend(ctx context.Context, c *client.Client, cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("append", pflag.ExitOnError)
	followFlag := fs.Bool("follow", true, "follow parsing progress")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return errors.New("usage: append <exam-id> <file>")
	}
	examID, err := parseExamID(fs.Arg(0))
	if err != nil {
		return err
	}

	path := fs.Arg(1)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	resp, err := c.AppendDocument(ctx, examID, filepath.Base(path), f)
	if err != nil {
		return err
	}
	fmt.Println(resp.Message)
	if !*followFlag {
		return nil
	}
	return follow(ctx, c, examID)
}

func runWatch(ctx context.Context, c *client.Client, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: watch <exam-id>")
	}
	examID, err := parseExamID(args[0])
	if err != nil {
		return err
	}

	consumer := watch.NewConsumer(c, c, printer())
	exam, h, err := consumer.Watch(ctx, examID, "")
	if err != nil {
		return err
	}
	if h == nil {
		fmt.Printf("%s (#%d) is %s, nothing to follow\n", exam.Title, exam.ID, exam.Status)
		return nil
	}
	return waitHandle(ctx, h)
}

func runInbox(ctx context.Context, c *client.Client, cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("inbox", pflag.ExitOnError)
	dir := fs.String("dir", cfg.Inbox.Path, "folder to watch")
	examID := fs.Int64("exam", cfg.Inbox.ExamID, "exam that receives the documents")
	fs.Parse(args)
	if *dir == "" || *examID <= 0 {
		return errors.New("usage: inbox --dir D --exam ID (or inbox.path and inbox.exam_id in config.yml)")
	}

	consumer := watch.NewConsumer(c, c, printer())
	defer consumer.CloseAll()
	w := inbox.New(*dir, *examID, c, consumer, inbox.Options{
		OnResult: func(r inbox.Result) {
			if r.Err != nil {
				fmt.Printf("%s: %v\n", filepath.Base(r.Path), r.Err)
				return
			}
			fmt.Printf("%s: %s\n", filepath.Base(r.Path), r.Outcome)
		},
	})
	fmt.Printf("Watching %s for documents, press Ctrl+C to stop\n", *dir)
	return w.Run(ctx)
}

func runAnswer(ctx context.Context, c *client.Client, cfg *config.Config, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: answer <question-id> <answer>")
	}
	questionID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || questionID <= 0 {
		return fmt.Errorf("invalid question id %q", args[0])
	}

	check, err := c.CheckAnswer(ctx, questionID, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	if check.Correct {
		fmt.Println("Correct!")
	} else {
		fmt.Printf("Wrong. The answer is %s\n", check.CorrectAnswer)
	}
	if check.AIScore != nil {
		fmt.Printf("Score: %.2f\n", *check.AIScore)
	}
	if check.AIFeedback != nil && *check.AIFeedback != "" {
		fmt.Println(*check.AIFeedback)
	}
	if check.Analysis != "" {
		fmt.Printf("Analysis: %s\n", check.Analysis)
	}
	return nil
}

func runMistakes(ctx context.Context, c *client.Client, cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("mistakes", pflag.ExitOnError)
	examID := fs.Int64("exam", 0, "only mistakes of this exam")
	limit := fs.Int("limit", 50, "mistakes to show")
	remove := fs.Int64("remove", 0, "take this question out of the mistake book")
	fs.Parse(args)

	if *remove > 0 {
		if err := c.RemoveMistake(ctx, *remove); err != nil {
			return err
		}
		fmt.Printf("Question %d removed from the mistake book\n", *remove)
		return nil
	}

	list, err := c.ListMistakes(ctx, *examID, 0, *limit)
	if err != nil {
		return err
	}
	fmt.Printf("%d mistakes\n", list.Total)
	for _, m := range list.Mistakes {
		if m.Question == nil {
			continue
		}
		fmt.Printf("\n#%d [%s] %s\n   Answer: %s\n", m.QuestionID, m.Question.Type, m.Question.Content, m.Question.Answer)
	}
	return nil
}

func follow(ctx context.Context, c *client.Client, examID int64) error {
	consumer := watch.NewConsumer(c, c, printer())
	h, err := consumer.Open(ctx, examID, "")
	if err != nil {
		return err
	}
	return waitHandle(ctx, h)
}

func waitHandle(ctx context.Context, h *watch.Handle) error {
	defer h.Close()
	outcome, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	switch outcome {
	case watch.StateCompleted:
		if exam := h.Snapshot().Exam; exam != nil {
			fmt.Printf("%s now has %d questions\n", exam.Title, exam.TotalQuestions)
		}
		return nil
	case watch.StateFailed:
		return errors.New("parsing failed")
	case watch.StateErrored:
		return errors.New("connection to the progress stream was lost")
	}
	return nil
}

func printer() watch.Observer {
	return watch.ObserverFuncs{
		Progress: func(examID int64, ev models.ProgressEvent) {
			fmt.Printf("[%5.1f%%] %s\n", ev.Progress, ev.Message)
		},
		Error: func(examID int64, err error) {
			log.Warn().Err(err).Int64("exam_id", examID).Msg("Progress stream error")
		},
	}
}
