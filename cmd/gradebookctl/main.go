package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/docopt/docopt-go"

	"gradebook/internal/auth"
	"gradebook/internal/config"
	"gradebook/internal/gradebook"
	"gradebook/internal/importer"
	"gradebook/internal/model"
	"gradebook/internal/remote"
	"gradebook/internal/subscription"
)

const GradebookCtlVersion = "0.1.0"

func main() {
	usage := `Gradebook control.

The server url and token default to GRADEBOOK_URL and GRADEBOOK_TOKEN.

Usage:
    gradebookctl token --subject=<subject> [--role=<role>] [--ttl=<ttl>]
    gradebookctl add-student [--url=<url>] [--token=<token>]
        --name=<name> --email=<email>
    gradebookctl add-assignment [--url=<url>] [--token=<token>]
        --title=<title> --points=<points> [--due=<due>]
    gradebookctl add-grade [--url=<url>] [--token=<token>]
        --student=<student_id> --assignment=<assignment_id> --score=<score>
        [--feedback=<feedback>]
    gradebookctl grades [--url=<url>] [--token=<token>] --student=<student_id>
    gradebookctl watch-grades [--url=<url>] [--token=<token>] --student=<student_id>
    gradebookctl import-grades [--url=<url>] [--token=<token>] [--batch=<batch>] <file>

Options:
    -h --help                      Show this screen.
    --version                      Show version.
    --url=<url>                    Document server url.
    --token=<token>                Bearer token.
    --subject=<subject>            Token subject.
    --role=<role>                  Token role.
    --ttl=<ttl>                    Token lifetime, e.g. 24h. Omit for no expiry.
    --due=<due>                    Due date, RFC 3339.
    --batch=<batch>                Grades per atomic commit.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], GradebookCtlVersion)
	if err != nil {
		panic(err)
	}
	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}

	if token_, _ := opts.Bool("token"); token_ {
		issueToken(cfg, opts)
		return
	}

	repo, closeRepo := connect(cfg, opts)
	defer closeRepo()

	ctx := context.Background()
	if addStudent_, _ := opts.Bool("add-student"); addStudent_ {
		addStudent(ctx, repo, opts)
	} else if addAssignment_, _ := opts.Bool("add-assignment"); addAssignment_ {
		addAssignment(ctx, repo, opts)
	} else if addGrade_, _ := opts.Bool("add-grade"); addGrade_ {
		addGrade(ctx, repo, opts)
	} else if grades_, _ := opts.Bool("grades"); grades_ {
		grades(ctx, repo, opts)
	} else if watchGrades_, _ := opts.Bool("watch-grades"); watchGrades_ {
		watchGrades(ctx, repo, opts)
	} else if importGrades_, _ := opts.Bool("import-grades"); importGrades_ {
		importGrades(ctx, repo, opts)
	}
}

func connect(cfg config.Config, opts docopt.Opts) (*gradebook.Repository, func()) {
	url := cfg.RemoteURL
	if u, _ := opts.String("--url"); u != "" {
		url = u
	}
	token := cfg.Token
	if t, _ := opts.String("--token"); t != "" {
		token = t
	}

	backend, err := remote.New(url, remote.WithToken(token))
	if err != nil {
		fail(err)
	}
	subs := subscription.NewManager(backend)
	client := gradebook.NewClient(backend)
	return gradebook.New(client, subs), subs.Close
}

func issueToken(cfg config.Config, opts docopt.Opts) {
	if cfg.JWTSecret == "" {
		fail(fmt.Errorf("JWT_SECRET must be set to issue tokens"))
	}
	subject, _ := opts.String("--subject")
	role, _ := opts.String("--role")
	var ttl time.Duration
	if s, _ := opts.String("--ttl"); s != "" {
		var err error
		if ttl, err = time.ParseDuration(s); err != nil {
			fail(err)
		}
	}

	token, err := auth.Issue([]byte(cfg.JWTSecret), subject, role, ttl)
	if err != nil {
		fail(err)
	}
	fmt.Println(token)
}

func addStudent(ctx context.Context, repo *gradebook.Repository, opts docopt.Opts) {
	name, _ := opts.String("--name")
	email, _ := opts.String("--email")

	id, err := repo.AddStudent(ctx, model.Student{Name: name, Email: email, EnrollmentDate: time.Now()})
	if err != nil {
		fail(err)
	}
	fmt.Println(id)
}

func addAssignment(ctx context.Context, repo *gradebook.Repository, opts docopt.Opts) {
	title, _ := opts.String("--title")
	points := number(opts, "--points")
	a := model.Assignment{Title: title, TotalPoints: points}
	if due, _ := opts.String("--due"); due != "" {
		t, err := model.ParseTime(due)
		if err != nil {
			fail(err)
		}
		a.DueDate = t
	}

	id, err := repo.AddAssignment(ctx, a)
	if err != nil {
		fail(err)
	}
	fmt.Println(id)
}

func addGrade(ctx context.Context, repo *gradebook.Repository, opts docopt.Opts) {
	studentID, _ := opts.String("--student")
	assignmentID, _ := opts.String("--assignment")
	feedback, _ := opts.String("--feedback")
	g := model.Grade{
		StudentID:     studentID,
		AssignmentID:  assignmentID,
		Score:         number(opts, "--score"),
		SubmittedDate: time.Now(),
		Feedback:      feedback,
	}

	id, err := repo.AddGrade(ctx, g)
	if err != nil {
		fail(err)
	}
	fmt.Println(id)
}

func grades(ctx context.Context, repo *gradebook.Repository, opts docopt.Opts) {
	studentID, _ := opts.String("--student")
	gs, err := repo.ListGradesForStudent(ctx, studentID)
	if err != nil {
		fail(err)
	}
	printGrades(gs)
}

func watchGrades(ctx context.Context, repo *gradebook.Repository, opts docopt.Opts) {
	studentID, _ := opts.String("--student")
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	err := repo.WatchStudentGrades(ctx, studentID, func(gs []model.Grade, err error) error {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			return err
		}
		printGrades(gs)
		return nil
	})
	if err != nil {
		fail(err)
	}
}

func importGrades(ctx context.Context, repo *gradebook.Repository, opts docopt.Opts) {
	path, _ := opts.String("<file>")
	var importOpts []importer.Option
	if s, _ := opts.String("--batch"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			fail(fmt.Errorf("--batch must be an integer: %w", err))
		}
		importOpts = append(importOpts, importer.WithBatchSize(n))
	}
	s := importer.New(repo, importOpts...)

	progressCh := make(chan importer.Progress, 16)
	s.RegisterProgressListener(progressCh)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progressCh {
			fmt.Fprintf(os.Stderr, "%s: %d/%d processed, %d stored, %d rejected\n", p.FileName, p.Processed, p.TotalRecords, p.Stored, p.Rejected)
		}
	}()

	p, err := s.ImportFile(ctx, path)
	s.UnregisterProgressListener(progressCh)
	close(progressCh)
	<-done
	if err != nil {
		fail(err)
	}
	out, _ := json.Marshal(p)
	fmt.Println(string(out))
}

func printGrades(gs []model.Grade) {
	out, err := json.Marshal(map[string]any{
		"grades":  gs,
		"average": gradebook.Average(gs),
	})
	if err != nil {
		fail(err)
	}
	fmt.Println(string(out))
}

func number(opts docopt.Opts, key string) float64 {
	s, _ := opts.String(key)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		fail(fmt.Errorf("%s must be a number: %w", key, err))
	}
	return n
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
	os.Exit(1)
}
