// Package querypilot implements the command line front end for the
// question answering pipeline.
package querypilot

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/querypilot/querypilot/internal/answer"
	"github.com/querypilot/querypilot/internal/archive/postgres"
	"github.com/querypilot/querypilot/internal/chat"
	"github.com/querypilot/querypilot/internal/eval"
	"github.com/querypilot/querypilot/internal/export"
	"github.com/querypilot/querypilot/internal/storage"
	"github.com/querypilot/querypilot/internal/store"
	"github.com/querypilot/querypilot/internal/usage"
)

// Answerer is the answering entry point the commands run against.
type Answerer interface {
	AnswerQuestion(ctx context.Context, question string) (answer.Answer, error)
}

// Archiver persists terminal answers and their transcripts.
type Archiver interface {
	SaveAnswer(ctx context.Context, record postgres.AnswerRecord) error
	SaveTranscript(ctx context.Context, answerID string, entries []chat.HistoryEntry) error
}

type Options struct {
	Service Answerer
	Stats   *usage.Tracker
	Reports storage.ObjectStore
	Archive Archiver
	History func() []chat.HistoryEntry
	Logger  *slog.Logger
	Stdout  io.Writer
	Stderr  io.Writer
	Now     func() time.Time
}

func Run(ctx context.Context, args []string, opts Options) int {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	fs := flag.NewFlagSet("querypilot", flag.ContinueOnError)
	fs.SetOutput(stderr)

	reportPath := fs.String("report", "", "write the usage report JSON to this path")
	exportPath := fs.String("export", "", "write the result set to this parquet file (ask only)")
	uploadReport := fs.Bool("upload-report", false, "upload the usage report to the configured object store")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}
	if opts.Service == nil {
		_, _ = fmt.Fprintln(stderr, "answering service is not configured")
		return 1
	}

	command := strings.TrimSpace(fs.Arg(0))
	var code int
	switch command {
	case "ask":
		question := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
		if question == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			writeUsage(stderr)
			return 2
		}
		code = runAsk(ctx, opts, question, *exportPath, stdout, stderr)
	case "eval":
		code = runEval(ctx, opts, stdout)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	if opts.Stats != nil {
		opts.Stats.LogSummary()
		if err := finishReport(ctx, opts, *reportPath, *uploadReport); err != nil {
			_, _ = fmt.Fprintf(stderr, "report failed: %v\n", err)
			if code == 0 {
				code = 1
			}
		}
	}
	return code
}

func runAsk(ctx context.Context, opts Options, question, exportPath string, stdout, stderr io.Writer) int {
	result, err := opts.Service.AnswerQuestion(ctx, question)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "answer failed: %v\n", err)
		return 1
	}

	if result.Refused {
		_, _ = fmt.Fprintln(stdout, result.Message)
	} else {
		renderTable(stdout, result.Result)
	}

	if exportPath != "" && !result.Refused {
		if err := export.WriteResult(exportPath, result.Result); err != nil {
			_, _ = fmt.Fprintf(stderr, "export failed: %v\n", err)
			return 1
		}
		opts.Logger.Info("result exported", slog.String("path", exportPath))
	}

	archiveAnswer(ctx, opts, result)
	return 0
}

func runEval(ctx context.Context, opts Options, stdout io.Writer) int {
	outcomes := eval.Run(ctx, opts.Service, eval.DefaultSuite(), opts.Logger)
	for _, outcome := range outcomes {
		if outcome.Passed() {
			_, _ = fmt.Fprintf(stdout, "[pass] %s\n", outcome.Question)
		} else {
			_, _ = fmt.Fprintf(stdout, "[fail] %s: %v\n", outcome.Question, outcome.Err)
		}
	}
	passed := eval.Passed(outcomes)
	_, _ = fmt.Fprintf(stdout, "%d/%d cases passed\n", passed, len(outcomes))
	if passed != len(outcomes) {
		return 1
	}
	return 0
}

// archiveAnswer is best effort: a missing or failing archive never fails
// the command that produced the answer.
func archiveAnswer(ctx context.Context, opts Options, result answer.Answer) {
	if opts.Archive == nil {
		return
	}
	record := postgres.AnswerRecord{
		AnswerID: result.ID,
		Question: result.Question,
		SQL:      result.SQL,
		Refused:  result.Refused,
		Repairs:  result.Repairs,
		RowCount: len(result.Result.Rows),
		AskedAt:  opts.Now(),
	}
	if err := opts.Archive.SaveAnswer(ctx, record); err != nil {
		opts.Logger.Warn("archive answer failed", slog.String("id", result.ID), slog.String("error", err.Error()))
		return
	}
	if opts.History != nil {
		if err := opts.Archive.SaveTranscript(ctx, result.ID, opts.History()); err != nil {
			opts.Logger.Warn("archive transcript failed", slog.String("id", result.ID), slog.String("error", err.Error()))
		}
	}
}

func finishReport(ctx context.Context, opts Options, reportPath string, upload bool) error {
	if reportPath != "" {
		if err := opts.Stats.SaveReport(reportPath); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		opts.Logger.Info("usage report written", slog.String("path", reportPath))
	}
	if upload {
		if opts.Reports == nil {
			return fmt.Errorf("report store is not configured")
		}
		var buf bytes.Buffer
		if err := opts.Stats.WriteReport(&buf); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		key := fmt.Sprintf("reports/%s.json", opts.Now().UTC().Format("20060102T150405Z"))
		info, err := opts.Reports.Put(ctx, key, &buf, int64(buf.Len()), storage.PutOptions{ContentType: "application/json"})
		if err != nil {
			return fmt.Errorf("upload report: %w", err)
		}
		opts.Logger.Info("usage report uploaded", slog.String("key", info.Key), slog.Int64("size", info.Size))
	}
	return nil
}

func renderTable(w io.Writer, result store.Result) {
	if len(result.Columns) == 0 {
		_, _ = fmt.Fprintln(w, "(no columns)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(result.Columns, "\t"))
	for _, row := range result.Rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			if cell == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprint(cell)
			}
		}
		_, _ = fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(result.Rows))
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querypilot [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  ask <question>   answer a natural language question against the dataset")
	_, _ = fmt.Fprintln(w, "  eval             run the built-in evaluation suite")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "flags:")
	_, _ = fmt.Fprintln(w, "  -report <path>   write the usage report JSON to a file")
	_, _ = fmt.Fprintln(w, "  -export <path>   write the ask result to a parquet file")
	_, _ = fmt.Fprintln(w, "  -upload-report   upload the usage report to the object store")
}
