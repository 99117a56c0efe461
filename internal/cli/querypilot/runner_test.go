package querypilot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/querypilot/querypilot/internal/answer"
	"github.com/querypilot/querypilot/internal/archive/postgres"
	"github.com/querypilot/querypilot/internal/chat"
	"github.com/querypilot/querypilot/internal/storage"
	"github.com/querypilot/querypilot/internal/store"
	"github.com/querypilot/querypilot/internal/usage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedService struct {
	answers  map[string]answer.Answer
	err      error
	received []string
}

func (s *scriptedService) AnswerQuestion(_ context.Context, question string) (answer.Answer, error) {
	s.received = append(s.received, question)
	if s.err != nil {
		return answer.Answer{}, s.err
	}
	return s.answers[question], nil
}

type fakeArchive struct {
	records     []postgres.AnswerRecord
	transcripts map[string][]chat.HistoryEntry
	saveErr     error
}

func (f *fakeArchive) SaveAnswer(_ context.Context, record postgres.AnswerRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeArchive) SaveTranscript(_ context.Context, answerID string, entries []chat.HistoryEntry) error {
	if f.transcripts == nil {
		f.transcripts = map[string][]chat.HistoryEntry{}
	}
	f.transcripts[answerID] = entries
	return nil
}

type fakeObjectStore struct {
	keys   []string
	bodies [][]byte
}

func (f *fakeObjectStore) Put(_ context.Context, key string, body io.Reader, size int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, data)
	return storage.ObjectInfo{Key: key, Size: size}, nil
}

func (f *fakeObjectStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, storage.ErrObjectNotFound
}

func TestRunAskRendersResultTable(t *testing.T) {
	svc := &scriptedService{answers: map[string]answer.Answer{
		"Which city has the most orders?": {
			ID:       "a-1",
			Question: "Which city has the most orders?",
			SQL:      "SELECT city FROM orders",
			Result: store.Result{
				Columns: []string{"city", "order_count"},
				Rows:    [][]any{{"sao paulo", int64(15540)}},
			},
		},
	}}

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"ask", "Which", "city", "has", "the", "most", "orders?"}, Options{
		Service: svc,
		Stdout:  &stdout,
		Stderr:  &stderr,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if len(svc.received) != 1 || svc.received[0] != "Which city has the most orders?" {
		t.Fatalf("received questions = %v", svc.received)
	}
	out := stdout.String()
	for _, want := range []string{"city", "order_count", "sao paulo", "15540", "(1 rows)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stdout missing %q:\n%s", want, out)
		}
	}
}

func TestRunAskPrintsRefusal(t *testing.T) {
	svc := &scriptedService{answers: map[string]answer.Answer{
		"Delete everything": {Refused: true, Message: answer.RefusalMessage},
	}}

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"ask", "Delete", "everything"}, Options{
		Service: svc,
		Stdout:  &stdout,
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), answer.RefusalMessage) {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunAskArchivesAnswerAndTranscript(t *testing.T) {
	svc := &scriptedService{answers: map[string]answer.Answer{
		"q": {
			ID:       "a-1",
			Question: "q",
			SQL:      "SELECT 1",
			Repairs:  2,
			Result:   store.Result{Columns: []string{"v"}, Rows: [][]any{{int64(1)}}},
		},
	}}
	arch := &fakeArchive{}
	asked := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	history := []chat.HistoryEntry{{Timestamp: asked, Conversation: []chat.Message{{Role: chat.RoleUser, Content: "q"}}}}

	code := Run(context.Background(), []string{"ask", "q"}, Options{
		Service: svc,
		Archive: arch,
		History: func() []chat.HistoryEntry { return history },
		Now:     func() time.Time { return asked },
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if len(arch.records) != 1 {
		t.Fatalf("records = %d", len(arch.records))
	}
	record := arch.records[0]
	if record.AnswerID != "a-1" || record.Repairs != 2 || record.RowCount != 1 || !record.AskedAt.Equal(asked) {
		t.Fatalf("record = %+v", record)
	}
	if len(arch.transcripts["a-1"]) != 1 {
		t.Fatalf("transcripts = %+v", arch.transcripts)
	}
}

func TestRunAskSurvivesArchiveFailure(t *testing.T) {
	svc := &scriptedService{answers: map[string]answer.Answer{
		"q": {ID: "a-1", Result: store.Result{Columns: []string{"v"}, Rows: [][]any{{int64(1)}}}},
	}}
	arch := &fakeArchive{saveErr: errors.New("db down")}

	code := Run(context.Background(), []string{"ask", "q"}, Options{Service: svc, Archive: arch})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
}

func TestRunAskFailsOnPipelineError(t *testing.T) {
	svc := &scriptedService{err: errors.New("model unavailable")}
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"ask", "q"}, Options{Service: svc, Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "model unavailable") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunWritesUsageReport(t *testing.T) {
	svc := &scriptedService{answers: map[string]answer.Answer{
		"q": {ID: "a-1", Result: store.Result{Columns: []string{"v"}, Rows: [][]any{{int64(1)}}}},
	}}
	stats := usage.NewTracker("gpt-4o", 2.5, 10.0, testLogger())
	stats.RecordUsage("a-1/draft", usage.Info{PromptTokens: 1000, CompletionTokens: 100, TotalTokens: 1100})
	path := filepath.Join(t.TempDir(), "report.json")

	code := Run(context.Background(), []string{"-report", path, "ask", "q"}, Options{Service: svc, Stats: stats})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(data), `"total_cost_usd"`) {
		t.Fatalf("report = %s", data)
	}
}

func TestRunUploadsUsageReport(t *testing.T) {
	svc := &scriptedService{answers: map[string]answer.Answer{
		"q": {ID: "a-1", Result: store.Result{Columns: []string{"v"}, Rows: [][]any{{int64(1)}}}},
	}}
	stats := usage.NewTracker("gpt-4o", 2.5, 10.0, testLogger())
	reports := &fakeObjectStore{}
	now := time.Date(2026, 8, 31, 12, 30, 0, 0, time.UTC)

	code := Run(context.Background(), []string{"-upload-report", "ask", "q"}, Options{
		Service: svc,
		Stats:   stats,
		Reports: reports,
		Now:     func() time.Time { return now },
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if len(reports.keys) != 1 || reports.keys[0] != "reports/20260831T123000Z.json" {
		t.Fatalf("keys = %v", reports.keys)
	}
	if !strings.Contains(string(reports.bodies[0]), `"model"`) {
		t.Fatalf("body = %s", reports.bodies[0])
	}
}

func TestRunUploadWithoutStoreFails(t *testing.T) {
	svc := &scriptedService{answers: map[string]answer.Answer{
		"q": {Result: store.Result{Columns: []string{"v"}, Rows: [][]any{{int64(1)}}}},
	}}
	stats := usage.NewTracker("gpt-4o", 2.5, 10.0, testLogger())

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-upload-report", "ask", "q"}, Options{
		Service: svc,
		Stats:   stats,
		Stderr:  &stderr,
	})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "report store is not configured") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunEvalReportsFailures(t *testing.T) {
	svc := &scriptedService{answers: map[string]answer.Answer{}}

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"eval"}, Options{Service: svc, Stdout: &stdout})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "cases passed") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"unknown"}, Options{Service: &scriptedService{}, Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage output")
	}
}

func TestRunWithoutArguments(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), nil, Options{Service: &scriptedService{}, Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}

func TestRunWithoutService(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"ask", "q"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
}
