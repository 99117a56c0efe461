// Package answer drives the question → SQL → result pipeline with bounded,
// model-assisted self-repair.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/querypilot/querypilot/internal/chat"
	"github.com/querypilot/querypilot/internal/knowledge"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/store"
	"github.com/querypilot/querypilot/internal/usage"
)

// RefusalMessage is the only failure text ever shown to an external caller.
// Raw SQL and raw error text stay in the logs.
const RefusalMessage = "Sorry, I'm afraid I can't do that."

// ModelClient is the slice of the conversational client the orchestrator
// needs.
type ModelClient interface {
	Complete(ctx context.Context, messages []chat.Message, schema chat.Schema, includeHistory bool) (chat.SQLGeneration, chat.Usage, error)
}

// Service drives one conversation. Like the chat client underneath it, an
// instance is for sequential use; callers wanting parallel questions run one
// Service per conversation.
type Service struct {
	Client    ModelClient
	Gateway   store.Gateway
	Knowledge knowledge.Provider
	Stats     *usage.Tracker
	Logger    *slog.Logger

	// seeded flips after the first successful completion. From then on the
	// exemplars reach the model through history replay, so follow-up drafts
	// leave them out instead of sending them twice.
	seeded bool
}

// Answer is the terminal outcome for one question: either a tabular result or
// a refusal carrying the fixed sentinel message.
type Answer struct {
	ID       string
	Question string
	SQL      string
	Steps    []string
	Result   store.Result
	Refused  bool
	Message  string
	Repairs  int
}

// AnswerQuestion is the sole entry point for external callers. It drafts a
// structured SQL generation for the question, executes it through the
// gateway, and on engine failure feeds the error back to the model for a
// corrected query, up to the shared retry ceiling. An empty result set is
// deliberately refused rather than returned: an empty table is ambiguous
// between a correct zero-count answer and a wrong query, and a visible
// refusal beats a silently wrong answer. Errors from the model service are
// logged and propagated unchanged.
func (s *Service) AnswerQuestion(ctx context.Context, question string) (Answer, error) {
	started := time.Now()
	observability.ObserveQuestion()

	answer := Answer{
		ID:       uuid.NewString(),
		Question: question,
	}
	s.Logger.Info("answering question", slog.String("id", answer.ID), slog.String("question", question))

	generation, err := s.complete(ctx, answer.ID, "draft", s.draftMessages(question))
	if err != nil {
		observability.ObserveAnswer("model_error", time.Since(started))
		return Answer{}, err
	}
	answer.SQL = generation.SQLQuery
	answer.Steps = generation.Steps

	for iteration := 0; ; iteration++ {
		result, execErr := s.Gateway.Execute(ctx, answer.SQL, iteration)
		if execErr == nil {
			if result.Empty() {
				s.Logger.Warn("query returned an empty result set",
					slog.String("id", answer.ID),
					slog.String("query", answer.SQL),
				)
				return s.refuse(answer, "empty_result", started), nil
			}
			answer.Result = result
			answer.Repairs = iteration
			observability.ObserveAnswer("succeeded", time.Since(started))
			s.Logger.Info("question answered",
				slog.String("id", answer.ID),
				slog.Int("rows", len(result.Rows)),
				slog.Int("repairs", iteration),
			)
			return answer, nil
		}

		switch {
		case errors.Is(execErr, store.ErrForbiddenOperation):
			// Never repair a banned-verb query: repairing would coach the
			// model into rephrasing a destructive operation.
			s.Logger.Error("query refused by safety gate",
				slog.String("id", answer.ID),
				slog.String("query", answer.SQL),
				slog.Any("error", execErr),
			)
			return s.refuse(answer, "forbidden", started), nil
		case errors.Is(execErr, store.ErrRetryLimitExceeded):
			s.Logger.Error("repair ceiling exhausted",
				slog.String("id", answer.ID),
				slog.String("question", question),
				slog.Int("iteration", iteration),
			)
			return s.refuse(answer, "retry_exhausted", started), nil
		case errors.Is(execErr, store.ErrInvalidInput):
			s.Logger.Error("model produced unusable query text",
				slog.String("id", answer.ID),
				slog.String("question", question),
			)
			return s.refuse(answer, "invalid_query", started), nil
		}

		// Engine-level failure at the ceiling: refuse without asking the
		// model for another query that could never be executed.
		if iteration == store.MaxRepairs {
			s.Logger.Error("repair ceiling exhausted",
				slog.String("id", answer.ID),
				slog.String("question", question),
				slog.Int("iteration", iteration),
			)
			return s.refuse(answer, "retry_exhausted", started), nil
		}

		// Engine-level failure below the ceiling: one repair cycle.
		s.Logger.Warn("query failed, requesting a fix",
			slog.String("id", answer.ID),
			slog.String("query", answer.SQL),
			slog.Any("error", execErr),
		)
		observability.ObserveRepairCycle()

		repairLabel := fmt.Sprintf("repair-%d", iteration+1)
		generation, err = s.complete(ctx, answer.ID, repairLabel, s.repairMessages(question, answer.SQL, execErr))
		if err != nil {
			observability.ObserveAnswer("model_error", time.Since(started))
			return Answer{}, err
		}
		answer.SQL = generation.SQLQuery
		answer.Steps = generation.Steps
	}
}

func (s *Service) complete(ctx context.Context, answerID, stage string, messages []chat.Message) (chat.SQLGeneration, error) {
	generation, tokenUsage, err := s.Client.Complete(ctx, messages, chat.SQLGenerationSchema, true)
	if err != nil {
		return chat.SQLGeneration{}, fmt.Errorf("%s completion: %w", stage, err)
	}
	s.seeded = true
	observability.ObserveModelTokens(tokenUsage.PromptTokens, tokenUsage.CompletionTokens)
	if s.Stats != nil {
		s.Stats.RecordUsage(answerID+"/"+stage, usage.Info{
			PromptTokens:     tokenUsage.PromptTokens,
			CompletionTokens: tokenUsage.CompletionTokens,
			TotalTokens:      tokenUsage.TotalTokens,
			CachedTokens:     tokenUsage.CachedPromptTokens,
		})
	}
	return generation, nil
}

func (s *Service) refuse(answer Answer, reason string, started time.Time) Answer {
	observability.ObserveRefusal(reason)
	observability.ObserveAnswer("refused", time.Since(started))
	answer.Refused = true
	answer.Message = RefusalMessage
	answer.Result = store.Result{}
	return answer
}
