package answer

import (
	"fmt"

	"github.com/querypilot/querypilot/internal/chat"
)

const taskInstruction = "You are an expert in the Olist e-commerce database. " +
	"Provide 1-3 short reasoning steps, then a final SQL query."

// draftMessages builds the drafting prompt: domain context, task
// instruction, the few-shot exemplars, then the user question. The system
// turns are sent fresh every time since history replay excludes them. The
// exemplars go out only on the first question of a conversation; once they
// sit in history, replay carries them into every later call.
func (s *Service) draftMessages(question string) []chat.Message {
	messages := []chat.Message{
		{Role: chat.RoleSystem, Content: s.Knowledge.Context()},
		{Role: chat.RoleSystem, Content: taskInstruction},
	}
	if !s.seeded {
		for _, exemplar := range s.Knowledge.Exemplars() {
			messages = append(messages,
				chat.Message{Role: chat.RoleUser, Content: exemplar.Question},
				chat.Message{Role: chat.RoleAssistant, Content: exemplar.SQL},
			)
		}
	}
	return append(messages, chat.Message{Role: chat.RoleUser, Content: question})
}

// repairMessages builds the repair prompt: the original question, the failing
// SQL as the assistant's prior turn, and the execution error with an
// instruction to fix the query.
func (s *Service) repairMessages(question, failingSQL string, execErr error) []chat.Message {
	return []chat.Message{
		{Role: chat.RoleSystem, Content: s.Knowledge.Context()},
		{Role: chat.RoleUser, Content: question},
		{Role: chat.RoleAssistant, Content: failingSQL},
		{Role: chat.RoleUser, Content: fmt.Sprintf(
			"When running the SQL I received the following error:\n%v\nPlease change the SQL query to fix the error. Provide 1-3 short reasoning steps, then a final SQL query.",
			execErr,
		)},
	}
}
