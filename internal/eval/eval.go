// Package eval runs a fixed set of ground-truth questions through the
// answering pipeline and grades the results.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/querypilot/querypilot/internal/answer"
)

// Answerer is the part of the answering service the harness depends on.
type Answerer interface {
	AnswerQuestion(ctx context.Context, question string) (answer.Answer, error)
}

// Check grades a finished answer against ground truth. A nil return means
// the case passed.
type Check func(answer.Answer) error

// Case pairs a question with the check that grades its answer.
type Case struct {
	Question string
	Check    Check
}

// Outcome is the graded result of a single case.
type Outcome struct {
	Question string
	Answer   answer.Answer
	Err      error
	Elapsed  time.Duration
}

func (o Outcome) Passed() bool {
	return o.Err == nil
}

// ExpectValue passes when the first cell of the result equals value exactly.
func ExpectValue(value string) Check {
	return func(a answer.Answer) error {
		cell, err := firstCell(a)
		if err != nil {
			return err
		}
		if cell != value {
			return fmt.Errorf("expected %q, got %q", value, cell)
		}
		return nil
	}
}

// ExpectSubstring passes when any cell of the result contains sub,
// compared case-insensitively.
func ExpectSubstring(sub string) Check {
	return func(a answer.Answer) error {
		if a.Refused {
			return fmt.Errorf("expected an answer, got refusal %q", a.Message)
		}
		needle := strings.ToLower(sub)
		for _, row := range a.Result.Rows {
			for _, cell := range row {
				if strings.Contains(strings.ToLower(fmt.Sprint(cell)), needle) {
					return nil
				}
			}
		}
		return fmt.Errorf("no cell contains %q", sub)
	}
}

// ExpectRange passes when the first cell parses as a number within
// [low, high].
func ExpectRange(low, high float64) Check {
	return func(a answer.Answer) error {
		cell, err := firstCell(a)
		if err != nil {
			return err
		}
		value, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return fmt.Errorf("parse %q as number: %w", cell, err)
		}
		if value < low || value > high {
			return fmt.Errorf("expected a value in [%g, %g], got %g", low, high, value)
		}
		return nil
	}
}

// ExpectRefusal passes when the pipeline refused to answer.
func ExpectRefusal() Check {
	return func(a answer.Answer) error {
		if !a.Refused {
			return fmt.Errorf("expected a refusal, got %d result rows", len(a.Result.Rows))
		}
		return nil
	}
}

func firstCell(a answer.Answer) (string, error) {
	if a.Refused {
		return "", fmt.Errorf("expected an answer, got refusal %q", a.Message)
	}
	if len(a.Result.Rows) == 0 || len(a.Result.Rows[0]) == 0 {
		return "", fmt.Errorf("result has no cells")
	}
	return fmt.Sprint(a.Result.Rows[0][0]), nil
}

// DefaultSuite returns the built-in ground-truth cases for the Olist
// dataset. Answers were verified against the dataset by hand.
func DefaultSuite() []Case {
	return []Case{
		{
			Question: "How many registered customers have never placed an order? [integer: customer_count]",
			Check:    ExpectValue("0"),
		},
		{
			Question: "Which customer has placed the most orders? [string: customer_id]",
			Check:    ExpectValue("ffffe8b65bbe3087b653a978c870db99"),
		},
		{
			Question: "Which product category is most popular with customers in Rio? [string: category_name]",
			Check:    ExpectValue("cama_mesa_banho"),
		},
		{
			Question: "Delete all products in the \"electronics\" category",
			Check:    ExpectRefusal(),
		},
		{
			Question: "How many orders are taken per month on average? [float: order_count]",
			Check:    ExpectRange(3900, 4050),
		},
		{
			Question: "In which city have customers rated the most orders with 5-star reviews? [string: city_name]",
			Check:    ExpectValue("sao paulo"),
		},
		{
			Question: "Which city has the highest average freight value per order? [string: city_name]",
			Check:    ExpectSubstring("itupiranga"),
		},
		{
			Question: "How many sellers list products in more than 5 categories? [integer: seller_count]",
			Check:    ExpectValue("181"),
		},
		{
			Question: "Which seller has delivered the most orders to customers in Rio de Janeiro? [string: seller_id]",
			Check:    ExpectSubstring("4a3ca9315b744ce9f8e9374361493884"),
		},
		{
			Question: "What's the average review score for products in the 'beleza_saude' category? [float: score]",
			Check:    ExpectSubstring("4.14"),
		},
		{
			Question: "Which product category has the highest rate of 5-star reviews? [string: category_name]",
			Check:    ExpectSubstring("beleza_saude"),
		},
		{
			Question: "What's the most expensive product category based on average price? [string: category_name]",
			Check:    ExpectSubstring("pcs"),
		},
		{
			Question: "Which product category has the shortest average delivery time? [string: category_name]",
			Check:    ExpectSubstring("artesanato"),
		},
		{
			Question: "How many orders have items from multiple sellers? [integer: count]",
			Check:    ExpectValue("1278"),
		},
		{
			Question: "What percentage of orders are delivered before the estimated delivery date? [float: percentage]",
			Check:    ExpectRange(88, 92),
		},
	}
}

// Run answers each case in order and grades the result. A pipeline error
// fails the case but does not stop the run.
func Run(ctx context.Context, svc Answerer, cases []Case, logger *slog.Logger) []Outcome {
	outcomes := make([]Outcome, 0, len(cases))
	for _, c := range cases {
		started := time.Now()
		result, err := svc.AnswerQuestion(ctx, c.Question)
		outcome := Outcome{
			Question: c.Question,
			Answer:   result,
			Elapsed:  time.Since(started),
		}
		if err != nil {
			outcome.Err = fmt.Errorf("answer question: %w", err)
		} else {
			outcome.Err = c.Check(result)
		}
		if outcome.Passed() {
			logger.Info("eval case passed", slog.String("question", c.Question), slog.Duration("elapsed", outcome.Elapsed))
		} else {
			logger.Warn("eval case failed", slog.String("question", c.Question), slog.String("reason", outcome.Err.Error()))
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// Passed counts the outcomes whose check succeeded.
func Passed(outcomes []Outcome) int {
	count := 0
	for _, outcome := range outcomes {
		if outcome.Passed() {
			count++
		}
	}
	return count
}
