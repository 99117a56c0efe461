// Package knowledge supplies the domain-description text and the fixed
// few-shot exemplar pairs injected into every fresh drafting prompt.
package knowledge

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed context.md
var embeddedContext string

// Exemplar is one few-shot question/answer pair shown to the model verbatim.
type Exemplar struct {
	Question string
	SQL      string
}

type Provider interface {
	Context() string
	Exemplars() []Exemplar
}

type StaticProvider struct {
	context   string
	exemplars []Exemplar
}

// NewStaticProvider returns a provider backed by the embedded dataset
// description and the built-in exemplar list.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		context:   embeddedContext,
		exemplars: defaultExemplars,
	}
}

// NewFileProvider reads the dataset description from path, keeping the
// built-in exemplars.
func NewFileProvider(path string) (*StaticProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read context file %q: %w", path, err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil, fmt.Errorf("context file %q is empty", path)
	}
	return &StaticProvider{
		context:   string(raw),
		exemplars: defaultExemplars,
	}, nil
}

func (p *StaticProvider) Context() string {
	return p.context
}

// Exemplars returns the fixed ordered exemplar list. The returned slice must
// not be mutated.
func (p *StaticProvider) Exemplars() []Exemplar {
	return p.exemplars
}

var defaultExemplars = []Exemplar{
	{
		Question: "What is the average review score for each product category?",
		SQL: `SELECT
    p.product_category_name,
    ROUND(AVG(r.review_score), 2) AS avg_review_score
FROM products p
JOIN order_items oi ON p.product_id = oi.product_id
JOIN order_reviews r ON oi.order_id = r.order_id
GROUP BY p.product_category_name;`,
	},
	{
		Question: "What cities are the highest value orders shipped to?",
		SQL: `SELECT c.customer_city, SUM(oi.price + oi.freight_value) AS total_order_value
FROM orders o
JOIN order_items oi ON o.order_id = oi.order_id
JOIN customers c ON o.customer_id = c.customer_id
WHERE o.order_status = 'delivered'
GROUP BY c.customer_city
ORDER BY total_order_value DESC;`,
	},
	{
		Question: "How many orders were made in each month?",
		SQL: `SELECT strftime('%Y-%m', order_purchase_timestamp) AS month, COUNT(*) AS order_count
FROM orders
GROUP BY month
ORDER BY month;`,
	},
	{
		Question: "Is there a correlation between review score and order value?",
		SQL: `WITH order_values AS (
    SELECT order_id, SUM(price + freight_value) AS order_value
    FROM order_items
    GROUP BY order_id
)
SELECT r.review_score,
       ROUND(AVG(ov.order_value), 2) AS avg_order_value
FROM order_reviews r
JOIN order_values ov ON r.order_id = ov.order_id
GROUP BY r.review_score
ORDER BY r.review_score;`,
	},
}
