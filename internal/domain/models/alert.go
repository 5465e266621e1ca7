package models

type Comparator string

const (
	CompGreater      Comparator = ">"
	CompLess         Comparator = "<"
	CompGreaterEqual Comparator = ">="
	CompLessEqual    Comparator = "<="
	CompEqual        Comparator = "="
)

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// AlertRule is a user-managed threshold rule.
type AlertRule struct {
	ID         string     `json:"id" validate:"required"`
	Name       string     `json:"name"`
	Metric     string     `json:"metric" validate:"required"`
	Comparator Comparator `json:"comparator" validate:"required"`
	Threshold  float64    `json:"threshold"`
	Severity   Severity   `json:"severity" default:"warning" validate:"oneof=warning danger"`
	Enabled    bool       `json:"enabled"`
	Message    string     `json:"message"`
}

// Firing is one triggered rule for one asset.
type Firing struct {
	ID        string   `json:"id"`
	Coin      string   `json:"coin"`
	RuleID    string   `json:"ruleId"`
	RuleName  string   `json:"ruleName"`
	Metric    string   `json:"metric"`
	Value     float64  `json:"value"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Timestamp int64    `json:"ts"`
}

// InsightEvent records meaningful sharp insights for the event watch buffer.
type InsightEvent struct {
	TS       int64    `json:"ts"`
	Coin     string   `json:"coin"`
	Type     string   `json:"type"`
	Messages []string `json:"messages"`
}
