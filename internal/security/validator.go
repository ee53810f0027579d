// Package security screens agent tool input before execution. Commands
// and code snippets are matched against a denylist of risk rules; the
// resulting verdict either allows execution, demands operator approval,
// or blocks outright.
package security

import (
	"log/slog"
	"regexp"
)

// RiskLevel ranks how dangerous a matched pattern is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskRank orders levels for worst-match-wins resolution.
func riskRank(r RiskLevel) int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// Action is what a matched rule demands.
type Action string

const (
	// ActionAllow lets execution proceed while recording the match.
	ActionAllow Action = "allow"
	// ActionRequireApproval pauses execution for operator sign-off.
	ActionRequireApproval Action = "require_approval"
	// ActionBlock rejects execution outright.
	ActionBlock Action = "block"
)

// Rule is a single denylist entry.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Risk        RiskLevel
	Action      Action
	Description string
}

// Verdict is the outcome of screening one input.
type Verdict struct {
	Allowed          bool      `json:"allowed"`
	RequiresApproval bool      `json:"requires_approval"`
	Risk             RiskLevel `json:"risk"`
	Rule             string    `json:"rule,omitempty"`
	Reason           string    `json:"reason,omitempty"`
}

// allowVerdict is returned when nothing matches.
func allowVerdict() Verdict {
	return Verdict{Allowed: true, Risk: RiskLow}
}

// Validator screens commands and code against its rule set.
type Validator struct {
	commandRules []Rule
	codeRules    []Rule
	logger       *slog.Logger
}

// NewValidator creates a validator with the default denylist.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		commandRules: defaultCommandRules(),
		codeRules:    defaultCodeRules(),
		logger:       logger,
	}
}

// AddCommandRule appends a custom command rule.
func (v *Validator) AddCommandRule(rule Rule) {
	v.commandRules = append(v.commandRules, rule)
}

// AddCodeRule appends a custom code rule.
func (v *Validator) AddCodeRule(rule Rule) {
	v.codeRules = append(v.codeRules, rule)
}

// ValidateCommand screens a shell command. When multiple rules match,
// the worst risk level wins; block beats approval beats allow.
func (v *Validator) ValidateCommand(command string) Verdict {
	return v.screen(command, v.commandRules)
}

// ValidateCode screens a code snippet before interpreter execution.
func (v *Validator) ValidateCode(code string) Verdict {
	return v.screen(code, v.codeRules)
}

func (v *Validator) screen(input string, rules []Rule) Verdict {
	verdict := allowVerdict()
	matched := false

	for _, rule := range rules {
		if !rule.Pattern.MatchString(input) {
			continue
		}

		worse := !matched ||
			riskRank(rule.Risk) > riskRank(verdict.Risk) ||
			(riskRank(rule.Risk) == riskRank(verdict.Risk) && actionRank(rule.Action) > actionRank(verdictAction(verdict)))
		if worse {
			verdict = Verdict{
				Allowed:          rule.Action != ActionBlock,
				RequiresApproval: rule.Action == ActionRequireApproval,
				Risk:             rule.Risk,
				Rule:             rule.Name,
				Reason:           rule.Description,
			}
		}
		matched = true
	}

	if matched && !verdict.Allowed {
		v.logger.Warn("blocked tool input", "rule", verdict.Rule, "risk", verdict.Risk)
	}
	return verdict
}

func actionRank(a Action) int {
	switch a {
	case ActionBlock:
		return 3
	case ActionRequireApproval:
		return 2
	case ActionAllow:
		return 1
	default:
		return 0
	}
}

func verdictAction(v Verdict) Action {
	switch {
	case !v.Allowed:
		return ActionBlock
	case v.RequiresApproval:
		return ActionRequireApproval
	default:
		return ActionAllow
	}
}

func defaultCommandRules() []Rule {
	return []Rule{
		{
			Name:        "recursive-root-delete",
			Pattern:     regexp.MustCompile(`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)\s+(/|/\*|~|\$HOME)(\s|$)`),
			Risk:        RiskCritical,
			Action:      ActionBlock,
			Description: "recursive delete of the filesystem root or home",
		},
		{
			Name:        "filesystem-format",
			Pattern:     regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`),
			Risk:        RiskCritical,
			Action:      ActionBlock,
			Description: "filesystem format command",
		},
		{
			Name:        "raw-device-write",
			Pattern:     regexp.MustCompile(`\bdd\b.*\bof=/dev/`),
			Risk:        RiskCritical,
			Action:      ActionBlock,
			Description: "raw write to a block device",
		},
		{
			Name:        "fork-bomb",
			Pattern:     regexp.MustCompile(`:\(\)\s*\{\s*:\|:`),
			Risk:        RiskCritical,
			Action:      ActionBlock,
			Description: "shell fork bomb",
		},
		{
			Name:        "system-power",
			Pattern:     regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`),
			Risk:        RiskHigh,
			Action:      ActionBlock,
			Description: "host power management command",
		},
		{
			Name:        "world-writable-root",
			Pattern:     regexp.MustCompile(`chmod\s+(-[a-zA-Z]+\s+)*777\s+/(\s|$)`),
			Risk:        RiskHigh,
			Action:      ActionBlock,
			Description: "making the filesystem root world-writable",
		},
		{
			Name:        "pipe-to-shell",
			Pattern:     regexp.MustCompile(`(curl|wget)\b.*\|\s*(ba)?sh\b`),
			Risk:        RiskHigh,
			Action:      ActionRequireApproval,
			Description: "downloading and executing a remote script",
		},
		{
			Name:        "privilege-escalation",
			Pattern:     regexp.MustCompile(`\bsudo\b`),
			Risk:        RiskMedium,
			Action:      ActionRequireApproval,
			Description: "privilege escalation",
		},
		{
			Name:        "system-config-write",
			Pattern:     regexp.MustCompile(`(>>?|\btee\b)\s*/etc/`),
			Risk:        RiskMedium,
			Action:      ActionRequireApproval,
			Description: "writing to system configuration",
		},
	}
}

func defaultCodeRules() []Rule {
	return []Rule{
		{
			Name:        "dynamic-eval",
			Pattern:     regexp.MustCompile(`\b(eval|exec)\s*\(`),
			Risk:        RiskHigh,
			Action:      ActionRequireApproval,
			Description: "dynamic code evaluation",
		},
		{
			Name:        "subprocess-spawn",
			Pattern:     regexp.MustCompile(`\b(subprocess|os\.system|os\.popen|Popen)\b`),
			Risk:        RiskMedium,
			Action:      ActionRequireApproval,
			Description: "spawning subprocesses from code",
		},
		{
			Name:        "recursive-delete-call",
			Pattern:     regexp.MustCompile(`\b(shutil\.rmtree|os\.RemoveAll)\s*\(\s*["'/]`),
			Risk:        RiskCritical,
			Action:      ActionBlock,
			Description: "recursive delete of an absolute path",
		},
		{
			Name:        "credential-file-read",
			Pattern:     regexp.MustCompile(`(/etc/shadow|/etc/passwd|\.ssh/id_[a-z0-9]+|\.aws/credentials)`),
			Risk:        RiskHigh,
			Action:      ActionBlock,
			Description: "reading credential files",
		},
	}
}
