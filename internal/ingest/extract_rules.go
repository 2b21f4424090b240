package ingest

import (
	"context"
	"regexp"
	"strings"

	"github.com/qquiz/qquiz/internal/models"
)

var (
	questionLine = regexp.MustCompile(`^\s*(?:第\s*)?(\d+)\s*(?:题)?\s*[.、．)）:：]\s*(.+)$`)
	optionLine   = regexp.MustCompile(`^\s*([A-Ha-h])\s*[.、．)）:：]\s*(.*)$`)
	answerLine   = regexp.MustCompile(`^\s*(?:【?(?:正确)?答案】?|(?i:answer))\s*[:：]?\s*(.*)$`)
	analysisLine = regexp.MustCompile(`^\s*(?:【?(?:解析|分析)】?|(?i:analysis|explanation))\s*[:：]?\s*(.*)$`)
	inlineOption = regexp.MustCompile(`(?:^|\s)([A-H])\s*[.、．]\s*`)
	choiceAnswer = regexp.MustCompile(`^[A-Ha-h\s,，、]+$`)
)

var judgeAnswers = map[string]bool{
	"对": true, "错": true, "正确": true, "错误": true, "√": true, "×": true, "✓": true, "✗": true,
	"true": true, "false": true, "t": true, "f": true, "yes": true, "no": true,
}

// RuleExtractor recognises the common layout of question banks: numbered
// questions, lettered options, and answer and analysis lines.
type RuleExtractor struct{}

func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{}
}

func (RuleExtractor) Extract(ctx context.Context, text string) ([]*models.Question, error) {
	var (
		questions []*models.Question
		cur       *models.Question
		field     *string // where continuation lines go
	)
	finish := func() {
		if cur == nil {
			return
		}
		cur.Content = strings.TrimSpace(cur.Content)
		cur.Answer = strings.TrimSpace(cur.Answer)
		cur.Analysis = strings.TrimSpace(cur.Analysis)
		if cur.Content != "" {
			cur.Type = inferType(cur)
			cur.ContentHash = ContentHash(cur.Content)
			questions = append(questions, cur)
		}
		cur, field = nil, nil
	}

	for _, line := range strings.Split(text, "\n") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := questionLine.FindStringSubmatch(trimmed); m != nil && !optionLine.MatchString(trimmed) {
			finish()
			cur = &models.Question{Content: m[2]}
			field = &cur.Content
			continue
		}
		if cur == nil {
			continue
		}
		if m := answerLine.FindStringSubmatch(trimmed); m != nil {
			cur.Answer = m[1]
			field = &cur.Answer
			continue
		}
		if m := analysisLine.FindStringSubmatch(trimmed); m != nil {
			cur.Analysis = m[1]
			field = &cur.Analysis
			continue
		}
		if m := optionLine.FindStringSubmatch(trimmed); m != nil && cur.Answer == "" {
			cur.Options = append(cur.Options, splitInlineOptions(strings.ToUpper(m[1]), m[2])...)
			field = nil
			continue
		}
		if field != nil {
			*field += "\n" + trimmed
		} else if n := len(cur.Options); n > 0 {
			cur.Options[n-1] += " " + trimmed
		}
	}
	finish()
	return questions, nil
}

// splitInlineOptions handles several options on one line, such as
// "A. red B. green C. blue".
func splitInlineOptions(first, rest string) []string {
	locs := inlineOption.FindAllStringSubmatchIndex(rest, -1)
	if len(locs) == 0 {
		return []string{first + ". " + strings.TrimSpace(rest)}
	}
	opts := []string{first + ". " + strings.TrimSpace(rest[:locs[0][0]])}
	for i, loc := range locs {
		end := len(rest)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		letter := rest[loc[2]:loc[3]]
		opts = append(opts, letter+". "+strings.TrimSpace(rest[loc[1]:end]))
	}
	return opts
}

func inferType(q *models.Question) models.QuestionType {
	answer := strings.ToLower(strings.TrimSpace(q.Answer))
	if len(q.Options) > 0 {
		if choiceAnswer.MatchString(answer) {
			letters := 0
			for _, r := range answer {
				if r >= 'a' && r <= 'h' {
					letters++
				}
			}
			if letters > 1 {
				return models.QuestionMultiple
			}
		}
		return models.QuestionSingle
	}
	if judgeAnswers[answer] {
		return models.QuestionJudge
	}
	return models.QuestionShort
}
