package simulate

import (
	"time"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	ruleWhitespace = lexer.SimpleRule{Name: "Whitespace", Pattern: `[ \t\r\n]+`}
	ruleComment    = lexer.SimpleRule{Name: "Comment", Pattern: `#[^\n]*`}
	ruleDuration   = lexer.SimpleRule{Name: "Duration", Pattern: `\d+(ns|us|µs|ms|s|m|h)`}
	ruleNumber     = lexer.SimpleRule{Name: "Number", Pattern: `[-+]?\d+`}
	ruleIdent      = lexer.SimpleRule{Name: "Ident", Pattern: `[a-z]+`}
	rulePunct      = lexer.SimpleRule{Name: "Punct", Pattern: `[(),;]`}
)

var scriptLexer = lexer.MustSimple([]lexer.SimpleRule{
	ruleWhitespace,
	ruleComment,
	ruleDuration,
	ruleNumber,
	ruleIdent,
	rulePunct,
})

var scriptParser = participle.MustBuild[Script](
	participle.Lexer(scriptLexer),
	participle.Elide(ruleWhitespace.Name, ruleComment.Name),
)

// Script is a list of timed note events, e.g.
//
//	on(5, 0ms) on(2, 10ms) off(5, 50ms)
type Script struct {
	Steps []*Step `parser:"(@@ ';'?)*"`
}

type Step struct {
	Kind   string   `parser:"@('on' | 'off')"`
	NoteID int      `parser:"'(' @Number ','"`
	At     Duration `parser:"@Duration ')'"`
}

type Duration time.Duration

func (d *Duration) Capture(values []string) error {
	duration, err := time.ParseDuration(values[0])
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

func Parse(script string) (Script, error) {
	result, err := scriptParser.ParseString("", script)
	if err != nil {
		return Script{}, err
	}
	return *result, nil
}
