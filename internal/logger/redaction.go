package logger

import (
	"io"
	"regexp"
	"sync"
)

const redacted = "[REDACTED]"

// rule masks what re matches. Rules with a key keep the first capture
// group (the field name and separator) and mask only the value.
type rule struct {
	re    *regexp.Regexp
	keyed bool
}

func (r rule) apply(s string) string {
	if r.keyed {
		return r.re.ReplaceAllString(s, "${1}"+redacted)
	}
	return r.re.ReplaceAllLiteralString(s, redacted)
}

func keyed(expr string) rule { return rule{re: regexp.MustCompile(expr), keyed: true} }

// Redactor masks credentials in log lines before they reach a sink
type Redactor struct {
	mu    sync.RWMutex
	rules []rule
}

// NewRedactor knows the gateway secret shapes plus common token formats
func NewRedactor() *Redactor {
	return &Redactor{rules: []rule{
		keyed(`("shared_secret"\s*:\s*")[^"]*`),
		keyed(`(?i)(x-cmdq-secret["\s:=]+)[^\s",}]+`),
		keyed(`("signature"\s*:\s*")[0-9a-f]{64}`),
		keyed(`(Bearer\s+)[a-zA-Z0-9._-]+`),
		keyed(`(password["\s:=]+)[^\s"]+`),
		keyed(`(token["\s:=]+)[a-zA-Z0-9._-]{20,}`),
		{re: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	}}
}

// AddPattern masks every match of pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.add(rule{re: re})
	return nil
}

// AddLiteral masks every occurrence of value; "" is ignored
func (r *Redactor) AddLiteral(value string) {
	if value != "" {
		r.add(rule{re: regexp.MustCompile(regexp.QuoteMeta(value))})
	}
}

func (r *Redactor) add(ru rule) {
	r.mu.Lock()
	r.rules = append(r.rules, ru)
	r.mu.Unlock()
}

func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ru := range r.rules {
		s = ru.apply(s)
	}
	return s
}

// Wrap returns a writer that redacts each write before passing it to w
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return redactingWriter{out: w, r: r}
}

type redactingWriter struct {
	out io.Writer
	r   *Redactor
}

// Write reports len(p) so a shorter masked line is not a short write
func (w redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.out, w.r.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
