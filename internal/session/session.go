// Package session defines the contract of one connected context to the
// compute engine: it plans SQL into lazy frames and is released exactly once.
package session

import (
	"context"
	"fmt"
	"strings"
)

const DefaultAppName = "DataPhantomSparkSQL"

// Flag is an engine setting passed through to the session verbatim.
type Flag struct {
	Key   string
	Value string
}

type Config struct {
	AppName         string
	EnableWarehouse bool
	EngineFlags     []Flag
	DriverRuntime   string
	WorkerRuntime   string
}

type Column struct {
	Name     string
	Type     string
	Nullable bool
}

type Preview struct {
	Columns []string
	Rows    [][]string
}

type DelimitedOptions struct {
	Delimiter rune
	Header    bool
}

// Frame is a planned, not yet evaluated, query result. Each call may
// re-evaluate the query.
type Frame interface {
	Schema(ctx context.Context) ([]Column, error)
	// WriteDelimited evaluates the query into a single local file and
	// returns the number of rows written.
	WriteDelimited(ctx context.Context, localPath string, opts DelimitedOptions) (int64, error)
	Preview(ctx context.Context, limit int) (Preview, error)
}

type Session interface {
	Name() string
	Query(ctx context.Context, sqlText string) (Frame, error)
	Close() error
}

func DefaultEngineFlags() []Flag {
	return []Flag{
		{Key: "hive.enforce.bucketing", Value: "true"},
		{Key: "hive.enforce.sorting", Value: "true"},
	}
}

// ParseFlags reads "key=value,key=value". Order is preserved.
func ParseFlags(raw string) ([]Flag, error) {
	flags := make([]Flag, 0)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid engine flag %q: want key=value", entry)
		}
		flags = append(flags, Flag{Key: key, Value: strings.TrimSpace(value)})
	}
	return flags, nil
}

// TrimStatement drops trailing whitespace, comments and semicolons so the
// statement can be embedded inside a larger one. Comment markers and
// semicolons inside quoted literals are left alone.
func TrimStatement(sqlText string) string {
	text := sqlText
	for {
		text = text[:codeEnd(text)]
		if !strings.HasSuffix(text, ";") {
			return strings.TrimSpace(text)
		}
		text = text[:len(text)-1]
	}
}

// codeEnd returns the offset just past the last byte of sqlText that is
// neither whitespace nor part of a comment.
func codeEnd(sqlText string) int {
	end := 0
	for i := 0; i < len(sqlText); {
		c := sqlText[i]
		switch {
		case strings.HasPrefix(sqlText[i:], "--"):
			newline := strings.IndexByte(sqlText[i:], '\n')
			if newline < 0 {
				return end
			}
			i += newline + 1
		case strings.HasPrefix(sqlText[i:], "/*"):
			stop := strings.Index(sqlText[i+2:], "*/")
			if stop < 0 {
				return end
			}
			i += stop + 4
		case c == '\'' || c == '"':
			stop := strings.IndexByte(sqlText[i+1:], c)
			if stop < 0 {
				return len(sqlText)
			}
			i += stop + 2
			end = i
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v':
			i++
		default:
			i++
			end = i
		}
	}
	return end
}
