package testutil

import (
	"bufio"
	"encoding/json"
	"io"
	"testing"

	"github.com/opsdesk-ai/opsdesk/internal/chat"
)

// ReadFragments decodes an NDJSON stream into its fragment lines.
// Lines carrying an "error" key are returned separately.
func ReadFragments(t *testing.T, r io.Reader) (fragments []chat.Fragment, errLines []string) {
	t.Helper()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var probe map[string]json.RawMessage
		if err := json.Unmarshal(line, &probe); err != nil {
			t.Fatalf("invalid NDJSON line %q: %v", line, err)
		}
		if msg, ok := probe["error"]; ok {
			var s string
			if err := json.Unmarshal(msg, &s); err != nil {
				t.Fatalf("invalid error line %q: %v", line, err)
			}
			errLines = append(errLines, s)
			continue
		}

		var frag chat.Fragment
		if err := json.Unmarshal(line, &frag); err != nil {
			t.Fatalf("decoding fragment %q: %v", line, err)
		}
		fragments = append(fragments, frag)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scanning stream: %v", err)
	}
	return fragments, errLines
}
