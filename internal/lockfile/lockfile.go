// Package lockfile reads and writes apm_modules/.apm-lock, the deterministic
// JSON record of resolved dependency SHAs (spec §6).
package lockfile

import (
	"path/filepath"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/apm-dev/apm/internal/apmerr"
)

// FileName is the lock file's fixed name inside apm_modules/.
const FileName = ".apm-lock"

// Entry is one installed package's record.
type Entry struct {
	RefRequested *string `json:"ref_requested"`
	ResolvedSHA  string  `json:"resolved_sha"`
	InstalledAt  string  `json:"installed_at"` // ISO-8601 UTC
}

// Lock is the decoded lock file: packages keyed by "<owner>/<repo>".
type Lock struct {
	Packages map[string]Entry `json:"packages"`
}

// New returns an empty Lock ready to accumulate entries.
func New() *Lock {
	return &Lock{Packages: map[string]Entry{}}
}

// Path returns the lock file path for the given apm_modules directory.
func Path(apmModulesDir string) string {
	return filepath.Join(apmModulesDir, FileName)
}

// Load parses raw lock file bytes. Unknown keys are tolerated (ignored),
// per §6.
func Load(raw []byte) (*Lock, error) {
	if len(raw) == 0 {
		return New(), nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, apmerr.New(nil, apmerr.MalformedManifest, map[string]any{
			"reason": "apm-lock is not valid JSON",
		})
	}
	l := New()
	result := gjson.ParseBytes(raw)
	result.Get("packages").ForEach(func(key, value gjson.Result) bool {
		entry := Entry{
			ResolvedSHA: value.Get("resolved_sha").String(),
			InstalledAt: value.Get("installed_at").String(),
		}
		if refReq := value.Get("ref_requested"); refReq.Exists() && refReq.Type != gjson.Null {
			ref := refReq.String()
			entry.RefRequested = &ref
		}
		l.Packages[key.String()] = entry
		return true
	})
	return l, nil
}

// Set records (or overwrites) an entry for key.
func (l *Lock) Set(key string, entry Entry) {
	l.Packages[key] = entry
}

// Marshal renders the lock file as pretty-printed JSON with sorted keys and
// 2-space indentation (spec §4.6/§6). Hand-built rather than
// encoding/json-marshaled so key order is deterministic regardless of map
// iteration order.
func (l *Lock) Marshal() []byte {
	keys := make([]string, 0, len(l.Packages))
	for k := range l.Packages {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte("{\"packages\":{")
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		e := l.Packages[k]
		buf = append(buf, quoteJSON(k)...)
		buf = append(buf, ':')
		buf = append(buf, '{')
		buf = append(buf, "\"ref_requested\":"...)
		if e.RefRequested == nil {
			buf = append(buf, "null"...)
		} else {
			buf = append(buf, quoteJSON(*e.RefRequested)...)
		}
		buf = append(buf, ",\"resolved_sha\":"...)
		buf = append(buf, quoteJSON(e.ResolvedSHA)...)
		buf = append(buf, ",\"installed_at\":"...)
		buf = append(buf, quoteJSON(e.InstalledAt)...)
		buf = append(buf, '}')
	}
	buf = append(buf, '}', '}')
	return pretty.PrettyOptions(buf, &pretty.Options{Indent: "  ", SortKeys: true})
}

func quoteJSON(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for _, r := range s {
		switch r {
		case '"':
			out = append(out, '\\', '"')
		case '\\':
			out = append(out, '\\', '\\')
		default:
			out = append(out, string(r)...)
		}
	}
	out = append(out, '"')
	return string(out)
}
