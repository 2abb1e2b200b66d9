package perforce

import (
	"strconv"
	"strings"
)

// record is one tagged output record of p4 -ztag.
type record map[string]string

// parseZtag splits p4 -ztag output into records. Values that span lines,
// such as change descriptions, are joined with newlines.
func parseZtag(out string) []record {
	var (
		records []record
		cur     record
		lastKey string
	)
	flush := func() {
		if len(cur) > 0 {
			records = append(records, cur)
		}
		cur, lastKey = nil, ""
	}
	for _, line := range strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n") {
		if strings.HasPrefix(line, "... ") {
			if cur == nil {
				cur = make(record)
			}
			key, value, _ := strings.Cut(line[4:], " ")
			cur[key] = value
			lastKey = key
			continue
		}
		if line == "" {
			flush()
			continue
		}
		if cur != nil && lastKey != "" {
			cur[lastKey] += "\n" + line
		}
	}
	flush()
	return records
}

// indexed returns the values of key0, key1, ... in order.
func (r record) indexed(key string) []string {
	var out []string
	for i := 0; ; i++ {
		v, ok := r[key+strconv.Itoa(i)]
		if !ok {
			return out
		}
		out = append(out, v)
	}
}
