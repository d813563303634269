package store

import (
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
)

var limitRegex = regexp.MustCompile(`(?i)LIMIT \?,\s*\?`)

// finalize adapts a gendry-built query to the active dialect. gendry emits
// MySQL-style "LIMIT ?,?" which PostgreSQL rejects.
func (s *Store) finalize(query string, args []interface{}) (string, []interface{}) {
	if s.driver != DriverPostgres {
		return query, args
	}
	if loc := limitRegex.FindStringIndex(query); loc != nil {
		n := strings.Count(query[:loc[0]], "?")
		if n+1 < len(args) {
			args[n], args[n+1] = args[n+1], args[n]
			query = limitRegex.ReplaceAllString(query, "LIMIT ? OFFSET ?")
		}
	}
	return sqlx.Rebind(sqlx.DOLLAR, query), args
}
