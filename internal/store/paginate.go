package store

import "fmt"

// paginate appends LIMIT/OFFSET placeholders after args. A limit of zero
// leaves the query unpaged.
func paginate(query string, args []any, offset, limit int) (string, []any) {
	if limit <= 0 {
		return query, args
	}
	n := len(args) + 1
	return query + fmt.Sprintf(" LIMIT $%d OFFSET $%d", n, n+1), append(args, limit, offset)
}
